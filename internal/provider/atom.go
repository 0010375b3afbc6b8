package provider

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"feedpush/internal/model"
)

// Video types reported by AtomVideoSource.
const (
	VideoTypeVideo = "video"
	VideoTypeShort = "short"
)

// AtomVideoSource reads a YouTube channel Atom feed.
type AtomVideoSource struct {
	client  HTTPClient
	url     string
	timeout time.Duration
}

// NewAtomVideoSource creates an AtomVideoSource for url.
func NewAtomVideoSource(client HTTPClient, url string, timeout time.Duration) *AtomVideoSource {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &AtomVideoSource{client: client, url: url, timeout: timeout}
}

// Snapshot fetches the channel feed and maps its entries to videos, newest first.
func (s *AtomVideoSource) Snapshot(ctx context.Context) ([]model.VideoEntity, error) {
	body, err := get(ctx, s.client, s.url, s.timeout, "feedpush/1.0", "application/atom+xml")
	if err != nil {
		return nil, err
	}

	feed, err := gofeed.NewParser().ParseString(string(body))
	if err != nil {
		return nil, fmt.Errorf("parse feed: %w: %w", ErrUnavailable, err)
	}

	videos := make([]model.VideoEntity, 0, len(feed.Items))
	for _, item := range feed.Items {
		id := videoID(item)
		if id == "" {
			continue
		}
		videos = append(videos, model.VideoEntity{
			ID:    id,
			Title: item.Title,
			URL:   item.Link,
			Type:  videoType(item.Link),
		})
	}
	return videos, nil
}

func videoID(item *gofeed.Item) string {
	if yt, ok := item.Extensions["yt"]; ok {
		if ids := yt["videoId"]; len(ids) > 0 && ids[0].Value != "" {
			return ids[0].Value
		}
	}
	return strings.TrimPrefix(item.GUID, "yt:video:")
}

func videoType(link string) string {
	if strings.Contains(link, "/shorts/") {
		return VideoTypeShort
	}
	return VideoTypeVideo
}
