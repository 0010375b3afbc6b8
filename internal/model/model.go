// Package model defines the domain types used across the application.
package model

import (
	"fmt"
	"time"
)

// FeedKind identifies one of the tracked feeds. It doubles as the state store key.
type FeedKind string

// Supported feeds.
const (
	FeedLive    FeedKind = "live"
	FeedVote    FeedKind = "vote"
	FeedYouTube FeedKind = "youtube"
)

// Feeds lists every feed in processing order.
var Feeds = []FeedKind{FeedLive, FeedVote, FeedYouTube}

// Category returns the preference category that gates notifications for the feed.
func (k FeedKind) Category() Category {
	switch k {
	case FeedLive:
		return CategoryLive
	case FeedVote:
		return CategoryVote
	default:
		return CategoryYouTube
	}
}

// StateStatus tracks where a feed state is in its lifecycle.
type StateStatus string

// Feed state lifecycle values.
const (
	StatusUninitialized StateStatus = "uninitialized"
	StatusBootstrapped  StateStatus = "bootstrapped"
	StatusActive        StateStatus = "active"
)

// FeedState is the persisted change-detection state of a single feed.
type FeedState struct {
	Key    FeedKind
	Status StateStatus
	// Identity holds the ids already accounted for. Order matters for trimming only.
	Identity       []string
	LastNotifiedAt *time.Time
	CheckedAt      *time.Time
	// Aux holds per-entity timestamps: last notification for live, first sighting for vote.
	Aux     map[string]time.Time
	Version int64
}

// NewFeedState returns the empty state of a feed that has never been written.
func NewFeedState(kind FeedKind) FeedState {
	return FeedState{
		Key:    kind,
		Status: StatusUninitialized,
		Aux:    map[string]time.Time{},
	}
}

// Clone returns a deep copy of the state.
func (s FeedState) Clone() FeedState {
	out := s
	out.Identity = append([]string(nil), s.Identity...)
	out.Aux = make(map[string]time.Time, len(s.Aux))
	for k, v := range s.Aux {
		out.Aux[k] = v
	}
	if s.LastNotifiedAt != nil {
		t := *s.LastNotifiedAt
		out.LastNotifiedAt = &t
	}
	if s.CheckedAt != nil {
		t := *s.CheckedAt
		out.CheckedAt = &t
	}
	return out
}

// Category is a per-feed notification preference.
type Category string

// Preference categories.
const (
	CategoryLive    Category = "liveEnabled"
	CategoryVote    Category = "voteEnabled"
	CategoryYouTube Category = "youtubeEnabled"
)

// Platform is the delivery channel of a push target.
type Platform string

// Supported platforms.
const (
	PlatformIOS     Platform = "ios"
	PlatformAndroid Platform = "android"
	PlatformWeb     Platform = "web"
)

// ParsePlatform validates a platform name.
func ParsePlatform(s string) (Platform, error) {
	switch p := Platform(s); p {
	case PlatformIOS, PlatformAndroid, PlatformWeb:
		return p, nil
	default:
		return "", fmt.Errorf("unknown platform %q", s)
	}
}

// PushTarget is a registered delivery endpoint.
type PushTarget struct {
	Token     string
	Platform  Platform
	Enabled   bool
	Prefs     Prefs
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Target is a resolved delivery endpoint.
type Target struct {
	Token    string
	Platform Platform
}

// LiveEntity is one member in the live-status snapshot.
type LiveEntity struct {
	ID     string `json:"id"`
	IsLive bool   `json:"isLive"`
	URL    string `json:"url"`
	Title  string `json:"title"`
}

// VoteEntity is one entry in the vote listing.
type VoteEntity struct {
	ID       string `json:"id"`
	LegacyID string `json:"legacyId,omitempty"`
	Title    string `json:"title"`
	URL      string `json:"url"`
}

// VideoEntity is one entry in the video listing.
type VideoEntity struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	URL   string `json:"url"`
	Type  string `json:"type"`
}

// DispatchResult summarizes one delivery of one message.
type DispatchResult struct {
	Category      Category `json:"category"`
	EntityID      string   `json:"entityId,omitempty"`
	Sent          int      `json:"sent"`
	Failed        int      `json:"failed"`
	InvalidTokens []string `json:"invalidTokens"`
}
