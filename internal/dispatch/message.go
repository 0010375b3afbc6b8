package dispatch

import (
	"strconv"
	"strings"
	"time"

	"feedpush/internal/push"
)

const maxCollapseKey = 64

// Message describes one notification.
type Message struct {
	Title string
	Body  string
	URL   string
	Tag   string
	// CollapseAllowed lets the transport replace an undelivered message with
	// the same tag. When false every send gets a unique collapse key.
	CollapseAllowed bool
}

// BuildEnvelope shapes msg for every platform at once.
func BuildEnvelope(msg Message, now time.Time, ttl time.Duration) *push.Envelope {
	sentAt := strconv.FormatInt(now.UnixMilli(), 10)
	ttlSeconds := int64(ttl / time.Second)
	collapse := CollapseKey(msg.Tag, msg.CollapseAllowed, now)
	// Android replaces tray entries that share a tag.
	trayTag := msg.Tag
	if !msg.CollapseAllowed {
		trayTag = collapse
	}

	env := &push.Envelope{
		Data: map[string]string{
			"title":  msg.Title,
			"body":   msg.Body,
			"url":    msg.URL,
			"tag":    msg.Tag,
			"sentAt": sentAt,
		},
		Android: &push.AndroidConfig{
			Priority:    "high",
			TTL:         strconv.FormatInt(ttlSeconds, 10) + "s",
			CollapseKey: collapse,
			Notification: &push.AndroidNotification{
				Title:       msg.Title,
				Body:        msg.Body,
				Tag:         trayTag,
				ClickAction: msg.URL,
			},
		},
		Webpush: &push.WebpushConfig{
			Headers: map[string]string{
				"Urgency": "high",
				"TTL":     strconv.FormatInt(ttlSeconds, 10),
			},
		},
		APNS: &push.APNSConfig{
			Headers: map[string]string{
				"apns-priority":   "10",
				"apns-push-type":  "alert",
				"apns-expiration": strconv.FormatInt(now.Add(ttl).Unix(), 10),
			},
			Payload: push.APNSPayload{
				Aps: push.Aps{
					Alert: &push.ApsAlert{Title: msg.Title, Body: msg.Body},
					Sound: "default",
				},
				URL:    msg.URL,
				Tag:    msg.Tag,
				SentAt: sentAt,
			},
		},
	}
	if msg.URL != "" {
		env.Webpush.FCMOptions = &push.WebpushFCMOptions{Link: msg.URL}
	}
	if msg.CollapseAllowed && collapse != "" {
		env.APNS.Headers["apns-collapse-id"] = collapse
	}
	return env
}

// CollapseKey derives a transport collapse key from tag. An empty tag yields no key.
func CollapseKey(tag string, allowed bool, now time.Time) string {
	key := sanitizeKey(tag)
	if key == "" {
		return ""
	}
	if allowed {
		return truncate(key, maxCollapseKey)
	}
	suffix := "-" + strconv.FormatInt(now.UnixMilli(), 10)
	return truncate(key, maxCollapseKey-len(suffix)) + suffix
}

func sanitizeKey(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '-' || r == '_' || r == '.':
			return r
		default:
			return '_'
		}
	}, strings.TrimSpace(s))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
