package cycle

import (
	"feedpush/internal/dispatch"
	"feedpush/internal/model"
)

func liveMessage(e model.LiveEntity) dispatch.Message {
	name := e.Title
	if name == "" {
		name = e.ID
	}
	return dispatch.Message{
		Title: "🔴 " + name + " is live",
		Body:  "Streaming now. Tap to watch.",
		URL:   e.URL,
		Tag:   "live-" + e.ID,
		// A member going live twice must show twice.
		CollapseAllowed: false,
	}
}

func voteMessage(v model.VoteEntity) dispatch.Message {
	return dispatch.Message{
		Title:           "🗳 New vote",
		Body:            v.Title,
		URL:             v.URL,
		Tag:             "vote-" + v.ID,
		CollapseAllowed: true,
	}
}

func videoMessage(v model.VideoEntity) dispatch.Message {
	title := "▶️ New video"
	if v.Type == "short" {
		title = "▶️ New short"
	}
	return dispatch.Message{
		Title:           title,
		Body:            v.Title,
		URL:             v.URL,
		Tag:             "video-" + v.ID,
		CollapseAllowed: true,
	}
}
