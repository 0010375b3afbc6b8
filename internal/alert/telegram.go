// Package alert posts cycle summaries to an operator Telegram chat.
package alert

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"feedpush/internal/cycle"
)

type telegramAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Telegram reports noteworthy cycles to one chat.
type Telegram struct {
	api    telegramAPI
	chatID int64
	log    *slog.Logger
}

// sendTimeout bounds each Bot API request.
const sendTimeout = 10 * time.Second

// NewTelegram creates a Telegram reporter with the given bot token.
func NewTelegram(token string, chatID int64, log *slog.Logger) (*Telegram, error) {
	return newTelegram(token, tgbotapi.APIEndpoint, &http.Client{Timeout: sendTimeout}, chatID, log)
}

func newTelegram(token, endpoint string, client tgbotapi.HTTPClient, chatID int64, log *slog.Logger) (*Telegram, error) {
	if log == nil {
		log = slog.Default()
	}
	api, err := tgbotapi.NewBotAPIWithClient(token, endpoint, client)
	if err != nil {
		return nil, fmt.Errorf("create bot api: %w", err)
	}
	return &Telegram{api: api, chatID: chatID, log: log}, nil
}

// ReportCycle sends a summary when the cycle failed, lost deliveries or sent anything.
// Quiet cycles are not reported. Send errors are logged.
func (t *Telegram) ReportCycle(_ context.Context, rep *cycle.Report) {
	if rep == nil || !Noteworthy(rep) {
		return
	}
	msg := tgbotapi.NewMessage(t.chatID, FormatReport(rep))
	msg.DisableWebPagePreview = true
	if _, err := t.api.Send(msg); err != nil {
		t.log.Error("send cycle alert", "chat_id", t.chatID, "run_id", rep.RunID, "error", err)
	}
}

// Noteworthy reports whether rep deserves an operator message.
func Noteworthy(rep *cycle.Report) bool {
	if !rep.OK || rep.Error != "" {
		return true
	}
	sent, failed := rep.Totals()
	return sent > 0 || failed > 0
}
