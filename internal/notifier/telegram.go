package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// ChatResolver maps an owner to their linked Telegram chat. A zero chat
// id means the owner has not linked one.
type ChatResolver interface {
	TelegramChat(ctx context.Context, ownerID int64) (int64, error)
}

// TelegramSink delivers events as Telegram messages. Owners without a
// linked chat are skipped. Failures are logged and swallowed:
// notification is best-effort by contract.
type TelegramSink struct {
	hc      *http.Client
	token   string
	baseURL string
	chats   ChatResolver
	log     *zap.SugaredLogger
}

func NewTelegramSink(token string, chats ChatResolver, log *zap.SugaredLogger) *TelegramSink {
	return &TelegramSink{
		hc:      &http.Client{Timeout: 10 * time.Second},
		token:   token,
		baseURL: "https://api.telegram.org",
		chats:   chats,
		log:     log.Named("telegram"),
	}
}

func (s *TelegramSink) Notify(ctx context.Context, ev Event) {
	chatID, err := s.chats.TelegramChat(ctx, ev.OwnerID)
	if err != nil {
		s.log.Warnw("telegram chat lookup failed",
			"booking_id", ev.BookingID, "owner_id", ev.OwnerID, "error", err)
		return
	}
	if chatID == 0 {
		return
	}
	if err := s.sendMessage(ctx, chatID, formatEvent(ev)); err != nil {
		s.log.Warnw("telegram send failed",
			"booking_id", ev.BookingID, "owner_id", ev.OwnerID, "error", err)
	}
}

func (s *TelegramSink) sendMessage(ctx context.Context, chatID int64, text string) error {
	payload, err := json.Marshal(struct {
		ChatID    int64  `json:"chat_id"`
		Text      string `json:"text"`
		ParseMode string `json:"parse_mode"`
	}{ChatID: chatID, Text: text, ParseMode: "Markdown"})
	if err != nil {
		return err
	}

	u := fmt.Sprintf("%s/bot%s/sendMessage", s.baseURL, s.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("content-type", "application/json")

	res, err := s.hc.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode >= 400 {
		return fmt.Errorf("telegram sendMessage status=%d", res.StatusCode)
	}
	return nil
}

func formatEvent(ev Event) string {
	switch ev.Kind {
	case EventProgress:
		return fmt.Sprintf("⏳ Booking update: %s", ev.Stage)
	default:
		switch ev.Status {
		case "succeeded":
			return fmt.Sprintf("🎉 *Booking confirmed!*\n%s", ev.Detail)
		case "failed":
			msg := fmt.Sprintf("❌ *Booking failed.*\n%s", ev.Detail)
			if len(ev.Alternatives) > 0 {
				msg += "\nStill open: " + strings.Join(ev.Alternatives, ", ")
			}
			return msg
		default:
			return fmt.Sprintf("Booking %s: %s", ev.Status, ev.Detail)
		}
	}
}
