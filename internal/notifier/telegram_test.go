package notifier

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

type staticChats map[int64]int64

func (m staticChats) TelegramChat(_ context.Context, ownerID int64) (int64, error) {
	return m[ownerID], nil
}

func TestTelegramSinkSendsToLinkedChat(t *testing.T) {
	var got struct {
		ChatID int64  `json:"chat_id"`
		Text   string `json:"text"`
	}
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		assert.Equal(t, "/bottok-1/sendMessage", r.URL.Path)
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	s := NewTelegramSink("tok-1", staticChats{7: 1234}, zap.NewNop().Sugar())
	s.baseURL = srv.URL

	s.Notify(context.Background(), Event{
		Kind: EventTerminal, OwnerID: 7, Status: "succeeded", Detail: "court-1",
	})

	assert.Equal(t, 1, calls)
	assert.Equal(t, int64(1234), got.ChatID)
	assert.Contains(t, got.Text, "Booking confirmed")
}

func TestTelegramSinkSkipsUnlinkedOwner(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
	}))
	defer srv.Close()

	s := NewTelegramSink("tok-1", staticChats{}, zap.NewNop().Sugar())
	s.baseURL = srv.URL

	s.Notify(context.Background(), Event{Kind: EventTerminal, OwnerID: 7})
	assert.Equal(t, 0, calls)
}
