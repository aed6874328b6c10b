package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/khaledhikmat/vs-live/model"
	"github.com/khaledhikmat/vs-live/service/config"
	"github.com/khaledhikmat/vs-live/service/lgr"
)

func init() {
	lgr.Discard()
}

type botCall struct {
	Method  string
	ChatID  string
	Text    string
	Caption string
	Photo   []byte
}

// fakeBot mimics the Telegram Bot API endpoints we use.
type fakeBot struct {
	mu    sync.Mutex
	calls []botCall
	fail  bool
}

func (b *fakeBot) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	call := botCall{Method: r.URL.Path[strings.LastIndex(r.URL.Path, "/")+1:]}

	switch call.Method {
	case "sendMessage":
		var body struct {
			ChatID int64  `json:"chat_id"`
			Text   string `json:"text"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		call.ChatID = jsonInt(body.ChatID)
		call.Text = body.Text
	case "sendPhoto":
		if err := r.ParseMultipartForm(1 << 20); err == nil {
			call.ChatID = r.FormValue("chat_id")
			call.Caption = r.FormValue("caption")
			if f, _, err := r.FormFile("photo"); err == nil {
				call.Photo, _ = io.ReadAll(f)
				f.Close()
			}
		}
	}

	b.mu.Lock()
	b.calls = append(b.calls, call)
	fail := b.fail
	b.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if fail {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"ok":false,"description":"Bad Request: chat not found"}`))
		return
	}
	_, _ = w.Write([]byte(`{"ok":true,"result":{}}`))
}

func jsonInt(i int64) string {
	data, _ := json.Marshal(i)
	return string(data)
}

func (b *fakeBot) Calls() []botCall {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]botCall{}, b.calls...)
}

func newTestTelegram(t *testing.T) (*Telegram, *fakeBot, string) {
	t.Helper()

	bot := &fakeBot{}
	srv := httptest.NewServer(bot)
	t.Cleanup(srv.Close)

	path := filepath.Join(t.TempDir(), "chat_ids.json")
	chats, err := NewChatRegistry(path)
	require.NoError(t, err)

	return NewTelegram("TOKEN", srv.URL+"/", chats), bot, path
}

func update(chat int64, text string) Update {
	var u Update
	data := []byte(`{"update_id":1,"message":{"message_id":2,"chat":{"id":` + jsonInt(chat) + `},"text":` + mustJSON(text) + `}}`)
	_ = json.Unmarshal(data, &u)
	return u
}

func mustJSON(s string) string {
	data, _ := json.Marshal(s)
	return string(data)
}

func TestTelegramSubscription(t *testing.T) {
	tg, bot, path := newTestTelegram(t)
	ctx := context.Background()

	require.NoError(t, tg.HandleUpdate(ctx, update(42, "/start")))
	require.NoError(t, tg.HandleUpdate(ctx, update(7, "/start now")))
	assert.Equal(t, []int64{7, 42}, tg.Chats().List())

	// the registry survives a restart
	reloaded, err := NewChatRegistry(path)
	require.NoError(t, err)
	assert.Equal(t, []int64{7, 42}, reloaded.List())

	require.NoError(t, tg.HandleUpdate(ctx, update(42, "/stop")))
	assert.Equal(t, []int64{7}, tg.Chats().List())

	require.NoError(t, tg.HandleUpdate(ctx, update(7, "hello")))
	require.NoError(t, tg.HandleUpdate(ctx, Update{}))

	calls := bot.Calls()
	require.Len(t, calls, 4)
	for _, c := range calls {
		assert.Equal(t, "sendMessage", c.Method)
	}
	assert.Equal(t, "42", calls[0].ChatID)
	assert.Contains(t, calls[2].Text, "Unsubscribed")
}

func TestTelegramNotify(t *testing.T) {
	tg, bot, _ := newTestTelegram(t)
	ctx := context.Background()

	_, err := tg.Chats().Add(1)
	require.NoError(t, err)
	_, err = tg.Chats().Add(2)
	require.NoError(t, err)

	require.NoError(t, tg.Notify(ctx, model.Alert{Label: "person", Caption: "alert!", Image: []byte{0xff, 0xd8, 0xff}}))
	require.NoError(t, tg.Notify(ctx, model.Alert{Label: "person", Caption: "text only"}))

	calls := bot.Calls()
	require.Len(t, calls, 4)
	assert.Equal(t, "sendPhoto", calls[0].Method)
	assert.Equal(t, "1", calls[0].ChatID)
	assert.Equal(t, "alert!", calls[0].Caption)
	assert.Equal(t, []byte{0xff, 0xd8, 0xff}, calls[0].Photo)
	assert.Equal(t, "sendMessage", calls[3].Method)
	assert.Equal(t, "text only", calls[3].Text)
}

func TestTelegramReportsAPIErrors(t *testing.T) {
	tg, bot, _ := newTestTelegram(t)
	bot.mu.Lock()
	bot.fail = true
	bot.mu.Unlock()

	_, err := tg.Chats().Add(1)
	require.NoError(t, err)

	err = tg.Notify(context.Background(), model.Alert{Caption: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chat not found")
}

func TestChatRegistryRejectsCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chat_ids.json")
	require.NoError(t, os.WriteFile(path, []byte("{oops"), 0o644))

	_, err := NewChatRegistry(path)
	assert.Error(t, err)
}

func TestWebhook(t *testing.T) {
	var got map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		if got["label"] == "fail" {
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	defer srv.Close()

	wh := NewWebhook(srv.URL)
	ts := time.Date(2024, 5, 17, 9, 30, 0, 0, time.UTC)
	require.NoError(t, wh.Notify(context.Background(), model.Alert{Label: "knife", Confidence: 0.8, GPS: "unknown", Timestamp: ts}))

	assert.Equal(t, "knife", got["label"])
	assert.Equal(t, "vs-live", got["source"])
	assert.Equal(t, "2024-05-17T09:30:00Z", got["timestamp"])

	assert.Error(t, wh.Notify(context.Background(), model.Alert{Label: "fail"}))
}

func TestFanoutDeliversToAll(t *testing.T) {
	a, b := NewFake(), NewFake()
	a.Err = errors.New("sink a down")

	f := NewFanout(a, b)
	assert.Equal(t, "fake+fake", f.Name())

	err := f.Notify(context.Background(), model.Alert{Label: "person"})
	assert.ErrorContains(t, err, "sink a down")
	assert.Len(t, a.Alerts(), 1)
	assert.Len(t, b.Alerts(), 1)
	assert.NoError(t, f.Close())

	single := NewFake()
	assert.Same(t, single, NewFanout(single))
}

type sinkConfig struct {
	config.IService
	token   string
	webhook string
	folder  string
}

func (c sinkConfig) GetTelegramToken() string  { return c.token }
func (c sinkConfig) GetWebhookURL() string     { return c.webhook }
func (c sinkConfig) GetChatsInputFile() string { return filepath.Join(c.folder, "chat_ids.json") }

func TestNewSelectsSinks(t *testing.T) {
	svc, tg := New(sinkConfig{IService: config.NewHardCoded(), folder: t.TempDir()}, "test")
	assert.Equal(t, "log", svc.Name())
	assert.Nil(t, tg)
	assert.NoError(t, svc.Notify(context.Background(), model.Alert{Label: "person"}))

	svc, tg = New(sinkConfig{
		IService: config.NewHardCoded(),
		token:    "TOKEN",
		webhook:  "http://127.0.0.1:1/hook",
		folder:   t.TempDir(),
	}, "test")
	require.NotNil(t, tg)
	assert.Equal(t, "telegram+webhook", svc.Name())
}
