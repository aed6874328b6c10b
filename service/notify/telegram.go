package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"go.uber.org/multierr"

	"github.com/khaledhikmat/vs-live/model"
	"github.com/khaledhikmat/vs-live/service/lgr"
)

const telegramTimeout = 20 * time.Second

// Update is the subset of a Telegram webhook update we act on.
type Update struct {
	UpdateID int64 `json:"update_id"`
	Message  *struct {
		MessageID int64 `json:"message_id"`
		Chat      struct {
			ID int64 `json:"id"`
		} `json:"chat"`
		Text string `json:"text"`
	} `json:"message"`
}

type telegramResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

// Telegram sends alerts to every subscribed chat through the Bot API.
type Telegram struct {
	token  string
	apiURL string
	client *http.Client
	chats  *ChatRegistry
}

func NewTelegram(token, apiURL string, chats *ChatRegistry) *Telegram {
	return &Telegram{
		token:  token,
		apiURL: strings.TrimRight(apiURL, "/"),
		client: &http.Client{Timeout: telegramTimeout},
		chats:  chats,
	}
}

func (t *Telegram) Name() string {
	return "telegram"
}

func (t *Telegram) Chats() *ChatRegistry {
	return t.chats
}

func (t *Telegram) Notify(ctx context.Context, alert model.Alert) error {
	var errs error
	for _, chat := range t.chats.List() {
		var err error
		if len(alert.Image) > 0 {
			err = t.SendPhoto(ctx, chat, alert.Caption, alert.Image)
		} else {
			err = t.SendMessage(ctx, chat, alert.Caption)
		}
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("chat %d: %w", chat, err))
		}
	}
	return errs
}

// HandleUpdate subscribes a chat on /start and unsubscribes it on /stop.
func (t *Telegram) HandleUpdate(ctx context.Context, u Update) error {
	if u.Message == nil {
		return nil
	}

	chat := u.Message.Chat.ID
	text := strings.TrimSpace(u.Message.Text)

	switch {
	case strings.HasPrefix(text, "/start"):
		added, err := t.chats.Add(chat)
		if err != nil {
			return err
		}
		lgr.Logger.Info("telegram chat subscribed", slog.Int64("chat", chat), slog.Bool("new", added))
		return t.SendMessage(ctx, chat, "✅ Subscribed to surveillance alerts. Send /stop to unsubscribe.")

	case strings.HasPrefix(text, "/stop"):
		removed, err := t.chats.Remove(chat)
		if err != nil {
			return err
		}
		lgr.Logger.Info("telegram chat unsubscribed", slog.Int64("chat", chat), slog.Bool("was", removed))
		return t.SendMessage(ctx, chat, "🔕 Unsubscribed. Send /start to subscribe again.")

	default:
		return t.SendMessage(ctx, chat, "Send /start to receive alerts or /stop to stop them.")
	}
}

func (t *Telegram) endpoint(method string) string {
	return fmt.Sprintf("%s/bot%s/%s", t.apiURL, t.token, method)
}

func (t *Telegram) SendMessage(ctx context.Context, chat int64, text string) error {
	body, err := json.Marshal(map[string]interface{}{
		"chat_id": chat,
		"text":    text,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint("sendMessage"), bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return t.do(req)
}

func (t *Telegram) SendPhoto(ctx context.Context, chat int64, caption string, photo []byte) error {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	if err := mw.WriteField("chat_id", fmt.Sprintf("%d", chat)); err != nil {
		return err
	}
	if err := mw.WriteField("caption", caption); err != nil {
		return err
	}
	fw, err := mw.CreateFormFile("photo", "alert.jpg")
	if err != nil {
		return err
	}
	if _, err := fw.Write(photo); err != nil {
		return err
	}
	if err := mw.Close(); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint("sendPhoto"), &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return t.do(req)
}

func (t *Telegram) do(req *http.Request) error {
	resp, err := t.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return err
	}

	var tr telegramResponse
	if err := json.Unmarshal(data, &tr); err != nil {
		return fmt.Errorf("telegram: status %d: %w", resp.StatusCode, err)
	}
	if !tr.OK {
		return fmt.Errorf("telegram: status %d: %s", resp.StatusCode, tr.Description)
	}
	return nil
}

func (t *Telegram) Close() error {
	return nil
}
