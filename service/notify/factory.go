package notify

import (
	"log/slog"

	"github.com/khaledhikmat/vs-live/service/config"
	"github.com/khaledhikmat/vs-live/service/lgr"
)

// New builds the configured sinks. A sink that fails to start is logged
// and skipped. The returned Telegram is nil when no token is configured.
func New(cfgsvc config.IService, clientID string) (IService, *Telegram) {
	sinks := []IService{}
	var tg *Telegram

	if token := cfgsvc.GetTelegramToken(); token != "" {
		chats, err := NewChatRegistry(cfgsvc.GetChatsInputFile())
		if err != nil {
			lgr.Logger.Error("could not load telegram chats", slog.Any("error", err))
		} else {
			tg = NewTelegram(token, cfgsvc.GetTelegramAPIURL(), chats)
			sinks = append(sinks, tg)
		}
	}

	if broker := cfgsvc.GetMQTTBroker(); broker != "" {
		m, err := NewMQTT(broker, cfgsvc.GetMQTTTopic(), clientID)
		if err != nil {
			lgr.Logger.Error("could not connect to mqtt broker", slog.String("broker", broker), slog.Any("error", err))
		} else {
			sinks = append(sinks, m)
		}
	}

	if url := cfgsvc.GetWebhookURL(); url != "" {
		sinks = append(sinks, NewWebhook(url))
	}

	if len(sinks) == 0 {
		sinks = append(sinks, NewLog())
	}

	return NewFanout(sinks...), tg
}
