package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/khaledhikmat/vs-live/model"
)

// Webhook posts a JSON payload per alert to a fixed URL.
type Webhook struct {
	url    string
	client *http.Client
}

func NewWebhook(url string) *Webhook {
	return &Webhook{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

func (svc *Webhook) Name() string {
	return "webhook"
}

func (svc *Webhook) Notify(ctx context.Context, alert model.Alert) error {
	payload := map[string]interface{}{
		"source":     "vs-live",
		"label":      alert.Label,
		"confidence": alert.Confidence,
		"gps":        alert.GPS,
		"caption":    alert.Caption,
		"boxes":      alert.Boxes,
		"timestamp":  alert.Timestamp.Format(time.RFC3339),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, svc.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := svc.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

func (svc *Webhook) Close() error {
	return nil
}
