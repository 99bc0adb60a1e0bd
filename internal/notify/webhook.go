package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/example/ride-tracking/internal/models"
)

// Webhook posts events to a push provider endpoint (FCM-style HTTP v1 body).
type Webhook struct {
	Endpoint string
	Key      string
	Client   *http.Client
}

func NewWebhook(endpoint, key string) *Webhook {
	return &Webhook{Endpoint: endpoint, Key: key, Client: &http.Client{Timeout: 3 * time.Second}}
}

func (w *Webhook) Notify(ctx context.Context, e models.Event) error {
	body := map[string]any{
		"message": map[string]any{
			"topic":        "ride-" + e.RideID,
			"notification": map[string]string{"title": e.Title, "body": e.Body},
			"data":         e,
		},
	}
	b, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.Endpoint, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if w.Key != "" {
		req.Header.Set("Authorization", "Bearer "+w.Key)
	}
	resp, err := w.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("push endpoint returned %d", resp.StatusCode)
	}
	return nil
}
