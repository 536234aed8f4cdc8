package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/example/clean-matching/internal/models"
)

// PushDispatcher posts notifications to an HTTP push gateway.
type PushDispatcher struct {
	Endpoint string
	Key      string
	Client   *http.Client
}

func NewPushDispatcher(endpoint, key string) *PushDispatcher {
	return &PushDispatcher{Endpoint: endpoint, Key: key, Client: &http.Client{Timeout: 3 * time.Second}}
}

func (*PushDispatcher) Name() string { return "push" }

func (p *PushDispatcher) Send(ctx context.Context, n models.Notification) error {
	body := map[string]any{
		"message": map[string]any{
			"user_id": n.UserID,
			"title":   n.Title,
			"body":    n.Body,
			"data":    mergeData(n),
		},
	}
	b, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.Endpoint, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if p.Key != "" {
		req.Header.Set("Authorization", "Bearer "+p.Key)
	}
	resp, err := p.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("push gateway status %d", resp.StatusCode)
	}
	return nil
}

func mergeData(n models.Notification) map[string]string {
	out := map[string]string{"kind": n.Kind, "notification_id": n.ID}
	for k, v := range n.Data {
		out[k] = v
	}
	return out
}
