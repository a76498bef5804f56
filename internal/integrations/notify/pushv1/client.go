package pushv1

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/BearBump/DispatchBox/internal/integrations/notify"
	"github.com/pkg/errors"
)

// Client шлёт push-уведомления в водительское приложение через push-сервис v1.
type Client struct {
	baseURL string
	apiKey  string
	httpc   *http.Client
}

func New(baseURL, apiKey string) *Client {
	if baseURL == "" {
		baseURL = "http://localhost:9200"
	}
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpc: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

type pushBody struct {
	Kind    string    `json:"kind"`
	Message string    `json:"message"`
	SentAt  time.Time `json:"sent_at"`
}

func (c *Client) SendAlert(ctx context.Context, driverID, message string, kind notify.AlertKind) error {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return errors.Wrap(err, "parse base url")
	}
	u.Path = "/v1/drivers/" + driverID + "/notifications"

	b, err := json.Marshal(pushBody{Kind: string(kind), Message: message, SentAt: time.Now().UTC()})
	if err != nil {
		return errors.Wrap(err, "encode")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(b))
	if err != nil {
		return errors.Wrap(err, "new request")
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-Api-Key", c.apiKey)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return errors.Wrap(err, "do request")
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("push service rate limit (429)")
	}
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("push service http %d", resp.StatusCode)
	}
	return nil
}
