package smshttp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Client — HTTP-клиент SMS-провайдера (form POST, ключ в query, ответ JSON).
type Client struct {
	baseURL string
	apiKey  string
	sender  string
	httpc   *http.Client
}

func New(baseURL, apiKey, sender string) *Client {
	if baseURL == "" {
		baseURL = "http://localhost:9100"
	}
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		sender:  sender,
		httpc: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

type sendResp struct {
	Status    string `json:"status"`
	MessageID string `json:"message_id"`
	Error     string `json:"error,omitempty"`
}

func (c *Client) SendSMS(ctx context.Context, phone, message string) (string, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", errors.Wrap(err, "parse base url")
	}
	u.Path = "/sms/send.json"
	q := u.Query()
	q.Set("apiKey", c.apiKey)
	u.RawQuery = q.Encode()

	form := url.Values{}
	form.Set("to", phone)
	form.Set("text", message)
	if c.sender != "" {
		form.Set("from", c.sender)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), strings.NewReader(form.Encode()))
	if err != nil {
		return "", errors.Wrap(err, "new request")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return "", errors.Wrap(err, "do request")
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return "", fmt.Errorf("sms provider rate limit (429)")
	}
	if resp.StatusCode/100 != 2 {
		return "", fmt.Errorf("sms provider http %d", resp.StatusCode)
	}

	var r sendResp
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		return "", errors.Wrap(err, "decode")
	}
	if r.Status != "ok" {
		return "", fmt.Errorf("sms provider status=%s error=%s", r.Status, r.Error)
	}
	return r.MessageID, nil
}
