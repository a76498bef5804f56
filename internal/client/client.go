// Package client — HTTP-клиент REST API dispatch-api (используется dispatchctl).
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/BearBump/DispatchBox/internal/models"
	"github.com/pkg/errors"
)

type Client struct {
	baseURL string
	httpc   *http.Client
}

func New(baseURL string) *Client {
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpc: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// APIError — ответ сервера с кодом != 2xx. Unwrap отдаёт доменную ошибку, так что errors.Is работает
// и на стороне клиента.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("dispatch api %d %s: %s", e.Status, e.Code, e.Message)
}

func (e *APIError) Unwrap() error {
	switch e.Code {
	case "NOT_FOUND":
		return models.ErrNotFound
	case "VALIDATION_FAILED":
		return models.ErrValidationFailed
	case "INVALID_TRANSITION":
		return models.ErrInvalidTransition
	case "CONFLICTING_ASSIGNMENT":
		return models.ErrConflictingAssignment
	case "WINDOW_EXPIRED":
		return models.ErrWindowExpired
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, q url.Values, body, out any) error {
	u := c.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}

	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return errors.Wrap(err, "encode body")
		}
		rd = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, rd)
	if err != nil {
		return errors.Wrap(err, "new request")
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return errors.Wrap(err, "do request")
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		var eb struct {
			Error string `json:"error"`
			Code  string `json:"code"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&eb)
		return &APIError{Status: resp.StatusCode, Code: eb.Code, Message: eb.Error}
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrap(err, "decode")
	}
	return nil
}

type CreateLoadRequest struct {
	Reference       string `json:"reference,omitempty"`
	OriginCity      string `json:"originCity"`
	DestinationCity string `json:"destinationCity"`
	Notes           string `json:"notes,omitempty"`
}

type AssignRequest struct {
	DriverID       string `json:"driverId"`
	TimeoutSeconds int    `json:"timeoutSeconds,omitempty"`
	Notes          string `json:"notes,omitempty"`
	Override       bool   `json:"override,omitempty"`
}

type ConfirmReleaseRequest struct {
	ReleaseNumber      string    `json:"releaseNumber"`
	PickupAddress      string    `json:"pickupAddress"`
	PickupInstructions string    `json:"pickupInstructions,omitempty"`
	ExpiresAt          time.Time `json:"expiresAt"`
}

type FileTonuRequest struct {
	Reason      string    `json:"reason"`
	ArrivalTime time.Time `json:"arrivalTime"`
	WaitMinutes int       `json:"waitMinutes"`
}

type DriverStatusRequest struct {
	Status string   `json:"status"`
	Lat    *float64 `json:"lat,omitempty"`
	Lng    *float64 `json:"lng,omitempty"`
	Notes  string   `json:"notes,omitempty"`
}

type Remaining struct {
	LoadID   string     `json:"loadId"`
	Kind     string     `json:"kind,omitempty"`
	Deadline *time.Time `json:"deadline,omitempty"`
	Seconds  int64      `json:"seconds"`
	Expired  bool       `json:"expired"`
}

type Pair struct {
	LoadID   string `json:"loadId"`
	DriverID string `json:"driverId"`
	Error    string `json:"error,omitempty"`
}

type AutoDispatchResult struct {
	Assigned []Pair `json:"assigned"`
	Failed   []Pair `json:"failed"`
}

func loadPath(id, action string) string {
	p := "/v1/loads/" + url.PathEscape(id)
	if action != "" {
		p += "/" + action
	}
	return p
}

func (c *Client) CreateLoad(ctx context.Context, in CreateLoadRequest) (*models.LoadView, error) {
	var v models.LoadView
	if err := c.do(ctx, http.MethodPost, "/v1/loads", nil, in, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

func (c *Client) GetLoad(ctx context.Context, id string) (*models.LoadView, error) {
	var v models.LoadView
	if err := c.do(ctx, http.MethodGet, loadPath(id, ""), nil, nil, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

func (c *Client) ListLoads(ctx context.Context, statuses []string, includeArchived bool, limit int) ([]models.LoadView, error) {
	q := url.Values{}
	if len(statuses) > 0 {
		q.Set("status", strings.Join(statuses, ","))
	}
	if includeArchived {
		q.Set("includeArchived", "true")
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var out struct {
		Loads []models.LoadView `json:"loads"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/loads", q, nil, &out); err != nil {
		return nil, err
	}
	return out.Loads, nil
}

func (c *Client) ListPendingAcceptance(ctx context.Context) ([]models.LoadView, error) {
	var out struct {
		Loads []models.LoadView `json:"loads"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/loads/pending-acceptance", nil, nil, &out); err != nil {
		return nil, err
	}
	return out.Loads, nil
}

func (c *Client) TimeRemaining(ctx context.Context, id string) (*Remaining, error) {
	var r Remaining
	if err := c.do(ctx, http.MethodGet, loadPath(id, "time-remaining"), nil, nil, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// LoadAction шлёт команду жизненного цикла (assign, accept, verify-sms, reject, release-request,
// release-confirm, pickup, complete, cancel, resend-sms) и возвращает новый снимок.
func (c *Client) LoadAction(ctx context.Context, id, action string, body any) (*models.LoadView, error) {
	var v models.LoadView
	if err := c.do(ctx, http.MethodPost, loadPath(id, action), nil, body, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

func (c *Client) Assign(ctx context.Context, id string, in AssignRequest) (*models.LoadView, error) {
	return c.LoadAction(ctx, id, "assign", in)
}

func (c *Client) Accept(ctx context.Context, id, driverID string) (*models.LoadView, error) {
	return c.LoadAction(ctx, id, "accept", map[string]string{"driverId": driverID})
}

func (c *Client) VerifySMS(ctx context.Context, id, code string) (*models.LoadView, error) {
	return c.LoadAction(ctx, id, "verify-sms", map[string]string{"code": code})
}

func (c *Client) Reject(ctx context.Context, id, reason string) (*models.LoadView, error) {
	return c.LoadAction(ctx, id, "reject", map[string]string{"reason": reason})
}

func (c *Client) ConfirmRelease(ctx context.Context, id string, in ConfirmReleaseRequest) (*models.LoadView, error) {
	return c.LoadAction(ctx, id, "release-confirm", in)
}

func (c *Client) Cancel(ctx context.Context, id, reason string) (*models.LoadView, error) {
	return c.LoadAction(ctx, id, "cancel", map[string]string{"reason": reason})
}

func (c *Client) FileTonu(ctx context.Context, id string, in FileTonuRequest) (*models.TonuClaim, error) {
	var claim models.TonuClaim
	if err := c.do(ctx, http.MethodPost, loadPath(id, "tonu"), nil, in, &claim); err != nil {
		return nil, err
	}
	return &claim, nil
}

func (c *Client) RegisterDriver(ctx context.Context, id, name, phone string) (*models.Driver, error) {
	var d models.Driver
	body := map[string]string{"id": id, "name": name, "phone": phone}
	if err := c.do(ctx, http.MethodPost, "/v1/drivers", nil, body, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

func (c *Client) GetDriver(ctx context.Context, id string) (*models.Driver, error) {
	var d models.Driver
	if err := c.do(ctx, http.MethodGet, "/v1/drivers/"+url.PathEscape(id), nil, nil, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

func (c *Client) ListDrivers(ctx context.Context) ([]models.Driver, error) {
	var out struct {
		Drivers []models.Driver `json:"drivers"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/drivers", nil, nil, &out); err != nil {
		return nil, err
	}
	return out.Drivers, nil
}

func (c *Client) DeregisterDriver(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/v1/drivers/"+url.PathEscape(id), nil, nil, nil)
}

func (c *Client) ReportDriverStatus(ctx context.Context, id string, in DriverStatusRequest) (*models.Driver, error) {
	var d models.Driver
	if err := c.do(ctx, http.MethodPost, "/v1/drivers/"+url.PathEscape(id)+"/status", nil, in, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

func (c *Client) ListAlerts(ctx context.Context, unackedOnly bool, driverID, alertType string, limit int) ([]models.DispatchAlert, error) {
	q := url.Values{}
	if unackedOnly {
		q.Set("unacknowledged", "true")
	}
	if driverID != "" {
		q.Set("driverId", driverID)
	}
	if alertType != "" {
		q.Set("type", alertType)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var out struct {
		Alerts []models.DispatchAlert `json:"alerts"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/alerts", q, nil, &out); err != nil {
		return nil, err
	}
	return out.Alerts, nil
}

func (c *Client) AckAlert(ctx context.Context, id string) (*models.DispatchAlert, error) {
	var a models.DispatchAlert
	if err := c.do(ctx, http.MethodPost, "/v1/alerts/"+url.PathEscape(id)+"/ack", nil, nil, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

func (c *Client) Suggestions(ctx context.Context) ([]Pair, error) {
	var out struct {
		Pairs []Pair `json:"pairs"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/dispatch/suggestions", nil, nil, &out); err != nil {
		return nil, err
	}
	return out.Pairs, nil
}

func (c *Client) AutoDispatch(ctx context.Context, timeoutSeconds int) (*AutoDispatchResult, error) {
	var res AutoDispatchResult
	body := map[string]int{"timeoutSeconds": timeoutSeconds}
	if err := c.do(ctx, http.MethodPost, "/v1/dispatch/auto", nil, body, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *Client) Stats(ctx context.Context) (map[string]any, error) {
	out := map[string]any{}
	if err := c.do(ctx, http.MethodGet, "/stats", nil, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}
