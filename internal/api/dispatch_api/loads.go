package dispatch_api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/BearBump/DispatchBox/internal/models"
	"github.com/BearBump/DispatchBox/internal/services/lifecycle"
	"github.com/BearBump/DispatchBox/internal/storage"
	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
)

type createLoadRequest struct {
	Reference       string `json:"reference"`
	OriginCity      string `json:"originCity"`
	DestinationCity string `json:"destinationCity"`
	Notes           string `json:"notes"`
}

type assignRequest struct {
	DriverID       string `json:"driverId"`
	TimeoutSeconds int    `json:"timeoutSeconds"`
	Notes          string `json:"notes"`
	Override       bool   `json:"override"`
}

type acceptRequest struct {
	DriverID string `json:"driverId"`
}

type verifyRequest struct {
	Code string `json:"code"`
}

type reasonRequest struct {
	Reason string `json:"reason"`
}

type confirmReleaseRequest struct {
	ReleaseNumber      string    `json:"releaseNumber"`
	PickupAddress      string    `json:"pickupAddress"`
	PickupInstructions string    `json:"pickupInstructions"`
	ExpiresAt          time.Time `json:"expiresAt"`
}

type fileTonuRequest struct {
	Reason      string    `json:"reason"`
	ArrivalTime time.Time `json:"arrivalTime"`
	WaitMinutes int       `json:"waitMinutes"`
}

func (a *DispatchAPI) createLoad(w http.ResponseWriter, r *http.Request) {
	var req createLoadRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	l, err := a.cmd.CreateLoad(r.Context(), models.LoadCreateInput{
		Reference:       req.Reference,
		OriginCity:      req.OriginCity,
		DestinationCity: req.DestinationCity,
		Notes:           req.Notes,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, l.View())
}

// listLoads: ?status=A,B&includeArchived=true&limit=&offset=
func (a *DispatchAPI) listLoads(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := storage.LoadFilter{IncludeArchived: q.Get("includeArchived") == "true"}
	for _, raw := range q["status"] {
		for _, s := range strings.Split(raw, ",") {
			if s = strings.TrimSpace(s); s != "" {
				f.Statuses = append(f.Statuses, models.LoadStatus(strings.ToUpper(s)))
			}
		}
	}
	var err error
	if f.Limit, err = intParam(q.Get("limit")); err != nil {
		writeError(w, r, err)
		return
	}
	if f.Offset, err = intParam(q.Get("offset")); err != nil {
		writeError(w, r, err)
		return
	}

	out, err := a.loads.ListLoads(r.Context(), f)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]any{"loads": out})
}

func (a *DispatchAPI) listPendingAcceptance(w http.ResponseWriter, r *http.Request) {
	out, err := a.loads.ListPendingAcceptance(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]any{"loads": out})
}

func (a *DispatchAPI) getLoad(w http.ResponseWriter, r *http.Request) {
	v, err := a.loads.GetLoad(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, v)
}

func (a *DispatchAPI) timeRemaining(w http.ResponseWriter, r *http.Request) {
	rem, err := a.cmd.TimeRemaining(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, rem)
}

func (a *DispatchAPI) listTonuClaims(w http.ResponseWriter, r *http.Request) {
	claims, err := a.loads.ListTonuClaims(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]any{"claims": claims})
}

func (a *DispatchAPI) assign(w http.ResponseWriter, r *http.Request) {
	var req assignRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.TimeoutSeconds < 0 {
		writeError(w, r, errors.Wrap(models.ErrValidationFailed, "timeoutSeconds must be >= 0"))
		return
	}
	l, err := a.cmd.Assign(r.Context(), lifecycle.AssignInput{
		LoadID:   chi.URLParam(r, "id"),
		DriverID: req.DriverID,
		Timeout:  time.Duration(req.TimeoutSeconds) * time.Second,
		Notes:    req.Notes,
		Override: req.Override,
	})
	a.respondLoad(w, r, l, err)
}

func (a *DispatchAPI) accept(w http.ResponseWriter, r *http.Request) {
	var req acceptRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	l, err := a.cmd.DriverAccept(r.Context(), chi.URLParam(r, "id"), req.DriverID)
	a.respondLoad(w, r, l, err)
}

func (a *DispatchAPI) resendSMS(w http.ResponseWriter, r *http.Request) {
	l, err := a.cmd.ResendSMS(r.Context(), chi.URLParam(r, "id"))
	a.respondLoad(w, r, l, err)
}

func (a *DispatchAPI) verifySMS(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	l, err := a.cmd.VerifySMS(r.Context(), chi.URLParam(r, "id"), strings.TrimSpace(req.Code))
	a.respondLoad(w, r, l, err)
}

func (a *DispatchAPI) reject(w http.ResponseWriter, r *http.Request) {
	var req reasonRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	l, err := a.cmd.DriverReject(r.Context(), chi.URLParam(r, "id"), req.Reason)
	a.respondLoad(w, r, l, err)
}

func (a *DispatchAPI) requestRelease(w http.ResponseWriter, r *http.Request) {
	l, err := a.cmd.RequestRelease(r.Context(), chi.URLParam(r, "id"))
	a.respondLoad(w, r, l, err)
}

func (a *DispatchAPI) confirmRelease(w http.ResponseWriter, r *http.Request) {
	var req confirmReleaseRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	l, err := a.cmd.ConfirmRelease(r.Context(), lifecycle.ConfirmReleaseInput{
		LoadID:        chi.URLParam(r, "id"),
		ReleaseNumber: req.ReleaseNumber,
		Pickup:        models.PickupDetails{Address: req.PickupAddress, Instructions: req.PickupInstructions},
		ExpiresAt:     req.ExpiresAt,
	})
	a.respondLoad(w, r, l, err)
}

func (a *DispatchAPI) confirmPickup(w http.ResponseWriter, r *http.Request) {
	l, err := a.cmd.ConfirmPickup(r.Context(), chi.URLParam(r, "id"))
	a.respondLoad(w, r, l, err)
}

func (a *DispatchAPI) fileTonu(w http.ResponseWriter, r *http.Request) {
	var req fileTonuRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	c, err := a.cmd.FileTonu(r.Context(), lifecycle.FileTonuInput{
		LoadID:      chi.URLParam(r, "id"),
		Reason:      req.Reason,
		ArrivalTime: req.ArrivalTime,
		WaitMinutes: req.WaitMinutes,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, c)
}

func (a *DispatchAPI) complete(w http.ResponseWriter, r *http.Request) {
	l, err := a.cmd.Complete(r.Context(), chi.URLParam(r, "id"))
	a.respondLoad(w, r, l, err)
}

func (a *DispatchAPI) cancel(w http.ResponseWriter, r *http.Request) {
	var req reasonRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	l, err := a.cmd.Cancel(r.Context(), chi.URLParam(r, "id"), req.Reason)
	a.respondLoad(w, r, l, err)
}

// respondLoad отдаёт только снимок: окно и хеш кода наружу не уходят.
func (a *DispatchAPI) respondLoad(w http.ResponseWriter, r *http.Request, l *models.Load, err error) {
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, l.View())
}

func intParam(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, errors.Wrapf(models.ErrValidationFailed, "bad integer %q", s)
	}
	return n, nil
}
