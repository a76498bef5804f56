package dispatch_api

import (
	"net/http"
	"strings"
	"time"

	"github.com/BearBump/DispatchBox/internal/models"
	"github.com/BearBump/DispatchBox/internal/services/coordinator"
	"github.com/BearBump/DispatchBox/internal/services/registry"
	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
)

type registerDriverRequest struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Phone string `json:"phone"`
}

type driverStatusRequest struct {
	Status models.DriverStatus `json:"status"`
	Lat    *float64            `json:"lat"`
	Lng    *float64            `json:"lng"`
	Notes  string              `json:"notes"`
}

type autoDispatchRequest struct {
	TimeoutSeconds int `json:"timeoutSeconds"`
}

func (a *DispatchAPI) registerDriver(w http.ResponseWriter, r *http.Request) {
	var req registerDriverRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	d, err := a.cmd.RegisterDriver(r.Context(), models.DriverCreateInput{ID: req.ID, Name: req.Name, Phone: req.Phone})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, d)
}

func (a *DispatchAPI) listDrivers(w http.ResponseWriter, r *http.Request) {
	ds, err := a.drivers.List(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]any{"drivers": ds})
}

func (a *DispatchAPI) getDriver(w http.ResponseWriter, r *http.Request) {
	d, err := a.drivers.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, d)
}

func (a *DispatchAPI) deregisterDriver(w http.ResponseWriter, r *http.Request) {
	if err := a.cmd.DeregisterDriver(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *DispatchAPI) reportDriverStatus(w http.ResponseWriter, r *http.Request) {
	var req driverStatusRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	rep := registry.StatusReport{
		DriverID: chi.URLParam(r, "id"),
		Status:   models.DriverStatus(strings.ToUpper(string(req.Status))),
		Notes:    req.Notes,
	}
	if (req.Lat == nil) != (req.Lng == nil) {
		writeError(w, r, errors.Wrap(models.ErrValidationFailed, "lat and lng go together"))
		return
	}
	if req.Lat != nil {
		rep.Location = &models.Location{Lat: *req.Lat, Lng: *req.Lng}
	}
	d, err := a.cmd.ReportDriverStatus(r.Context(), rep)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, d)
}

// listAlerts: ?unacknowledged=true&driverId=&type=&limit=
func (a *DispatchAPI) listAlerts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := intParam(q.Get("limit"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	out := a.cmd.ListAlerts(r.Context(), coordinator.AlertFilter{
		UnacknowledgedOnly: q.Get("unacknowledged") == "true",
		DriverID:           q.Get("driverId"),
		Type:               models.AlertType(strings.ToUpper(q.Get("type"))),
		Limit:              limit,
	})
	writeJSON(w, r, http.StatusOK, map[string]any{"alerts": out})
}

func (a *DispatchAPI) ackAlert(w http.ResponseWriter, r *http.Request) {
	al, err := a.cmd.AcknowledgeAlert(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, al)
}

func (a *DispatchAPI) suggestions(w http.ResponseWriter, r *http.Request) {
	pairs, err := a.cmd.SuggestPairs(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]any{"pairs": pairs})
}

func (a *DispatchAPI) autoDispatch(w http.ResponseWriter, r *http.Request) {
	var req autoDispatchRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	res, err := a.cmd.AutoDispatch(r.Context(), time.Duration(req.TimeoutSeconds)*time.Second)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, res)
}
