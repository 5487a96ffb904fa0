package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/shehryarbajwa/checkin-mini/internal/bus"
	"github.com/shehryarbajwa/checkin-mini/internal/orchestrator"
	"github.com/shehryarbajwa/checkin-mini/internal/store"
	"github.com/shehryarbajwa/checkin-mini/pkg/models"
)

// Handler holds dependencies for HTTP handlers. Triggers and schedule
// updates go through the message bus so the REST surface and the page
// agent share one entry path per message kind.
type Handler struct {
	orch    *orchestrator.Orchestrator
	store   *store.Store
	bus     *bus.Bus
	healthy func() bool
}

// NewHandler creates a new HTTP handler. healthy may be nil when no
// browser health probe is available.
func NewHandler(orch *orchestrator.Orchestrator, st *store.Store, b *bus.Bus, healthy func() bool) *Handler {
	return &Handler{
		orch:    orch,
		store:   st,
		bus:     b,
		healthy: healthy,
	}
}

// TriggerCheck handles POST /v1/checks
func (h *Handler) TriggerCheck(w http.ResponseWriter, r *http.Request) {
	var req models.TriggerCheckRequest

	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
			return
		}
	}

	reply, err := h.bus.Request(r.Context(), bus.Envelope{Kind: bus.KindRunCheckNow, Payload: req})
	switch {
	case errors.Is(err, orchestrator.ErrRateLimited):
		http.Error(w, err.Error(), http.StatusTooManyRequests)
		return
	case errors.Is(err, orchestrator.ErrCheckInFlight):
		http.Error(w, err.Error(), http.StatusConflict)
		return
	case err != nil:
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(reply)
}

// ListChecks handles GET /v1/checks
func (h *Handler) ListChecks(w http.ResponseWriter, r *http.Request) {
	statusStr := r.URL.Query().Get("status")

	var status models.ClickStatus
	if statusStr != "" {
		status = models.ClickStatus(statusStr)
	}

	sessions := h.store.List(status)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(sessions)
}

// GetCheck handles GET /v1/checks/{id}
func (h *Handler) GetCheck(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id := vars["id"]

	sess, err := h.store.Get(id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(sess)
}

// scheduleResponse pairs the preference with the armed fire time.
type scheduleResponse struct {
	Schedule models.ScheduleConfig `json:"schedule"`
	NextFire *time.Time            `json:"nextFire,omitempty"`
}

// GetSchedule handles GET /v1/schedule
func (h *Handler) GetSchedule(w http.ResponseWriter, r *http.Request) {
	resp := scheduleResponse{Schedule: h.orch.Schedule()}
	if next, ok := h.orch.NextFire(); ok {
		resp.NextFire = &next
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// SetSchedule handles POST /v1/schedule
func (h *Handler) SetSchedule(w http.ResponseWriter, r *http.Request) {
	var sc models.ScheduleConfig
	if err := json.NewDecoder(r.Body).Decode(&sc); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	if _, err := h.bus.Request(r.Context(), bus.Envelope{Kind: bus.KindScheduleAlarm, Payload: sc}); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	resp := scheduleResponse{Schedule: h.orch.Schedule()}
	if next, ok := h.orch.NextFire(); ok {
		resp.NextFire = &next
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// GetAuthState handles GET /v1/auth/state
func (h *Handler) GetAuthState(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(h.orch.AuthState())
}

// GetHealth handles GET /v1/health
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	browserOK := true
	if h.healthy != nil {
		browserOK = h.healthy()
	}

	w.Header().Set("Content-Type", "application/json")
	if !browserOK {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(map[string]bool{"browserRunning": browserOK})
}
