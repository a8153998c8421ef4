package bootstrap

import (
	"net/http"

	"github.com/nexus-retail/opsplane/health"
	"github.com/nexus-retail/opsplane/infrastructure/errors"
	"github.com/nexus-retail/opsplane/infrastructure/httputil"
)

// handlers closes over the wired App to serve the section 6 HTTP surface.
type handlers struct {
	app *App
}

// health is the liveness probe: always 200 once the process accepts
// traffic, independent of safe mode or score.
func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// systemHealth reports the most recent computed score, grade, and
// component breakdown, plus whether safe mode is currently engaged.
func (h *handlers) systemHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	latest, err := h.app.Store.Health().LatestScore(ctx)
	if err != nil {
		writeServiceErr(w, r, errors.DatabaseError("load latest health score", err))
		return
	}
	safeModeOn, err := h.app.SafeMode.Enabled(ctx)
	if err != nil {
		writeServiceErr(w, r, errors.DatabaseError("load safe mode state", err))
		return
	}

	resp := map[string]interface{}{"safeMode": safeModeOn}
	if latest != nil {
		resp["score"] = latest.Score
		resp["grade"] = string(health.GradeFor(latest.Score))
		resp["components"] = latest.Components
		resp["recordedAt"] = latest.RecordedAt
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

// incidents lists currently open incidents, P1 first, newest within
// priority, capped at 50.
func (h *handlers) incidents(w http.ResponseWriter, r *http.Request) {
	summary, err := h.app.Incidents.GetIncidentSummary(r.Context())
	if err != nil {
		writeServiceErr(w, r, errors.DatabaseError("load incident summary", err))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, summary)
}

// invariantStatus reports the latest drift-score sample.
func (h *handlers) invariantStatus(w http.ResponseWriter, r *http.Request) {
	drift, err := h.app.Store.Invariants().LatestDriftScore(r.Context())
	if err != nil {
		writeServiceErr(w, r, errors.DatabaseError("load latest drift score", err))
		return
	}
	if drift == nil {
		httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{"score": nil})
		return
	}
	httputil.WriteJSON(w, http.StatusOK, drift)
}

// cronStatus reports run counts, last-run times, and last errors for
// every registered scheduled job.
func (h *handlers) cronStatus(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, h.app.Scheduler.Status())
}

// metricsJSON serves the same registry snapshot as JSON, for dashboards
// that prefer not to parse Prometheus text.
func (h *handlers) metricsJSON(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, h.app.Metrics.Snapshot())
}

type safeModeRequest struct {
	Reason string `json:"reason"`
}

// enableSafeMode manually engages safe mode, rejecting further mutating
// requests until cleared.
func (h *handlers) enableSafeMode(w http.ResponseWriter, r *http.Request) {
	var req safeModeRequest
	if !httputil.DecodeJSONOptional(w, r, &req) {
		return
	}
	if req.Reason == "" {
		req.Reason = "manually engaged via API"
	}
	userID := httputil.GetUserID(r)
	if userID == "" {
		userID = "unknown"
	}
	if err := h.app.SafeMode.Enable(r.Context(), req.Reason, userID); err != nil {
		writeServiceErr(w, r, errors.DatabaseError("enable safe mode", err))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "safe_mode_enabled"})
}

type safeModeDisableRequest struct {
	OverrideToken string `json:"overrideToken"`
}

// disableSafeMode clears safe mode, requiring the current rotation
// token so a stale client can't accidentally reopen traffic.
func (h *handlers) disableSafeMode(w http.ResponseWriter, r *http.Request) {
	var req safeModeDisableRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	cleared, err := h.app.SafeMode.Disable(r.Context(), req.OverrideToken)
	if err != nil {
		writeServiceErr(w, r, errors.DatabaseError("disable safe mode", err))
		return
	}
	if !cleared {
		writeServiceErr(w, r, errors.Forbidden("override token mismatch or safe mode not engaged"))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "safe_mode_disabled"})
}

// generateExecutiveReport assembles and persists the daily digest:
// current health score and grade, open incidents by priority, and the
// latest drift score. Deployment gate outcomes are not included.
func (h *handlers) generateExecutiveReport(w http.ResponseWriter, r *http.Request) {
	rep, err := h.app.GenerateExecutiveReport(r.Context())
	if err != nil {
		writeServiceErr(w, r, errors.DatabaseError("generate executive report", err))
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, rep)
}

func writeServiceErr(w http.ResponseWriter, r *http.Request, serviceErr *errors.ServiceError) {
	httputil.WriteErrorResponse(w, r, serviceErr.HTTPStatus, string(serviceErr.Code), serviceErr.Message, serviceErr.Details)
}
