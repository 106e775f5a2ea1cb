package http

import (
	"encoding/json"
	"net/http"

	"github.com/loomworks/aide-sync/internal/core/domain"
	"github.com/loomworks/aide-sync/internal/metrics"
)

// Health endpoints

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.db != nil {
		if err := s.db.Ping(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, "database unavailable")
			return
		}
	}
	if s.redis != nil {
		if err := s.redis.Ping(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, "redis unavailable")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"version": s.version})
}

// Webhook endpoint

// handleWebhook accepts provider push notifications. The response is always
// 200: a non-2xx would make the provider back off or kill the channel, and
// the notification carries no payload worth retrying. Rejections are logged
// and counted instead.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	family := r.PathValue("family")

	if err := s.webhooks.Receive(r.Context(), r.Header); err != nil {
		metrics.WebhookNotifications.WithLabelValues("rejected").Inc()
		s.logger.Warn("webhook notification rejected",
			"family", family, "error", err)
	} else {
		metrics.WebhookNotifications.WithLabelValues("accepted").Inc()
	}

	w.WriteHeader(http.StatusOK)
}

// Sync endpoints

func (s *Server) handleGetSyncState(w http.ResponseWriter, r *http.Request) {
	family := domain.ResourceFamily(r.PathValue("family"))
	if !family.Valid() {
		writeError(w, http.StatusBadRequest, "unknown resource family")
		return
	}

	userID := UserIDFromContext(r.Context())
	state, err := s.engine.State(r.Context(), userID, family)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load sync state")
		return
	}

	writeJSON(w, http.StatusOK, state)
}

// TriggerSyncRequest selects the sync mode for a manual run.
type TriggerSyncRequest struct {
	Mode string `json:"mode"`
}

// handleTriggerSync enqueues a sync task for the caller. The run happens in
// the worker; the response only acknowledges the request.
func (s *Server) handleTriggerSync(w http.ResponseWriter, r *http.Request) {
	family := domain.ResourceFamily(r.PathValue("family"))
	if !family.Valid() {
		writeError(w, http.StatusBadRequest, "unknown resource family")
		return
	}

	mode := domain.SyncModeAuto
	if r.Body != nil && r.ContentLength > 0 {
		var req TriggerSyncRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		switch domain.SyncMode(req.Mode) {
		case domain.SyncModeAuto, domain.SyncModeFull, domain.SyncModeIncremental:
			mode = domain.SyncMode(req.Mode)
		case "":
		default:
			writeError(w, http.StatusBadRequest, "unknown sync mode")
			return
		}
	}

	userID := UserIDFromContext(r.Context())
	task := domain.NewSyncTask(userID, family, mode)
	if err := s.taskQueue.Enqueue(r.Context(), task); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to enqueue sync")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{
		"status":  "queued",
		"task_id": task.ID,
	})
}

func (s *Server) handleResetSync(w http.ResponseWriter, r *http.Request) {
	family := domain.ResourceFamily(r.PathValue("family"))
	if !family.Valid() {
		writeError(w, http.StatusBadRequest, "unknown resource family")
		return
	}

	userID := UserIDFromContext(r.Context())
	if err := s.engine.Reset(r.Context(), userID, family); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to reset sync state")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Response helpers

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
