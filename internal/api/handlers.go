package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/maniltns/AEGIS/internal/auth"
	"github.com/maniltns/AEGIS/internal/feedback"
	"github.com/maniltns/AEGIS/internal/governance"
	"github.com/maniltns/AEGIS/internal/incident"
	"github.com/maniltns/AEGIS/internal/pipeline"
	"github.com/maniltns/AEGIS/internal/storage"
)

// ===== Health & status =====

func (s *Server) handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		redisStatus := "connected"
		if !storage.Healthy(r.Context(), s.rdb) {
			redisStatus = "disconnected"
		}
		ragStatus := "connected"
		if !s.rag.Healthy(r.Context()) {
			ragStatus = "disconnected"
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"status":    "healthy",
			"service":   "aegis-api",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
			"components": map[string]string{
				"redis": redisStatus,
				"rag":   ragStatus,
			},
		})
	}
}

func (s *Server) handleStatus() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		gov, err := s.gov.Snapshot(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, "governance read failed")
			return
		}
		depths, err := s.queue.Depths(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, "queue read failed")
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"operational":        gov.Enabled,
			"mode":               gov.Mode,
			"kill_switch_active": !gov.Enabled,
			"stats": map[string]int64{
				"processed_today": s.audit.ProcessedToday(r.Context()),
				"blocked_today":   s.audit.BlockedToday(r.Context()),
			},
			"queue":     depths,
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// ===== Ingress =====

func (s *Server) handleWebhookIncident() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var inc incident.Incident
		if err := json.NewDecoder(r.Body).Decode(&inc); err != nil {
			s.metrics.IngressRejected.WithLabelValues("invalid").Inc()
			writeError(w, http.StatusBadRequest, "invalid JSON payload")
			return
		}
		s.acceptIncident(w, r, inc)
	}
}

// snowWebhook is the vendor business-rule shape: same fields, with the
// record optionally nested and display values for reference fields.
type snowWebhook struct {
	Record *incident.Incident `json:"record"`
	incident.Incident
}

func (s *Server) handleWebhookServiceNow() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var payload snowWebhook
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			s.metrics.IngressRejected.WithLabelValues("invalid").Inc()
			writeError(w, http.StatusBadRequest, "invalid JSON payload")
			return
		}
		inc := payload.Incident
		if payload.Record != nil {
			inc = *payload.Record
		}
		s.acceptIncident(w, r, inc)
	}
}

// acceptIncident is the shared ingress path: validate, governance gate,
// scrub, enqueue, acknowledge. Nothing is enqueued while disabled.
func (s *Server) acceptIncident(w http.ResponseWriter, r *http.Request, inc incident.Incident) {
	if err := s.validate.Struct(inc); err != nil {
		s.metrics.IngressRejected.WithLabelValues("invalid").Inc()
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid incident: %v", err))
		return
	}

	gov, err := s.gov.Snapshot(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "governance read failed")
		return
	}
	if !gov.Enabled {
		s.log.Warn("kill switch active, rejecting", "incident", inc.Number)
		s.metrics.IngressRejected.WithLabelValues("disabled").Inc()
		writeError(w, http.StatusServiceUnavailable, "kill switch is active, all processing halted")
		return
	}

	job := incident.TriageJob{
		Incident:                 inc,
		TriageID:                 newTriageID(inc.Number),
		ReceivedAt:               time.Now().UTC(),
		ScrubbedShortDescription: s.redactor.Scrub(inc.ShortDescription),
		ScrubbedDescription:      s.redactor.Scrub(inc.Description),
	}

	position, err := s.queue.Enqueue(r.Context(), job)
	if err != nil {
		s.log.Error("enqueue failed", "incident", inc.Number, "error", err)
		writeError(w, http.StatusInternalServerError, "enqueue failed")
		return
	}

	s.metrics.IngressAccepted.Inc()
	s.log.Info("incident queued", "incident", inc.Number, "triage_id", job.TriageID, "position", position)

	writeJSON(w, http.StatusOK, map[string]any{
		"status":          "queued",
		"incident_number": inc.Number,
		"triage_id":       job.TriageID,
		"queue_position":  position,
		"message":         "Incident queued for AI triage",
	})
}

// newTriageID builds TRG{yyyymmddHHMMSS}{last 4 of the incident number}.
func newTriageID(number string) string {
	suffix := number
	if len(suffix) > 4 {
		suffix = suffix[len(suffix)-4:]
	}
	return "TRG" + time.Now().UTC().Format("20060102150405") + suffix
}

func (s *Server) handleGetTriage() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		triageID := mux.Vars(r)["triage_id"]
		state, err := s.results.Get(r.Context(), triageID)
		if errors.Is(err, pipeline.ErrResultNotFound) {
			writeError(w, http.StatusNotFound, "triage "+triageID+" not found or still processing")
			return
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, "result read failed")
			return
		}
		writeJSON(w, http.StatusOK, state)
	}
}

// ===== Governance =====

func (s *Server) handleKillSwitch() http.HandlerFunc {
	type payload struct {
		Action   string `json:"action"`
		Reason   string `json:"reason"`
		Operator string `json:"operator"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		var p payload
		if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON payload")
			return
		}

		var enabled bool
		var message string
		switch p.Action {
		case "disable":
			enabled = false
			message = "Kill switch ACTIVATED. All AI processing halted."
		case "enable":
			enabled = true
			message = "Kill switch DEACTIVATED. AI processing resumed."
		default:
			writeError(w, http.StatusBadRequest, "invalid action, use 'enable' or 'disable'")
			return
		}

		s.log.Warn("kill switch change", "action", p.Action, "operator", p.Operator, "reason", p.Reason)
		if err := s.gov.SetEnabled(r.Context(), enabled, p.Operator, p.Reason); err != nil {
			writeError(w, http.StatusInternalServerError, "killswitch update failed")
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"success":            true,
			"kill_switch_active": !enabled,
			"message":            message,
		})
	}
}

func (s *Server) handleSetMode() http.HandlerFunc {
	type payload struct {
		Mode   string `json:"mode"`
		Reason string `json:"reason"`
	}
	descriptions := map[string]string{
		governance.ModeAuto:    "Full automation - AI acts without human review",
		governance.ModeAssist:  "AI assists - Human review required for actions",
		governance.ModeMonitor: "Monitor only - AI observes but takes no actions",
	}
	return func(w http.ResponseWriter, r *http.Request) {
		var p payload
		if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON payload")
			return
		}
		if err := s.gov.SetMode(r.Context(), p.Mode); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"success":     true,
			"mode":        p.Mode,
			"description": descriptions[p.Mode],
		})
	}
}

func (s *Server) handleGetThresholds() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		gov, err := s.gov.Snapshot(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, "governance read failed")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"thresholds": map[string]int{
				governance.ThresholdAssign:     gov.ThresholdAssign,
				governance.ThresholdCategorize: gov.ThresholdCategorize,
				governance.ThresholdRemediate:  gov.ThresholdRemediate,
			},
		})
	}
}

func (s *Server) handleSetThresholds() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var p map[string]int
		if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON payload")
			return
		}
		for action, value := range p {
			if err := s.gov.SetThreshold(r.Context(), action, value); err != nil {
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true})
	}
}

func (s *Server) handleDecision(decision string) http.HandlerFunc {
	type payload struct {
		Approver string `json:"approver"`
		Reason   string `json:"reason"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		incidentNumber := mux.Vars(r)["incident"]

		var p payload
		if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON payload")
			return
		}

		s.log.Info("action "+decision, "incident", incidentNumber, "approver", p.Approver)
		err := s.gov.RecordApproval(r.Context(), governance.Approval{
			Incident: incidentNumber,
			Action:   decision,
			Approver: p.Approver,
			Reason:   p.Reason,
		})
		if err != nil {
			writeError(w, http.StatusInternalServerError, "approval record failed")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"success":  true,
			"status":   decision,
			"incident": incidentNumber,
		})
	}
}

// ===== Audit =====

func (s *Server) handleIncidentAudit() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		incidentNumber := mux.Vars(r)["incident"]
		entries, err := s.audit.IncidentTrail(r.Context(), incidentNumber)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "audit read failed")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"incident":      incidentNumber,
			"audit_entries": entries,
			"count":         len(entries),
		})
	}
}

func (s *Server) handleKillSwitchAudit() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		entries, err := s.gov.KillSwitchAudit(r.Context(), 50)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "audit read failed")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"audit_entries": entries,
			"count":         len(entries),
		})
	}
}

// ===== Feedback =====

func (s *Server) handleFeedbackStats() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := s.feedback.GetStats(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, "stats read failed")
			return
		}
		writeJSON(w, http.StatusOK, stats)
	}
}

func (s *Server) handleSubmitFeedback() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		triageID := mux.Vars(r)["triage_id"]

		rec := feedback.Record{TriageID: triageID}
		if r.Method == http.MethodGet {
			rec.Thumbs = r.URL.Query().Get("thumbs")
		} else {
			if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
				writeError(w, http.StatusBadRequest, "invalid JSON payload")
				return
			}
			rec.TriageID = triageID
		}

		// enrich from the result when it is still around
		result, err := s.results.Get(r.Context(), triageID)
		if err != nil && !errors.Is(err, pipeline.ErrResultNotFound) {
			writeError(w, http.StatusInternalServerError, "result read failed")
			return
		}

		if err := s.feedback.Submit(r.Context(), rec, result); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"success":   true,
			"triage_id": triageID,
			"thumbs":    rec.Thumbs,
		})
	}
}

// ===== Auth =====

func (s *Server) handleLogin() http.HandlerFunc {
	type payload struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		var p payload
		if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON payload")
			return
		}

		token, err := s.auth.Login(r.Context(), p.Username, p.Password)
		if errors.Is(err, auth.ErrInvalidCredentials) {
			writeError(w, http.StatusUnauthorized, "invalid credentials")
			return
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, "login failed")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"token": token})
	}
}
