package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/sensai-hub/active-learning-core/config"
	"github.com/sensai-hub/active-learning-core/internal/application/command"
	"github.com/sensai-hub/active-learning-core/internal/application/query"
	"github.com/sensai-hub/active-learning-core/internal/domain/leaderboard"
	"github.com/sensai-hub/active-learning-core/internal/domain/quest"
	"github.com/sensai-hub/active-learning-core/internal/domain/session"
	"github.com/sensai-hub/active-learning-core/internal/domain/shared"
	"github.com/sensai-hub/active-learning-core/internal/domain/token"
)

// ══════════════════════════════════════════════════════════════════════════════
// SESSION TRACKING
// ══════════════════════════════════════════════════════════════════════════════

type openSessionRequest struct {
	UserID string    `json:"user_id"`
	TaskID string    `json:"task_id"`
	At     time.Time `json:"at"`
}

type openSessionResponse struct {
	SessionID string    `json:"session_id"`
	Reused    bool      `json:"reused"`
	StartedAt time.Time `json:"started_at"`
}

func (s *Server) handleOpenSession(w http.ResponseWriter, r *http.Request) {
	var req openSessionRequest
	if !s.decodeBody(w, r, &req) {
		return
	}

	result, err := s.deps.SessionTracker.Open(r.Context(), command.OpenSessionCommand{
		UserID: session.UserID(req.UserID),
		TaskID: session.TaskID(req.TaskID),
		At:     req.At,
	})
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	status := http.StatusCreated
	if result.Reused {
		status = http.StatusOK
	}
	writeJSON(w, status, openSessionResponse{
		SessionID: result.SessionID.String(),
		Reused:    result.Reused,
		StartedAt: result.StartedAt,
	})
}

type recordInteractionRequest struct {
	UserID        string    `json:"user_id"`
	TaskID        string    `json:"task_id"`
	Kind          string    `json:"kind"`
	ContentLength int       `json:"content_length"`
	At            time.Time `json:"at"`
}

type recordInteractionResponse struct {
	SessionID       string  `json:"session_id"`
	Opened          bool    `json:"opened"`
	Idle            bool    `json:"idle"`
	CreditedActive  float64 `json:"credited_active_minutes"`
	NewlySuspicious bool    `json:"newly_suspicious"`
	ActiveMinutes   float64 `json:"active_minutes"`
	TotalMinutes    float64 `json:"total_minutes"`
}

func (s *Server) handleRecordInteraction(w http.ResponseWriter, r *http.Request) {
	var req recordInteractionRequest
	if !s.decodeBody(w, r, &req) {
		return
	}

	result, err := s.deps.SessionTracker.Record(r.Context(), command.RecordInteractionCommand{
		Event: session.InteractionEvent{
			UserID:        session.UserID(req.UserID),
			TaskID:        session.TaskID(req.TaskID),
			At:            req.At,
			Kind:          session.EventKind(req.Kind),
			ContentLength: req.ContentLength,
		},
	})
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, recordInteractionResponse{
		SessionID:       result.SessionID.String(),
		Opened:          result.Opened,
		Idle:            result.Idle,
		CreditedActive:  result.CreditedActive,
		NewlySuspicious: result.NewlySuspicious,
		ActiveMinutes:   result.ActiveMinutes,
		TotalMinutes:    result.TotalMinutes,
	})
}

type closeSessionRequest struct {
	UserID string    `json:"user_id"`
	TaskID string    `json:"task_id"`
	At     time.Time `json:"at"`
}

type closeSessionResponse struct {
	SessionID     string             `json:"session_id"`
	AlreadyClosed bool               `json:"already_closed"`
	Delta         shared.MetricDelta `json:"delta"`
}

func (s *Server) handleCloseSession(w http.ResponseWriter, r *http.Request) {
	var req closeSessionRequest
	if !s.decodeBody(w, r, &req) {
		return
	}

	result, err := s.deps.SessionTracker.Close(r.Context(), command.CloseSessionCommand{
		UserID: session.UserID(req.UserID),
		TaskID: session.TaskID(req.TaskID),
		At:     req.At,
	})
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, closeSessionResponse{
		SessionID:     result.SessionID.String(),
		AlreadyClosed: result.AlreadyClosed,
		Delta:         result.Delta,
	})
}

// ══════════════════════════════════════════════════════════════════════════════
// QUESTS
// ══════════════════════════════════════════════════════════════════════════════

type createQuestRequest struct {
	ID           string              `json:"id,omitempty"`
	Name         string              `json:"name"`
	Description  string              `json:"description,omitempty"`
	WindowStart  time.Time           `json:"window_start"`
	WindowEnd    time.Time           `json:"window_end"`
	CohortID     string              `json:"cohort_id,omitempty"`
	Requirements []quest.Requirement `json:"requirements,omitempty"`
	Reward       quest.Reward        `json:"reward"`
}

func (s *Server) handleCreateQuest(w http.ResponseWriter, r *http.Request) {
	var req createQuestRequest
	if !s.decodeBody(w, r, &req) {
		return
	}

	result, err := s.deps.CreateQuest.Handle(r.Context(), command.CreateQuestCommand{
		ID:           req.ID,
		Name:         req.Name,
		Description:  req.Description,
		WindowStart:  req.WindowStart,
		WindowEnd:    req.WindowEnd,
		CohortID:     req.CohortID,
		Requirements: req.Requirements,
		Reward:       req.Reward,
	})
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, result.Quest)
}

func (s *Server) handleGetQuestProgress(w http.ResponseWriter, r *http.Request) {
	q := query.GetQuestProgressQuery{
		UserID: chi.URLParam(r, "id"),
	}
	if at := r.URL.Query().Get("at"); at != "" {
		t, err := time.Parse(time.RFC3339, at)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid_request", "at must be RFC3339")
			return
		}
		q.At = t
	}

	result, err := s.deps.GetQuestProgress.Handle(r.Context(), q)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// ══════════════════════════════════════════════════════════════════════════════
// GRACE TOKENS
// ══════════════════════════════════════════════════════════════════════════════

type grantTokenRequest struct {
	UserID  string `json:"user_id"`
	Type    string `json:"type"`
	Reason  string `json:"reason"`
	Count   int    `json:"count,omitempty"`
	QuestID string `json:"quest_id,omitempty"`
}

type grantTokenResponse struct {
	Granted []*token.GraceToken `json:"granted"`
	Dropped int                 `json:"dropped"`
}

func (s *Server) handleGrantToken(w http.ResponseWriter, r *http.Request) {
	var req grantTokenRequest
	if !s.decodeBody(w, r, &req) {
		return
	}

	result, err := s.deps.GrantToken.Handle(r.Context(), command.GrantTokenCommand{
		UserID:  req.UserID,
		Type:    token.Type(req.Type),
		Reason:  req.Reason,
		Count:   req.Count,
		QuestID: req.QuestID,
	})
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, grantTokenResponse{
		Granted: result.Granted,
		Dropped: result.Dropped,
	})
}

type applyGraceRequest struct {
	UserID  string `json:"user_id"`
	QuestID string `json:"quest_id"`
	Reason  string `json:"reason"`
}

type applyGraceResponse struct {
	Capability token.Capability  `json:"capability"`
	Completed  bool              `json:"completed"`
	Progress   *quest.Completion `json:"progress,omitempty"`
}

func (s *Server) handleApplyGrace(w http.ResponseWriter, r *http.Request) {
	var req applyGraceRequest
	if !s.decodeBody(w, r, &req) {
		return
	}

	if s.deps.Features != nil && !s.deps.Features.IsEnabled(config.FeatureSelfServeGrace, req.UserID) {
		writeJSONError(w, http.StatusForbidden, "feature_disabled", "Grace token redemption is not available")
		return
	}

	result, err := s.deps.ApplyGrace.Handle(r.Context(), command.ApplyGraceCommand{
		UserID:  req.UserID,
		TokenID: token.TokenID(chi.URLParam(r, "id")),
		QuestID: quest.QuestID(req.QuestID),
		Reason:  req.Reason,
	})
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, applyGraceResponse{
		Capability: result.Capability,
		Completed:  result.Completed,
		Progress:   result.Progress,
	})
}

// ══════════════════════════════════════════════════════════════════════════════
// READ SIDE
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) handleGetLeaderboard(w http.ResponseWriter, r *http.Request) {
	q := query.GetLeaderboardQuery{
		Scope:   leaderboard.ScopeType(getQueryParam(r, "scope", string(leaderboard.ScopeGlobal))),
		ScopeID: r.URL.Query().Get("scope_id"),
		Window:  leaderboard.Window(getQueryParam(r, "window", string(leaderboard.WindowWeekly))),
		Limit:   getQueryParamInt(r, "limit", 0),
		Offset:  getQueryParamInt(r, "offset", 0),
	}

	result, err := s.deps.GetLeaderboard.Handle(r.Context(), q)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleGetSessionMetrics(w http.ResponseWriter, r *http.Request) {
	q := query.GetSessionMetricsQuery{
		UserID:      session.UserID(chi.URLParam(r, "id")),
		RecentLimit: getQueryParamInt(r, "recent_limit", 0),
	}

	var err error
	if from := r.URL.Query().Get("window_start"); from != "" {
		if q.WindowStart, err = time.Parse(time.RFC3339, from); err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid_request", "window_start must be RFC3339")
			return
		}
	}
	if to := r.URL.Query().Get("window_end"); to != "" {
		if q.WindowEnd, err = time.Parse(time.RFC3339, to); err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid_request", "window_end must be RFC3339")
			return
		}
	}

	result, err := s.deps.GetSessionMetrics.Handle(r.Context(), q)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	result, err := s.deps.GetProfile.Handle(r.Context(), query.GetProfileQuery{
		UserID: chi.URLParam(r, "id"),
	})
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// ══════════════════════════════════════════════════════════════════════════════
// HEALTH & ROOT
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.deps.HealthChecker == nil {
		writeJSON(w, http.StatusOK, map[string]any{"healthy": true})
		return
	}

	status := s.deps.HealthChecker.Check(r.Context())
	code := http.StatusOK
	if !status.Healthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, status)
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.deps.HealthChecker != nil && !s.deps.HealthChecker.Check(r.Context()).Ready {
		writeJSONError(w, http.StatusServiceUnavailable, "not_ready", "Service is not ready")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ready": true})
}

func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"alive": true})
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		writeJSONError(w, http.StatusNotFound, "not_found", "Unknown endpoint")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"service": "active-learning-core",
		"uptime":  s.Uptime().Round(time.Second).String(),
	})
}

// ══════════════════════════════════════════════════════════════════════════════
// REQUEST/ERROR PLUMBING
// ══════════════════════════════════════════════════════════════════════════════

// decodeBody reads a bounded JSON body into dst, answering 400 on failure.
func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	body := io.LimitReader(r.Body, s.config.MaxBodyBytes)
	if err := json.NewDecoder(body).Decode(dst); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid_json", "Request body is not valid JSON")
		return false
	}
	return true
}

// writeDomainError maps domain errors onto HTTP statuses. Unmapped errors are
// logged and surfaced as opaque 500s.
func (s *Server) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, shared.ErrRecomputeInFlight):
		w.Header().Set("Retry-After", "2")
		writeJSONError(w, http.StatusServiceUnavailable, "recompute_in_flight", "Leaderboard is being recomputed, retry shortly")
	case shared.IsNotFound(err):
		writeJSONError(w, http.StatusNotFound, "not_found", err.Error())
	case shared.IsValidation(err):
		writeJSONError(w, http.StatusBadRequest, "invalid_request", err.Error())
	case shared.IsConflict(err):
		writeJSONError(w, http.StatusConflict, "conflict", err.Error())
	case shared.IsInvalidState(err):
		writeJSONError(w, http.StatusConflict, "invalid_state", err.Error())
	case shared.IsLimitExceeded(err):
		writeJSONError(w, http.StatusConflict, "limit_exceeded", err.Error())
	case errors.Is(err, shared.ErrServiceUnavailable), errors.Is(err, shared.ErrExternalService), errors.Is(err, shared.ErrTimeout):
		writeJSONError(w, http.StatusServiceUnavailable, "service_unavailable", "A dependency is unavailable, retry later")
	default:
		s.logger.Error("unhandled error",
			"error", err,
			"path", r.URL.Path,
		)
		writeJSONError(w, http.StatusInternalServerError, "internal_server_error", "An unexpected error occurred")
	}
}

func getQueryParam(r *http.Request, key, defaultValue string) string {
	if v := r.URL.Query().Get(key); v != "" {
		return v
	}
	return defaultValue
}

func getQueryParamInt(r *http.Request, key string, defaultValue int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return defaultValue
	}
	return n
}
