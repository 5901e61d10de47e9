package httptransport

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"aegis/internal/bruteforce"
	"aegis/internal/bruteforce/anomaly"
	bfmodels "aegis/internal/bruteforce/models"
	rlmodels "aegis/internal/ratelimit/models"
	"aegis/internal/ratelimit/service/requestlimit"
	"aegis/internal/resilience/monitor"
	"aegis/internal/securitymonitor"
	smmodels "aegis/internal/securitymonitor/models"
	"aegis/internal/sentinel"
	"aegis/internal/webhook"
	domainerrors "aegis/pkg/domain-errors"
	"aegis/pkg/platform/httputil"
	"aegis/pkg/requestcontext"
	"aegis/pkg/requesttime"
)

// maxBodyBytes bounds request bodies on the JSON surface.
const maxBodyBytes = 1 << 20

// AllowlistAdmin is the operator surface over the allowlist store.
type AllowlistAdmin interface {
	Add(ctx context.Context, identifier, reason string) error
	Remove(ctx context.Context, identifier string) error
	List(ctx context.Context) (map[string]string, error)
}

// Handler is the thin HTTP layer. It delegates to domain services without
// embedding business logic so transport concerns remain isolated.
type Handler struct {
	guard      *bruteforce.Guard
	detector   *anomaly.Detector
	security   *securitymonitor.Monitor
	resilience *monitor.Monitor
	limiter    *requestlimit.Service
	allowlist  AllowlistAdmin
	processor  *webhook.Processor
	logger     *slog.Logger
}

func NewHandler(
	guard *bruteforce.Guard,
	detector *anomaly.Detector,
	security *securitymonitor.Monitor,
	resilience *monitor.Monitor,
	limiter *requestlimit.Service,
	allowlist AllowlistAdmin,
	processor *webhook.Processor,
	logger *slog.Logger,
) *Handler {
	return &Handler{
		guard:      guard,
		detector:   detector,
		security:   security,
		resilience: resilience,
		limiter:    limiter,
		allowlist:  allowlist,
		processor:  processor,
		logger:     logger,
	}
}

type authCheckRequest struct {
	Identifier string `json:"identifier"`
}

type authCheckResponse struct {
	Allowed     bool       `json:"allowed"`
	Locked      bool       `json:"locked"`
	LockedUntil *time.Time `json:"locked_until,omitempty"`
	Remaining   int        `json:"remaining"`
	RetryAfter  int        `json:"retry_after,omitempty"`
	Severity    string     `json:"severity"`
}

// handleAuthCheck answers whether a login attempt for the identifier should
// proceed. A locked identifier gets 429 with a Retry-After header.
func (h *Handler) handleAuthCheck(w http.ResponseWriter, r *http.Request) {
	var req authCheckRequest
	if !h.decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Identifier) == "" {
		httputil.WriteError(w, domainerrors.New(domainerrors.CodeInvalidInput, "identifier is required"))
		return
	}

	ctx := r.Context()
	verdict, err := h.guard.CheckLoginAttempt(ctx, req.Identifier, requestcontext.ClientIP(ctx))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	resp := authCheckResponse{
		Allowed:     verdict.Allowed,
		Locked:      verdict.Locked,
		LockedUntil: verdict.LockedUntil,
		Remaining:   verdict.Remaining,
		RetryAfter:  verdict.RetryAfter,
		Severity:    string(verdict.Severity),
	}

	if !verdict.Allowed {
		w.Header().Set("Retry-After", strconv.Itoa(verdict.RetryAfter))
		httputil.WriteJSON(w, http.StatusTooManyRequests, resp)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

type authAttemptRequest struct {
	Identifier string `json:"identifier"`
	Success    bool   `json:"success"`
	UserID     string `json:"user_id,omitempty"`
}

type authAttemptResponse struct {
	Recorded bool               `json:"recorded"`
	Anomaly  *anomalyAssessment `json:"anomaly,omitempty"`
}

type anomalyAssessment struct {
	Unusual            bool     `json:"unusual"`
	Patterns           []string `json:"patterns,omitempty"`
	Severity           string   `json:"severity"`
	RecommendedActions []string `json:"recommended_actions,omitempty"`
}

// handleAuthAttempt records an observed login outcome. Failed attempts are
// additionally run through the anomaly detector, and unusual ones become
// security events.
func (h *Handler) handleAuthAttempt(w http.ResponseWriter, r *http.Request) {
	var req authAttemptRequest
	if !h.decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Identifier) == "" {
		httputil.WriteError(w, domainerrors.New(domainerrors.CodeInvalidInput, "identifier is required"))
		return
	}

	ctx := r.Context()
	// The timestamp is set here, not left to RecordLoginAttempt's fill-in,
	// because the anomaly detector reads it from this same value.
	attempt := bfmodels.LoginAttempt{
		ID:         uuid.New(),
		Identifier: req.Identifier,
		IPAddress:  requestcontext.ClientIP(ctx),
		UserAgent:  requestcontext.UserAgent(ctx),
		Success:    req.Success,
		UserID:     req.UserID,
		Timestamp:  requesttime.Now(ctx),
	}

	history, err := h.guard.AttemptHistory(ctx, req.Identifier)
	if err != nil {
		// History is only needed for anomaly detection; recording proceeds.
		history = nil
	}

	if err := h.guard.RecordLoginAttempt(ctx, attempt); err != nil {
		httputil.WriteError(w, err)
		return
	}

	resp := authAttemptResponse{Recorded: true}
	if assessment := h.detector.Analyze(history, attempt); assessment.Unusual {
		patterns := make([]string, len(assessment.Patterns))
		for i, p := range assessment.Patterns {
			patterns[i] = string(p)
		}
		resp.Anomaly = &anomalyAssessment{
			Unusual:            true,
			Patterns:           patterns,
			Severity:           string(assessment.Severity),
			RecommendedActions: assessment.RecommendedActions,
		}
		_, _ = h.security.LogEvent(ctx, smmodels.EventAnomalousLogin, assessment.Severity,
			smmodels.EventContext{
				IP:        attempt.IPAddress,
				UserID:    req.UserID,
				Path:      r.URL.Path,
				RequestID: requestcontext.RequestID(ctx),
			},
			"login attempt deviates from account baseline",
			smmodels.EventDetails{Patterns: patterns},
		)
	}

	httputil.WriteJSON(w, http.StatusOK, resp)
}

// handleAuthClear deletes the identifier's failure history, typically called
// after a successful login.
func (h *Handler) handleAuthClear(w http.ResponseWriter, r *http.Request) {
	identifier := chi.URLParam(r, "identifier")
	if err := h.guard.ClearFailedAttempts(r.Context(), identifier); err != nil {
		httputil.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type lockRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) handleAccountLock(w http.ResponseWriter, r *http.Request) {
	identifier := chi.URLParam(r, "identifier")
	var req lockRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.guard.LockAccount(r.Context(), identifier, req.Reason); err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "locked"})
}

func (h *Handler) handleAccountUnlock(w http.ResponseWriter, r *http.Request) {
	identifier := chi.URLParam(r, "identifier")
	if err := h.guard.UnlockAccount(r.Context(), identifier); err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "unlocked"})
}

// handleSecurityMetrics aggregates the retained security events. The window
// defaults to 60 minutes; override with ?window=<minutes>.
func (h *Handler) handleSecurityMetrics(w http.ResponseWriter, r *http.Request) {
	window := 60
	if raw := r.URL.Query().Get("window"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			httputil.WriteError(w, domainerrors.New(domainerrors.CodeInvalidInput, "window must be a positive integer of minutes"))
			return
		}
		window = parsed
	}

	summary, err := h.security.SecurityMetrics(r.Context(), window)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, summary)
}

// handleAlerts lists active alerts, or every alert with ?all=true.
func (h *Handler) handleAlerts(w http.ResponseWriter, r *http.Request) {
	var alerts []monitor.Alert
	if r.URL.Query().Get("all") == "true" {
		alerts = h.resilience.AllAlerts()
	} else {
		alerts = h.resilience.ActiveAlerts()
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"alerts": alerts,
		"count":  len(alerts),
	})
}

// handleAlertResolve marks an alert resolved. The first call reports
// resolved=true; repeats report resolved=false without error.
func (h *Handler) handleAlertResolve(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, domainerrors.New(domainerrors.CodeInvalidInput, "alert id must be a UUID"))
		return
	}
	resolved := h.resilience.ResolveAlert(r.Context(), id)
	httputil.WriteJSON(w, http.StatusOK, map[string]bool{"resolved": resolved})
}

func (h *Handler) handleAllowlistList(w http.ResponseWriter, r *http.Request) {
	entries, err := h.allowlist.List(r.Context())
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

type allowlistAddRequest struct {
	Identifier string `json:"identifier"`
	Reason     string `json:"reason"`
}

func (h *Handler) handleAllowlistAdd(w http.ResponseWriter, r *http.Request) {
	var req allowlistAddRequest
	if !h.decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Identifier) == "" {
		httputil.WriteError(w, domainerrors.New(domainerrors.CodeInvalidInput, "identifier is required"))
		return
	}
	if err := h.allowlist.Add(r.Context(), req.Identifier, req.Reason); err != nil {
		httputil.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

func (h *Handler) handleAllowlistRemove(w http.ResponseWriter, r *http.Request) {
	if err := h.allowlist.Remove(r.Context(), chi.URLParam(r, "identifier")); err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			httputil.WriteError(w, domainerrors.New(domainerrors.CodeNotFound, "identifier is not allowlisted"))
			return
		}
		httputil.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type rateLimitResetRequest struct {
	Identifier string `json:"identifier"`
	Class      string `json:"class"`
}

// handleRateLimitReset clears the window state for an identifier, lifting any
// active block. Operator surface.
func (h *Handler) handleRateLimitReset(w http.ResponseWriter, r *http.Request) {
	var req rateLimitResetRequest
	if !h.decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Identifier) == "" {
		httputil.WriteError(w, domainerrors.New(domainerrors.CodeInvalidInput, "identifier is required"))
		return
	}
	if err := h.limiter.Reset(r.Context(), req.Identifier, rlmodels.EndpointClass(req.Class)); err != nil {
		httputil.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleWebhook accepts a delivery for the named source and processes it
// through the retry pipeline inline. 202 on success keeps the contract open
// for a future queued implementation.
func (h *Handler) handleWebhook(w http.ResponseWriter, r *http.Request) {
	source := chi.URLParam(r, "source")

	payload, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		httputil.WriteError(w, domainerrors.New(domainerrors.CodeBadRequest, "failed to read payload"))
		return
	}

	delivery := webhook.Delivery{
		ID:        uuid.New(),
		Source:    source,
		Signature: r.Header.Get("X-Webhook-Signature"),
		Payload:   payload,
	}

	if err := h.processor.Process(r.Context(), delivery); err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			httputil.WriteError(w, domainerrors.New(domainerrors.CodeNotFound, "unknown webhook source"))
			return
		}
		httputil.WriteError(w, domainerrors.Wrap(err, domainerrors.CodeUnavailable, "webhook processing failed"))
		return
	}

	httputil.WriteJSON(w, http.StatusAccepted, map[string]string{
		"delivery_id": delivery.ID.String(),
		"status":      "processed",
	})
}

// decode reads a JSON body into dst, answering 400 on malformed input.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	body := io.LimitReader(r.Body, maxBodyBytes)
	if err := json.NewDecoder(body).Decode(dst); err != nil && err != io.EOF {
		httputil.WriteError(w, domainerrors.New(domainerrors.CodeBadRequest, "malformed JSON body"))
		return false
	}
	return true
}
