// Package middleware screens inbound requests through the security monitor.
package middleware

import (
	"context"
	"log/slog"
	"net/http"

	"aegis/internal/securitymonitor/models"
	domainerrors "aegis/pkg/domain-errors"
	"aegis/pkg/platform/httputil"
	"aegis/pkg/requestcontext"
)

// Analyzer is the monitor surface the middleware consumes.
type Analyzer interface {
	AnalyzeRequest(ctx context.Context, facts models.RequestFacts) ([]models.SecurityEvent, error)
}

// Middleware runs the request-surface detectors in front of the router.
type Middleware struct {
	analyzer Analyzer
	logger   *slog.Logger
}

func New(analyzer Analyzer, logger *slog.Logger) *Middleware {
	return &Middleware{
		analyzer: analyzer,
		logger:   logger,
	}
}

// Screen analyzes every request. Requests whose findings resolve to a
// blocking action are rejected with 403; monitor errors FAIL OPEN since the
// monitor is advisory, not an availability dependency.
func (m *Middleware) Screen(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		facts := models.RequestFacts{
			Method:    r.Method,
			Path:      r.URL.Path,
			Query:     r.URL.RawQuery,
			UserAgent: requestcontext.UserAgent(ctx),
			Header:    r.Header,
			IP:        requestcontext.ClientIP(ctx),
			UserID:    requestcontext.UserID(ctx),
			RequestID: requestcontext.RequestID(ctx),
		}

		events, err := m.analyzer.AnalyzeRequest(ctx, facts)
		if err != nil {
			if m.logger != nil {
				m.logger.ErrorContext(ctx, "security analysis failed, failing open", "error", err)
			}
			next.ServeHTTP(w, r)
			return
		}

		for _, e := range events {
			if e.Action == models.ActionBlocked || e.Action == models.ActionSessionTerminated {
				httputil.WriteError(w, domainerrors.New(domainerrors.CodePolicyDenied, "request blocked by security policy"))
				return
			}
		}

		next.ServeHTTP(w, r)
	})
}
