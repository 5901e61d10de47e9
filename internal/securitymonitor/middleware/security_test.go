package middleware

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aegis/internal/securitymonitor/models"
)

type fakeAnalyzer struct {
	events []models.SecurityEvent
	err    error
	facts  models.RequestFacts
}

func (f *fakeAnalyzer) AnalyzeRequest(_ context.Context, facts models.RequestFacts) ([]models.SecurityEvent, error) {
	f.facts = facts
	return f.events, f.err
}

func screen(t *testing.T, analyzer *fakeAnalyzer, r *http.Request) *httptest.ResponseRecorder {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	rec := httptest.NewRecorder()
	New(analyzer, logger).Screen(next).ServeHTTP(rec, r)
	return rec
}

func TestScreen(t *testing.T) {
	t.Run("clean requests pass through", func(t *testing.T) {
		analyzer := &fakeAnalyzer{}
		rec := screen(t, analyzer, httptest.NewRequest(http.MethodGet, "/auth/check?mode=basic", nil))

		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.Equal(t, "/auth/check", analyzer.facts.Path)
		assert.Equal(t, "mode=basic", analyzer.facts.Query)
	})

	t.Run("blocking findings reject with 403", func(t *testing.T) {
		analyzer := &fakeAnalyzer{events: []models.SecurityEvent{
			{Type: models.EventMaliciousUserAgent, Action: models.ActionBlocked},
		}}
		rec := screen(t, analyzer, httptest.NewRequest(http.MethodGet, "/auth/check", nil))

		require.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("logged findings do not reject", func(t *testing.T) {
		analyzer := &fakeAnalyzer{events: []models.SecurityEvent{
			{Type: models.EventSpoofedHeaders, Action: models.ActionLogged},
		}}
		rec := screen(t, analyzer, httptest.NewRequest(http.MethodGet, "/auth/check", nil))

		assert.Equal(t, http.StatusNoContent, rec.Code)
	})

	t.Run("analyzer errors fail open", func(t *testing.T) {
		analyzer := &fakeAnalyzer{err: errors.New("store unavailable")}
		rec := screen(t, analyzer, httptest.NewRequest(http.MethodGet, "/auth/check", nil))

		assert.Equal(t, http.StatusNoContent, rec.Code)
	})
}
