package metadata

import (
	"net/http"
	"net/http/httptest"
	"net/netip"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"aegis/pkg/requestcontext"
)

type captured struct {
	ip        string
	userAgent string
	userID    string
}

func serve(m *Middleware, r *http.Request) captured {
	var got captured
	next := http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		got.ip = requestcontext.ClientIP(ctx)
		got.userAgent = requestcontext.UserAgent(ctx)
		got.userID = requestcontext.UserID(ctx)
	})
	m.Handler(next).ServeHTTP(httptest.NewRecorder(), r)
	return got
}

func trusted() *Middleware {
	return NewMiddleware(&Config{
		TrustedProxies: []netip.Prefix{netip.MustParsePrefix("10.0.0.0/8")},
	})
}

func TestClientIPExtraction(t *testing.T) {
	t.Run("remote addr without forwarding headers", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.RemoteAddr = "203.0.113.7:4431"
		r.Header.Set("User-Agent", "curl/8.0")

		got := serve(NewMiddleware(nil), r)
		assert.Equal(t, "203.0.113.7", got.ip)
		assert.Equal(t, "curl/8.0", got.userAgent)
	})

	t.Run("XFF from a trusted proxy wins", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.RemoteAddr = "10.1.2.3:4431"
		r.Header.Set("X-Forwarded-For", "198.51.100.9, 10.1.2.3")

		got := serve(trusted(), r)
		assert.Equal(t, "198.51.100.9", got.ip)
	})

	t.Run("XFF from an untrusted peer is ignored", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.RemoteAddr = "203.0.113.7:4431"
		r.Header.Set("X-Forwarded-For", "198.51.100.9")

		got := serve(trusted(), r)
		assert.Equal(t, "203.0.113.7", got.ip)
	})
}

func TestUserIDExtraction(t *testing.T) {
	t.Run("forwarded user id from a trusted proxy", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.RemoteAddr = "10.1.2.3:4431"
		r.Header.Set(UserIDHeader, "user-42")

		got := serve(trusted(), r)
		assert.Equal(t, "user-42", got.userID)
	})

	t.Run("untrusted peers cannot assert a user id", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.RemoteAddr = "203.0.113.7:4431"
		r.Header.Set(UserIDHeader, "user-42")

		got := serve(trusted(), r)
		assert.Equal(t, "", got.userID)
	})

	t.Run("oversized user id is dropped", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.RemoteAddr = "10.1.2.3:4431"
		r.Header.Set(UserIDHeader, strings.Repeat("a", MaxUserIDHeaderLength+1))

		got := serve(trusted(), r)
		assert.Equal(t, "", got.userID)
	})
}
