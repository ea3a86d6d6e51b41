package server

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
)

type routeFunc func(e *echo.Echo)

func (f routeFunc) Register(e *echo.Echo) { f(e) }

func TestServerRegistersHandlersAndLogsRequests(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(slog.NewTextHandler(&buf, nil))

	srv := NewServer(log, "", nil, routeFunc(func(e *echo.Echo) {
		e.GET("/hello", func(c echo.Context) error { return c.String(http.StatusOK, "hi") })
		e.GET("/boom", func(echo.Context) error { panic("boom") })
		e.GET("/health", func(c echo.Context) error { return c.NoContent(http.StatusOK) })
	}))
	if srv.Addr() != DefaultAddr {
		t.Fatalf("expected default addr, got %q", srv.Addr())
	}

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/hello", nil))
	if rec.Code != http.StatusOK || rec.Body.String() != "hi" {
		t.Fatalf("unexpected response: %d %q", rec.Code, rec.Body.String())
	}
	if !strings.Contains(buf.String(), "uri=/hello") {
		t.Fatalf("request not logged: %s", buf.String())
	}

	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/boom", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("panic should be recovered as 500, got %d", rec.Code)
	}

	buf.Reset()
	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected health status %d", rec.Code)
	}
	if strings.Contains(buf.String(), "uri=/health") {
		t.Fatalf("health checks should not be logged: %s", buf.String())
	}
}
