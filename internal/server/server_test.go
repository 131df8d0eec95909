package server

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

type routeHandler struct {
	path string
}

func (h routeHandler) Register(e *echo.Echo) {
	e.GET(h.path, func(c echo.Context) error {
		return c.String(http.StatusOK, h.path)
	})
}

func TestNewServerRegistersHandlers(t *testing.T) {
	t.Parallel()

	srv := NewServer(nil, "", routeHandler{path: "/a"}, nil, routeHandler{path: "/b"})

	cases := []struct {
		path string
		want int
	}{
		{path: "/a", want: http.StatusOK},
		{path: "/b", want: http.StatusOK},
		{path: "/missing", want: http.StatusNotFound},
	}
	for _, tc := range cases {
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tc.path, nil))
		if rec.Code != tc.want {
			t.Fatalf("path=%q want=%d got=%d", tc.path, tc.want, rec.Code)
		}
	}
}

func TestServerRecoversFromPanic(t *testing.T) {
	t.Parallel()

	srv := NewServer(nil, "", panicHandler{})
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/boom", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
}

type panicHandler struct{}

func (panicHandler) Register(e *echo.Echo) {
	e.GET("/boom", func(echo.Context) error { panic("boom") })
}
