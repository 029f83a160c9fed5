package api

import (
	"bytes"
	"compress/gzip"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
)

func gzipBody(t *testing.T, payload string) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	if _, err := gw.Write([]byte(payload)); err != nil {
		t.Fatalf("compress: %v", err)
	}
	if err := gw.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	return &buf
}

func TestGzipRequestMiddlewareInflates(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/", gzipBody(t, `{"index":2}`))
	req.Header.Set(echo.HeaderContentEncoding, "gzip")
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	var seen string
	handler := GzipRequestMiddleware()(func(c echo.Context) error {
		b, err := io.ReadAll(c.Request().Body)
		if err != nil {
			return err
		}
		seen = string(b)
		return c.NoContent(http.StatusOK)
	})
	if err := handler(c); err != nil {
		t.Fatalf("middleware returned error: %v", err)
	}
	if seen != `{"index":2}` {
		t.Fatalf("body = %q", seen)
	}
	if got := c.Request().Header.Get(echo.HeaderContentEncoding); got != "" {
		t.Fatalf("encoding header survived: %q", got)
	}
	if c.Request().ContentLength != -1 {
		t.Fatalf("content length = %d, want -1", c.Request().ContentLength)
	}
}

func TestGzipRequestMiddlewareRejectsCorruptBody(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("not gzip at all"))
	req.Header.Set(echo.HeaderContentEncoding, "gzip")
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	handler := GzipRequestMiddleware()(func(c echo.Context) error {
		t.Fatal("handler should not run")
		return nil
	})
	err := handler(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 HTTPError, got %v", err)
	}
}

func TestGzipRequestMiddlewarePassThrough(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"index":0}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	handler := GzipRequestMiddleware()(func(c echo.Context) error {
		b, _ := io.ReadAll(c.Request().Body)
		if string(b) != `{"index":0}` {
			t.Fatalf("body altered: %q", b)
		}
		return c.NoContent(http.StatusOK)
	})
	if err := handler(c); err != nil {
		t.Fatalf("middleware returned error: %v", err)
	}
}
