package api

import (
	"compress/gzip"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// GzipRequestMiddleware transparently decompresses gzip-encoded request
// bodies before they reach the JSON decoder. A body that claims gzip but
// fails to parse is rejected with a 400.
func GzipRequestMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if err := inflateRequestBody(c.Request()); err != nil {
				return echo.NewHTTPError(http.StatusBadRequest, "invalid gzip body")
			}
			return next(c)
		}
	}
}

// inflateRequestBody swaps the request body for a decompressing reader when
// the Content-Encoding header names gzip. The encoding and length headers are
// cleared so downstream decoders see a plain stream of unknown size.
func inflateRequestBody(req *http.Request) error {
	if !requestIsGzipped(req.Header.Get(echo.HeaderContentEncoding)) {
		return nil
	}
	gr, err := gzip.NewReader(req.Body)
	if err != nil {
		req.Body.Close()
		return err
	}
	req.Body = &decompressedBody{Reader: gr, inner: req.Body}
	req.ContentLength = -1
	req.Header.Del(echo.HeaderContentEncoding)
	req.Header.Del(echo.HeaderContentLength)
	return nil
}

func requestIsGzipped(header string) bool {
	for _, enc := range strings.Split(header, ",") {
		if strings.EqualFold(strings.TrimSpace(enc), "gzip") {
			return true
		}
	}
	return false
}

// decompressedBody closes the gzip reader and the underlying request body as
// one unit.
type decompressedBody struct {
	*gzip.Reader
	inner io.Closer
}

func (b *decompressedBody) Close() error {
	return errors.Join(b.Reader.Close(), b.inner.Close())
}
