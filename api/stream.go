package api

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"corkboard-api/domain"
)

const streamHeartbeat = 25 * time.Second

// streamBoard handles GET /api/boards/:boardID/stream. It joins the board's
// broadcast group and forwards every accepted event as a server-sent event.
// EventSource cannot set headers, so the bearer token and session id may
// arrive as query parameters. There is no replay on reconnect; clients
// re-fetch the board snapshot and then resubscribe.
func streamBoard(d deps) echo.HandlerFunc {
	return func(c echo.Context) error {
		auth := c.Request().Header.Get(echo.HeaderAuthorization)
		if auth == "" {
			if token := c.QueryParam("token"); token != "" {
				auth = "Bearer " + token
			}
		}
		userID, err := d.auth.UserIDFromAuthHeader(auth)
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		boardID := c.Param("boardID")
		if _, err := loadBoard(c.Request().Context(), d, boardID, userID, domain.RoleObserver); err != nil {
			return respondError(c, d.logger, err)
		}
		sessionID := c.Request().Header.Get(sessionHeader)
		if sessionID == "" {
			sessionID = c.QueryParam("sessionId")
		}

		c.Response().Header().Set(echo.HeaderContentType, "text/event-stream")
		c.Response().Header().Set(echo.HeaderCacheControl, "no-cache")
		c.Response().Header().Set(echo.HeaderConnection, "keep-alive")
		c.Response().Header().Set("X-Accel-Buffering", "no")
		flusher, ok := c.Response().Writer.(http.Flusher)
		if !ok {
			return c.String(http.StatusInternalServerError, "stream unsupported")
		}
		c.Response().WriteHeader(http.StatusOK)
		flusher.Flush()

		sess := d.hub.Join(boardID, sessionID)
		defer d.hub.Leave(boardID, sess)

		ctx := c.Request().Context()
		ticker := time.NewTicker(streamHeartbeat)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case data, ok := <-sess.C:
				if !ok {
					return nil
				}
				if _, err := c.Response().Write([]byte("data: ")); err != nil {
					return nil
				}
				if _, err := c.Response().Write(data); err != nil {
					return nil
				}
				if _, err := c.Response().Write([]byte("\n\n")); err != nil {
					return nil
				}
				flusher.Flush()
			case <-ticker.C:
				if _, err := c.Response().Write([]byte(": ping\n\n")); err != nil {
					return nil
				}
				flusher.Flush()
			}
		}
	}
}
