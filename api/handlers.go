package api

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"corkboard-api/domain"
	"corkboard-api/realtime"
	"corkboard-api/storage"
)

// deps bundles the collaborators every handler closure needs.
type deps struct {
	store    Store
	auth     Authenticator
	deduper  Deduper
	events   Broadcaster
	hub      *realtime.Hub
	notifier *Notifier
	logger   *log.Logger
}

// Register wires up all API routes on the provided Echo instance.
func Register(e *echo.Echo, store Store, auth Authenticator, deduper Deduper, events Broadcaster, hub *realtime.Hub, notifier *Notifier, logger *log.Logger) {
	d := deps{store: store, auth: auth, deduper: deduper, events: events, hub: hub, notifier: notifier, logger: logger}

	e.GET("/healthz", healthz())

	e.GET("/api/boards", listBoards(d))
	e.POST("/api/boards", createBoard(d))
	e.GET("/api/boards/:boardID", getBoard(d))
	e.PATCH("/api/boards/:boardID", renameBoard(d))
	e.POST("/api/boards/:boardID/archive", archiveBoard(d))
	e.DELETE("/api/boards/:boardID", deleteBoard(d))
	e.GET("/api/boards/:boardID/activity", getActivity(d))
	e.GET("/api/boards/:boardID/stream", streamBoard(d))

	e.POST("/api/boards/:boardID/lists", createList(d))
	e.PATCH("/api/boards/:boardID/lists/:listID", updateList(d))
	e.DELETE("/api/boards/:boardID/lists/:listID", deleteList(d))
	e.POST("/api/boards/:boardID/lists/:listID/move", moveList(d))

	e.POST("/api/boards/:boardID/tasks", createTask(d))
	e.PATCH("/api/boards/:boardID/tasks/:taskID", updateTask(d))
	e.DELETE("/api/boards/:boardID/tasks/:taskID", deleteTask(d))
	e.POST("/api/boards/:boardID/tasks/:taskID/move", moveTask(d))

	e.POST("/api/boards/:boardID/invitations", inviteMember(d))
	e.POST("/api/boards/:boardID/invitations/accept", acceptInvite(d))
	e.PATCH("/api/boards/:boardID/members/:userID", changeRole(d))
	e.DELETE("/api/boards/:boardID/members/:userID", removeMember(d))
}

func healthz() echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	}
}

// decodeBody parses a size-capped JSON request body into v, rejecting
// unknown fields.
func decodeBody(c echo.Context, v any) error {
	lr := io.LimitReader(c.Request().Body, requestBodyMaxSize)
	dec := sonic.ConfigStd.NewDecoder(lr)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: invalid body", domain.ErrInvalidOperation)
	}
	return nil
}

// loadBoard fetches the board aggregate and checks the caller holds at least
// the required role.
func loadBoard(ctx context.Context, d deps, boardID, userID string, min domain.Role) (*domain.Snapshot, error) {
	snap, err := d.store.FetchSnapshot(ctx, boardID)
	if err != nil {
		return nil, err
	}
	role, ok := snap.Board.RoleOf(userID)
	if !ok {
		return nil, fmt.Errorf("%w: not a member of board %s", domain.ErrAccessDenied, boardID)
	}
	if !role.AtLeast(min) {
		return nil, fmt.Errorf("%w: requires %s role", domain.ErrAccessDenied, min)
	}
	return snap, nil
}

func origin(c echo.Context) string {
	return c.Request().Header.Get(sessionHeader)
}

func listBoards(d deps) echo.HandlerFunc {
	return func(c echo.Context) error {
		userID, err := d.auth.UserIDFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		summaries, err := d.store.BoardsFor(c.Request().Context(), userID)
		if err != nil {
			return respondError(c, d.logger, err)
		}
		resp := boardListResponse{Boards: make([]boardSummaryView, 0, len(summaries))}
		for _, s := range summaries {
			resp.Boards = append(resp.Boards, boardSummaryView{BoardID: s.BoardID, Role: s.Role})
		}
		return c.JSON(http.StatusOK, resp)
	}
}

func createBoard(d deps) echo.HandlerFunc {
	return func(c echo.Context) error {
		userID, err := d.auth.UserIDFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		var req createBoardRequest
		if err := decodeBody(c, &req); err != nil {
			return respondError(c, d.logger, err)
		}
		if req.Title == "" {
			return respondError(c, d.logger, fmt.Errorf("%w: board title required", domain.ErrInvalidOperation))
		}
		b := &domain.Board{
			ID:        uuid.NewString(),
			Title:     req.Title,
			OwnerID:   userID,
			ListOrder: []string{},
			CreatedAt: nextTimestamp(),
		}
		if err := d.store.InsertBoard(c.Request().Context(), b); err != nil {
			return respondError(c, d.logger, err)
		}
		return c.JSON(http.StatusCreated, boardResponse{Board: *b})
	}
}

func getBoard(d deps) echo.HandlerFunc {
	return func(c echo.Context) error {
		userID, err := d.auth.UserIDFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		snap, err := loadBoard(c.Request().Context(), d, c.Param("boardID"), userID, domain.RoleObserver)
		if err != nil {
			return respondError(c, d.logger, err)
		}
		return c.JSON(http.StatusOK, snapshotResponse(snap))
	}
}

func renameBoard(d deps) echo.HandlerFunc {
	return func(c echo.Context) error {
		userID, err := d.auth.UserIDFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		var req renameRequest
		if err := decodeBody(c, &req); err != nil {
			return respondError(c, d.logger, err)
		}
		if req.Title == "" {
			return respondError(c, d.logger, fmt.Errorf("%w: board title required", domain.ErrInvalidOperation))
		}
		ctx := c.Request().Context()
		snap, err := loadBoard(ctx, d, c.Param("boardID"), userID, domain.RoleAdmin)
		if err != nil {
			return respondError(c, d.logger, err)
		}
		snap.Board.Title = req.Title
		if err := d.store.Commit(ctx, storage.Mutation{BoardID: snap.Board.ID, Board: snap.Board}); err != nil {
			return respondError(c, d.logger, err)
		}
		return c.JSON(http.StatusOK, boardResponse{Board: *snap.Board})
	}
}

func archiveBoard(d deps) echo.HandlerFunc {
	return func(c echo.Context) error {
		userID, err := d.auth.UserIDFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		var req archiveRequest
		if err := decodeBody(c, &req); err != nil {
			return respondError(c, d.logger, err)
		}
		ctx := c.Request().Context()
		snap, err := loadBoard(ctx, d, c.Param("boardID"), userID, domain.RoleAdmin)
		if err != nil {
			return respondError(c, d.logger, err)
		}
		snap.Board.Archived = req.Archived
		if err := d.store.Commit(ctx, storage.Mutation{BoardID: snap.Board.ID, Board: snap.Board}); err != nil {
			return respondError(c, d.logger, err)
		}
		return c.JSON(http.StatusOK, boardResponse{Board: *snap.Board})
	}
}

func deleteBoard(d deps) echo.HandlerFunc {
	return func(c echo.Context) error {
		userID, err := d.auth.UserIDFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		ctx := c.Request().Context()
		snap, err := loadBoard(ctx, d, c.Param("boardID"), userID, domain.RoleOwner)
		if err != nil {
			return respondError(c, d.logger, err)
		}
		memberIDs := []string{snap.Board.OwnerID}
		for _, m := range snap.Board.Members {
			memberIDs = append(memberIDs, m.UserID)
		}
		if err := d.store.DeleteBoard(ctx, snap.Board.ID, memberIDs); err != nil {
			return respondError(c, d.logger, err)
		}
		return c.NoContent(http.StatusNoContent)
	}
}

func getActivity(d deps) echo.HandlerFunc {
	return func(c echo.Context) error {
		userID, err := d.auth.UserIDFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		snap, err := loadBoard(c.Request().Context(), d, c.Param("boardID"), userID, domain.RoleObserver)
		if err != nil {
			return respondError(c, d.logger, err)
		}
		entries := snap.Board.Activity
		if entries == nil {
			entries = []domain.Activity{}
		}
		return c.JSON(http.StatusOK, entries)
	}
}

func createList(d deps) echo.HandlerFunc {
	return func(c echo.Context) error {
		userID, err := d.auth.UserIDFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		var req createListRequest
		if err := decodeBody(c, &req); err != nil {
			return respondError(c, d.logger, err)
		}
		if req.Title == "" {
			return respondError(c, d.logger, fmt.Errorf("%w: list title required", domain.ErrInvalidOperation))
		}
		ctx := c.Request().Context()
		boardID := c.Param("boardID")
		snap, err := loadBoard(ctx, d, boardID, userID, domain.RoleMember)
		if err != nil {
			return respondError(c, d.logger, err)
		}
		l := &domain.List{
			ID:        uuid.NewString(),
			BoardID:   boardID,
			Title:     req.Title,
			TaskOrder: []string{},
			CreatedAt: nextTimestamp(),
		}
		snap.AddList(l)
		snap.Board.AppendActivity(domain.Activity{UserID: userID, Action: "list-created", Details: req.Title, Time: l.CreatedAt})
		mut := storage.Mutation{BoardID: boardID, Board: snap.Board, Lists: []*domain.List{l}}
		if err := d.store.Commit(ctx, mut); err != nil {
			return respondError(c, d.logger, err)
		}
		d.events.Publish(ctx, domain.ListCreated{Board: boardID, List: *l, Order: snap.Board.ListOrder}, origin(c))
		return c.JSON(http.StatusCreated, listView{List: *l, Tasks: []domain.Task{}})
	}
}

func updateList(d deps) echo.HandlerFunc {
	return func(c echo.Context) error {
		userID, err := d.auth.UserIDFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		var req struct {
			Title    *string `json:"title,omitempty"`
			Archived *bool   `json:"archived,omitempty"`
		}
		if err := decodeBody(c, &req); err != nil {
			return respondError(c, d.logger, err)
		}
		ctx := c.Request().Context()
		boardID := c.Param("boardID")
		snap, err := loadBoard(ctx, d, boardID, userID, domain.RoleMember)
		if err != nil {
			return respondError(c, d.logger, err)
		}
		l, ok := snap.Lists[c.Param("listID")]
		if !ok {
			return respondError(c, d.logger, fmt.Errorf("%w: list %s", domain.ErrNotFound, c.Param("listID")))
		}
		if req.Title != nil {
			if *req.Title == "" {
				return respondError(c, d.logger, fmt.Errorf("%w: list title required", domain.ErrInvalidOperation))
			}
			l.Title = *req.Title
		}
		if req.Archived != nil {
			l.Archived = *req.Archived
		}
		if err := d.store.Commit(ctx, storage.Mutation{BoardID: boardID, Lists: []*domain.List{l}}); err != nil {
			return respondError(c, d.logger, err)
		}
		d.events.Publish(ctx, domain.ListUpdated{Board: boardID, List: *l}, origin(c))
		return c.JSON(http.StatusOK, *l)
	}
}

func deleteList(d deps) echo.HandlerFunc {
	return func(c echo.Context) error {
		userID, err := d.auth.UserIDFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		ctx := c.Request().Context()
		boardID := c.Param("boardID")
		listID := c.Param("listID")
		snap, err := loadBoard(ctx, d, boardID, userID, domain.RoleMember)
		if err != nil {
			return respondError(c, d.logger, err)
		}
		title := ""
		if l, ok := snap.Lists[listID]; ok {
			title = l.Title
		}
		cascade, err := snap.RemoveList(listID)
		if err != nil {
			return respondError(c, d.logger, err)
		}
		snap.Board.AppendActivity(domain.Activity{UserID: userID, Action: "list-deleted", Details: title, Time: nextTimestamp()})
		mut := storage.Mutation{
			BoardID:     boardID,
			Board:       snap.Board,
			DeleteLists: []string{listID},
			DeleteTasks: cascade,
		}
		if err := d.store.Commit(ctx, mut); err != nil {
			return respondError(c, d.logger, err)
		}
		d.events.Publish(ctx, domain.ListDeleted{Board: boardID, ListID: listID, Order: snap.Board.ListOrder}, origin(c))
		return c.NoContent(http.StatusNoContent)
	}
}

func createTask(d deps) echo.HandlerFunc {
	return func(c echo.Context) error {
		userID, err := d.auth.UserIDFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		var req createTaskRequest
		if err := decodeBody(c, &req); err != nil {
			return respondError(c, d.logger, err)
		}
		if req.Title == "" || req.ListID == "" {
			return respondError(c, d.logger, fmt.Errorf("%w: task title and listId required", domain.ErrInvalidOperation))
		}
		ctx := c.Request().Context()
		boardID := c.Param("boardID")
		snap, err := loadBoard(ctx, d, boardID, userID, domain.RoleMember)
		if err != nil {
			return respondError(c, d.logger, err)
		}
		t := &domain.Task{
			ID:        uuid.NewString(),
			ListID:    req.ListID,
			BoardID:   boardID,
			Title:     req.Title,
			Notes:     req.Notes,
			CreatedAt: nextTimestamp(),
		}
		if err := snap.AddTask(t); err != nil {
			return respondError(c, d.logger, err)
		}
		snap.Board.AppendActivity(domain.Activity{UserID: userID, Action: "task-created", Details: req.Title, Time: t.CreatedAt})
		mut := storage.Mutation{
			BoardID: boardID,
			Board:   snap.Board,
			Lists:   []*domain.List{snap.Lists[req.ListID]},
			Tasks:   []*domain.Task{t},
		}
		if err := d.store.Commit(ctx, mut); err != nil {
			return respondError(c, d.logger, err)
		}
		d.events.Publish(ctx, domain.TaskCreated{Board: boardID, Task: *t, Order: snap.Lists[req.ListID].TaskOrder}, origin(c))
		return c.JSON(http.StatusCreated, *t)
	}
}

func updateTask(d deps) echo.HandlerFunc {
	return func(c echo.Context) error {
		userID, err := d.auth.UserIDFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		var req updateTaskRequest
		if err := decodeBody(c, &req); err != nil {
			return respondError(c, d.logger, err)
		}
		ctx := c.Request().Context()
		boardID := c.Param("boardID")
		snap, err := loadBoard(ctx, d, boardID, userID, domain.RoleMember)
		if err != nil {
			return respondError(c, d.logger, err)
		}
		t, ok := snap.Tasks[c.Param("taskID")]
		if !ok {
			return respondError(c, d.logger, fmt.Errorf("%w: task %s", domain.ErrNotFound, c.Param("taskID")))
		}
		var assigned []string
		if req.Title != nil {
			if *req.Title == "" {
				return respondError(c, d.logger, fmt.Errorf("%w: task title required", domain.ErrInvalidOperation))
			}
			t.Title = *req.Title
		}
		if req.Notes != nil {
			t.Notes = *req.Notes
		}
		if req.Done != nil {
			t.Done = *req.Done
		}
		if req.Archived != nil {
			t.Archived = *req.Archived
		}
		if req.Assignees != nil {
			assigned = newAssignees(t.Assignees, *req.Assignees)
			t.Assignees = *req.Assignees
		}
		if err := d.store.Commit(ctx, storage.Mutation{BoardID: boardID, Tasks: []*domain.Task{t}}); err != nil {
			return respondError(c, d.logger, err)
		}
		d.events.Publish(ctx, domain.TaskUpdated{Board: boardID, Task: *t}, origin(c))
		if len(assigned) > 0 && d.notifier != nil {
			ns := make([]storage.Notification, 0, len(assigned))
			for _, uid := range assigned {
				ns = append(ns, storage.Notification{
					Kind:    "assignment",
					BoardID: boardID,
					UserID:  uid,
					Message: t.Title,
				})
			}
			d.notifier.Enqueue(ns)
		}
		return c.JSON(http.StatusOK, *t)
	}
}

// newAssignees reports which users appear in next but not prev.
func newAssignees(prev, next []string) []string {
	seen := make(map[string]struct{}, len(prev))
	for _, id := range prev {
		seen[id] = struct{}{}
	}
	var out []string
	for _, id := range next {
		if _, ok := seen[id]; !ok {
			out = append(out, id)
		}
	}
	return out
}

func deleteTask(d deps) echo.HandlerFunc {
	return func(c echo.Context) error {
		userID, err := d.auth.UserIDFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		ctx := c.Request().Context()
		boardID := c.Param("boardID")
		taskID := c.Param("taskID")
		snap, err := loadBoard(ctx, d, boardID, userID, domain.RoleMember)
		if err != nil {
			return respondError(c, d.logger, err)
		}
		t, ok := snap.Tasks[taskID]
		if !ok {
			return respondError(c, d.logger, fmt.Errorf("%w: task %s", domain.ErrNotFound, taskID))
		}
		listID := t.ListID
		title := t.Title
		if err := snap.RemoveTask(taskID); err != nil {
			return respondError(c, d.logger, err)
		}
		snap.Board.AppendActivity(domain.Activity{UserID: userID, Action: "task-deleted", Details: title, Time: nextTimestamp()})
		mut := storage.Mutation{
			BoardID:     boardID,
			Board:       snap.Board,
			Lists:       []*domain.List{snap.Lists[listID]},
			DeleteTasks: []string{taskID},
		}
		if err := d.store.Commit(ctx, mut); err != nil {
			return respondError(c, d.logger, err)
		}
		d.events.Publish(ctx, domain.TaskDeleted{Board: boardID, TaskID: taskID, ListID: listID, Order: snap.Lists[listID].TaskOrder}, origin(c))
		return c.NoContent(http.StatusNoContent)
	}
}
