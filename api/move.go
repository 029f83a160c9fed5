package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"corkboard-api/domain"
	"corkboard-api/storage"
)

type moveListResponse struct {
	Order []string `json:"order"`
}

type moveTaskResponse struct {
	TaskID    string   `json:"taskId"`
	FromList  string   `json:"fromList"`
	ToList    string   `json:"toList"`
	FromOrder []string `json:"fromOrder"`
	ToOrder   []string `json:"toOrder"`
}

// dedupe guards a mutating request with its Idempotency-Key header. It
// returns replayed=true when the key was already recorded; release undoes
// the record so a failed persistence attempt can be retried.
func dedupe(ctx context.Context, d deps, c echo.Context, userID string) (replayed bool, release func()) {
	key := c.Request().Header.Get(idempotencyHeader)
	if key == "" || d.deduper == nil {
		return false, func() {}
	}
	added, err := d.deduper.Add(ctx, userID, key)
	if err != nil {
		// Dedupe is best effort; losing it degrades to at-least-once.
		d.logger.WithError(err).Warn("idempotency check unavailable")
		return false, func() {}
	}
	if !added {
		return true, func() {}
	}
	return false, func() {
		if rerr := d.deduper.Remove(context.Background(), userID, key); rerr != nil {
			d.logger.WithError(rerr).Errorf("dedupe rollback failed, key: %s, user: %s", key, userID)
		}
	}
}

// moveList handles POST /api/boards/:boardID/lists/:listID/move.
func moveList(d deps) echo.HandlerFunc {
	return func(c echo.Context) (err error) {
		ctx := c.Request().Context()
		metrics, spanCtx := newMoveRequestMetrics(ctx, d.logger, "list-reorder")
		if spanCtx != nil {
			c.SetRequest(c.Request().WithContext(spanCtx))
			ctx = spanCtx
		}
		defer func() {
			metrics.Log(c.Response().Status, err)
		}()

		authStart := time.Now()
		userID, authErr := d.auth.UserIDFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
		metrics.ObserveAuth(time.Since(authStart))
		if authErr != nil {
			metrics.SetErrorStage("auth")
			err = c.String(http.StatusUnauthorized, authErr.Error())
			return err
		}

		var req moveListRequest
		if err := decodeBody(c, &req); err != nil {
			metrics.SetErrorStage("decode")
			return respondError(c, d.logger, err)
		}
		boardID := c.Param("boardID")
		listID := c.Param("listID")

		replayed, release := dedupe(ctx, d, c, userID)

		fetchStart := time.Now()
		snap, err := loadBoard(ctx, d, boardID, userID, domain.RoleMember)
		metrics.ObserveFetch(time.Since(fetchStart))
		if err != nil {
			metrics.SetErrorStage("fetch")
			release()
			return respondError(c, d.logger, err)
		}
		if replayed {
			// The earlier attempt already landed; answer with canonical order.
			return c.JSON(http.StatusOK, moveListResponse{Order: snap.Board.ListOrder})
		}

		if err := snap.ReorderLists(listID, req.Index); err != nil {
			metrics.SetErrorStage("reorder")
			release()
			return respondError(c, d.logger, err)
		}

		mut := storage.Mutation{BoardID: boardID, Board: snap.Board}
		for _, id := range snap.Board.ListOrder {
			mut.Lists = append(mut.Lists, snap.Lists[id])
		}
		commitStart := time.Now()
		commitErr := d.store.Commit(ctx, mut)
		metrics.ObserveCommit(time.Since(commitStart))
		if commitErr != nil {
			metrics.SetErrorStage("commit")
			release()
			return respondError(c, d.logger, commitErr)
		}

		d.events.Publish(ctx, domain.ListReordered{Board: boardID, Order: snap.Board.ListOrder}, origin(c))
		return c.JSON(http.StatusOK, moveListResponse{Order: snap.Board.ListOrder})
	}
}

// moveTask handles POST /api/boards/:boardID/tasks/:taskID/move. Same-list
// requests are pure reorders; cross-list requests swap the task's parent and
// are recorded in the board activity log.
func moveTask(d deps) echo.HandlerFunc {
	return func(c echo.Context) (err error) {
		ctx := c.Request().Context()
		metrics, spanCtx := newMoveRequestMetrics(ctx, d.logger, "task-move")
		if spanCtx != nil {
			c.SetRequest(c.Request().WithContext(spanCtx))
			ctx = spanCtx
		}
		defer func() {
			metrics.Log(c.Response().Status, err)
		}()

		authStart := time.Now()
		userID, authErr := d.auth.UserIDFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
		metrics.ObserveAuth(time.Since(authStart))
		if authErr != nil {
			metrics.SetErrorStage("auth")
			err = c.String(http.StatusUnauthorized, authErr.Error())
			return err
		}

		var req moveTaskRequest
		if err := decodeBody(c, &req); err != nil {
			metrics.SetErrorStage("decode")
			return respondError(c, d.logger, err)
		}
		if req.FromList == "" || req.ToList == "" {
			metrics.SetErrorStage("decode")
			return respondError(c, d.logger, fmt.Errorf("%w: fromList and toList required", domain.ErrInvalidOperation))
		}
		boardID := c.Param("boardID")
		taskID := c.Param("taskID")

		replayed, release := dedupe(ctx, d, c, userID)

		fetchStart := time.Now()
		snap, err := loadBoard(ctx, d, boardID, userID, domain.RoleMember)
		metrics.ObserveFetch(time.Since(fetchStart))
		if err != nil {
			metrics.SetErrorStage("fetch")
			release()
			return respondError(c, d.logger, err)
		}
		if replayed {
			return c.JSON(http.StatusOK, canonicalMoveResponse(snap, taskID, req))
		}

		crossList := req.FromList != req.ToList
		if err := snap.MoveTask(taskID, req.FromList, req.ToList, req.Index); err != nil {
			metrics.SetErrorStage("move")
			release()
			return respondError(c, d.logger, err)
		}

		src := snap.Lists[req.FromList]
		dst := snap.Lists[req.ToList]
		mut := storage.Mutation{BoardID: boardID, Lists: []*domain.List{src}}
		for _, id := range src.TaskOrder {
			mut.Tasks = append(mut.Tasks, snap.Tasks[id])
		}
		if crossList {
			mut.Lists = append(mut.Lists, dst)
			for _, id := range dst.TaskOrder {
				mut.Tasks = append(mut.Tasks, snap.Tasks[id])
			}
			snap.Board.AppendActivity(domain.Activity{
				UserID:  userID,
				Action:  "task-moved",
				Details: fmt.Sprintf("%s: %s -> %s", snap.Tasks[taskID].Title, src.Title, dst.Title),
				Time:    nextTimestamp(),
			})
			mut.Board = snap.Board
		}

		commitStart := time.Now()
		commitErr := d.store.Commit(ctx, mut)
		metrics.ObserveCommit(time.Since(commitStart))
		if commitErr != nil {
			metrics.SetErrorStage("commit")
			release()
			return respondError(c, d.logger, commitErr)
		}

		sessionID := origin(c)
		if crossList {
			d.events.Publish(ctx, domain.TaskMoved{
				Board:     boardID,
				TaskID:    taskID,
				FromList:  req.FromList,
				ToList:    req.ToList,
				FromOrder: src.TaskOrder,
				ToOrder:   dst.TaskOrder,
			}, sessionID)
			d.events.Publish(ctx, domain.ActivityLogged{Board: boardID, Entry: snap.Board.Activity[0]}, sessionID)
		} else {
			d.events.Publish(ctx, domain.TaskReordered{Board: boardID, ListID: req.FromList, Order: src.TaskOrder}, sessionID)
		}

		return c.JSON(http.StatusOK, moveTaskResponse{
			TaskID:    taskID,
			FromList:  req.FromList,
			ToList:    req.ToList,
			FromOrder: src.TaskOrder,
			ToOrder:   dst.TaskOrder,
		})
	}
}

// canonicalMoveResponse answers a replayed move with whatever order the
// earlier attempt left behind.
func canonicalMoveResponse(snap *domain.Snapshot, taskID string, req moveTaskRequest) moveTaskResponse {
	resp := moveTaskResponse{TaskID: taskID, FromList: req.FromList, ToList: req.ToList}
	if l, ok := snap.Lists[req.FromList]; ok {
		resp.FromOrder = l.TaskOrder
	}
	if l, ok := snap.Lists[req.ToList]; ok {
		resp.ToOrder = l.TaskOrder
	}
	return resp
}
