package api

import (
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"corkboard-api/domain"
	"corkboard-api/storage"
)

// inviteMember handles POST /api/boards/:boardID/invitations. The invitation
// is stored on the board document and an email notification is handed to the
// delivery queue; actual sending happens outside this service.
func inviteMember(d deps) echo.HandlerFunc {
	return func(c echo.Context) error {
		userID, err := d.auth.UserIDFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		var req inviteRequest
		if err := decodeBody(c, &req); err != nil {
			return respondError(c, d.logger, err)
		}
		if req.Email == "" {
			return respondError(c, d.logger, fmt.Errorf("%w: email required", domain.ErrInvalidOperation))
		}
		if !req.Role.Valid() || req.Role == domain.RoleOwner {
			return respondError(c, d.logger, fmt.Errorf("%w: cannot invite with role %q", domain.ErrInvalidOperation, req.Role))
		}
		ctx := c.Request().Context()
		boardID := c.Param("boardID")
		snap, err := loadBoard(ctx, d, boardID, userID, domain.RoleAdmin)
		if err != nil {
			return respondError(c, d.logger, err)
		}
		inv := domain.Invitation{
			Token:     uuid.NewString(),
			Email:     req.Email,
			Role:      req.Role,
			InvitedBy: userID,
			CreatedAt: nextTimestamp(),
		}
		snap.Board.Invitations = append(snap.Board.Invitations, inv)
		snap.Board.AppendActivity(domain.Activity{UserID: userID, Action: "member-invited", Details: req.Email, Time: inv.CreatedAt})
		if err := d.store.Commit(ctx, storage.Mutation{BoardID: boardID, Board: snap.Board}); err != nil {
			return respondError(c, d.logger, err)
		}
		if d.notifier != nil {
			d.notifier.Enqueue([]storage.Notification{{
				Kind:    "invitation",
				BoardID: boardID,
				Email:   req.Email,
				Role:    req.Role,
				Token:   inv.Token,
				Message: snap.Board.Title,
			}})
		}
		d.events.Publish(ctx, domain.MemberInvited{Board: boardID, Email: req.Email, Role: req.Role}, origin(c))
		return c.JSON(http.StatusCreated, inv)
	}
}

// acceptInvite handles POST /api/boards/:boardID/invitations/accept. The
// caller authenticates as themselves and presents the invitation token.
func acceptInvite(d deps) echo.HandlerFunc {
	return func(c echo.Context) error {
		userID, err := d.auth.UserIDFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		var req acceptInviteRequest
		if err := decodeBody(c, &req); err != nil {
			return respondError(c, d.logger, err)
		}
		ctx := c.Request().Context()
		boardID := c.Param("boardID")
		// Access check is the token itself, not membership.
		snap, err := d.store.FetchSnapshot(ctx, boardID)
		if err != nil {
			return respondError(c, d.logger, err)
		}
		idx := -1
		for i, inv := range snap.Board.Invitations {
			if inv.Token == req.Token {
				idx = i
				break
			}
		}
		if idx < 0 {
			// A consumed token can be a retry after the index write
			// failed; re-accept by the member heals the index row.
			if role, already := snap.Board.RoleOf(userID); already {
				if err := d.store.UpsertMemberIndex(ctx, userID, boardID, role); err != nil {
					return respondError(c, d.logger, err)
				}
				return c.JSON(http.StatusOK, domain.Member{UserID: userID, Role: role})
			}
			return respondError(c, d.logger, fmt.Errorf("%w: invitation", domain.ErrNotFound))
		}
		if _, already := snap.Board.RoleOf(userID); already {
			return respondError(c, d.logger, fmt.Errorf("%w: already a member", domain.ErrInvalidOperation))
		}
		inv := snap.Board.Invitations[idx]
		snap.Board.Invitations = append(snap.Board.Invitations[:idx], snap.Board.Invitations[idx+1:]...)
		member := domain.Member{UserID: userID, Role: inv.Role}
		snap.Board.Members = append(snap.Board.Members, member)
		snap.Board.AppendActivity(domain.Activity{UserID: userID, Action: "member-joined", Time: nextTimestamp()})
		if err := d.store.Commit(ctx, storage.Mutation{BoardID: boardID, Board: snap.Board}); err != nil {
			return respondError(c, d.logger, err)
		}
		if err := d.store.UpsertMemberIndex(ctx, userID, boardID, inv.Role); err != nil {
			return respondError(c, d.logger, err)
		}
		d.events.Publish(ctx, domain.MemberJoined{Board: boardID, Member: member}, origin(c))
		return c.JSON(http.StatusOK, member)
	}
}

// changeRole handles PATCH /api/boards/:boardID/members/:userID. The owner's
// role is immutable.
func changeRole(d deps) echo.HandlerFunc {
	return func(c echo.Context) error {
		userID, err := d.auth.UserIDFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		var req changeRoleRequest
		if err := decodeBody(c, &req); err != nil {
			return respondError(c, d.logger, err)
		}
		if !req.Role.Valid() || req.Role == domain.RoleOwner {
			return respondError(c, d.logger, fmt.Errorf("%w: cannot assign role %q", domain.ErrInvalidOperation, req.Role))
		}
		ctx := c.Request().Context()
		boardID := c.Param("boardID")
		targetID := c.Param("userID")
		snap, err := loadBoard(ctx, d, boardID, userID, domain.RoleAdmin)
		if err != nil {
			return respondError(c, d.logger, err)
		}
		if targetID == snap.Board.OwnerID {
			return respondError(c, d.logger, fmt.Errorf("%w: owner role is immutable", domain.ErrInvalidOperation))
		}
		updated := false
		for i := range snap.Board.Members {
			if snap.Board.Members[i].UserID == targetID {
				snap.Board.Members[i].Role = req.Role
				updated = true
				break
			}
		}
		if !updated {
			return respondError(c, d.logger, fmt.Errorf("%w: member %s", domain.ErrNotFound, targetID))
		}
		if err := d.store.Commit(ctx, storage.Mutation{BoardID: boardID, Board: snap.Board}); err != nil {
			return respondError(c, d.logger, err)
		}
		if err := d.store.UpsertMemberIndex(ctx, targetID, boardID, req.Role); err != nil {
			return respondError(c, d.logger, err)
		}
		d.events.Publish(ctx, domain.RoleChanged{Board: boardID, UserID: targetID, Role: req.Role}, origin(c))
		return c.JSON(http.StatusOK, domain.Member{UserID: targetID, Role: req.Role})
	}
}

// removeMember handles DELETE /api/boards/:boardID/members/:userID. Members
// may remove themselves; removing anyone else takes admin.
func removeMember(d deps) echo.HandlerFunc {
	return func(c echo.Context) error {
		userID, err := d.auth.UserIDFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		ctx := c.Request().Context()
		boardID := c.Param("boardID")
		targetID := c.Param("userID")
		min := domain.RoleAdmin
		if targetID == userID {
			min = domain.RoleObserver
		}
		snap, err := loadBoard(ctx, d, boardID, userID, min)
		if err != nil {
			return respondError(c, d.logger, err)
		}
		if targetID == snap.Board.OwnerID {
			return respondError(c, d.logger, fmt.Errorf("%w: owner cannot be removed", domain.ErrInvalidOperation))
		}
		idx := -1
		for i, m := range snap.Board.Members {
			if m.UserID == targetID {
				idx = i
				break
			}
		}
		if idx < 0 {
			return respondError(c, d.logger, fmt.Errorf("%w: member %s", domain.ErrNotFound, targetID))
		}
		snap.Board.Members = append(snap.Board.Members[:idx], snap.Board.Members[idx+1:]...)
		snap.Board.AppendActivity(domain.Activity{UserID: userID, Action: "member-removed", Details: targetID, Time: nextTimestamp()})
		if err := d.store.Commit(ctx, storage.Mutation{BoardID: boardID, Board: snap.Board}); err != nil {
			return respondError(c, d.logger, err)
		}
		if err := d.store.DeleteMemberIndex(ctx, targetID, boardID); err != nil {
			d.logger.WithError(err).Warn("member index cleanup failed")
		}
		d.events.Publish(ctx, domain.MemberRemoved{Board: boardID, UserID: targetID}, origin(c))
		return c.NoContent(http.StatusNoContent)
	}
}
