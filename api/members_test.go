package api

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"

	"corkboard-api/domain"
)

func newMemberContext(e *echo.Echo, method, target, body string, params ...string) (echo.Context, *httptest.ResponseRecorder) {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set(echo.HeaderAuthorization, "Bearer token")
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	names := make([]string, 0, len(params)/2)
	values := make([]string, 0, len(params)/2)
	for i := 0; i+1 < len(params); i += 2 {
		names = append(names, params[i])
		values = append(values, params[i+1])
	}
	c.SetParamNames(names...)
	c.SetParamValues(values...)
	return c, rec
}

func TestInviteMember(t *testing.T) {
	e := echo.New()
	store := &mockStore{snap: boardSnapshot()}
	d, events := testDeps(store, stubAuth{id: "user"})

	c, rec := newMemberContext(e, http.MethodPost, "/api/boards/b1/invitations",
		`{"email":"new@corkboard.test","role":"member"}`, "boardID", "b1")
	if err := inviteMember(d)(c); err != nil {
		t.Fatalf("handler returned error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected status 201 got %d; body %s", rec.Code, rec.Body.String())
	}

	var inv domain.Invitation
	if err := sonic.Unmarshal(rec.Body.Bytes(), &inv); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if inv.Token == "" || inv.Role != domain.RoleMember {
		t.Fatalf("unexpected invitation: %#v", inv)
	}
	if len(store.mutations) != 1 || len(store.mutations[0].Board.Invitations) != 1 {
		t.Fatalf("invitation not persisted: %#v", store.mutations)
	}
	if len(events.Events()) != 1 {
		t.Fatalf("expected one event, got %d", len(events.Events()))
	}
}

func TestInviteMemberRejectsOwnerRole(t *testing.T) {
	e := echo.New()
	store := &mockStore{snap: boardSnapshot()}
	d, _ := testDeps(store, stubAuth{id: "user"})

	c, rec := newMemberContext(e, http.MethodPost, "/api/boards/b1/invitations",
		`{"email":"new@corkboard.test","role":"owner"}`, "boardID", "b1")
	if err := inviteMember(d)(c); err != nil {
		t.Fatalf("handler returned error: %v", err)
	}
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400 got %d", rec.Code)
	}
}

func TestInviteMemberRequiresAdmin(t *testing.T) {
	e := echo.New()
	store := &mockStore{snap: boardSnapshot()}
	d, _ := testDeps(store, stubAuth{id: "editor"})

	c, rec := newMemberContext(e, http.MethodPost, "/api/boards/b1/invitations",
		`{"email":"new@corkboard.test","role":"member"}`, "boardID", "b1")
	if err := inviteMember(d)(c); err != nil {
		t.Fatalf("handler returned error: %v", err)
	}
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected status 403 got %d", rec.Code)
	}
}

func TestAcceptInvite(t *testing.T) {
	e := echo.New()
	snap := boardSnapshot()
	snap.Board.Invitations = []domain.Invitation{{Token: "tok-1", Email: "new@corkboard.test", Role: domain.RoleMember, InvitedBy: "user"}}
	store := &mockStore{snap: snap}
	d, events := testDeps(store, stubAuth{id: "newcomer"})

	c, rec := newMemberContext(e, http.MethodPost, "/api/boards/b1/invitations/accept",
		`{"token":"tok-1"}`, "boardID", "b1")
	if err := acceptInvite(d)(c); err != nil {
		t.Fatalf("handler returned error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200 got %d; body %s", rec.Code, rec.Body.String())
	}

	board := store.mutations[0].Board
	if len(board.Invitations) != 0 {
		t.Fatalf("invitation not consumed: %#v", board.Invitations)
	}
	role, ok := board.RoleOf("newcomer")
	if !ok || role != domain.RoleMember {
		t.Fatalf("member not added: role=%q ok=%v", role, ok)
	}
	evs := events.Events()
	if len(evs) != 1 {
		t.Fatalf("expected one event, got %d", len(evs))
	}
	joined, ok := evs[0].ev.(domain.MemberJoined)
	if !ok || joined.Member.UserID != "newcomer" {
		t.Fatalf("unexpected event: %#v", evs[0].ev)
	}
}

func TestAcceptInviteBadToken(t *testing.T) {
	e := echo.New()
	store := &mockStore{snap: boardSnapshot()}
	d, _ := testDeps(store, stubAuth{id: "newcomer"})

	c, rec := newMemberContext(e, http.MethodPost, "/api/boards/b1/invitations/accept",
		`{"token":"nope"}`, "boardID", "b1")
	if err := acceptInvite(d)(c); err != nil {
		t.Fatalf("handler returned error: %v", err)
	}
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected status 404 got %d", rec.Code)
	}
}

func TestAcceptInviteAlreadyMember(t *testing.T) {
	e := echo.New()
	snap := boardSnapshot()
	snap.Board.Invitations = []domain.Invitation{{Token: "tok-1", Role: domain.RoleMember}}
	store := &mockStore{snap: snap}
	d, _ := testDeps(store, stubAuth{id: "editor"})

	c, rec := newMemberContext(e, http.MethodPost, "/api/boards/b1/invitations/accept",
		`{"token":"tok-1"}`, "boardID", "b1")
	if err := acceptInvite(d)(c); err != nil {
		t.Fatalf("handler returned error: %v", err)
	}
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400 got %d", rec.Code)
	}
}

func TestAcceptInviteRetryHealsMemberIndex(t *testing.T) {
	e := echo.New()
	snap := boardSnapshot()
	snap.Board.Invitations = []domain.Invitation{{Token: "tok-1", Email: "new@corkboard.test", Role: domain.RoleMember, InvitedBy: "user"}}
	store := &mockStore{snap: snap, indexErr: errors.New("index table unavailable")}
	d, _ := testDeps(store, stubAuth{id: "newcomer"})

	// The membership commits but the index write fails.
	c1, rec1 := newMemberContext(e, http.MethodPost, "/api/boards/b1/invitations/accept",
		`{"token":"tok-1"}`, "boardID", "b1")
	if err := acceptInvite(d)(c1); err != nil {
		t.Fatalf("handler returned error: %v", err)
	}
	if rec1.Code != http.StatusInternalServerError {
		t.Fatalf("expected status 500 got %d", rec1.Code)
	}
	if _, ok := store.snap.Board.RoleOf("newcomer"); !ok {
		t.Fatal("membership should have committed before the index write")
	}

	// Retrying the consumed token re-writes the missing index row.
	store.mu.Lock()
	store.indexErr = nil
	store.mu.Unlock()
	c2, rec2 := newMemberContext(e, http.MethodPost, "/api/boards/b1/invitations/accept",
		`{"token":"tok-1"}`, "boardID", "b1")
	if err := acceptInvite(d)(c2); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if rec2.Code != http.StatusOK {
		t.Fatalf("retry status %d; body %s", rec2.Code, rec2.Body.String())
	}
	if len(store.indexed) != 1 || store.indexed[0] != "newcomer:b1:member" {
		t.Fatalf("index not healed: %v", store.indexed)
	}
}

func TestChangeRole(t *testing.T) {
	e := echo.New()
	store := &mockStore{snap: boardSnapshot()}
	d, events := testDeps(store, stubAuth{id: "user"})

	c, rec := newMemberContext(e, http.MethodPatch, "/api/boards/b1/members/editor",
		`{"role":"admin"}`, "boardID", "b1", "userID", "editor")
	if err := changeRole(d)(c); err != nil {
		t.Fatalf("handler returned error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200 got %d; body %s", rec.Code, rec.Body.String())
	}
	role, _ := store.mutations[0].Board.RoleOf("editor")
	if role != domain.RoleAdmin {
		t.Fatalf("role = %q, want admin", role)
	}
	evs := events.Events()
	if len(evs) != 1 {
		t.Fatalf("expected one event, got %d", len(evs))
	}
	changed, ok := evs[0].ev.(domain.RoleChanged)
	if !ok || changed.Role != domain.RoleAdmin {
		t.Fatalf("unexpected event: %#v", evs[0].ev)
	}
}

func TestChangeRoleOwnerImmutable(t *testing.T) {
	e := echo.New()
	store := &mockStore{snap: boardSnapshot()}
	d, _ := testDeps(store, stubAuth{id: "user"})

	c, rec := newMemberContext(e, http.MethodPatch, "/api/boards/b1/members/user",
		`{"role":"member"}`, "boardID", "b1", "userID", "user")
	if err := changeRole(d)(c); err != nil {
		t.Fatalf("handler returned error: %v", err)
	}
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400 got %d", rec.Code)
	}
}

func TestRemoveMemberSelf(t *testing.T) {
	e := echo.New()
	store := &mockStore{snap: boardSnapshot()}
	d, _ := testDeps(store, stubAuth{id: "viewer"})

	c, rec := newMemberContext(e, http.MethodDelete, "/api/boards/b1/members/viewer",
		"", "boardID", "b1", "userID", "viewer")
	if err := removeMember(d)(c); err != nil {
		t.Fatalf("handler returned error: %v", err)
	}
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected status 204 got %d", rec.Code)
	}
	if _, ok := store.mutations[0].Board.RoleOf("viewer"); ok {
		t.Fatal("expected viewer to be removed")
	}
}

func TestRemoveMemberRequiresAdmin(t *testing.T) {
	e := echo.New()
	store := &mockStore{snap: boardSnapshot()}
	d, _ := testDeps(store, stubAuth{id: "editor"})

	c, rec := newMemberContext(e, http.MethodDelete, "/api/boards/b1/members/viewer",
		"", "boardID", "b1", "userID", "viewer")
	if err := removeMember(d)(c); err != nil {
		t.Fatalf("handler returned error: %v", err)
	}
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected status 403 got %d", rec.Code)
	}
}

func TestRemoveOwnerRejected(t *testing.T) {
	e := echo.New()
	store := &mockStore{snap: boardSnapshot()}
	d, _ := testDeps(store, stubAuth{id: "user"})

	c, rec := newMemberContext(e, http.MethodDelete, "/api/boards/b1/members/user",
		"", "boardID", "b1", "userID", "user")
	if err := removeMember(d)(c); err != nil {
		t.Fatalf("handler returned error: %v", err)
	}
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400 got %d", rec.Code)
	}
}
