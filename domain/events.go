package domain

import (
	"fmt"

	"github.com/bytedance/sonic"
)

// Event kinds carried on the board broadcast channel.
const (
	KindListCreated    = "list-created"
	KindListUpdated    = "list-updated"
	KindListDeleted    = "list-deleted"
	KindListReordered  = "list-reordered"
	KindTaskCreated    = "task-created"
	KindTaskUpdated    = "task-updated"
	KindTaskDeleted    = "task-deleted"
	KindTaskReordered  = "task-reordered"
	KindTaskMoved      = "task-moved"
	KindMemberInvited  = "member-invited"
	KindMemberJoined   = "member-joined"
	KindRoleChanged    = "role-changed"
	KindMemberRemoved  = "member-removed"
	KindActivityLogged = "activity-logged"
)

// Event is a tagged broadcast payload. Order-changing events always carry
// the full new ordered id list so a passive listener can overwrite its view
// without re-fetching or applying deltas.
type Event interface {
	Kind() string
	BoardID() string
}

type ListCreated struct {
	Board string   `json:"boardId"`
	List  List     `json:"list"`
	Order []string `json:"order"`
}

type ListUpdated struct {
	Board string `json:"boardId"`
	List  List   `json:"list"`
}

type ListDeleted struct {
	Board  string   `json:"boardId"`
	ListID string   `json:"listId"`
	Order  []string `json:"order"`
}

type ListReordered struct {
	Board string   `json:"boardId"`
	Order []string `json:"order"`
}

type TaskCreated struct {
	Board string   `json:"boardId"`
	Task  Task     `json:"task"`
	Order []string `json:"order"`
}

type TaskUpdated struct {
	Board string `json:"boardId"`
	Task  Task   `json:"task"`
}

type TaskDeleted struct {
	Board  string   `json:"boardId"`
	TaskID string   `json:"taskId"`
	ListID string   `json:"listId"`
	Order  []string `json:"order"`
}

type TaskReordered struct {
	Board  string   `json:"boardId"`
	ListID string   `json:"listId"`
	Order  []string `json:"order"`
}

type TaskMoved struct {
	Board     string   `json:"boardId"`
	TaskID    string   `json:"taskId"`
	FromList  string   `json:"fromList"`
	ToList    string   `json:"toList"`
	FromOrder []string `json:"fromOrder"`
	ToOrder   []string `json:"toOrder"`
}

type MemberInvited struct {
	Board string `json:"boardId"`
	Email string `json:"email"`
	Role  Role   `json:"role"`
}

type MemberJoined struct {
	Board  string `json:"boardId"`
	Member Member `json:"member"`
}

type RoleChanged struct {
	Board  string `json:"boardId"`
	UserID string `json:"userId"`
	Role   Role   `json:"role"`
}

type MemberRemoved struct {
	Board  string `json:"boardId"`
	UserID string `json:"userId"`
}

type ActivityLogged struct {
	Board string   `json:"boardId"`
	Entry Activity `json:"entry"`
}

func (e ListCreated) Kind() string    { return KindListCreated }
func (e ListUpdated) Kind() string    { return KindListUpdated }
func (e ListDeleted) Kind() string    { return KindListDeleted }
func (e ListReordered) Kind() string  { return KindListReordered }
func (e TaskCreated) Kind() string    { return KindTaskCreated }
func (e TaskUpdated) Kind() string    { return KindTaskUpdated }
func (e TaskDeleted) Kind() string    { return KindTaskDeleted }
func (e TaskReordered) Kind() string  { return KindTaskReordered }
func (e TaskMoved) Kind() string      { return KindTaskMoved }
func (e MemberInvited) Kind() string  { return KindMemberInvited }
func (e MemberJoined) Kind() string   { return KindMemberJoined }
func (e RoleChanged) Kind() string    { return KindRoleChanged }
func (e MemberRemoved) Kind() string  { return KindMemberRemoved }
func (e ActivityLogged) Kind() string { return KindActivityLogged }

func (e ListCreated) BoardID() string    { return e.Board }
func (e ListUpdated) BoardID() string    { return e.Board }
func (e ListDeleted) BoardID() string    { return e.Board }
func (e ListReordered) BoardID() string  { return e.Board }
func (e TaskCreated) BoardID() string    { return e.Board }
func (e TaskUpdated) BoardID() string    { return e.Board }
func (e TaskDeleted) BoardID() string    { return e.Board }
func (e TaskReordered) BoardID() string  { return e.Board }
func (e TaskMoved) BoardID() string      { return e.Board }
func (e MemberInvited) BoardID() string  { return e.Board }
func (e MemberJoined) BoardID() string   { return e.Board }
func (e RoleChanged) BoardID() string    { return e.Board }
func (e MemberRemoved) BoardID() string  { return e.Board }
func (e ActivityLogged) BoardID() string { return e.Board }

// Envelope is the wire form of an Event: the kind tag plus the encoded
// variant. It also carries the originating session id so fan-out can skip
// echoing a change back to the session that made it.
type Envelope struct {
	Kind    string                 `json:"kind"`
	Board   string                 `json:"boardId"`
	Origin  string                 `json:"origin,omitempty"`
	Payload sonic.NoCopyRawMessage `json:"payload"`
}

// EncodeEvent wraps an event in an Envelope and serializes it.
func EncodeEvent(ev Event, origin string) ([]byte, error) {
	payload, err := sonic.Marshal(ev)
	if err != nil {
		return nil, err
	}
	return sonic.Marshal(Envelope{
		Kind:    ev.Kind(),
		Board:   ev.BoardID(),
		Origin:  origin,
		Payload: payload,
	})
}

// DecodeEvent parses an envelope and re-hydrates the tagged variant. The
// kind switch is exhaustive; unknown kinds are an error rather than a
// silently ignored payload.
func DecodeEvent(data []byte) (Event, string, error) {
	var env Envelope
	if err := sonic.Unmarshal(data, &env); err != nil {
		return nil, "", err
	}
	var ev Event
	switch env.Kind {
	case KindListCreated:
		ev = &ListCreated{}
	case KindListUpdated:
		ev = &ListUpdated{}
	case KindListDeleted:
		ev = &ListDeleted{}
	case KindListReordered:
		ev = &ListReordered{}
	case KindTaskCreated:
		ev = &TaskCreated{}
	case KindTaskUpdated:
		ev = &TaskUpdated{}
	case KindTaskDeleted:
		ev = &TaskDeleted{}
	case KindTaskReordered:
		ev = &TaskReordered{}
	case KindTaskMoved:
		ev = &TaskMoved{}
	case KindMemberInvited:
		ev = &MemberInvited{}
	case KindMemberJoined:
		ev = &MemberJoined{}
	case KindRoleChanged:
		ev = &RoleChanged{}
	case KindMemberRemoved:
		ev = &MemberRemoved{}
	case KindActivityLogged:
		ev = &ActivityLogged{}
	default:
		return nil, "", fmt.Errorf("unknown event kind %q", env.Kind)
	}
	if err := sonic.Unmarshal(env.Payload, ev); err != nil {
		return nil, "", err
	}
	return deref(ev), env.Origin, nil
}

func deref(ev Event) Event {
	switch v := ev.(type) {
	case *ListCreated:
		return *v
	case *ListUpdated:
		return *v
	case *ListDeleted:
		return *v
	case *ListReordered:
		return *v
	case *TaskCreated:
		return *v
	case *TaskUpdated:
		return *v
	case *TaskDeleted:
		return *v
	case *TaskReordered:
		return *v
	case *TaskMoved:
		return *v
	case *MemberInvited:
		return *v
	case *MemberJoined:
		return *v
	case *RoleChanged:
		return *v
	case *MemberRemoved:
		return *v
	case *ActivityLogged:
		return *v
	default:
		return ev
	}
}
