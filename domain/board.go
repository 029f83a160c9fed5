package domain

// Role ranks a member's authority on a board.
type Role string

const (
	RoleOwner    Role = "owner"
	RoleAdmin    Role = "admin"
	RoleMember   Role = "member"
	RoleObserver Role = "observer"
)

var roleRank = map[Role]int{
	RoleObserver: 0,
	RoleMember:   1,
	RoleAdmin:    2,
	RoleOwner:    3,
}

// AtLeast reports whether r grants the authority of min or more.
func (r Role) AtLeast(min Role) bool {
	return roleRank[r] >= roleRank[min]
}

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	_, ok := roleRank[r]
	return ok
}

// Member associates a user with a role on a board. The board owner is kept
// on Board.OwnerID and never duplicated here.
type Member struct {
	UserID string `json:"userId"`
	Role   Role   `json:"role"`
}

// Invitation is a pending, role-scoped offer of board membership.
type Invitation struct {
	Token     string `json:"token"`
	Email     string `json:"email"`
	Role      Role   `json:"role"`
	InvitedBy string `json:"invitedBy"`
	CreatedAt int64  `json:"createdAt"`
}

// ActivityCap bounds the per-board activity log; older entries are evicted.
const ActivityCap = 50

// Activity is one entry of a board's bounded audit log, newest first.
type Activity struct {
	UserID  string `json:"userId"`
	Action  string `json:"action"`
	Details string `json:"details,omitempty"`
	Time    int64  `json:"time"`
}

// Board is the top-level collaborative workspace.
type Board struct {
	ID          string       `json:"id"`
	Title       string       `json:"title"`
	OwnerID     string       `json:"ownerId"`
	ListOrder   []string     `json:"listOrder"`
	Members     []Member     `json:"members,omitempty"`
	Invitations []Invitation `json:"invitations,omitempty"`
	Activity    []Activity   `json:"activity,omitempty"`
	Archived    bool         `json:"archived,omitempty"`
	CreatedAt   int64        `json:"createdAt"`
}

// Clone deep-copies the board document.
func (b *Board) Clone() *Board {
	out := *b
	out.ListOrder = append([]string(nil), b.ListOrder...)
	out.Members = append([]Member(nil), b.Members...)
	out.Invitations = append([]Invitation(nil), b.Invitations...)
	out.Activity = append([]Activity(nil), b.Activity...)
	return &out
}

// RoleOf resolves the caller's role on the board, or false for non-members.
func (b *Board) RoleOf(userID string) (Role, bool) {
	if userID == b.OwnerID {
		return RoleOwner, true
	}
	for _, m := range b.Members {
		if m.UserID == userID {
			return m.Role, true
		}
	}
	return "", false
}

// AppendActivity unshifts an entry onto the activity log and truncates it to
// the most recent ActivityCap entries.
func (b *Board) AppendActivity(entry Activity) {
	b.Activity = append([]Activity{entry}, b.Activity...)
	if len(b.Activity) > ActivityCap {
		b.Activity = b.Activity[:ActivityCap]
	}
}
