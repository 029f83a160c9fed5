package api

import "corkboard-api/domain"

const requestBodyMaxSize = 64 * 1024 // 64 KiB

// Session ids ride on this header so the hub can skip echoing a change back
// to the browser session that made it.
const sessionHeader = "X-Session-Id"

// Idempotency keys for mutating requests.
const idempotencyHeader = "Idempotency-Key"

type createBoardRequest struct {
	Title string `json:"title"`
}

type renameRequest struct {
	Title string `json:"title"`
}

type archiveRequest struct {
	Archived bool `json:"archived"`
}

type createListRequest struct {
	Title string `json:"title"`
}

type createTaskRequest struct {
	ListID string `json:"listId"`
	Title  string `json:"title"`
	Notes  string `json:"notes,omitempty"`
}

type updateTaskRequest struct {
	Title     *string   `json:"title,omitempty"`
	Notes     *string   `json:"notes,omitempty"`
	Done      *bool     `json:"done,omitempty"`
	Assignees *[]string `json:"assignees,omitempty"`
	Archived  *bool     `json:"archived,omitempty"`
}

// moveListRequest relocates a list within its board.
type moveListRequest struct {
	Index int `json:"index"`
}

// moveTaskRequest relocates a task, either within its list or across lists
// of the same board. FromList must name the task's current list.
type moveTaskRequest struct {
	FromList string `json:"fromList"`
	ToList   string `json:"toList"`
	Index    int    `json:"index"`
}

type inviteRequest struct {
	Email string      `json:"email"`
	Role  domain.Role `json:"role"`
}

type acceptInviteRequest struct {
	Token string `json:"token"`
}

type changeRoleRequest struct {
	UserID string      `json:"userId"`
	Role   domain.Role `json:"role"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// listView presents a list with its tasks in canonical order.
type listView struct {
	domain.List
	Tasks []domain.Task `json:"tasks"`
}

type boardResponse struct {
	Board domain.Board `json:"board"`
	Lists []listView   `json:"lists"`
}

type boardListResponse struct {
	Boards []boardSummaryView `json:"boards"`
}

type boardSummaryView struct {
	BoardID string      `json:"boardId"`
	Role    domain.Role `json:"role"`
}

// snapshotResponse assembles the canonical view: lists ordered by the
// board's order array, each carrying its tasks in list order.
func snapshotResponse(snap *domain.Snapshot) boardResponse {
	resp := boardResponse{Board: *snap.Board}
	for _, listID := range snap.Board.ListOrder {
		l, ok := snap.Lists[listID]
		if !ok {
			continue
		}
		lv := listView{List: *l, Tasks: make([]domain.Task, 0, len(l.TaskOrder))}
		for _, taskID := range l.TaskOrder {
			if t, ok := snap.Tasks[taskID]; ok {
				lv.Tasks = append(lv.Tasks, *t)
			}
		}
		resp.Lists = append(resp.Lists, lv)
	}
	return resp
}
