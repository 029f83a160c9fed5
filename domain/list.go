package domain

// List is an ordered container of tasks within a board.
type List struct {
	ID        string   `json:"id"`
	BoardID   string   `json:"boardId"`
	Title     string   `json:"title"`
	TaskOrder []string `json:"taskOrder"`
	Position  int      `json:"position"`
	Archived  bool     `json:"archived,omitempty"`
	CreatedAt int64    `json:"createdAt"`
}

// Clone deep-copies the list.
func (l *List) Clone() *List {
	out := *l
	out.TaskOrder = append([]string(nil), l.TaskOrder...)
	return &out
}

// Task is a unit of work belonging to exactly one list at a time.
type Task struct {
	ID        string   `json:"id"`
	ListID    string   `json:"listId"`
	BoardID   string   `json:"boardId"`
	Title     string   `json:"title"`
	Notes     string   `json:"notes,omitempty"`
	Position  int      `json:"position"`
	Assignees []string `json:"assignees,omitempty"`
	Done      bool     `json:"done,omitempty"`
	Archived  bool     `json:"archived,omitempty"`
	CreatedAt int64    `json:"createdAt"`
}

// Clone deep-copies the task.
func (t *Task) Clone() *Task {
	out := *t
	out.Assignees = append([]string(nil), t.Assignees...)
	return &out
}
