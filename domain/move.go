package domain

import "sort"

// Snapshot is a fully loaded board aggregate: the board document plus every
// child list and task. All reorder and move operations mutate a snapshot in
// memory; the storage layer then persists the touched rows in one batch.
//
// Two representations of sibling order are kept consistent at all times: the
// explicit id arrays (Board.ListOrder, List.TaskOrder) and the integer
// Position on each child. After every operation positions are renumbered
// 0..n-1 so that re-deriving order from positions reproduces the arrays
// exactly.
type Snapshot struct {
	Board *Board
	Lists map[string]*List
	Tasks map[string]*Task
}

// NewSnapshot assembles an aggregate from its parts.
func NewSnapshot(b *Board, lists []*List, tasks []*Task) *Snapshot {
	s := &Snapshot{
		Board: b,
		Lists: make(map[string]*List, len(lists)),
		Tasks: make(map[string]*Task, len(tasks)),
	}
	for _, l := range lists {
		s.Lists[l.ID] = l
	}
	for _, t := range tasks {
		s.Tasks[t.ID] = t
	}
	return s
}

// Clone deep-copies the aggregate so a caller can mutate one copy while
// keeping the other as a rollback point.
func (s *Snapshot) Clone() *Snapshot {
	out := &Snapshot{
		Board: s.Board.Clone(),
		Lists: make(map[string]*List, len(s.Lists)),
		Tasks: make(map[string]*Task, len(s.Tasks)),
	}
	for id, l := range s.Lists {
		out.Lists[id] = l.Clone()
	}
	for id, t := range s.Tasks {
		out.Tasks[id] = t.Clone()
	}
	return out
}

// clampIndex confines a requested insertion index to [0, length].
func clampIndex(index, length int) int {
	if index < 0 {
		return 0
	}
	if index > length {
		return length
	}
	return index
}

func indexOf(ids []string, id string) int {
	for i, v := range ids {
		if v == id {
			return i
		}
	}
	return -1
}

func removeAt(ids []string, i int) []string {
	return append(ids[:i:i], ids[i+1:]...)
}

func insertAt(ids []string, i int, id string) []string {
	out := make([]string, 0, len(ids)+1)
	out = append(out, ids[:i]...)
	out = append(out, id)
	out = append(out, ids[i:]...)
	return out
}

// renumberLists rewrites every ordered list's Position to its array index.
func (s *Snapshot) renumberLists() {
	for i, id := range s.Board.ListOrder {
		if l, ok := s.Lists[id]; ok {
			l.Position = i
		}
	}
}

// renumberTasks rewrites Position for every task in the list's order array.
func (s *Snapshot) renumberTasks(l *List) {
	for i, id := range l.TaskOrder {
		if t, ok := s.Tasks[id]; ok {
			t.Position = i
		}
	}
}

// ReorderLists relocates one list to a new index within the board. The full
// order array is renumbered, not shifted incrementally.
func (s *Snapshot) ReorderLists(listID string, index int) error {
	if _, ok := s.Lists[listID]; !ok {
		return notFound("list", listID)
	}
	cur := indexOf(s.Board.ListOrder, listID)
	if cur < 0 {
		return notFound("list", listID)
	}
	order := removeAt(s.Board.ListOrder, cur)
	index = clampIndex(index, len(order))
	s.Board.ListOrder = insertAt(order, index, listID)
	s.renumberLists()
	return nil
}

// ReorderTasks relocates one task to a new index within its current list.
func (s *Snapshot) ReorderTasks(listID, taskID string, index int) error {
	l, ok := s.Lists[listID]
	if !ok {
		return notFound("list", listID)
	}
	t, ok := s.Tasks[taskID]
	if !ok {
		return notFound("task", taskID)
	}
	if t.ListID != listID {
		return notFound("task in list "+listID, taskID)
	}
	cur := indexOf(l.TaskOrder, taskID)
	if cur < 0 {
		return notFound("task in list "+listID, taskID)
	}
	order := removeAt(l.TaskOrder, cur)
	index = clampIndex(index, len(order))
	l.TaskOrder = insertAt(order, index, taskID)
	s.renumberTasks(l)
	return nil
}

// MoveTask relocates a task from one list to another within the same board.
// Source order, destination order and the task's list reference change as one
// in-memory unit; the caller persists them in a single batch so a partially
// moved task is never observable.
func (s *Snapshot) MoveTask(taskID, fromListID, toListID string, index int) error {
	if fromListID == toListID {
		return s.ReorderTasks(fromListID, taskID, index)
	}
	src, ok := s.Lists[fromListID]
	if !ok {
		return notFound("list", fromListID)
	}
	dst, ok := s.Lists[toListID]
	if !ok {
		return notFound("list", toListID)
	}
	if src.BoardID != dst.BoardID {
		return invalidOp("lists %s and %s belong to different boards", fromListID, toListID)
	}
	t, ok := s.Tasks[taskID]
	if !ok {
		return notFound("task", taskID)
	}
	if t.ListID != fromListID {
		return notFound("task in list "+fromListID, taskID)
	}
	cur := indexOf(src.TaskOrder, taskID)
	if cur < 0 {
		return notFound("task in list "+fromListID, taskID)
	}

	src.TaskOrder = removeAt(src.TaskOrder, cur)
	index = clampIndex(index, len(dst.TaskOrder))
	dst.TaskOrder = insertAt(dst.TaskOrder, index, taskID)
	t.ListID = toListID
	s.renumberTasks(src)
	s.renumberTasks(dst)
	return nil
}

// AddList appends a new list at position max+1 and registers it in the
// board's order array.
func (s *Snapshot) AddList(l *List) {
	l.Position = len(s.Board.ListOrder)
	if n := len(s.Board.ListOrder); n > 0 {
		if last, ok := s.Lists[s.Board.ListOrder[n-1]]; ok {
			l.Position = last.Position + 1
		}
	}
	s.Board.ListOrder = append(s.Board.ListOrder, l.ID)
	s.Lists[l.ID] = l
}

// AddTask appends a new task to the named list at position max+1.
func (s *Snapshot) AddTask(t *Task) error {
	l, ok := s.Lists[t.ListID]
	if !ok {
		return notFound("list", t.ListID)
	}
	t.Position = len(l.TaskOrder)
	if n := len(l.TaskOrder); n > 0 {
		if last, ok := s.Tasks[l.TaskOrder[n-1]]; ok {
			t.Position = last.Position + 1
		}
	}
	l.TaskOrder = append(l.TaskOrder, t.ID)
	s.Tasks[t.ID] = t
	return nil
}

// RemoveTask drops a task from its list's order array. Remaining siblings
// keep their positions; gaps are tolerated.
func (s *Snapshot) RemoveTask(taskID string) error {
	t, ok := s.Tasks[taskID]
	if !ok {
		return notFound("task", taskID)
	}
	if l, ok := s.Lists[t.ListID]; ok {
		if i := indexOf(l.TaskOrder, taskID); i >= 0 {
			l.TaskOrder = removeAt(l.TaskOrder, i)
		}
	}
	delete(s.Tasks, taskID)
	return nil
}

// RemoveList drops a list and cascades to its tasks, returning the ids of
// the deleted tasks so storage can delete their rows.
func (s *Snapshot) RemoveList(listID string) ([]string, error) {
	l, ok := s.Lists[listID]
	if !ok {
		return nil, notFound("list", listID)
	}
	cascade := make([]string, 0, len(l.TaskOrder))
	for _, id := range l.TaskOrder {
		if _, ok := s.Tasks[id]; ok {
			cascade = append(cascade, id)
			delete(s.Tasks, id)
		}
	}
	if i := indexOf(s.Board.ListOrder, listID); i >= 0 {
		s.Board.ListOrder = removeAt(s.Board.ListOrder, i)
	}
	delete(s.Lists, listID)
	return cascade, nil
}

// CanonicalListOrder derives display order from positions: ascending
// Position, ties broken by creation time then id so order is always total.
func (s *Snapshot) CanonicalListOrder() []string {
	ids := make([]string, 0, len(s.Board.ListOrder))
	for _, id := range s.Board.ListOrder {
		if _, ok := s.Lists[id]; ok {
			ids = append(ids, id)
		}
	}
	sort.SliceStable(ids, func(i, j int) bool {
		return lessByPosition(s.Lists[ids[i]].Position, s.Lists[ids[i]].CreatedAt, ids[i],
			s.Lists[ids[j]].Position, s.Lists[ids[j]].CreatedAt, ids[j])
	})
	return ids
}

// CanonicalTaskOrder derives a list's display order from task positions.
func (s *Snapshot) CanonicalTaskOrder(listID string) []string {
	l, ok := s.Lists[listID]
	if !ok {
		return nil
	}
	ids := make([]string, 0, len(l.TaskOrder))
	for _, id := range l.TaskOrder {
		if _, ok := s.Tasks[id]; ok {
			ids = append(ids, id)
		}
	}
	sort.SliceStable(ids, func(i, j int) bool {
		return lessByPosition(s.Tasks[ids[i]].Position, s.Tasks[ids[i]].CreatedAt, ids[i],
			s.Tasks[ids[j]].Position, s.Tasks[ids[j]].CreatedAt, ids[j])
	})
	return ids
}

func lessByPosition(posA int, createdA int64, idA string, posB int, createdB int64, idB string) bool {
	if posA != posB {
		return posA < posB
	}
	if createdA != createdB {
		return createdA < createdB
	}
	return idA < idB
}
