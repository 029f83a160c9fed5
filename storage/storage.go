package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"

	"corkboard-api/domain"
)

// Row keys within a board partition. Every row of a board shares
// PartitionKey = board id, so any combination of board/list/task rows can be
// rewritten in a single entity-group transaction. That batch is what gives
// move/reorder its all-or-nothing guarantee.
const (
	boardRowKey   = "board"
	listRowPrefix = "list#"
	taskRowPrefix = "task#"
)

// Storage provides access to underlying persistence mechanisms.
type Storage struct {
	boards      *aztables.Client
	memberIndex *aztables.Client
	notifyQueue *azqueue.QueueClient
}

// New creates a Storage instance from the given connection string.
func New(connStr, boardTable, memberTable, notifyQueue string) (*Storage, error) {
	tablesClientOptions := aztables.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    3,
				TryTimeout:    time.Minute * 3,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 15,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, &tablesClientOptions)
	if err != nil {
		return nil, err
	}
	queueClientOptions := azqueue.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    5,
				TryTimeout:    time.Minute * 5,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 60,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	nq, err := azqueue.NewQueueClientFromConnectionString(connStr, notifyQueue, &queueClientOptions)
	if err != nil {
		return nil, err
	}
	return &Storage{
		boards:      svc.NewClient(boardTable),
		memberIndex: svc.NewClient(memberTable),
		notifyQueue: nq,
	}, nil
}

type boardEntity struct {
	aztables.Entity
	Title       string `json:"Title"`
	OwnerID     string `json:"OwnerId"`
	ListOrder   string `json:"ListOrder"`
	Members     string `json:"Members"`
	Invitations string `json:"Invitations"`
	Activity    string `json:"Activity"`
	Archived    bool   `json:"Archived"`
	CreatedAt   int64  `json:"CreatedAt"`
}

type listEntity struct {
	aztables.Entity
	Title     string `json:"Title"`
	TaskOrder string `json:"TaskOrder"`
	Position  int    `json:"Position"`
	Archived  bool   `json:"Archived"`
	CreatedAt int64  `json:"CreatedAt"`
}

type taskEntity struct {
	aztables.Entity
	ListID    string `json:"ListId"`
	Title     string `json:"Title"`
	Notes     string `json:"Notes"`
	Position  int    `json:"Position"`
	Assignees string `json:"Assignees"`
	Done      bool   `json:"Done"`
	Archived  bool   `json:"Archived"`
	CreatedAt int64  `json:"CreatedAt"`
}

type memberEntity struct {
	aztables.Entity
	Role string `json:"Role"`
}

func marshalJSONField(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(data)
}

func unmarshalJSONField(data string, v any) {
	if data == "" {
		return
	}
	_ = json.Unmarshal([]byte(data), v)
}

func boardToEntity(b *domain.Board) boardEntity {
	return boardEntity{
		Entity:      aztables.Entity{PartitionKey: b.ID, RowKey: boardRowKey},
		Title:       b.Title,
		OwnerID:     b.OwnerID,
		ListOrder:   marshalJSONField(b.ListOrder),
		Members:     marshalJSONField(b.Members),
		Invitations: marshalJSONField(b.Invitations),
		Activity:    marshalJSONField(b.Activity),
		Archived:    b.Archived,
		CreatedAt:   b.CreatedAt,
	}
}

func listToEntity(l *domain.List) listEntity {
	return listEntity{
		Entity:    aztables.Entity{PartitionKey: l.BoardID, RowKey: listRowPrefix + l.ID},
		Title:     l.Title,
		TaskOrder: marshalJSONField(l.TaskOrder),
		Position:  l.Position,
		Archived:  l.Archived,
		CreatedAt: l.CreatedAt,
	}
}

func taskToEntity(t *domain.Task) taskEntity {
	return taskEntity{
		Entity:    aztables.Entity{PartitionKey: t.BoardID, RowKey: taskRowPrefix + t.ID},
		ListID:    t.ListID,
		Title:     t.Title,
		Notes:     t.Notes,
		Position:  t.Position,
		Assignees: marshalJSONField(t.Assignees),
		Done:      t.Done,
		Archived:  t.Archived,
		CreatedAt: t.CreatedAt,
	}
}

func entityToBoard(ent boardEntity) *domain.Board {
	b := &domain.Board{
		ID:        ent.PartitionKey,
		Title:     ent.Title,
		OwnerID:   ent.OwnerID,
		Archived:  ent.Archived,
		CreatedAt: ent.CreatedAt,
	}
	unmarshalJSONField(ent.ListOrder, &b.ListOrder)
	unmarshalJSONField(ent.Members, &b.Members)
	unmarshalJSONField(ent.Invitations, &b.Invitations)
	unmarshalJSONField(ent.Activity, &b.Activity)
	return b
}

func entityToList(boardID, id string, ent listEntity) *domain.List {
	l := &domain.List{
		ID:        id,
		BoardID:   boardID,
		Title:     ent.Title,
		Position:  ent.Position,
		Archived:  ent.Archived,
		CreatedAt: ent.CreatedAt,
	}
	unmarshalJSONField(ent.TaskOrder, &l.TaskOrder)
	return l
}

func entityToTask(boardID, id string, ent taskEntity) *domain.Task {
	t := &domain.Task{
		ID:        id,
		BoardID:   boardID,
		ListID:    ent.ListID,
		Title:     ent.Title,
		Notes:     ent.Notes,
		Position:  ent.Position,
		Done:      ent.Done,
		Archived:  ent.Archived,
		CreatedAt: ent.CreatedAt,
	}
	unmarshalJSONField(ent.Assignees, &t.Assignees)
	return t
}

func translateErr(err error) error {
	if err == nil {
		return nil
	}
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) && respErr.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %v", domain.ErrNotFound, err)
	}
	return fmt.Errorf("%w: %v", domain.ErrPersistence, err)
}

// FetchSnapshot loads the board document and every child list and task row
// of its partition into a domain aggregate.
func (s *Storage) FetchSnapshot(ctx context.Context, boardID string) (*domain.Snapshot, error) {
	filter := "PartitionKey eq '" + boardID + "'"
	pager := s.boards.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})

	var board *domain.Board
	var lists []*domain.List
	var tasks []*domain.Task
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, translateErr(err)
		}
		for _, raw := range resp.Entities {
			var base aztables.Entity
			if err := json.Unmarshal(raw, &base); err != nil {
				return nil, fmt.Errorf("%w: %v", domain.ErrPersistence, err)
			}
			switch {
			case base.RowKey == boardRowKey:
				var ent boardEntity
				if err := json.Unmarshal(raw, &ent); err != nil {
					return nil, fmt.Errorf("%w: %v", domain.ErrPersistence, err)
				}
				board = entityToBoard(ent)
			case strings.HasPrefix(base.RowKey, listRowPrefix):
				var ent listEntity
				if err := json.Unmarshal(raw, &ent); err != nil {
					return nil, fmt.Errorf("%w: %v", domain.ErrPersistence, err)
				}
				lists = append(lists, entityToList(boardID, strings.TrimPrefix(base.RowKey, listRowPrefix), ent))
			case strings.HasPrefix(base.RowKey, taskRowPrefix):
				var ent taskEntity
				if err := json.Unmarshal(raw, &ent); err != nil {
					return nil, fmt.Errorf("%w: %v", domain.ErrPersistence, err)
				}
				tasks = append(tasks, entityToTask(boardID, strings.TrimPrefix(base.RowKey, taskRowPrefix), ent))
			}
		}
	}
	if board == nil {
		return nil, fmt.Errorf("%w: board %s", domain.ErrNotFound, boardID)
	}
	return domain.NewSnapshot(board, lists, tasks), nil
}

// Mutation is the set of rows a board operation touched. Commit applies all
// of them in one entity-group transaction, so readers never observe a
// partially applied move.
type Mutation struct {
	BoardID     string
	Board       *domain.Board
	Lists       []*domain.List
	Tasks       []*domain.Task
	DeleteLists []string
	DeleteTasks []string
}

func (m Mutation) actions() ([]aztables.TransactionAction, error) {
	actions := make([]aztables.TransactionAction, 0, 1+len(m.Lists)+len(m.Tasks)+len(m.DeleteLists)+len(m.DeleteTasks))
	add := func(actionType aztables.TransactionType, v any) error {
		data, err := json.Marshal(v)
		if err != nil {
			return err
		}
		actions = append(actions, aztables.TransactionAction{ActionType: actionType, Entity: data})
		return nil
	}
	if m.Board != nil {
		if err := add(aztables.TransactionTypeInsertReplace, boardToEntity(m.Board)); err != nil {
			return nil, err
		}
	}
	for _, l := range m.Lists {
		if err := add(aztables.TransactionTypeInsertReplace, listToEntity(l)); err != nil {
			return nil, err
		}
	}
	for _, t := range m.Tasks {
		if err := add(aztables.TransactionTypeInsertReplace, taskToEntity(t)); err != nil {
			return nil, err
		}
	}
	for _, id := range m.DeleteLists {
		if err := add(aztables.TransactionTypeDelete, aztables.Entity{PartitionKey: m.BoardID, RowKey: listRowPrefix + id}); err != nil {
			return nil, err
		}
	}
	for _, id := range m.DeleteTasks {
		if err := add(aztables.TransactionTypeDelete, aztables.Entity{PartitionKey: m.BoardID, RowKey: taskRowPrefix + id}); err != nil {
			return nil, err
		}
	}
	return actions, nil
}

// Commit writes every touched row of a single board in one transaction.
// Entity-group transactions are capped at 100 actions by table storage; a
// renumber touching more rows than that surfaces as a persistence error.
func (s *Storage) Commit(ctx context.Context, m Mutation) error {
	actions, err := m.actions()
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrPersistence, err)
	}
	if len(actions) == 0 {
		return nil
	}
	if _, err := s.boards.SubmitTransaction(ctx, actions, nil); err != nil {
		return translateErr(err)
	}
	return nil
}

// InsertBoard creates the board document and the creator's member-index row.
func (s *Storage) InsertBoard(ctx context.Context, b *domain.Board) error {
	data, err := json.Marshal(boardToEntity(b))
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrPersistence, err)
	}
	if _, err := s.boards.AddEntity(ctx, data, nil); err != nil {
		return translateErr(err)
	}
	return s.UpsertMemberIndex(ctx, b.OwnerID, b.ID, domain.RoleOwner)
}

// DeleteBoard removes every row of the board partition plus the member-index
// rows of the given users.
func (s *Storage) DeleteBoard(ctx context.Context, boardID string, memberIDs []string) error {
	filter := "PartitionKey eq '" + boardID + "'"
	pager := s.boards.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	var actions []aztables.TransactionAction
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return translateErr(err)
		}
		for _, raw := range resp.Entities {
			var base aztables.Entity
			if err := json.Unmarshal(raw, &base); err != nil {
				return fmt.Errorf("%w: %v", domain.ErrPersistence, err)
			}
			data, err := json.Marshal(aztables.Entity{PartitionKey: base.PartitionKey, RowKey: base.RowKey})
			if err != nil {
				return fmt.Errorf("%w: %v", domain.ErrPersistence, err)
			}
			actions = append(actions, aztables.TransactionAction{ActionType: aztables.TransactionTypeDelete, Entity: data})
		}
	}
	for len(actions) > 0 {
		batch := actions
		if len(batch) > 100 {
			batch = batch[:100]
		}
		if _, err := s.boards.SubmitTransaction(ctx, batch, nil); err != nil {
			return translateErr(err)
		}
		actions = actions[len(batch):]
	}
	for _, uid := range memberIDs {
		if err := s.DeleteMemberIndex(ctx, uid, boardID); err != nil && !errors.Is(err, domain.ErrNotFound) {
			return err
		}
	}
	return nil
}

// BoardSummary is one row of a user's board listing.
type BoardSummary struct {
	BoardID string      `json:"boardId"`
	Role    domain.Role `json:"role"`
}

// BoardsFor lists the boards a user belongs to, via the member-index table
// partitioned by user id.
func (s *Storage) BoardsFor(ctx context.Context, userID string) ([]BoardSummary, error) {
	filter := "PartitionKey eq '" + userID + "'"
	pager := s.memberIndex.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	var out []BoardSummary
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, translateErr(err)
		}
		for _, raw := range resp.Entities {
			var ent memberEntity
			if err := json.Unmarshal(raw, &ent); err != nil {
				return nil, fmt.Errorf("%w: %v", domain.ErrPersistence, err)
			}
			out = append(out, BoardSummary{BoardID: ent.RowKey, Role: domain.Role(ent.Role)})
		}
	}
	return out, nil
}

// UpsertMemberIndex records (user, board, role) for board listing.
func (s *Storage) UpsertMemberIndex(ctx context.Context, userID, boardID string, role domain.Role) error {
	ent := memberEntity{
		Entity: aztables.Entity{PartitionKey: userID, RowKey: boardID},
		Role:   string(role),
	}
	data, err := json.Marshal(ent)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrPersistence, err)
	}
	if _, err := s.memberIndex.UpsertEntity(ctx, data, nil); err != nil {
		return translateErr(err)
	}
	return nil
}

// DeleteMemberIndex drops a user's listing row for a board.
func (s *Storage) DeleteMemberIndex(ctx context.Context, userID, boardID string) error {
	if _, err := s.memberIndex.DeleteEntity(ctx, userID, boardID, nil); err != nil {
		return translateErr(err)
	}
	return nil
}

// Notification is an outbound email/push message handed to the delivery
// queue. Delivery itself happens outside this service.
type Notification struct {
	Kind    string      `json:"kind"`
	BoardID string      `json:"boardId"`
	Email   string      `json:"email,omitempty"`
	UserID  string      `json:"userId,omitempty"`
	Role    domain.Role `json:"role,omitempty"`
	Token   string      `json:"token,omitempty"`
	Message string      `json:"message,omitempty"`
}

// EnqueueNotifications sends the given notifications to the delivery queue.
func (s *Storage) EnqueueNotifications(ctx context.Context, ns []Notification) error {
	for _, n := range ns {
		data, err := json.Marshal(n)
		if err != nil {
			return err
		}
		if _, err := s.notifyQueue.EnqueueMessage(ctx, string(data), nil); err != nil {
			return err
		}
	}
	return nil
}
