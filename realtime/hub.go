package realtime

import (
	"sync"

	log "github.com/sirupsen/logrus"
)

const sessionBuffer = 16

// Session is one live viewer of a board. Events arrive on C already encoded
// as envelopes; a session that cannot keep up has events dropped rather than
// blocking the fan-out.
type Session struct {
	ID string
	C  chan []byte
}

// Hub is the broadcast-group registry: board id to the set of live sessions
// viewing that board. It is owned by the wiring layer and injected into
// handlers; nothing reaches it as ambient state.
type Hub struct {
	mu     sync.Mutex
	boards map[string]map[*Session]struct{}
	logger *log.Logger
}

// NewHub creates an empty registry.
func NewHub(logger *log.Logger) *Hub {
	return &Hub{
		boards: make(map[string]map[*Session]struct{}),
		logger: logger,
	}
}

// Join registers a session under the board's broadcast group. The session id
// is supplied by the client so its own mutations are not echoed back.
func (h *Hub) Join(boardID, sessionID string) *Session {
	s := &Session{ID: sessionID, C: make(chan []byte, sessionBuffer)}
	h.mu.Lock()
	group, ok := h.boards[boardID]
	if !ok {
		group = make(map[*Session]struct{})
		h.boards[boardID] = group
	}
	group[s] = struct{}{}
	h.mu.Unlock()
	return s
}

// Leave removes a session from the board's group and closes its channel.
func (h *Hub) Leave(boardID string, s *Session) {
	h.mu.Lock()
	if group, ok := h.boards[boardID]; ok {
		if _, member := group[s]; member {
			delete(group, s)
			close(s.C)
		}
		if len(group) == 0 {
			delete(h.boards, boardID)
		}
	}
	h.mu.Unlock()
}

// Broadcast delivers an encoded event to every session in the board's group
// except the originating one. Delivery is fire-and-forget: a full session
// buffer drops the event and the client recovers by re-fetching on reconnect.
func (h *Hub) Broadcast(boardID string, data []byte, origin string) {
	h.mu.Lock()
	group := h.boards[boardID]
	dropped := 0
	for s := range group {
		if origin != "" && s.ID == origin {
			continue
		}
		select {
		case s.C <- data:
		default:
			dropped++
		}
	}
	h.mu.Unlock()
	if dropped > 0 && h.logger != nil {
		h.logger.WithFields(log.Fields{"board": boardID, "dropped": dropped}).Warn("slow sessions dropped broadcast")
	}
}

// SessionCount reports the size of a board's broadcast group.
func (h *Hub) SessionCount(boardID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.boards[boardID])
}
