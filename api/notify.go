package api

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"corkboard-api/storage"
)

// notifySink is the queue side of notification delivery.
type notifySink interface {
	EnqueueNotifications(ctx context.Context, ns []storage.Notification) error
}

// Notifier hands outbound notifications to the delivery queue through a
// bounded worker pool, so slow queue writes never sit on the request path.
// A saturated buffer falls back to a short blocking handoff and then drops
// with an error log; notifications are best effort.
type Notifier struct {
	sink    notifySink
	logger  *log.Logger
	jobs    chan []storage.Notification
	timeout time.Duration
	handoff time.Duration

	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewNotifier starts the pool. Worker count, buffer size and timeouts come
// from the environment with conservative defaults.
func NewNotifier(sink notifySink, logger *log.Logger) *Notifier {
	n := &Notifier{
		sink:    sink,
		logger:  logger,
		jobs:    make(chan []storage.Notification, envInt("NOTIFY_BUFFER", 1024)),
		timeout: envDur("NOTIFY_TIMEOUT", 30*time.Second),
		handoff: envDur("NOTIFY_HANDOFF_TIMEOUT", 15*time.Millisecond),
	}
	workers := envInt("NOTIFY_WORKERS", 8)
	if workers <= 0 {
		workers = 1
	}
	for i := 0; i < workers; i++ {
		n.wg.Add(1)
		go n.worker(i)
	}
	return n
}

func (n *Notifier) worker(id int) {
	defer n.wg.Done()
	for ns := range n.jobs {
		ctx, cancel := context.WithTimeout(context.Background(), n.timeout)
		err := n.sink.EnqueueNotifications(ctx, ns)
		cancel()
		if err != nil {
			n.logger.Errorf("notification enqueue failed, err: %v, count: %d, worker: %d", err, len(ns), id)
		}
	}
}

// Enqueue hands a batch to the pool. It never blocks longer than the
// configured handoff timeout.
func (n *Notifier) Enqueue(ns []storage.Notification) {
	if len(ns) == 0 {
		return
	}
	select {
	case n.jobs <- ns:
		return
	default:
	}
	if n.handoff <= 0 {
		n.logger.Warnf("notification buffer saturated, dropped %d", len(ns))
		return
	}
	timer := time.NewTimer(n.handoff)
	defer timer.Stop()
	select {
	case n.jobs <- ns:
	case <-timer.C:
		n.logger.Warnf("notification buffer saturated, dropped %d", len(ns))
	}
}

// Shutdown stops accepting work and waits for in-flight enqueues.
func (n *Notifier) Shutdown() {
	n.closeOnce.Do(func() {
		close(n.jobs)
	})
	n.wg.Wait()
}
