package matrix

import (
	"context"
	"sync"
	"time"
)

// dispatcher runs the handler off the sync loop. Each room gets at most one
// worker goroutine that handles its messages in arrival order, so rooms
// proceed independently while a room's own messages stay serialised.
type dispatcher struct {
	handler Handler
	ctx     context.Context

	mu     sync.Mutex
	queues map[string][]*Inbound // a key is present while its worker runs
	wg     sync.WaitGroup
}

func newDispatcher(ctx context.Context, handler Handler) *dispatcher {
	return &dispatcher{
		handler: handler,
		ctx:     ctx,
		queues:  make(map[string][]*Inbound),
	}
}

// submit queues msg behind earlier messages of the same room.
func (d *dispatcher) submit(msg *Inbound) {
	d.mu.Lock()
	q, running := d.queues[msg.RoomID]
	d.queues[msg.RoomID] = append(q, msg)
	if !running {
		d.wg.Add(1)
		go d.work(msg.RoomID)
	}
	d.mu.Unlock()
}

func (d *dispatcher) work(roomID string) {
	defer d.wg.Done()
	for {
		d.mu.Lock()
		q := d.queues[roomID]
		if len(q) == 0 {
			delete(d.queues, roomID)
			d.mu.Unlock()
			return
		}
		msg := q[0]
		d.queues[roomID] = q[1:]
		d.mu.Unlock()

		d.handler(d.ctx, msg)
	}
}

// wait blocks until every queued message has been handled, or until grace
// elapses. It reports whether all handlers finished.
func (d *dispatcher) wait(grace time.Duration) bool {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(grace):
		return false
	}
}
