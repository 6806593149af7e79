package recorder

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/earshot/internal/observe"
)

// UpdateKind enumerates listener notifications.
type UpdateKind int

const (
	// UpdateRecording is sent once per session when capture of speech begins.
	UpdateRecording UpdateKind = iota

	// UpdateFinished is sent when a session captured more than the minimum
	// duration.
	UpdateFinished

	// UpdateError is sent when a session ended at or under the minimum
	// duration, including device failures.
	UpdateError

	// UpdatePermissionDenied is sent when the [Authorizer] refused capture.
	UpdatePermissionDenied
)

// Messages are the literal texts carried by each update kind.
const (
	MsgRecording        = "Recording..."
	MsgFinished         = "Recording done...!"
	MsgError            = "Recording error..."
	MsgPermissionDenied = "Permission to record audio denied"
)

func (k UpdateKind) String() string {
	switch k {
	case UpdateRecording:
		return "recording"
	case UpdateFinished:
		return "finished"
	case UpdateError:
		return "error"
	case UpdatePermissionDenied:
		return "permission_denied"
	default:
		return fmt.Sprintf("UpdateKind(%d)", int(k))
	}
}

// Message returns the literal text for k.
func (k UpdateKind) Message() string {
	switch k {
	case UpdateRecording:
		return MsgRecording
	case UpdateFinished:
		return MsgFinished
	case UpdateError:
		return MsgError
	case UpdatePermissionDenied:
		return MsgPermissionDenied
	default:
		return ""
	}
}

// Update is one notification.
type Update struct {
	Kind      UpdateKind
	Message   string
	SessionID string
	Time      time.Time

	// Recording is set on the final update of a session.
	Recording *Recording
}

// Listener receives updates on the dispatcher goroutine, in emission order.
// OnUpdate should return quickly; a slow listener delays every other one.
type Listener interface {
	OnUpdate(Update)
}

// ListenerFunc adapts a function to [Listener].
type ListenerFunc func(Update)

// OnUpdate implements [Listener].
func (f ListenerFunc) OnUpdate(u Update) { f(u) }

// dispatcher fans updates out to listeners on its own goroutine. Emission
// never blocks the capture loop: when the queue is full the update is dropped.
type dispatcher struct {
	queue   chan Update
	metrics *observe.Metrics

	mu        sync.RWMutex
	listeners []subscription
	nextID    int
}

type subscription struct {
	id int
	l  Listener
}

func newDispatcher(size int, m *observe.Metrics) *dispatcher {
	return &dispatcher{queue: make(chan Update, size), metrics: m}
}

func (d *dispatcher) subscribe(l Listener) (unsubscribe func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	id := d.nextID
	d.nextID++
	d.listeners = append(d.listeners, subscription{id: id, l: l})
	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		for i, s := range d.listeners {
			if s.id == id {
				d.listeners = append(d.listeners[:i:i], d.listeners[i+1:]...)
				return
			}
		}
	}
}

func (d *dispatcher) emit(u Update) {
	if u.Message == "" {
		u.Message = u.Kind.Message()
	}
	if u.Time.IsZero() {
		u.Time = time.Now()
	}
	select {
	case d.queue <- u:
	default:
		slog.Warn("recorder: update queue full, dropping update", "kind", u.Kind, "session", u.SessionID)
		d.metrics.UpdatesDropped.Add(context.Background(), 1)
	}
}

// run delivers updates until stop is closed, then drains what is queued.
func (d *dispatcher) run(stop <-chan struct{}) {
	for {
		select {
		case u := <-d.queue:
			d.deliver(u)
		case <-stop:
			for {
				select {
				case u := <-d.queue:
					d.deliver(u)
				default:
					return
				}
			}
		}
	}
}

func (d *dispatcher) deliver(u Update) {
	d.mu.RLock()
	ls := make([]subscription, len(d.listeners))
	copy(ls, d.listeners)
	d.mu.RUnlock()

	for _, s := range ls {
		func() {
			defer func() {
				if r := recover(); r != nil {
					slog.Error("recorder: listener panicked", "kind", u.Kind, "panic", r)
				}
			}()
			s.l.OnUpdate(u)
		}()
	}
}
