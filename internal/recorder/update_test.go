package recorder

import (
	"sync"
	"testing"

	"go.opentelemetry.io/otel/metric/noop"

	"github.com/MrWong99/earshot/internal/observe"
)

func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	m, err := observe.NewMetrics(noop.NewMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m
}

func TestDispatcher_OrderAndDrain(t *testing.T) {
	t.Parallel()
	d := newDispatcher(8, testMetrics(t))

	var mu sync.Mutex
	var got []UpdateKind
	d.subscribe(ListenerFunc(func(u Update) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, u.Kind)
	}))

	// Emit before the goroutine runs; everything must still arrive in order.
	want := []UpdateKind{UpdateRecording, UpdateFinished, UpdateRecording, UpdateError}
	for _, k := range want {
		d.emit(Update{Kind: k})
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		d.run(stop)
		close(done)
	}()
	close(stop)
	<-done

	mu.Lock()
	defer mu.Unlock()
	if len(got) != len(want) {
		t.Fatalf("delivered %d updates, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("update %d = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestDispatcher_DropsWhenFull(t *testing.T) {
	t.Parallel()
	d := newDispatcher(2, testMetrics(t))
	for range 5 {
		d.emit(Update{Kind: UpdateRecording})
	}
	if got := len(d.queue); got != 2 {
		t.Fatalf("queued = %d, want 2", got)
	}
}

func TestDispatcher_FillsMessageAndUnsubscribe(t *testing.T) {
	t.Parallel()
	d := newDispatcher(4, testMetrics(t))

	var a, b []Update
	unsubA := d.subscribe(ListenerFunc(func(u Update) { a = append(a, u) }))
	d.subscribe(ListenerFunc(func(u Update) { b = append(b, u) }))

	d.emit(Update{Kind: UpdatePermissionDenied})
	d.deliver(<-d.queue)
	unsubA()
	d.emit(Update{Kind: UpdateFinished})
	d.deliver(<-d.queue)

	if len(a) != 1 || len(b) != 2 {
		t.Fatalf("deliveries a=%d b=%d, want 1 and 2", len(a), len(b))
	}
	if a[0].Message != MsgPermissionDenied {
		t.Errorf("message = %q, want %q", a[0].Message, MsgPermissionDenied)
	}
	if a[0].Time.IsZero() {
		t.Error("update time not set")
	}
}

func TestDispatcher_ListenerPanicIsContained(t *testing.T) {
	t.Parallel()
	d := newDispatcher(1, testMetrics(t))
	var reached bool
	d.subscribe(ListenerFunc(func(Update) { panic("bad listener") }))
	d.subscribe(ListenerFunc(func(Update) { reached = true }))
	d.deliver(Update{Kind: UpdateRecording})
	if !reached {
		t.Error("second listener not called after first panicked")
	}
}
