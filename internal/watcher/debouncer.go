package watcher

import (
	"sync"
	"sync/atomic"
	"time"
)

// DefaultDebounceWindow is the quiet period a path needs before its event fires.
const DefaultDebounceWindow = 100 * time.Millisecond

// DefaultQueueSize bounds the raw events waiting for the debounce loop.
const DefaultQueueSize = 1000

// Debouncer coalesces bursts of events per path. Each path has at most one
// pending timer; a newer event for the path replaces the pending one and
// restarts its timer. When a timer fires with nothing newer pending, exactly
// one event is emitted.
//
// A single goroutine owns the pending map. Push and TryPush only enqueue, so
// a slow consumer of Events never blocks the producer beyond the queue.
type Debouncer struct {
	window time.Duration
	in     chan ChangeEvent
	fire   chan firing
	out    chan ChangeEvent
	pause  chan bool

	done     chan struct{}
	exited   chan struct{}
	stopOnce sync.Once
	pending  atomic.Int64
}

type firing struct {
	path string
	gen  uint64
}

type pendingEvent struct {
	event ChangeEvent
	timer *time.Timer
	gen   uint64
}

// NewDebouncer starts a debouncer. A window <= 0 uses DefaultDebounceWindow
// and a queueSize <= 0 uses DefaultQueueSize.
func NewDebouncer(window time.Duration, queueSize int) *Debouncer {
	if window <= 0 {
		window = DefaultDebounceWindow
	}
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	d := &Debouncer{
		window: window,
		in:     make(chan ChangeEvent, queueSize),
		fire:   make(chan firing),
		out:    make(chan ChangeEvent),
		pause:  make(chan bool),
		done:   make(chan struct{}),
		exited: make(chan struct{}),
	}
	go d.run()
	return d
}

// Push enqueues an event, waiting for room in the queue. It returns false
// once the debouncer is stopped.
func (d *Debouncer) Push(ev ChangeEvent) bool {
	select {
	case <-d.done:
		return false
	default:
	}
	select {
	case d.in <- ev:
		return true
	case <-d.done:
		return false
	}
}

// TryPush enqueues an event without waiting. It returns false when the
// queue is full or the debouncer is stopped.
func (d *Debouncer) TryPush(ev ChangeEvent) bool {
	select {
	case <-d.done:
		return false
	default:
	}
	select {
	case d.in <- ev:
		return true
	default:
		return false
	}
}

// Events delivers debounced events. The channel is closed after Stop.
func (d *Debouncer) Events() <-chan ChangeEvent {
	return d.out
}

// Pending returns the number of paths waiting for their timer.
func (d *Debouncer) Pending() int {
	return int(d.pending.Load())
}

// Pause holds fired events instead of delivering them. Held events still
// coalesce per path.
func (d *Debouncer) Pause() {
	d.setPaused(true)
}

// Resume delivers every held event and returns to normal operation.
func (d *Debouncer) Resume() {
	d.setPaused(false)
}

func (d *Debouncer) setPaused(p bool) {
	select {
	case d.pause <- p:
	case <-d.done:
	}
}

// Stop ends the debounce loop. Pending timers are abandoned and their
// events discarded. Stop is idempotent and waits for the loop to exit.
func (d *Debouncer) Stop() {
	d.stopOnce.Do(func() {
		close(d.done)
	})
	<-d.exited
}

func (d *Debouncer) run() {
	defer close(d.exited)
	defer close(d.out)

	pending := make(map[string]*pendingEvent)
	// Fired events wait here until the consumer takes them or Resume is called.
	ready := make(map[string]ChangeEvent)
	var order []string
	paused := false
	var gen uint64

	defer func() {
		for _, p := range pending {
			p.timer.Stop()
		}
		d.pending.Add(-int64(len(pending)))
		pendingGauge.Sub(float64(len(pending)))
	}()

	for {
		// out stays nil, and its case disabled, while there is nothing to deliver.
		var out chan ChangeEvent
		var next ChangeEvent
		if !paused && len(order) > 0 {
			out = d.out
			next = ready[order[0]]
		}

		select {
		case <-d.done:
			return

		case p := <-d.pause:
			paused = p

		case out <- next:
			eventsTotal.WithLabelValues(next.Kind.String()).Inc()
			delete(ready, order[0])
			order = order[1:]

		case ev := <-d.in:
			gen++
			p, ok := pending[ev.Path]
			if ok {
				p.timer.Stop()
				p.event = supersede(p.event, ev)
			} else {
				p = &pendingEvent{event: ev}
				pending[ev.Path] = p
				d.pending.Add(1)
				pendingGauge.Inc()
			}
			p.gen = gen
			p.timer = d.schedule(ev.Path, gen)

		case f := <-d.fire:
			p, ok := pending[f.path]
			if !ok || p.gen != f.gen {
				// A newer event replaced this timer after it had already fired.
				continue
			}
			delete(pending, f.path)
			d.pending.Add(-1)
			pendingGauge.Dec()

			if prev, ok := ready[f.path]; ok {
				ready[f.path] = supersede(prev, p.event)
			} else {
				ready[f.path] = p.event
				order = append(order, f.path)
			}
		}
	}
}

func (d *Debouncer) schedule(path string, gen uint64) *time.Timer {
	return time.AfterFunc(d.window, func() {
		select {
		case d.fire <- firing{path: path, gen: gen}:
		case <-d.done:
		}
	})
}
