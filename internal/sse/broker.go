// Package sse streams run lifecycle and extraction progress as Server-Sent Events.
package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"
)

// Event is one run notification.
type Event struct {
	Type  string `json:"type"`
	RunID string `json:"run_id,omitempty"`
	Data  any    `json:"data"`
}

// Progress describes one finished item of a running batch.
type Progress struct {
	RunID    string `json:"run_id"`
	Stage    string `json:"stage"`
	Done     int    `json:"done"`
	Total    int    `json:"total"`
	Filename string `json:"filename"`
	Outcome  string `json:"outcome"`
}

// Aggregate is the payload of run.progress events.
type Aggregate struct {
	RunID string `json:"run_id"`
	Stage string `json:"stage"`
	Done  int    `json:"done"`
	Total int    `json:"total"`
}

// Event types.
const (
	TypeItem     = "run.item"
	TypeProgress = "run.progress"
	TypeFinished = "run.finished"
)

const clientBuffer = 64

type subscriber struct {
	ch    chan []byte
	runID string
}

// Broker fans run events out to SSE clients.
//
// A single loop goroutine owns the client set, the event sequence and the
// per-stage progress state; public methods talk to it over channels.
type Broker struct {
	progressMin time.Duration
	heartbeat   time.Duration

	subscribeCh   chan subscriber
	unsubscribeCh chan chan []byte
	publishCh     chan Event
	progressCh    chan Progress
	countReqCh    chan chan int

	stopCh  chan struct{}
	stopped chan struct{}
	closed  atomic.Bool
}

// Option configures a Broker.
type Option func(*Broker)

// WithHeartbeat sends a comment line to every client at the given interval.
func WithHeartbeat(d time.Duration) Option {
	return func(b *Broker) { b.heartbeat = d }
}

// NewBroker starts a broker. run.progress events for one run stage are sent at
// most once per throttle interval, except the final one.
func NewBroker(throttle time.Duration, opts ...Option) *Broker {
	if throttle <= 0 {
		throttle = 2 * time.Second
	}

	b := &Broker{
		progressMin:   throttle,
		subscribeCh:   make(chan subscriber),
		unsubscribeCh: make(chan chan []byte),
		publishCh:     make(chan Event, 256),
		progressCh:    make(chan Progress, 256),
		countReqCh:    make(chan chan int),
		stopCh:        make(chan struct{}),
		stopped:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}

	go b.run()
	return b
}

// loop is the state owned by the broker goroutine.
type loop struct {
	clients  map[chan []byte]string
	seq      uint64
	latest   map[string]Aggregate
	lastSent map[string]time.Time
}

func (l *loop) frame(e Event) []byte {
	payload, err := json.Marshal(e.Data)
	if err != nil {
		return nil
	}
	l.seq++
	return []byte(fmt.Sprintf("id: %d\nevent: %s\ndata: %s\n\n", l.seq, e.Type, payload))
}

func send(ch chan []byte, msg []byte) {
	select {
	case ch <- msg:
	default:
		// Slow client: drop rather than stall every run.
	}
}

func (l *loop) broadcast(e Event) {
	msg := l.frame(e)
	if msg == nil {
		return
	}
	for ch, runID := range l.clients {
		if runID == "" || runID == e.RunID {
			send(ch, msg)
		}
	}
}

// snapshot replays the current progress of unfinished runs to a new client.
func (l *loop) snapshot(s subscriber) {
	for _, agg := range l.latest {
		if s.runID != "" && s.runID != agg.RunID {
			continue
		}
		if msg := l.frame(Event{Type: TypeProgress, RunID: agg.RunID, Data: agg}); msg != nil {
			send(s.ch, msg)
		}
	}
}

func (l *loop) progress(p Progress, throttle time.Duration) {
	l.broadcast(Event{Type: TypeItem, RunID: p.RunID, Data: p})

	key := p.RunID + "/" + p.Stage
	agg := Aggregate{RunID: p.RunID, Stage: p.Stage, Done: p.Done, Total: p.Total}
	last := p.Done >= p.Total
	now := time.Now()
	if last || now.Sub(l.lastSent[key]) >= throttle {
		l.lastSent[key] = now
		l.broadcast(Event{Type: TypeProgress, RunID: p.RunID, Data: agg})
	}
	if last {
		delete(l.latest, key)
		delete(l.lastSent, key)
		return
	}
	l.latest[key] = agg
}

func (l *loop) forget(runID string) {
	for key, agg := range l.latest {
		if agg.RunID == runID {
			delete(l.latest, key)
			delete(l.lastSent, key)
		}
	}
}

func (b *Broker) run() {
	defer close(b.stopped)

	l := &loop{
		clients:  make(map[chan []byte]string),
		latest:   make(map[string]Aggregate),
		lastSent: make(map[string]time.Time),
	}

	var tick <-chan time.Time
	if b.heartbeat > 0 {
		t := time.NewTicker(b.heartbeat)
		defer t.Stop()
		tick = t.C
	}
	ping := []byte(": ping\n\n")

	for {
		select {
		case <-b.stopCh:
			for ch := range l.clients {
				close(ch)
			}
			return

		case s := <-b.subscribeCh:
			l.clients[s.ch] = s.runID
			l.snapshot(s)

		case ch := <-b.unsubscribeCh:
			if _, ok := l.clients[ch]; ok {
				delete(l.clients, ch)
				close(ch)
			}

		case e := <-b.publishCh:
			l.broadcast(e)
			if e.Type == TypeFinished {
				l.forget(e.RunID)
			}

		case p := <-b.progressCh:
			l.progress(p, b.progressMin)

		case <-tick:
			for ch := range l.clients {
				send(ch, ping)
			}

		case resp := <-b.countReqCh:
			resp <- len(l.clients)
		}
	}
}

// Close stops the broker and closes every client channel.
func (b *Broker) Close() {
	if b.closed.CompareAndSwap(false, true) {
		close(b.stopCh)
	}
	<-b.stopped
}

// Subscribe registers a client. An empty runID receives events of every run.
// The client first receives the current progress of unfinished runs.
func (b *Broker) Subscribe(runID string) chan []byte {
	ch := make(chan []byte, clientBuffer)
	if b.closed.Load() {
		close(ch)
		return ch
	}

	select {
	case b.subscribeCh <- subscriber{ch: ch, runID: runID}:
	case <-b.stopped:
		close(ch)
	}
	return ch
}

// Unsubscribe removes a client and closes its channel.
func (b *Broker) Unsubscribe(ch chan []byte) {
	if b.closed.Load() {
		return
	}
	select {
	case b.unsubscribeCh <- ch:
	case <-b.stopped:
	}
}

// ClientCount returns the number of connected clients.
func (b *Broker) ClientCount() int {
	if b.closed.Load() {
		return 0
	}

	resp := make(chan int, 1)
	select {
	case b.countReqCh <- resp:
	case <-b.stopped:
		return 0
	}

	select {
	case n := <-resp:
		return n
	case <-b.stopped:
		return 0
	}
}

// Publish sends an event to the matching clients.
func (b *Broker) Publish(e Event) {
	if b.closed.Load() {
		return
	}
	select {
	case b.publishCh <- e:
	case <-b.stopped:
	}
}

// PublishRun announces a run state change such as run.started or run.finished.
func (b *Broker) PublishRun(kind, runID string, data any) {
	b.Publish(Event{Type: kind, RunID: runID, Data: data})
}

// PublishProgress publishes a run.item event and a throttled run.progress event.
func (b *Broker) PublishProgress(p Progress) {
	if b.closed.Load() {
		return
	}
	select {
	case b.progressCh <- p:
	case <-b.stopped:
	}
}

// ServeHTTP streams events to one client. The optional "run" query parameter
// limits the stream to a single run.
func (b *Broker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch := b.Subscribe(r.URL.Query().Get("run"))
	defer b.Unsubscribe(ch)

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			_, _ = w.Write(msg)
			flusher.Flush()
		}
	}
}
