// Package sse implements a Server-Sent Events broker that streams sync
// progress to connected clients.
package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync/atomic"
	"time"
)

// Event represents an SSE event to broadcast.
type Event struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// Note event kinds.
const (
	NoteMaterialized = "materialized"
	NoteRenamed      = "renamed"
	NoteDeleted      = "deleted"
)

// VaultUpdated is the throttled event following note changes.
const VaultUpdated = "vault.updated"

// keepAlive is the interval of comment frames on idle streams.
const keepAlive = 30 * time.Second

// Publisher is what the sync and reconciliation engines report through.
type Publisher interface {
	Publish(event Event)
	PublishNoteEvent(kind string, id int64, path string)
}

// Nop is a Publisher that drops everything.
type Nop struct{}

func (Nop) Publish(Event) {}

func (Nop) PublishNoteEvent(string, int64, string) {}

var _ Publisher = (*Broker)(nil)

type noteEventReq struct {
	kind string
	id   int64
	path string
}

// Broker manages SSE client connections and broadcasts events.
//
// A single loop goroutine owns the client set, the frame sequence, the
// vault throttle and the retained pass results. Public methods talk to it
// over channels.
type Broker struct {
	vaultMin time.Duration

	subscribeCh   chan chan []byte
	unsubscribeCh chan chan []byte
	publishCh     chan Event
	noteEventCh   chan noteEventReq
	countReqCh    chan chan int

	stopCh  chan struct{}
	stopped chan struct{}
	closed  atomic.Bool
}

// NewBroker creates a new SSE broker. vault.updated is emitted at most once
// per throttle interval however many notes change.
func NewBroker(throttle time.Duration) *Broker {
	if throttle <= 0 {
		throttle = 2 * time.Second
	}

	b := &Broker{
		vaultMin:      throttle,
		subscribeCh:   make(chan chan []byte),
		unsubscribeCh: make(chan chan []byte),
		publishCh:     make(chan Event, 256),
		noteEventCh:   make(chan noteEventReq, 256),
		countReqCh:    make(chan chan int),
		stopCh:        make(chan struct{}),
		stopped:       make(chan struct{}),
	}

	go b.run()
	return b
}

// frame renders one SSE message with its sequence id.
func frame(seq uint64, event Event) ([]byte, bool) {
	payload, err := json.Marshal(event.Data)
	if err != nil {
		return nil, false
	}
	return []byte(fmt.Sprintf("id: %d\nevent: %s\ndata: %s\n\n", seq, event.Type, payload)), true
}

// retained reports whether the latest event of this type is replayed to
// clients that connect later.
func retained(eventType string) bool {
	return strings.HasSuffix(eventType, ".completed")
}

func (b *Broker) run() {
	defer close(b.stopped)

	clients := make(map[chan []byte]struct{})
	latest := make(map[string][]byte)
	var seq uint64
	var lastVault time.Time

	broadcast := func(event Event) {
		seq++
		raw, ok := frame(seq, event)
		if !ok {
			return
		}
		if retained(event.Type) {
			latest[event.Type] = raw
		}
		for ch := range clients {
			select {
			case ch <- raw:
			default:
				// Slow client; dropping keeps the loop responsive.
			}
		}
	}

	for {
		select {
		case <-b.stopCh:
			for ch := range clients {
				close(ch)
			}
			return

		case ch := <-b.subscribeCh:
			clients[ch] = struct{}{}
			types := make([]string, 0, len(latest))
			for t := range latest {
				types = append(types, t)
			}
			sort.Strings(types)
			for _, t := range types {
				select {
				case ch <- latest[t]:
				default:
				}
			}

		case ch := <-b.unsubscribeCh:
			if _, ok := clients[ch]; ok {
				delete(clients, ch)
				close(ch)
			}

		case event := <-b.publishCh:
			broadcast(event)

		case req := <-b.noteEventCh:
			switch req.kind {
			case NoteMaterialized, NoteRenamed, NoteDeleted:
				broadcast(Event{Type: "note." + req.kind, Data: map[string]any{"id": req.id, "path": req.path}})
			default:
				continue
			}

			if now := time.Now(); now.Sub(lastVault) >= b.vaultMin {
				lastVault = now
				broadcast(Event{Type: VaultUpdated, Data: map[string]string{}})
			}

		case resp := <-b.countReqCh:
			resp <- len(clients)
		}
	}
}

// Close stops the loop and closes all client channels.
func (b *Broker) Close() {
	if b.closed.CompareAndSwap(false, true) {
		close(b.stopCh)
	}
	<-b.stopped
}

// Subscribe adds a new client and returns its channel. The latest result of
// each completed pass type is queued on it first.
func (b *Broker) Subscribe() chan []byte {
	ch := make(chan []byte, 64)
	if b.closed.Load() {
		close(ch)
		return ch
	}

	select {
	case b.subscribeCh <- ch:
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

// Publish sends an event to all connected clients.
func (b *Broker) Publish(event Event) {
	if b.closed.Load() {
		return
	}
	select {
	case b.publishCh <- event:
	case <-b.stopped:
	}
}

// PublishNoteEvent publishes a note change and a throttled vault.updated event.
func (b *Broker) PublishNoteEvent(kind string, id int64, path string) {
	if b.closed.Load() {
		return
	}
	select {
	case b.noteEventCh <- noteEventReq{kind: kind, id: id, path: path}:
	case <-b.stopped:
	}
}

// ServeHTTP is the SSE endpoint handler (GET /api/events). Idle streams get
// a comment frame periodically so proxies keep them open.
func (b *Broker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	ticker := time.NewTicker(keepAlive)
	defer ticker.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, _ = w.Write([]byte(": ping\n\n"))
			flusher.Flush()
		case msg, ok := <-ch:
			if !ok {
				return
			}
			_, _ = w.Write(msg)
			flusher.Flush()
		}
	}
}
