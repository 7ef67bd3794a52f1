package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/aretw0/max/pkg/domain"
)

// event is one message of the stream, already encoded.
type event struct {
	typ  domain.EventType
	data []byte
}

// StreamManager fans federation events out to SSE subscribers. Slow
// subscribers lose messages rather than block the nodes emitting them.
type StreamManager struct {
	mu          sync.RWMutex
	subscribers map[chan event]struct{}
}

func NewStreamManager() *StreamManager {
	return &StreamManager{subscribers: make(map[chan event]struct{})}
}

// Subscribe registers a subscriber and returns its channel and a cancel func.
func (sm *StreamManager) Subscribe() (<-chan event, func()) {
	ch := make(chan event, 32)
	sm.mu.Lock()
	sm.subscribers[ch] = struct{}{}
	sm.mu.Unlock()

	return ch, func() {
		sm.mu.Lock()
		defer sm.mu.Unlock()
		if _, ok := sm.subscribers[ch]; ok {
			delete(sm.subscribers, ch)
			close(ch)
		}
	}
}

// Broadcast encodes v and sends it to every subscriber.
func (sm *StreamManager) Broadcast(typ domain.EventType, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	for ch := range sm.subscribers {
		select {
		case ch <- event{typ: typ, data: data}:
		default:
		}
	}
}

// Hooks returns lifecycle hooks that broadcast every event.
func (sm *StreamManager) Hooks() domain.LifecycleHooks {
	return domain.LifecycleHooks{
		OnTransition: func(_ context.Context, e *domain.TransitionEvent) { sm.Broadcast(domain.EventTransition, e) },
		OnRestart:    func(_ context.Context, e *domain.RestartEvent) { sm.Broadcast(domain.EventRestart, e) },
		OnSync:       func(_ context.Context, e *domain.SyncEvent) { sm.Broadcast(domain.EventSync, e) },
	}
}

// SubscribeEvents handles GET /events (SSE). ?types=transition,sync restricts
// the stream to the listed event types.
func (s *Server) SubscribeEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	var filter map[domain.EventType]bool
	if types := r.URL.Query().Get("types"); types != "" {
		filter = make(map[domain.EventType]bool)
		for _, t := range strings.Split(types, ",") {
			filter[domain.EventType(strings.TrimSpace(t))] = true
		}
	}

	ch, cancel := s.Streams.Subscribe()
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	fmt.Fprintf(w, "event: ping\ndata: connected\n\n")
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			if filter != nil && !filter[e.typ] {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", e.typ, e.data)
			flusher.Flush()
		}
	}
}
