package stream

import (
	"encoding/json"
	"sync"
)

type subscriber chan []byte

// Hub fans packets out to per-turn subscriber queues as JSON. Sends never
// block: a subscriber that falls behind loses packets rather than stalling
// the engine.
type Hub struct {
	mu   sync.RWMutex
	subs map[string]map[subscriber]struct{} // turnID -> set of subscribers
}

func NewHub() *Hub { return &Hub{subs: map[string]map[subscriber]struct{}{}} }

// Subscribe returns a channel of JSON-encoded packets for one turn. The
// caller must call the returned unsubscribe func when done.
func (h *Hub) Subscribe(turnID string) (<-chan []byte, func()) {
	ch := make(subscriber, 64)
	h.mu.Lock()
	set := h.subs[turnID]
	if set == nil {
		set = map[subscriber]struct{}{}
		h.subs[turnID] = set
	}
	set[ch] = struct{}{}
	h.mu.Unlock()
	unsubscribe := func() {
		h.mu.Lock()
		if set, ok := h.subs[turnID]; ok {
			delete(set, ch)
			if len(set) == 0 {
				delete(h.subs, turnID)
			}
		}
		close(ch)
		h.mu.Unlock()
	}
	return ch, unsubscribe
}

// Publish sends one packet to every subscriber of a turn.
func (h *Hub) Publish(turnID string, p Packet) {
	b, err := json.Marshal(p)
	if err != nil {
		return
	}
	h.mu.RLock()
	for ch := range h.subs[turnID] {
		select {
		case ch <- b:
		default:
		}
	}
	h.mu.RUnlock()
}

// Emitter binds the hub to one turn.
func (h *Hub) Emitter(turnID string) Emitter {
	return EmitterFunc(func(p Packet) { h.Publish(turnID, p) })
}
