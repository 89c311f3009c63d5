package app

import (
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"

	"interview-battle-service/internal/domain"
)

// Subscription is one connection's view of a session room. The channel is
// closed when the connection is dropped by the gateway (overflow or
// supersede) or unsubscribed.
type Subscription struct {
	SessionID    string
	ConnectionID string
	ch           chan domain.Event
}

// Events returns the delivery channel.
func (s *Subscription) Events() <-chan domain.Event {
	return s.ch
}

// Gateway fans session events out to every subscribed connection. Sends never
// block: a connection whose buffer is full is dropped and its channel closed,
// which the transport treats as a disconnect.
type Gateway struct {
	mu      sync.RWMutex
	rooms   map[string]map[string]*Subscription
	buffer  int
	dropped atomic.Uint64
}

func NewGateway(buffer int) *Gateway {
	if buffer <= 0 {
		buffer = 64
	}
	return &Gateway{
		rooms:  make(map[string]map[string]*Subscription),
		buffer: buffer,
	}
}

// Subscribe registers a connection in a session room. A previous
// subscription for the same connection is closed.
func (g *Gateway) Subscribe(sessionID, connectionID string) *Subscription {
	sub := &Subscription{
		SessionID:    sessionID,
		ConnectionID: connectionID,
		ch:           make(chan domain.Event, g.buffer),
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	room, ok := g.rooms[sessionID]
	if !ok {
		room = make(map[string]*Subscription)
		g.rooms[sessionID] = room
	}
	if prev, ok := room[connectionID]; ok {
		close(prev.ch)
	}
	room[connectionID] = sub
	return sub
}

// Unsubscribe removes the subscription if it is still registered.
func (g *Gateway) Unsubscribe(sub *Subscription) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.removeLocked(sub)
}

// Disconnect drops a connection from a room, closing its channel.
func (g *Gateway) Disconnect(sessionID, connectionID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if sub, ok := g.rooms[sessionID][connectionID]; ok {
		g.removeLocked(sub)
	}
}

// Publish delivers ev to its room, honoring Target and Exclude.
func (g *Gateway) Publish(ev domain.Event) {
	var overflow []*Subscription

	g.mu.RLock()
	room := g.rooms[ev.SessionID]
	if ev.Target != "" {
		if sub, ok := room[ev.Target]; ok && !g.trySend(sub, ev) {
			overflow = append(overflow, sub)
		}
	} else {
		for connID, sub := range room {
			if connID == ev.Exclude {
				continue
			}
			if !g.trySend(sub, ev) {
				overflow = append(overflow, sub)
			}
		}
	}
	g.mu.RUnlock()

	if len(overflow) == 0 {
		return
	}
	g.mu.Lock()
	for _, sub := range overflow {
		if g.removeLocked(sub) {
			g.dropped.Add(1)
			log.Warn().
				Str("session_id", sub.SessionID).
				Str("connection_id", sub.ConnectionID).
				Str("event_type", string(ev.Type)).
				Msg("connection send buffer full, dropping connection")
		}
	}
	g.mu.Unlock()
}

func (g *Gateway) trySend(sub *Subscription, ev domain.Event) bool {
	select {
	case sub.ch <- ev:
		return true
	default:
		return false
	}
}

func (g *Gateway) removeLocked(sub *Subscription) bool {
	room, ok := g.rooms[sub.SessionID]
	if !ok || room[sub.ConnectionID] != sub {
		return false
	}
	delete(room, sub.ConnectionID)
	close(sub.ch)
	if len(room) == 0 {
		delete(g.rooms, sub.SessionID)
	}
	return true
}

// RoomSize returns the number of connections subscribed to a session.
func (g *Gateway) RoomSize(sessionID string) int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.rooms[sessionID])
}

// GatewayStats summarizes live fan-out state.
type GatewayStats struct {
	Connections int    `json:"connections"`
	Rooms       int    `json:"rooms"`
	Dropped     uint64 `json:"dropped"`
}

func (g *Gateway) Stats() GatewayStats {
	g.mu.RLock()
	defer g.mu.RUnlock()
	total := 0
	for _, room := range g.rooms {
		total += len(room)
	}
	return GatewayStats{Connections: total, Rooms: len(g.rooms), Dropped: g.dropped.Load()}
}
