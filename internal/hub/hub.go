// Package hub routes change events to connected clients based on their
// declared channel subscriptions. Delivery is best-effort and
// at-most-once per connection; clients that miss events recover via a
// full resync on reconnect, never via replay.
package hub

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"
)

// Broadcast channels a client can subscribe to.
const (
	ChannelIncidents     = "incidents"
	ChannelAlerts        = "alerts"
	ChannelCameras       = "cameras"
	ChannelCitizenAlerts = "citizen_alerts"
)

// Event types carried in the envelope. The hub treats these as opaque;
// the split between new_ and _update types exists purely for consumer
// convenience.
const (
	EventNewIncident      = "new_incident"
	EventIncidentUpdate   = "incident_update"
	EventNewAlert         = "new_alert"
	EventAlertUpdate      = "alert_update"
	EventReportUpdate     = "report_update"
	EventNewMilestone     = "new_milestone"
	EventMilestoneUpdate  = "milestone_update"
	EventMilestoneDeleted = "milestone_deleted"
)

// KnownChannel reports whether name is a subscribable channel.
func KnownChannel(name string) bool {
	switch name {
	case ChannelIncidents, ChannelAlerts, ChannelCameras, ChannelCitizenAlerts:
		return true
	}
	return false
}

// Event is the envelope published for every committed change. Payload
// is the full authoritative record for the entity, not a diff.
type Event struct {
	Type       string          `json:"type"`
	Channel    string          `json:"channel"`
	EntityID   string          `json:"entity_id"`
	Payload    json.RawMessage `json:"payload"`
	ServerTime time.Time       `json:"server_time"`
}

type subscriber struct {
	ch       chan Event
	channels map[string]bool
}

// Hub fans change events out to subscribers of the owning channel.
type Hub struct {
	mu     sync.RWMutex
	subs   map[uint64]*subscriber
	nextID atomic.Uint64
	closed bool
}

// New creates an empty Hub.
func New() *Hub {
	return &Hub{subs: make(map[uint64]*subscriber)}
}

// subscriberBuffer bounds how far a slow client may fall behind before
// it starts losing events. Lost events are recovered by resync.
const subscriberBuffer = 64

// Subscribe registers a client for the given channels and returns its
// id and delivery channel. Unknown channel names are ignored.
func (h *Hub) Subscribe(channels []string) (uint64, <-chan Event) {
	id := h.nextID.Add(1)
	sub := &subscriber{
		ch:       make(chan Event, subscriberBuffer),
		channels: channelSet(channels),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		close(sub.ch)
		return id, sub.ch
	}
	h.subs[id] = sub
	h.mu.Unlock()

	return id, sub.ch
}

// SetChannels replaces a client's channel subscriptions.
func (h *Hub) SetChannels(id uint64, channels []string) {
	h.mu.Lock()
	if sub, ok := h.subs[id]; ok {
		sub.channels = channelSet(channels)
	}
	h.mu.Unlock()
}

// Unsubscribe removes a client and closes its delivery channel.
func (h *Hub) Unsubscribe(id uint64) {
	h.mu.Lock()
	if sub, ok := h.subs[id]; ok {
		close(sub.ch)
		delete(h.subs, id)
	}
	h.mu.Unlock()
}

// Publish fans the event out to every subscriber of its channel.
// Subscribers with a full buffer are skipped, not blocked on.
func (h *Hub) Publish(ev Event) {
	if ev.ServerTime.IsZero() {
		ev.ServerTime = time.Now().UTC()
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, sub := range h.subs {
		if !sub.channels[ev.Channel] {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
			// Slow subscriber; it will catch up on resync.
		}
	}
}

// SubscriberCount returns the number of connected clients.
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Close drops all subscribers and closes their channels. Publish after
// Close is a no-op.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for id, sub := range h.subs {
		close(sub.ch)
		delete(h.subs, id)
	}
}

func channelSet(channels []string) map[string]bool {
	set := make(map[string]bool, len(channels))
	for _, c := range channels {
		if KnownChannel(c) {
			set[c] = true
		}
	}
	return set
}
