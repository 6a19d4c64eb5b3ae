// Package sse streams archive changes to browsers as Server-Sent Events.
package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/starford/clipshelf/internal/models"
)

// Event names written to the stream.
const (
	EventClipCreated    = "clip.created"
	EventClipUpdated    = "clip.updated"
	EventClipDeleted    = "clip.deleted"
	EventArchiveCleaned = "archive.cleaned"
	EventGroupsUpdated  = "groups.updated"
)

var eventNames = map[string]string{
	models.ClipCreated:    EventClipCreated,
	models.ClipUpdated:    EventClipUpdated,
	models.ClipDeleted:    EventClipDeleted,
	models.ArchiveCleaned: EventArchiveCleaned,
}

// ClipPayload is the data of clip.* events. Day is the local calendar day
// of the clip, the key of the date group it belongs to.
type ClipPayload struct {
	ID   int64    `json:"id"`
	Day  string   `json:"day"`
	Tags []string `json:"tags"`
}

// GroupsPayload names the date groups whose membership changed since the
// previous groups.updated. All replaces Days after the archive was cleaned.
type GroupsPayload struct {
	Days []string `json:"days,omitempty"`
	All  bool     `json:"all,omitempty"`
}

const keepAliveEvery = 25 * time.Second

// Broker fans clip events out to connected streams. Each clip event is sent
// at once; the days it touched are collected and announced in a single
// groups.updated once the window passed to NewBroker has elapsed.
type Broker struct {
	window time.Duration

	mu      sync.Mutex
	clients map[chan []byte]struct{}
	seq     uint64
	days    map[string]struct{}
	all     bool
	flush   *time.Timer // set while a groups.updated is scheduled
	closed  bool
}

// NewBroker returns a broker that coalesces group changes over window.
func NewBroker(window time.Duration) *Broker {
	if window <= 0 {
		window = 500 * time.Millisecond
	}
	return &Broker{
		window:  window,
		clients: make(map[chan []byte]struct{}),
		days:    make(map[string]struct{}),
	}
}

// send writes one frame to every client. The caller holds b.mu. A client
// whose buffer is full misses the frame.
func (b *Broker) send(name string, data any) {
	body, err := json.Marshal(data)
	if err != nil {
		return
	}
	b.seq++
	frame := []byte(fmt.Sprintf("id: %d\nevent: %s\ndata: %s\n\n", b.seq, name, body))
	for ch := range b.clients {
		select {
		case ch <- frame:
		default:
		}
	}
}

// PublishClipEvent streams ev and schedules a groups.updated for the day it
// touched. Its signature matches clipservice.EventFunc.
func (b *Broker) PublishClipEvent(ev models.ClipEvent) {
	name, ok := eventNames[ev.Kind]
	if !ok {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}

	if ev.Kind == models.ArchiveCleaned {
		b.send(name, struct{}{})
		b.all = true
		clear(b.days)
	} else {
		day := ev.CreatedAt.In(time.Local).Format(time.DateOnly)
		tags := ev.Tags
		if tags == nil {
			tags = []string{}
		}
		b.send(name, ClipPayload{ID: ev.ClipID, Day: day, Tags: tags})
		if !b.all {
			b.days[day] = struct{}{}
		}
	}
	if b.flush == nil {
		b.flush = time.AfterFunc(b.window, b.flushGroups)
	}
}

func (b *Broker) flushGroups() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.flush = nil
	if b.closed {
		return
	}
	p := GroupsPayload{All: b.all}
	if !b.all {
		for d := range b.days {
			p.Days = append(p.Days, d)
		}
		slices.Sort(p.Days)
	}
	b.send(EventGroupsUpdated, p)
	clear(b.days)
	b.all = false
}

// Subscribe registers a client. The channel is closed by Unsubscribe or Close.
func (b *Broker) Subscribe() chan []byte {
	ch := make(chan []byte, 64)
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch
	}
	b.clients[ch] = struct{}{}
	return ch
}

// Unsubscribe removes a client and closes its channel.
func (b *Broker) Unsubscribe(ch chan []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.clients[ch]; ok {
		delete(b.clients, ch)
		close(ch)
	}
}

// ClientCount returns the number of connected clients.
func (b *Broker) ClientCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.clients)
}

// Close drops every client and any pending groups.updated. Later calls are no-ops.
func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	if b.flush != nil {
		b.flush.Stop()
		b.flush = nil
	}
	for ch := range b.clients {
		close(ch)
	}
	clear(b.clients)
}

// ServeHTTP streams events to one client (GET /api/events) until it
// disconnects or the broker closes.
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

	ping := time.NewTicker(keepAliveEvery)
	defer ping.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ping.C:
			_, _ = w.Write([]byte(": ping\n\n"))
			flusher.Flush()
		case frame, ok := <-ch:
			if !ok {
				return
			}
			_, _ = w.Write(frame)
			flusher.Flush()
		}
	}
}
