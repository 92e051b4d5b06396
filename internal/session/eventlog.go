package session

import (
	"slices"
	"sync"

	"github.com/campusguess/battle-client/internal/engine"
	"github.com/campusguess/battle-client/pkg/types"
)

const (
	DefaultLogSize = 80
	// hardCapFactor bounds how far a stalled cursor can pin the log.
	hardCapFactor = 8
)

// EventLog is the bounded, append-only list of state messages. Sequence
// numbers start at 1 and keep growing across Reset.
type EventLog struct {
	mu       sync.Mutex
	capacity int
	hardCap  int
	lastSeq  uint64
	events   []engine.Event
	nextID   int
	cursors  map[int]*Cursor
}

func NewEventLog(capacity int) *EventLog {
	if capacity <= 0 {
		capacity = DefaultLogSize
	}
	return &EventLog{
		capacity: capacity,
		hardCap:  capacity * hardCapFactor,
		cursors:  make(map[int]*Cursor),
	}
}

func (l *EventLog) Append(msg types.BattleMessage) engine.Event {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.lastSeq++
	ev := engine.Event{Seq: l.lastSeq, Msg: msg}
	l.events = append(l.events, ev)
	l.evictLocked()
	return ev
}

// Since returns a copy of every retained event with Seq > cursor.
func (l *EventLog) Since(cursor uint64) []engine.Event {
	l.mu.Lock()
	defer l.mu.Unlock()

	i, _ := slices.BinarySearchFunc(l.events, cursor+1, func(ev engine.Event, seq uint64) int {
		switch {
		case ev.Seq < seq:
			return -1
		case ev.Seq > seq:
			return 1
		}
		return 0
	})
	return slices.Clone(l.events[i:])
}

func (l *EventLog) LastSeq() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastSeq
}

func (l *EventLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.events)
}

// Reset drops every event and moves all cursors to the end.
func (l *EventLog) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = nil
	for _, c := range l.cursors {
		c.pos = l.lastSeq
	}
}

// Track registers a cursor that pins unseen events against eviction until
// the log reaches its hard ceiling.
func (l *EventLog) Track() *Cursor {
	l.mu.Lock()
	defer l.mu.Unlock()

	var pos uint64
	if len(l.events) > 0 {
		pos = l.events[0].Seq - 1
	} else {
		pos = l.lastSeq
	}
	c := &Cursor{log: l, id: l.nextID, pos: pos}
	l.nextID++
	l.cursors[c.id] = c
	return c
}

func (l *EventLog) evictLocked() {
	for len(l.events) > l.capacity {
		oldest := l.events[0].Seq
		if len(l.events) <= l.hardCap && l.pinnedLocked(oldest) {
			return
		}
		for _, c := range l.cursors {
			if c.pos < oldest {
				c.pos = oldest
				c.lost = true
			}
		}
		l.events = slices.Delete(l.events, 0, 1)
	}
}

func (l *EventLog) pinnedLocked(seq uint64) bool {
	for _, c := range l.cursors {
		if c.pos < seq {
			return true
		}
	}
	return false
}

// Cursor marks how far one consumer has read.
type Cursor struct {
	log  *EventLog
	id   int
	pos  uint64
	lost bool
}

func (c *Cursor) Position() uint64 {
	c.log.mu.Lock()
	defer c.log.mu.Unlock()
	return c.pos
}

// Advance moves the cursor forward; it never moves back.
func (c *Cursor) Advance(seq uint64) {
	c.log.mu.Lock()
	defer c.log.mu.Unlock()
	if seq > c.pos {
		c.pos = seq
	}
	c.log.evictLocked()
}

// TakeLost reports whether events were evicted before this cursor saw
// them, and clears the flag.
func (c *Cursor) TakeLost() bool {
	c.log.mu.Lock()
	defer c.log.mu.Unlock()
	lost := c.lost
	c.lost = false
	return lost
}

func (c *Cursor) Release() {
	c.log.mu.Lock()
	defer c.log.mu.Unlock()
	delete(c.log.cursors, c.id)
	c.log.evictLocked()
}
