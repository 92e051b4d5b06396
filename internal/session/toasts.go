package session

import (
	"time"

	"github.com/google/uuid"
)

type Level string

const (
	LevelInfo  Level = "info"
	LevelError Level = "error"
)

const (
	DefaultToastTTL   = 4500 * time.Millisecond
	DefaultToastLimit = 4
)

type Toast struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	Level     Level     `json:"level"`
	CreatedAt time.Time `json:"createdAt"`
}

// toastList holds newest first. Expired toasts are dropped lazily on read.
type toastList struct {
	items []Toast
	ttl   time.Duration
	limit int
}

func (l *toastList) push(now time.Time, text string, level Level) Toast {
	t := Toast{ID: uuid.NewString(), Text: text, Level: level, CreatedAt: now}
	l.items = append([]Toast{t}, l.items...)
	if len(l.items) > l.limit {
		l.items = l.items[:l.limit]
	}
	return t
}

func (l *toastList) active(now time.Time) []Toast {
	kept := l.items[:0]
	for _, t := range l.items {
		if now.Sub(t.CreatedAt) < l.ttl {
			kept = append(kept, t)
		}
	}
	l.items = kept
	return append([]Toast(nil), kept...)
}

func (l *toastList) dismiss(id string) bool {
	for i, t := range l.items {
		if t.ID == id {
			l.items = append(l.items[:i], l.items[i+1:]...)
			return true
		}
	}
	return false
}
