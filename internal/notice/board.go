// Package notice keeps short-lived user notifications.
package notice

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

type Level string

const (
	LevelSuccess Level = "success"
	LevelError   Level = "error"
	LevelInfo    Level = "info"
)

const (
	DefaultTTL = 8 * time.Second
	DefaultMax = 50
)

type Notice struct {
	ID        string    `json:"id"`
	Level     Level     `json:"level"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Board holds notices until they expire or are dismissed. When full, the
// oldest notice is dropped.
type Board struct {
	mu    sync.Mutex
	ttl   time.Duration
	max   int
	items map[string]Notice
	now   func() time.Time
}

func NewBoard(ttl time.Duration, max int) *Board {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if max <= 0 {
		max = DefaultMax
	}
	return &Board{
		ttl:   ttl,
		max:   max,
		items: make(map[string]Notice),
		now:   time.Now,
	}
}

func (b *Board) Push(level Level, message string) Notice {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	b.expireLocked(now)
	for len(b.items) >= b.max {
		b.dropOldestLocked()
	}

	n := Notice{
		ID:        uuid.NewString(),
		Level:     level,
		Message:   message,
		CreatedAt: now,
		ExpiresAt: now.Add(b.ttl),
	}
	b.items[n.ID] = n
	return n
}

func (b *Board) Success(message string) Notice { return b.Push(LevelSuccess, message) }
func (b *Board) Error(message string) Notice   { return b.Push(LevelError, message) }
func (b *Board) Info(message string) Notice    { return b.Push(LevelInfo, message) }

// Active returns unexpired notices, oldest first.
func (b *Board) Active() []Notice {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.expireLocked(b.now())

	out := make([]Notice, 0, len(b.items))
	for _, n := range b.items {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Dismiss removes a notice and reports whether it was present.
func (b *Board) Dismiss(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.items[id]; !ok {
		return false
	}
	delete(b.items, id)
	return true
}

func (b *Board) expireLocked(now time.Time) {
	for id, n := range b.items {
		if !now.Before(n.ExpiresAt) {
			delete(b.items, id)
		}
	}
}

func (b *Board) dropOldestLocked() {
	var oldest string
	var at time.Time
	for id, n := range b.items {
		if oldest == "" || n.CreatedAt.Before(at) {
			oldest, at = id, n.CreatedAt
		}
	}
	delete(b.items, oldest)
}
