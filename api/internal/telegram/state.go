package telegram

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	// limiterIdle is how long a chat's limiter survives without traffic.
	limiterIdle = 10 * time.Minute
	// noteTTL is how long a text note waits for the next photo.
	noteTTL = 30 * time.Minute
)

// ChatLimiter allows each chat a steady number of submissions per minute
// with a small burst. A nil limiter allows everything. Limiters of idle chats
// are dropped.
type ChatLimiter struct {
	every time.Duration
	burst int
	idle  time.Duration
	now   func() time.Time

	mu        sync.Mutex
	limiters  map[int64]*chatLimit
	lastSweep time.Time
}

type chatLimit struct {
	lim  *rate.Limiter
	seen time.Time
}

func NewChatLimiter(perMinute, burst int) *ChatLimiter {
	if perMinute <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = 1
	}
	every := time.Minute / time.Duration(perMinute)
	// an evicted limiter must already be full again
	idle := limiterIdle
	if refill := every * time.Duration(burst); refill > idle {
		idle = refill
	}
	return &ChatLimiter{
		every:    every,
		burst:    burst,
		idle:     idle,
		now:      time.Now,
		limiters: make(map[int64]*chatLimit),
	}
}

func (l *ChatLimiter) Allow(chatID int64) bool {
	if l == nil {
		return true
	}
	now := l.now()
	l.mu.Lock()
	if now.Sub(l.lastSweep) >= l.idle {
		for id, c := range l.limiters {
			if now.Sub(c.seen) >= l.idle {
				delete(l.limiters, id)
			}
		}
		l.lastSweep = now
	}
	c, ok := l.limiters[chatID]
	if !ok {
		c = &chatLimit{lim: rate.NewLimiter(rate.Every(l.every), l.burst)}
		l.limiters[chatID] = c
	}
	c.seen = now
	l.mu.Unlock()
	return c.lim.AllowN(now, 1)
}

func (l *ChatLimiter) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.limiters)
}

// noteBook holds the text note each chat sent for its next photo. The zero
// value is ready to use.
type noteBook struct {
	now func() time.Time

	mu    sync.Mutex
	notes map[int64]pendingNote
}

type pendingNote struct {
	text string
	at   time.Time
}

func (b *noteBook) clock() time.Time {
	if b.now != nil {
		return b.now()
	}
	return time.Now()
}

// put stores text for chatID and drops notes older than noteTTL.
func (b *noteBook) put(chatID int64, text string) {
	now := b.clock()
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.notes == nil {
		b.notes = make(map[int64]pendingNote)
	}
	for id, n := range b.notes {
		if now.Sub(n.at) >= noteTTL {
			delete(b.notes, id)
		}
	}
	b.notes[chatID] = pendingNote{text: text, at: now}
}

// take removes and returns the note for chatID unless it has expired.
func (b *noteBook) take(chatID int64) (string, bool) {
	now := b.clock()
	b.mu.Lock()
	defer b.mu.Unlock()
	n, ok := b.notes[chatID]
	if !ok {
		return "", false
	}
	delete(b.notes, chatID)
	if now.Sub(n.at) >= noteTTL {
		return "", false
	}
	return n.text, true
}

func (b *noteBook) size() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.notes)
}
