package turn

import (
	"errors"
	"sync"
	"time"
)

// ErrTurnInProgress is returned when a conversation already has an active
// turn.
var ErrTurnInProgress = errors.New("turn already in progress for conversation")

type lockEntry struct {
	holder   string
	acquired time.Time
}

// Locker admits at most one active turn per conversation. Entries are
// removed on release so idle conversations hold no memory.
type Locker struct {
	mu    sync.Mutex
	locks map[string]lockEntry
}

// NewLocker creates an empty locker.
func NewLocker() *Locker {
	return &Locker{locks: make(map[string]lockEntry)}
}

// TryLock claims the conversation without waiting. The returned release
// func is safe to call more than once.
func (l *Locker) TryLock(conversationID, holder string) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, held := l.locks[conversationID]; held {
		return nil, ErrTurnInProgress
	}
	l.locks[conversationID] = lockEntry{holder: holder, acquired: time.Now()}

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.locks, conversationID)
			l.mu.Unlock()
		})
	}, nil
}

// Holder reports who holds the conversation and since when.
func (l *Locker) Holder(conversationID string) (string, time.Time, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.locks[conversationID]
	return e.holder, e.acquired, ok
}

// Active returns the number of conversations with a turn in progress.
func (l *Locker) Active() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
