package services

import (
	"log"
	"time"
)

// Lock acquisition timeouts. Case-id allocation waits longer because it
// scans the whole cases table while held; ingestion keeps its critical
// section short.
const (
	AllocationLockTimeout = 10 * time.Second
	IngestLockTimeout     = 5 * time.Second
)

// NamedLock is a bounded-wait in-process mutex. Acquire fails with
// ErrLockTimeout instead of blocking indefinitely; failures are terminal for
// the attempt.
type NamedLock struct {
	name string
	ch   chan struct{}
}

// NewNamedLock creates an unlocked NamedLock.
func NewNamedLock(name string) *NamedLock {
	l := &NamedLock{name: name, ch: make(chan struct{}, 1)}
	l.ch <- struct{}{}
	return l
}

// Acquire takes the lock, waiting at most timeout.
func (l *NamedLock) Acquire(timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-l.ch:
		return nil
	case <-timer.C:
		log.Printf("[WARNING] lock %s not acquired within %s", l.name, timeout)
		return ErrLockTimeout
	}
}

// Release returns the lock. Releasing an unheld lock panics, which is a
// programming error, not a runtime condition.
func (l *NamedLock) Release() {
	select {
	case l.ch <- struct{}{}:
	default:
		panic("lock " + l.name + " released while not held")
	}
}
