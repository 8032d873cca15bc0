package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNamedLockAcquireRelease(t *testing.T) {
	l := NewNamedLock("test")

	assert.NoError(t, l.Acquire(10*time.Millisecond))

	// Contended acquire times out with the sentinel error
	err := l.Acquire(20 * time.Millisecond)
	assert.ErrorIs(t, err, ErrLockTimeout)

	l.Release()
	assert.NoError(t, l.Acquire(10*time.Millisecond))
	l.Release()
}

func TestNamedLockReleaseUnheldPanics(t *testing.T) {
	l := NewNamedLock("test")
	assert.Panics(t, func() { l.Release() })
}
