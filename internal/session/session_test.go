package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpdateAndLookup(t *testing.T) {
	tbl := NewTable()
	s, err := tbl.Update("/tmp/a.go", func(s *BufferSession) {
		s.Handle = 3
		s.Initialized = true
		s.Attached = true
		s.Revision = 4
	})
	require.NoError(t, err)
	assert.Equal(t, "/tmp/a.go", s.Path)

	got, ok := tbl.Get("/tmp/a.go")
	require.True(t, ok)
	assert.Equal(t, int64(4), got.Revision)

	byHandle, ok := tbl.ByHandle(3)
	require.True(t, ok)
	assert.Equal(t, "/tmp/a.go", byHandle.Path)

	assert.Equal(t, []string{"/tmp/a.go"}, tbl.Paths())

	tbl.Delete("/tmp/a.go")
	_, ok = tbl.Get("/tmp/a.go")
	assert.False(t, ok)
	_, ok = tbl.ByHandle(3)
	assert.False(t, ok)
}

func TestAttachedRequiresInitialized(t *testing.T) {
	tbl := NewTable()
	_, err := tbl.Update("/tmp/a.go", func(s *BufferSession) {
		s.Handle = 1
		s.Attached = true
	})
	require.ErrorIs(t, err, ErrNotInitialized)
	_, ok := tbl.Get("/tmp/a.go")
	assert.False(t, ok)
}

func TestRevisionMonotonicWhileAttached(t *testing.T) {
	tbl := NewTable()
	_, err := tbl.Update("/tmp/a.go", func(s *BufferSession) {
		s.Handle = 1
		s.Initialized = true
		s.Attached = true
		s.Revision = 10
	})
	require.NoError(t, err)

	_, err = tbl.Update("/tmp/a.go", func(s *BufferSession) { s.Revision = 9 })
	require.ErrorIs(t, err, ErrRevisionRegressed)

	// a detach lets the next registration start over
	_, err = tbl.Update("/tmp/a.go", func(s *BufferSession) { s.Attached = false })
	require.NoError(t, err)
	_, err = tbl.Update("/tmp/a.go", func(s *BufferSession) {
		s.Revision = 2
		s.Attached = true
	})
	require.NoError(t, err)
}

func TestHandleReassignment(t *testing.T) {
	tbl := NewTable()
	_, err := tbl.Update("/tmp/a.go", func(s *BufferSession) { s.Handle = 1; s.Initialized = true })
	require.NoError(t, err)
	_, err = tbl.Update("/tmp/a.go", func(s *BufferSession) { s.Handle = 7 })
	require.NoError(t, err)

	_, ok := tbl.ByHandle(1)
	assert.False(t, ok)
	_, ok = tbl.ByHandle(7)
	assert.True(t, ok)
}

func TestAcquireSerializesOperations(t *testing.T) {
	tbl := NewTable()
	release, err := tbl.Acquire(context.Background(), "/tmp/a.go")
	require.NoError(t, err)

	acquired := make(chan struct{})
	go func() {
		r, err := tbl.Acquire(context.Background(), "/tmp/a.go")
		if err == nil {
			r()
		}
		close(acquired)
	}()

	select {
	case <-acquired:
		t.Fatal("second operation ran while the first was in flight")
	case <-time.After(20 * time.Millisecond):
	}

	release()
	release()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second operation never ran")
	}
}

func TestAcquireHonorsContext(t *testing.T) {
	tbl := NewTable()
	release, err := tbl.Acquire(context.Background(), "/tmp/a.go")
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = tbl.Acquire(ctx, "/tmp/a.go")
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestAcquireDoesNotPublishPlaceholder(t *testing.T) {
	tbl := NewTable()
	release, err := tbl.Acquire(context.Background(), "/tmp/b.go")
	require.NoError(t, err)
	release()

	_, ok := tbl.Get("/tmp/b.go")
	assert.False(t, ok)
	assert.Empty(t, tbl.Paths())
}

func TestMarkAllLost(t *testing.T) {
	tbl := NewTable()
	for i, p := range []string{"/tmp/a.go", "/tmp/b.go"} {
		h := i + 1
		_, err := tbl.Update(p, func(s *BufferSession) {
			s.Handle = h
			s.Initialized = true
			s.Attached = true
		})
		require.NoError(t, err)
	}
	tbl.MarkAllLost()
	for _, p := range tbl.Paths() {
		s, ok := tbl.Get(p)
		require.True(t, ok)
		assert.False(t, s.Attached)
		assert.True(t, s.Lost)
	}
}
