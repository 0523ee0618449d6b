package util

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/oklog/ulid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewULID_IsLowercaseAndSortable(t *testing.T) {
	previous := NewULID()
	for i := 0; i < 1000; i++ {
		id := NewULID()
		assert.Len(t, id, 26)
		assert.Equal(t, strings.ToLower(id), id)
		assert.Greater(t, id, previous)
		previous = id
	}
}

func TestNewULID_Concurrent(t *testing.T) {
	const goroutines = 10
	const perGoroutine = 100
	ids := make(chan string, goroutines*perGoroutine)
	wg := sync.WaitGroup{}
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perGoroutine; j++ {
				ids <- NewULID()
			}
		}()
	}
	wg.Wait()
	close(ids)

	seen := map[string]bool{}
	for id := range ids {
		assert.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
	assert.Len(t, seen, goroutines*perGoroutine)
}

func TestNewULIDAt_EncodesTime(t *testing.T) {
	at := time.Date(2024, 3, 7, 10, 0, 0, 0, time.UTC)
	id := NewULIDAt(at)

	parsed, err := ulid.Parse(strings.ToUpper(id))
	require.NoError(t, err)
	assert.Equal(t, ulid.Timestamp(at), parsed.Time())
	assert.Less(t, id, NewULIDAt(at.Add(time.Millisecond)))
}
