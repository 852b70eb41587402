package id

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateWithPrefix(t *testing.T) {
	gen := NewGenerator()

	for _, prefix := range []string{TerminalPrefix, ViewerPrefix, SubscriberPrefix, RequestPrefix} {
		got := gen.GenerateWithPrefix(prefix)
		assert.True(t, strings.HasPrefix(got, prefix+"_"), got)
		assert.True(t, Valid(got, prefix), got)
		assert.Len(t, got, len(prefix)+1+26)
	}
}

func TestTypedIDs(t *testing.T) {
	assert.True(t, Valid(NewTerminalID().String(), TerminalPrefix))
	assert.True(t, Valid(NewViewerID().String(), ViewerPrefix))
	assert.True(t, Valid(NewSubscriberID().String(), SubscriberPrefix))
	assert.True(t, Valid(NewRequestID().String(), RequestPrefix))
}

func TestValid(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want bool
	}{
		{"empty", "", false},
		{"no prefix", "01ARZ3NDEKTSV4RRFFQ69G5FAV", false},
		{"wrong prefix", "view_01ARZ3NDEKTSV4RRFFQ69G5FAV", false},
		{"bad ulid", "term_zzzz", false},
		{"ok", "term_01ARZ3NDEKTSV4RRFFQ69G5FAV", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Valid(tt.in, TerminalPrefix))
		})
	}
}

func TestMonotonicWithinProcess(t *testing.T) {
	gen := NewGenerator()

	prev := gen.GenerateWithPrefix(TerminalPrefix)
	for i := 0; i < 1000; i++ {
		next := gen.GenerateWithPrefix(TerminalPrefix)
		require.Greater(t, next, prev)
		prev = next
	}
}

func TestConcurrentGenerationUnique(t *testing.T) {
	gen := NewGenerator()

	const goroutines = 50
	const perGoroutine = 200

	var wg sync.WaitGroup
	ids := make(chan string, goroutines*perGoroutine)
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perGoroutine; j++ {
				ids <- gen.GenerateWithPrefix(TerminalPrefix)
			}
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[string]struct{}, goroutines*perGoroutine)
	for s := range ids {
		_, dup := seen[s]
		require.False(t, dup, "duplicate id %s", s)
		seen[s] = struct{}{}
	}
	assert.Len(t, seen, goroutines*perGoroutine)
}

func TestTimestamp(t *testing.T) {
	before := time.Now().Truncate(time.Millisecond)
	s := NewTerminalID().String()
	after := time.Now()

	ts, err := Timestamp(s)
	require.NoError(t, err)
	assert.False(t, ts.Before(before))
	assert.False(t, ts.After(after))

	_, err = Timestamp("term_nope")
	assert.Error(t, err)
}

func TestDefaultGenerator(t *testing.T) {
	assert.Same(t, Default(), Default())
}

func BenchmarkGenerateWithPrefix(b *testing.B) {
	gen := NewGenerator()
	for i := 0; i < b.N; i++ {
		_ = gen.GenerateWithPrefix(TerminalPrefix)
	}
}
