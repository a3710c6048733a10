package id

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllocatorStartsAtOne(t *testing.T) {
	a := NewAllocator()

	assert.Equal(t, TabID(1), a.Next())
	assert.Equal(t, TabID(2), a.Next())
	assert.Equal(t, TabID(3), a.Next())
}

func TestAllocatorConcurrentUnique(t *testing.T) {
	a := NewAllocator()

	const workers, perWorker = 8, 500
	var (
		mu   sync.Mutex
		seen = make(map[TabID]struct{}, workers*perWorker)
		wg   sync.WaitGroup
	)

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			local := make([]TabID, 0, perWorker)
			for i := 0; i < perWorker; i++ {
				local = append(local, a.Next())
			}
			mu.Lock()
			for _, id := range local {
				seen[id] = struct{}{}
			}
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Len(t, seen, workers*perWorker)
	_, hasZero := seen[0]
	assert.False(t, hasZero)
}

func TestAllocatorSeedAbove(t *testing.T) {
	a := NewAllocator()
	a.SeedAbove(41)
	assert.Equal(t, TabID(42), a.Next())

	// Lower floors never move the counter backwards.
	a.SeedAbove(3)
	assert.Equal(t, TabID(43), a.Next())
}

func TestParseTabID(t *testing.T) {
	tests := []struct {
		in      string
		want    TabID
		wantErr bool
	}{
		{"1", 1, false},
		{" 77 ", 77, false},
		{"0", 0, true},
		{"-3", 0, true},
		{"abc", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseTabID(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, strings.TrimSpace(tt.in), got.String())
		})
	}
}

func TestGenerateWithPrefix(t *testing.T) {
	gen := NewGenerator()

	for _, prefix := range []string{CrashPrefix, EventPrefix} {
		id := gen.GenerateWithPrefix(prefix)
		parts := strings.Split(id, "_")
		require.Len(t, parts, 2)
		assert.Equal(t, prefix, parts[0])
		assert.Len(t, parts[1], 26)
	}
}

func TestCrashIDTimestamp(t *testing.T) {
	before := time.Now().Add(-time.Second)
	cid := NewCrashID()

	ts, err := Timestamp(cid.String())
	require.NoError(t, err)
	assert.True(t, ts.After(before))
	assert.True(t, strings.HasPrefix(cid.String(), CrashPrefix+"_"))
}

func TestGenerateMonotonic(t *testing.T) {
	gen := NewGenerator()
	prev := gen.Generate()
	for i := 0; i < 100; i++ {
		next := gen.Generate()
		assert.Equal(t, 1, next.Compare(prev))
		prev = next
	}
}

func TestNewClientID(t *testing.T) {
	a, b := NewClientID(), NewClientID()
	assert.NotEqual(t, a, b)
	assert.Len(t, a.String(), 36)
}
