package message

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNextIDUniqueAcrossGoroutines(t *testing.T) {
	t.Parallel()

	const workers, perWorker = 8, 200
	var mu sync.Mutex
	seen := make(map[int64]struct{}, workers*perWorker)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ids := make([]int64, 0, perWorker)
			prev := int64(0)
			for j := 0; j < perWorker; j++ {
				id := NextID()
				if id <= prev {
					t.Errorf("ids not increasing within goroutine: %d after %d", id, prev)
				}
				prev = id
				ids = append(ids, id)
			}
			mu.Lock()
			defer mu.Unlock()
			for _, id := range ids {
				if _, dup := seen[id]; dup {
					t.Errorf("duplicate id %d", id)
				}
				seen[id] = struct{}{}
			}
		}()
	}
	wg.Wait()
	assert.Len(t, seen, workers*perWorker)
}

func TestRecordCloneDetachesPreview(t *testing.T) {
	t.Parallel()

	orig := &Record{ID: 1, Kind: KindToggle, Preview: &Preview{ID: 1, Head: "a"}}
	cp := orig.Clone()
	cp.Preview.Head = "b"
	assert.Equal(t, "a", orig.Preview.Head)

	var nilRecord *Record
	assert.Nil(t, nilRecord.Clone())
}

func TestRecordJSONShape(t *testing.T) {
	t.Parallel()

	rec := Record{
		ID:   7,
		Kind: KindToggle,
		Time: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
		Preview: &Preview{
			ID:   7,
			Type: PreviewLink,
			Head: "Example",
			Link: "https://example.com",
		},
	}
	raw, err := json.Marshal(rec)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, "toggle", decoded["type"])
	preview, ok := decoded["preview"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "link", preview["type"])
	assert.Equal(t, "", preview["thumb"])
}

func TestPreviewableKinds(t *testing.T) {
	t.Parallel()

	assert.True(t, (&Record{Kind: KindMessage}).Previewable())
	assert.True(t, (&Record{Kind: KindAction}).Previewable())
	assert.False(t, (&Record{Kind: KindNotice}).Previewable())
	assert.False(t, (&Record{Kind: KindToggle}).Previewable())
}
