package memory

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/nicktill/whisperflux/pkg/checkpoint"
)

func TestMemoryStore_PutAndGet(t *testing.T) {
	store := New()
	defer store.Close()

	ctx := context.Background()
	entry := checkpoint.Entry{
		SeriesKey: "used_pct,check_command=check_disk,host=h1,service=disk",
		State:     "WRITTEN",
		From:      1000,
		Until:     2000,
		Samples:   7,
	}

	if err := store.Put(ctx, entry); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	got, err := store.Get(ctx, entry.SeriesKey)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got == nil || *got != entry {
		t.Errorf("Got %+v, want %+v", got, entry)
	}

	missing, err := store.Get(ctx, "other,check_command=c,host=h,service=s")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if missing != nil {
		t.Errorf("Expected nil for missing series, got %+v", missing)
	}
}

func TestMemoryStore_GetReturnsCopy(t *testing.T) {
	store := New()
	ctx := context.Background()

	entry := checkpoint.Entry{SeriesKey: "k", State: "WRITTEN", Samples: 1}
	if err := store.Put(ctx, entry); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	first, _ := store.Get(ctx, "k")
	first.Samples = 999

	second, _ := store.Get(ctx, "k")
	if second.Samples != 1 {
		t.Error("Mutating a returned entry must not change the stored one")
	}
}

func TestMemoryStore_ConcurrentAccess(t *testing.T) {
	store := New()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := fmt.Sprintf("series_%d", i)
			_ = store.Put(ctx, checkpoint.Entry{SeriesKey: key, State: "WRITTEN"})
			_, _ = store.Get(ctx, key)
		}(i)
	}
	wg.Wait()

	if store.Len() != 20 {
		t.Errorf("Expected 20 entries, got %d", store.Len())
	}
}
