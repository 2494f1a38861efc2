package timestamps

import (
	"context"
	"reflect"
	"testing"
	"time"

	"github.com/kimhsiao/noorsync/backend/internal/store"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time { return c.t }

// TestNeverSynced verifies a missing timestamp always needs a sync.
func TestNeverSynced(t *testing.T) {
	tr := New(store.NewMemory())
	ctx := context.Background()

	if got := tr.Get(ctx, "verses"); got != nil {
		t.Errorf("Get() = %d, want nil", *got)
	}
	if !tr.NeedsSync(ctx, "verses", 0) {
		t.Error("NeedsSync(0) = false for a never synced type")
	}
	if !tr.NeedsSyncDefault(ctx, "verses") {
		t.Error("NeedsSyncDefault() = false for a never synced type")
	}
}

// TestSetPreservesOtherTypes verifies one Set leaves other entries alone.
func TestSetPreservesOtherTypes(t *testing.T) {
	ctx := context.Background()
	tr := New(store.NewMemory())

	for _, s := range []struct {
		ct string
		ts int64
	}{{"surahs", 1000}, {"verses", 2000}, {"surahs", 3000}} {
		if err := tr.Set(ctx, s.ct, s.ts); err != nil {
			t.Fatalf("Set(%s) error = %v", s.ct, err)
		}
	}

	want := map[string]int64{"surahs": 3000, "verses": 2000}
	if got := tr.All(ctx); !reflect.DeepEqual(got, want) {
		t.Errorf("All() = %v, want %v", got, want)
	}
	if got := tr.Get(ctx, "verses"); got == nil || *got != 2000 {
		t.Errorf("Get(verses) = %v, want 2000", got)
	}
}

// TestNeedsSyncWindow verifies the strict now-last > maxAge rule.
func TestNeedsSyncWindow(t *testing.T) {
	ctx := context.Background()
	base := time.UnixMilli(1_700_000_000_000)
	clock := &fakeClock{t: base}
	tr := NewWithClock(store.NewMemory(), clock.Now)

	if err := tr.Set(ctx, "verses", base.UnixMilli()); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	tests := []struct {
		name    string
		elapsed time.Duration
		maxAge  time.Duration
		useDef  bool
		want    bool
	}{
		{"zero max age, no time passed", 0, 0, false, false},
		{"zero max age, one ms passed", time.Millisecond, 0, false, true},
		{"one minute window exceeded", 5 * time.Minute, time.Minute, false, true},
		{"inside default window", 5 * time.Minute, 0, true, false},
		{"exactly default max age", DefaultMaxAge, 0, true, false},
		{"past default max age", DefaultMaxAge + time.Millisecond, 0, true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clock.t = base.Add(tt.elapsed)
			var got bool
			if tt.useDef {
				got = tr.NeedsSyncDefault(ctx, "verses")
			} else {
				got = tr.NeedsSync(ctx, "verses", tt.maxAge)
			}
			if got != tt.want {
				t.Errorf("needs sync = %v, want %v", got, tt.want)
			}
		})
	}
}

// TestCorruptRecordReadsAsEmpty verifies an unparsable record reads as
// never synced and is replaced by the next Set.
func TestCorruptRecordReadsAsEmpty(t *testing.T) {
	ctx := context.Background()
	kv := store.NewMemory()
	if err := kv.Set(ctx, store.KeySyncTimestamps, "[1,2"); err != nil {
		t.Fatalf("seed error = %v", err)
	}

	tr := New(kv)
	if got := tr.Get(ctx, "surahs"); got != nil {
		t.Errorf("Get() = %d, want nil", *got)
	}
	if !tr.NeedsSync(ctx, "surahs", time.Hour) {
		t.Error("NeedsSync() = false on a corrupt record")
	}

	if err := tr.Set(ctx, "surahs", 42); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if got := tr.All(ctx); !reflect.DeepEqual(got, map[string]int64{"surahs": 42}) {
		t.Errorf("All() = %v", got)
	}
}

func TestSetRequiresContentType(t *testing.T) {
	if err := New(store.NewMemory()).Set(context.Background(), "", 1); err == nil {
		t.Error("Set() with empty content type should fail")
	}
}

func TestReset(t *testing.T) {
	ctx := context.Background()
	tr := New(store.NewMemory())

	if err := tr.Set(ctx, "hadiths", 5); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if err := tr.Reset(ctx); err != nil {
		t.Fatalf("Reset() error = %v", err)
	}
	if got := tr.All(ctx); len(got) != 0 {
		t.Errorf("All() after Reset() = %v", got)
	}
	if tr.Get(ctx, "hadiths") != nil {
		t.Error("Get() after Reset() should be nil")
	}
}
