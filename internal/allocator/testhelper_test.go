package allocator

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/ichi0g0y/ring-overlay/internal/instance"
	"github.com/ichi0g0y/ring-overlay/internal/localdb"
	"github.com/ichi0g0y/ring-overlay/internal/types"
)

var baseTime = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

// stepClock は呼ばれるたびに1ミリ秒進む時計。
type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Millisecond)
	return c.now
}

func openStore(t *testing.T) *localdb.Store {
	t.Helper()
	store, err := localdb.Open(localdb.Options{
		Driver: localdb.DriverSQLite3,
		Path:   filepath.Join(t.TempDir(), "local.db"),
	})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func createLocation(t *testing.T, store *localdb.Store) uuid.UUID {
	t.Helper()
	loc := types.Location{
		ID:        uuid.New(),
		Position:  types.Position{Longitude: 139.7671, Latitude: 35.6812},
		Names:     []types.LocalizedName{{Lang: "en", Name: "Tokyo Station"}},
		CreatedAt: baseTime,
	}
	if err := store.CreateLocation(context.Background(), loc); err != nil {
		t.Fatalf("CreateLocation failed: %v", err)
	}
	return loc.ID
}

func request(locationID, owner uuid.UUID, slot int) SubmitRequest {
	return SubmitRequest{
		LocationID: locationID,
		Longitude:  139.76,
		Latitude:   35.68,
		SlotIndex:  slot,
		Hue:        slot * 11,
		OwnerID:    owner,
	}
}

// barrierRepo は FindOpenInstance の直後に全員が揃うまで待たせ、
// 複数の Allocator に同じスナップショットを読ませる。
type barrierRepo struct {
	*localdb.Store
	arrived *sync.WaitGroup
}

func (b *barrierRepo) FindOpenInstance(ctx context.Context, locationID uuid.UUID) (*instance.Instance, error) {
	in, err := b.Store.FindOpenInstance(ctx, locationID)
	b.arrived.Done()
	b.arrived.Wait()
	return in, err
}
