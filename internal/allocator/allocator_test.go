package allocator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/ichi0g0y/ring-overlay/internal/apperr"
	"github.com/ichi0g0y/ring-overlay/internal/instance"
	"github.com/ichi0g0y/ring-overlay/internal/types"
)

func TestSubmit_OpensInstanceOnFirstRing(t *testing.T) {
	store := openStore(t)
	locationID := createLocation(t, store)
	clock := &stepClock{now: baseTime}
	alloc := New(store, store, WithClock(clock.Now))
	ctx := context.Background()

	in, ring, err := alloc.Submit(ctx, request(locationID, uuid.New(), 7))
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if in.LocationID != locationID {
		t.Fatalf("location mismatch: got=%s want=%s", in.LocationID, locationID)
	}
	if !in.IsOpen() || in.Rings.Len() != 1 {
		t.Fatalf("unexpected instance state: open=%v rings=%d", in.IsOpen(), in.Rings.Len())
	}
	if ring.Slot != 7 || ring.Hue != 77 {
		t.Fatalf("ring mismatch: got slot=%d hue=%d want slot=7 hue=77", ring.Slot, ring.Hue)
	}
	if ring.ID == uuid.Nil {
		t.Fatal("ring id was not assigned")
	}

	current, err := alloc.CurrentOpen(ctx, locationID)
	if err != nil {
		t.Fatalf("CurrentOpen failed: %v", err)
	}
	if current == nil || current.ID != in.ID {
		t.Fatalf("open instance mismatch: got=%v want=%s", current, in.ID)
	}
	if !current.Rings.Contains(ring.ID) {
		t.Fatalf("stored instance does not contain ring %s", ring.ID)
	}
}

func TestSubmit_UnknownLocationCreatesNothing(t *testing.T) {
	store := openStore(t)
	alloc := New(store, store)
	ctx := context.Background()
	missing := uuid.New()

	_, _, err := alloc.Submit(ctx, request(missing, uuid.New(), 0))
	classified, ok := apperr.As(err)
	if !ok {
		t.Fatalf("expected classified error, got %v", err)
	}
	if classified.Kind != apperr.KindNotFound || classified.Entity != "location" {
		t.Fatalf("unexpected error: got kind=%v entity=%q", classified.Kind, classified.Entity)
	}

	all, err := alloc.FindAll(ctx)
	if err != nil {
		t.Fatalf("FindAll failed: %v", err)
	}
	if len(all) != 0 {
		t.Fatalf("instances were created: got=%d want=0", len(all))
	}

	_, err = alloc.OpenOrCreate(ctx, missing)
	if apperr.KindOf(err) != apperr.KindNotFound {
		t.Fatalf("unexpected error kind: got=%v want=%v", apperr.KindOf(err), apperr.KindNotFound)
	}
}

func TestSubmit_ValidationErrors(t *testing.T) {
	store := openStore(t)
	locationID := createLocation(t, store)
	alloc := New(store, store)

	tests := []struct {
		name   string
		mutate func(*SubmitRequest)
	}{
		{"longitude", func(r *SubmitRequest) { r.Longitude = 200 }},
		{"latitude", func(r *SubmitRequest) { r.Latitude = -91 }},
		{"slot too large", func(r *SubmitRequest) { r.SlotIndex = 70 }},
		{"negative slot", func(r *SubmitRequest) { r.SlotIndex = -1 }},
		{"owner", func(r *SubmitRequest) { r.OwnerID = uuid.Nil }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := request(locationID, uuid.New(), 3)
			tt.mutate(&req)
			_, _, err := alloc.Submit(context.Background(), req)
			if apperr.KindOf(err) != apperr.KindValidation {
				t.Fatalf("unexpected error kind: got=%v want=%v (err=%v)", apperr.KindOf(err), apperr.KindValidation, err)
			}
		})
	}
}

func TestSubmit_ScenarioA_SeventyThenNewInstance(t *testing.T) {
	store := openStore(t)
	locationID := createLocation(t, store)
	clock := &stepClock{now: baseTime}
	alloc := New(store, store, WithClock(clock.Now))
	ctx := context.Background()
	owners := []uuid.UUID{uuid.New(), uuid.New()}

	var first *instance.Instance
	for i := 0; i <= types.MaxSlotIndex; i++ {
		in, _, err := alloc.Submit(ctx, request(locationID, owners[i%2], i))
		if err != nil {
			t.Fatalf("Submit(%d) failed: %v", i, err)
		}
		if first == nil {
			first = in
		}
		if in.ID != first.ID {
			t.Fatalf("ring %d landed in another instance: got=%s want=%s", i, in.ID, first.ID)
		}
		if i < types.MaxSlotIndex {
			if !in.IsOpen() {
				t.Fatalf("instance closed early at ring %d", i)
			}
		} else if in.IsOpen() || in.FinishedAt.Before(in.StartedAt) {
			t.Fatalf("unexpected close: finished=%v started=%v", in.FinishedAt, in.StartedAt)
		}
	}

	stored, err := alloc.FindByID(ctx, first.ID)
	if err != nil {
		t.Fatalf("FindByID failed: %v", err)
	}
	if stored.Rings.Len() != instance.Capacity || stored.IsOpen() {
		t.Fatalf("unexpected stored state: rings=%d open=%v", stored.Rings.Len(), stored.IsOpen())
	}

	// 満杯の集合そのものは容量超過で拒否する
	extra := types.Ring{ID: uuid.New(), Owner: uuid.New(), Slot: 0, CreatedAt: clock.Now()}
	if err := stored.Rings.Add(extra); !errors.Is(err, instance.ErrCapacityExceeded) {
		t.Fatalf("unexpected error: got=%v want=%v", err, instance.ErrCapacityExceeded)
	}

	// 71件目は新しいインスタンスに入る
	next, ring, err := alloc.Submit(ctx, request(locationID, owners[0], 0))
	if err != nil {
		t.Fatalf("Submit(71st) failed: %v", err)
	}
	if next.ID == first.ID || !next.IsOpen() || next.Rings.Len() != 1 {
		t.Fatalf("unexpected next instance: id=%s open=%v rings=%d", next.ID, next.IsOpen(), next.Rings.Len())
	}
	if !next.Rings.Contains(ring.ID) {
		t.Fatalf("next instance does not contain ring %s", ring.ID)
	}
	if !first.Before(next) {
		t.Fatal("closed instance should sort before the new one")
	}

	all, err := alloc.FindAll(ctx)
	if err != nil {
		t.Fatalf("FindAll failed: %v", err)
	}
	if len(all) != 2 || all[0].ID != first.ID {
		t.Fatalf("unexpected instances: got=%d first=%v", len(all), all)
	}
}

func TestSubmit_ReplayYieldsOneSuccess(t *testing.T) {
	store := openStore(t)
	locationID := createLocation(t, store)
	alloc := New(store, store, WithClock((&stepClock{now: baseTime}).Now))
	ctx := context.Background()
	req := request(locationID, uuid.New(), 12)

	_, first, err := alloc.Submit(ctx, req)
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	_, _, err = alloc.Submit(ctx, req)
	if !errors.Is(err, instance.ErrDuplicateIndex) {
		t.Fatalf("unexpected error: got=%v want=%v", err, instance.ErrDuplicateIndex)
	}
	if apperr.KindOf(err) != apperr.KindConflict {
		t.Fatalf("unexpected error kind: got=%v want=%v", apperr.KindOf(err), apperr.KindConflict)
	}

	in, err := alloc.CurrentOpen(ctx, locationID)
	if err != nil {
		t.Fatalf("CurrentOpen failed: %v", err)
	}
	got := in.Rings.Rings()
	if len(got) != 1 || got[0].ID != first.ID || got[0].Slot != first.Slot {
		t.Fatalf("rings mismatch: got=%v want=%v", got, []types.Ring{first})
	}
}

func TestSubmit_OwnerAdjacency(t *testing.T) {
	store := openStore(t)
	locationID := createLocation(t, store)
	alloc := New(store, store, WithClock((&stepClock{now: baseTime}).Now))
	ctx := context.Background()
	a, b := uuid.New(), uuid.New()

	if _, _, err := alloc.Submit(ctx, request(locationID, a, 0)); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if _, _, err := alloc.Submit(ctx, request(locationID, a, 1)); !errors.Is(err, instance.ErrOwnerConflict) {
		t.Fatalf("unexpected error: got=%v want=%v", err, instance.ErrOwnerConflict)
	}
	if _, _, err := alloc.Submit(ctx, request(locationID, b, 1)); err != nil {
		t.Fatalf("Submit(other owner) failed: %v", err)
	}
}

func TestSubmit_ConcurrentSameSlotSingleAllocator(t *testing.T) {
	store := openStore(t)
	locationID := createLocation(t, store)
	alloc := New(store, store, WithClock((&stepClock{now: baseTime}).Now))

	const writers = 8
	errs := make(chan error, writers)
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := alloc.Submit(context.Background(), request(locationID, uuid.New(), 33))
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	successes := 0
	for err := range errs {
		if err == nil {
			successes++
			continue
		}
		if !errors.Is(err, instance.ErrDuplicateIndex) {
			t.Fatalf("unexpected error: got=%v want=%v", err, instance.ErrDuplicateIndex)
		}
	}
	if successes != 1 {
		t.Fatalf("success count mismatch: got=%d want=1", successes)
	}

	all, err := alloc.FindAll(context.Background())
	if err != nil {
		t.Fatalf("FindAll failed: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("only one instance may be opened: got=%d", len(all))
	}
}

func TestSubmit_ScenarioD_IndependentAllocatorsShareStore(t *testing.T) {
	store := openStore(t)
	locationID := createLocation(t, store)
	ctx := context.Background()

	open := instance.New(locationID, baseTime)
	if err := store.CreateInstance(ctx, open); err != nil {
		t.Fatalf("CreateInstance failed: %v", err)
	}

	var arrived sync.WaitGroup
	arrived.Add(2)
	repo := &barrierRepo{Store: store, arrived: &arrived}

	allocators := []*Allocator{
		New(store, repo, WithClock((&stepClock{now: baseTime}).Now)),
		New(store, repo, WithClock((&stepClock{now: baseTime.Add(500_000)}).Now)),
	}

	errs := make([]error, len(allocators))
	var wg sync.WaitGroup
	for i, alloc := range allocators {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, errs[i] = alloc.Submit(ctx, request(locationID, uuid.New(), 21))
		}()
	}
	wg.Wait()

	successes, conflicts := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			successes++
		case apperr.KindOf(err) == apperr.KindConflict:
			conflicts++
			if !errors.Is(err, instance.ErrDuplicateIndex) {
				t.Fatalf("unexpected conflict: got=%v want=%v", err, instance.ErrDuplicateIndex)
			}
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if successes != 1 || conflicts != 1 {
		t.Fatalf("outcome mismatch: got successes=%d conflicts=%d want 1/1", successes, conflicts)
	}

	stored, err := store.FindInstanceByID(ctx, open.ID)
	if err != nil {
		t.Fatalf("FindInstanceByID failed: %v", err)
	}
	if stored.Rings.Len() != 1 {
		t.Fatalf("ring count mismatch: got=%d want=1", stored.Rings.Len())
	}
}

// 別プロセスが同じスナップショットから最後の2枠を埋めたとき、
// 後から書いた側の戻り値も保存済みの状態 (70件で終了) と一致する。
func TestSubmit_StaleSnapshotReturnsStoredState(t *testing.T) {
	store := openStore(t)
	locationID := createLocation(t, store)
	ctx := context.Background()

	open := instance.New(locationID, baseTime.Add(-time.Hour))
	if err := store.CreateInstance(ctx, open); err != nil {
		t.Fatalf("CreateInstance failed: %v", err)
	}
	owners := []uuid.UUID{uuid.New(), uuid.New()}
	for i := 0; i < instance.Capacity-2; i++ {
		r := types.Ring{
			ID:        uuid.New(),
			Position:  types.Position{Longitude: 139.76, Latitude: 35.68},
			Owner:     owners[i%2],
			Slot:      types.SlotIndex(i),
			Hue:       types.NewHue(i),
			CreatedAt: baseTime.Add(-time.Duration(instance.Capacity-i) * time.Second),
		}
		if err := open.Admit(r, baseTime); err != nil {
			t.Fatalf("Admit(%d) failed: %v", i, err)
		}
	}
	if err := store.UpdateInstance(ctx, open, baseTime); err != nil {
		t.Fatalf("UpdateInstance failed: %v", err)
	}

	var arrived sync.WaitGroup
	arrived.Add(2)
	repo := &barrierRepo{Store: store, arrived: &arrived}

	allocators := []*Allocator{
		New(store, repo, WithClock((&stepClock{now: baseTime}).Now)),
		New(store, repo, WithClock((&stepClock{now: baseTime.Add(500_000)}).Now)),
	}

	results := make([]*instance.Instance, len(allocators))
	errs := make([]error, len(allocators))
	var wg sync.WaitGroup
	for i, alloc := range allocators {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], _, errs[i] = alloc.Submit(ctx, request(locationID, uuid.New(), instance.Capacity-2+i))
		}()
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("Submit(%d) failed: %v", i, err)
		}
	}

	stored, err := store.FindInstanceByID(ctx, open.ID)
	if err != nil {
		t.Fatalf("FindInstanceByID failed: %v", err)
	}
	if stored.Rings.Len() != instance.Capacity || stored.IsOpen() {
		t.Fatalf("unexpected stored state: rings=%d open=%v", stored.Rings.Len(), stored.IsOpen())
	}

	closed := 0
	for i, in := range results {
		if in.ID != stored.ID {
			t.Fatalf("result %d instance mismatch: got=%s want=%s", i, in.ID, stored.ID)
		}
		if in.IsOpen() {
			if in.Rings.Len() != instance.Capacity-1 {
				t.Fatalf("result %d is open with %d rings", i, in.Rings.Len())
			}
			continue
		}
		closed++
		if in.Rings.Len() != stored.Rings.Len() {
			t.Fatalf("result %d ring count mismatch: got=%d want=%d", i, in.Rings.Len(), stored.Rings.Len())
		}
		if !in.FinishedAt.Equal(*stored.FinishedAt) {
			t.Fatalf("result %d finished_at mismatch: got=%v want=%v", i, in.FinishedAt, stored.FinishedAt)
		}
		if in.FinishedAt.Before(in.StartedAt) {
			t.Fatalf("result %d finished before it started: finished=%v started=%v", i, in.FinishedAt, in.StartedAt)
		}
	}
	if closed != 1 {
		t.Fatalf("closed result count mismatch: got=%d want=1", closed)
	}
}
