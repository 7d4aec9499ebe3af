// Package allocator はリング投稿をどのインスタンスに入れるかを決め、結果を永続化する。
//
// 同じ location への Submit / OpenOrCreate はプロセス内で直列化される。
// プロセスをまたぐ競合はストアの一意制約で検出され、ドメインの衝突として返る。
package allocator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ichi0g0y/ring-overlay/internal/apperr"
	"github.com/ichi0g0y/ring-overlay/internal/instance"
	"github.com/ichi0g0y/ring-overlay/internal/shared/logger"
	"github.com/ichi0g0y/ring-overlay/internal/types"
)

// LocationReader は地点の存在確認に使う。見つからない場合は NotFound を返すこと。
type LocationReader interface {
	FindLocationByID(ctx context.Context, id uuid.UUID) (types.Location, error)
}

// InstanceRepository はインスタンスの永続化先。
// FindOpenInstance は受付中が無ければ nil, nil を返す。
type InstanceRepository interface {
	CreateInstance(ctx context.Context, in *instance.Instance) error
	// UpdateInstance は成功時に in を保存後の状態へ置き換える。
	UpdateInstance(ctx context.Context, in *instance.Instance, now time.Time) error
	FindOpenInstance(ctx context.Context, locationID uuid.UUID) (*instance.Instance, error)
	FindInstanceByID(ctx context.Context, id uuid.UUID) (*instance.Instance, error)
	FindAllInstances(ctx context.Context) ([]*instance.Instance, error)
}

// SubmitRequest は検証前のリング投稿。
type SubmitRequest struct {
	LocationID uuid.UUID
	Longitude  float64
	Latitude   float64
	SlotIndex  int
	Hue        int
	OwnerID    uuid.UUID
	CreatedAt  time.Time
	// RingID は省略時に生成される。
	RingID uuid.UUID
}

type Allocator struct {
	locations LocationReader
	instances InstanceRepository
	locks     *keyedLock[uuid.UUID]
	now       func() time.Time
}

type Option func(*Allocator)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(a *Allocator) { a.now = now }
}

func New(locations LocationReader, instances InstanceRepository, opts ...Option) *Allocator {
	a := &Allocator{
		locations: locations,
		instances: instances,
		locks:     newKeyedLock[uuid.UUID](),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Submit admits one ring into the open instance of the request's location,
// opening a new instance when none is accepting rings.
// Domain errors come back unchanged; repository failures are wrapped as driver errors.
func (a *Allocator) Submit(ctx context.Context, req SubmitRequest) (*instance.Instance, types.Ring, error) {
	unlock, err := a.locks.lock(ctx, req.LocationID)
	if err != nil {
		return nil, types.Ring{}, err
	}
	defer unlock()

	if err := a.checkLocation(ctx, req.LocationID); err != nil {
		return nil, types.Ring{}, err
	}

	ring, err := a.buildRing(req)
	if err != nil {
		return nil, types.Ring{}, err
	}

	in, err := a.openLocked(ctx, req.LocationID)
	if err != nil {
		return nil, types.Ring{}, err
	}

	now := a.now().UTC()
	if err := in.Admit(ring, now); err != nil {
		logger.Debug("Ring rejected",
			zap.String("instance_id", in.ID.String()),
			zap.Int("index", int(ring.Slot)),
			zap.Error(err))
		return nil, types.Ring{}, err
	}

	if err := a.instances.UpdateInstance(ctx, in, now); err != nil {
		if apperr.IsClient(err) {
			return nil, types.Ring{}, err
		}
		return nil, types.Ring{}, apperr.Driver(fmt.Errorf("failed to persist instance %s: %w", in.ID, err))
	}

	logger.Debug("Ring admitted",
		zap.String("instance_id", in.ID.String()),
		zap.String("ring_id", ring.ID.String()),
		zap.Int("index", int(ring.Slot)),
		zap.Int("rings", in.Rings.Len()))
	if !in.IsOpen() {
		logger.Info("Instance finished",
			zap.String("instance_id", in.ID.String()),
			zap.String("location_id", in.LocationID.String()),
			zap.Int("rings", in.Rings.Len()))
	}
	return in, ring, nil
}

// OpenOrCreate returns the open instance of the location, creating an empty one if needed.
func (a *Allocator) OpenOrCreate(ctx context.Context, locationID uuid.UUID) (*instance.Instance, error) {
	unlock, err := a.locks.lock(ctx, locationID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if err := a.checkLocation(ctx, locationID); err != nil {
		return nil, err
	}
	return a.openLocked(ctx, locationID)
}

// CurrentOpen returns the open instance of the location or nil.
func (a *Allocator) CurrentOpen(ctx context.Context, locationID uuid.UUID) (*instance.Instance, error) {
	in, err := a.instances.FindOpenInstance(ctx, locationID)
	if err != nil {
		return nil, apperr.Driver(err)
	}
	return in, nil
}

func (a *Allocator) FindByID(ctx context.Context, id uuid.UUID) (*instance.Instance, error) {
	in, err := a.instances.FindInstanceByID(ctx, id)
	if err != nil {
		return nil, apperr.Driver(err)
	}
	return in, nil
}

// FindAll returns every instance, oldest first.
func (a *Allocator) FindAll(ctx context.Context) ([]*instance.Instance, error) {
	list, err := a.instances.FindAllInstances(ctx)
	if err != nil {
		return nil, apperr.Driver(err)
	}
	instance.SortByStartedAt(list)
	return list, nil
}

func (a *Allocator) checkLocation(ctx context.Context, locationID uuid.UUID) error {
	if _, err := a.locations.FindLocationByID(ctx, locationID); err != nil {
		if apperr.KindOf(err) == apperr.KindNotFound {
			return err
		}
		return apperr.Driver(fmt.Errorf("failed to look up location %s: %w", locationID, err))
	}
	return nil
}

func (a *Allocator) buildRing(req SubmitRequest) (types.Ring, error) {
	pos, err := types.NewPosition(req.Longitude, req.Latitude)
	if err != nil {
		return types.Ring{}, err
	}
	slot, err := types.NewSlotIndex(req.SlotIndex)
	if err != nil {
		return types.Ring{}, err
	}
	if req.OwnerID == uuid.Nil {
		return types.Ring{}, apperr.Validation("owner", "owner id is required")
	}

	id := req.RingID
	if id == uuid.Nil {
		id = uuid.New()
	}
	createdAt := req.CreatedAt
	if createdAt.IsZero() {
		createdAt = a.now()
	}

	return types.Ring{
		ID:        id,
		Position:  pos,
		Owner:     req.OwnerID,
		Slot:      slot,
		Hue:       types.NewHue(req.Hue),
		CreatedAt: createdAt.UTC(),
	}, nil
}

// openLocked は呼び出し側が location のロックを持っている前提。
func (a *Allocator) openLocked(ctx context.Context, locationID uuid.UUID) (*instance.Instance, error) {
	in, err := a.instances.FindOpenInstance(ctx, locationID)
	if err != nil {
		return nil, apperr.Driver(fmt.Errorf("failed to find open instance: %w", err))
	}
	if in != nil {
		return in, nil
	}

	in = instance.New(locationID, a.now().UTC())
	err = a.instances.CreateInstance(ctx, in)
	if errors.Is(err, instance.ErrOpenInstanceExists) {
		// 別プロセスが先に作った
		winner, findErr := a.instances.FindOpenInstance(ctx, locationID)
		if findErr != nil {
			return nil, apperr.Driver(fmt.Errorf("failed to reload open instance: %w", findErr))
		}
		if winner != nil {
			return winner, nil
		}
		return nil, err
	}
	if err != nil {
		return nil, apperr.Driver(fmt.Errorf("failed to create instance: %w", err))
	}

	logger.Info("Instance started",
		zap.String("instance_id", in.ID.String()),
		zap.String("location_id", locationID.String()))
	return in, nil
}
