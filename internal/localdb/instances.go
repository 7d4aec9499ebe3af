package localdb

import (
	"context"
	"database/sql"
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

// RingRecord はリングと所属先をまとめたもの。
type RingRecord struct {
	Ring       types.Ring
	InstanceID uuid.UUID
	LocationID uuid.UUID
}

// CreateInstance は新しいインスタンスを保存する。
// 同じ location に受付中のインスタンスがあれば instance.ErrOpenInstanceExists を返す。
func (s *Store) CreateInstance(ctx context.Context, in *instance.Instance) error {
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, s.rebind(`INSERT INTO instances (id, location_id, started_at, finished_at) VALUES (?, ?, ?, ?)`),
			in.ID.String(), in.LocationID.String(), in.StartedAt.UnixNano(), nullableNano(in.FinishedAt))
		if err != nil {
			return mapRingConstraint(err)
		}
		return s.insertRings(ctx, tx, in.ID, in.Rings.InsertionOrder(), 0)
	})
	if err != nil {
		if apperr.IsClient(err) {
			return err
		}
		logger.Error("Failed to create instance", zap.Error(err), zap.String("instance_id", in.ID.String()))
		return fmt.Errorf("failed to create instance: %w", err)
	}
	return nil
}

// UpdateInstance は in のうち未保存のリングと finished_at を書き込む。
// 保存済みの状態に新しいリングを積み直して容量・スロット・所有者の制約を
// トランザクション内で再検証するので、古いスナップショットからの更新は衝突になる。
// 成功すると in は保存後の状態 (全リングと finished_at) に置き換わる。
// now は満杯で閉じる場合の終了時刻。
func (s *Store) UpdateInstance(ctx context.Context, in *instance.Instance, now time.Time) error {
	var result *instance.Instance
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var finished sql.NullInt64
		err := tx.QueryRowContext(ctx, s.rebind(`SELECT finished_at FROM instances WHERE id = ?`+s.forUpdate()), in.ID.String()).Scan(&finished)
		if errors.Is(err, sql.ErrNoRows) {
			return apperr.NotFound("instance", "update", in.ID.String())
		}
		if err != nil {
			return fmt.Errorf("failed to lock instance: %w", err)
		}

		stored, err := s.loadRings(ctx, tx, in.ID)
		if err != nil {
			return err
		}
		merged, err := instance.RestoreRingSet(stored)
		if err != nil {
			return apperr.Internal(fmt.Errorf("stored rings are inconsistent: %w", err))
		}

		var pending []types.Ring
		for _, r := range in.Rings.InsertionOrder() {
			if !merged.Contains(r.ID) {
				pending = append(pending, r)
			}
		}
		if finished.Valid && len(pending) > 0 {
			return instance.ErrInstanceClosed
		}
		for _, r := range pending {
			if err := merged.Add(r); err != nil {
				return err
			}
		}

		if err := s.insertRings(ctx, tx, in.ID, pending, len(stored)); err != nil {
			return err
		}

		next := &instance.Instance{
			ID:         in.ID,
			LocationID: in.LocationID,
			StartedAt:  in.StartedAt,
			FinishedAt: in.FinishedAt,
		}
		if finished.Valid {
			at := time.Unix(0, finished.Int64).UTC()
			next.FinishedAt = &at
		}
		next.Reconcile(merged, now.UTC())

		if !finished.Valid && next.FinishedAt != nil {
			_, err = tx.ExecContext(ctx, s.rebind(`UPDATE instances SET finished_at = ? WHERE id = ?`), next.FinishedAt.UnixNano(), in.ID.String())
			if err != nil {
				return fmt.Errorf("failed to finish instance: %w", err)
			}
		}
		result = next
		return nil
	})
	if err != nil {
		if apperr.IsClient(err) {
			return err
		}
		logger.Error("Failed to update instance", zap.Error(err), zap.String("instance_id", in.ID.String()))
		return fmt.Errorf("failed to update instance: %w", err)
	}

	in.Rings = result.Rings
	in.FinishedAt = result.FinishedAt
	return nil
}

func (s *Store) insertRings(ctx context.Context, tx *sql.Tx, instanceID uuid.UUID, rings []types.Ring, seqStart int) error {
	if len(rings) == 0 {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx, s.rebind(`INSERT INTO rings
		(id, instance_id, seq, longitude, latitude, owner, slot_index, hue, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`))
	if err != nil {
		return fmt.Errorf("failed to prepare ring insert: %w", err)
	}
	defer stmt.Close()

	for i, r := range rings {
		_, err := stmt.ExecContext(ctx,
			r.ID.String(), instanceID.String(), seqStart+i,
			r.Position.Longitude, r.Position.Latitude,
			r.Owner.String(), int(r.Slot), int(r.Hue), r.CreatedAt.UnixNano())
		if err != nil {
			return mapRingConstraint(err)
		}
	}
	return nil
}

const ringColumns = `id, longitude, latitude, owner, slot_index, hue, created_at`

func scanRing(scan func(dest ...any) error, extra ...any) (types.Ring, error) {
	var (
		r                   types.Ring
		id, owner           string
		slot, hue           int
		createdAt           int64
		longitude, latitude float64
	)
	dest := append([]any{&id, &longitude, &latitude, &owner, &slot, &hue, &createdAt}, extra...)
	if err := scan(dest...); err != nil {
		return r, err
	}

	var err error
	if r.ID, err = uuid.Parse(id); err != nil {
		return r, fmt.Errorf("invalid ring id %q: %w", id, err)
	}
	if r.Owner, err = uuid.Parse(owner); err != nil {
		return r, fmt.Errorf("invalid ring owner %q: %w", owner, err)
	}
	r.Position = types.Position{Longitude: longitude, Latitude: latitude}
	r.Slot = types.SlotIndex(slot)
	r.Hue = types.Hue(hue)
	r.CreatedAt = time.Unix(0, createdAt).UTC()
	return r, nil
}

// loadRings は挿入順にリングを読み出す。
func (s *Store) loadRings(ctx context.Context, q queryer, instanceID uuid.UUID) ([]types.Ring, error) {
	rows, err := q.QueryContext(ctx, s.rebind(`SELECT `+ringColumns+` FROM rings WHERE instance_id = ? ORDER BY seq`), instanceID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to query rings: %w", err)
	}
	defer rows.Close()

	rings := []types.Ring{}
	for rows.Next() {
		r, err := scanRing(rows.Scan)
		if err != nil {
			return nil, err
		}
		rings = append(rings, r)
	}
	return rings, rows.Err()
}

type instanceRow struct {
	id, locationID string
	startedAt      int64
	finishedAt     sql.NullInt64
}

func (row instanceRow) build(rings []types.Ring) (*instance.Instance, error) {
	id, err := uuid.Parse(row.id)
	if err != nil {
		return nil, fmt.Errorf("invalid instance id %q: %w", row.id, err)
	}
	locationID, err := uuid.Parse(row.locationID)
	if err != nil {
		return nil, fmt.Errorf("invalid location id %q: %w", row.locationID, err)
	}
	set, err := instance.RestoreRingSet(rings)
	if err != nil {
		return nil, apperr.Internal(fmt.Errorf("instance %s has inconsistent rings: %w", row.id, err))
	}

	in := &instance.Instance{
		ID:         id,
		LocationID: locationID,
		Rings:      set,
		StartedAt:  time.Unix(0, row.startedAt).UTC(),
	}
	if row.finishedAt.Valid {
		t := time.Unix(0, row.finishedAt.Int64).UTC()
		in.FinishedAt = &t
	}
	return in, nil
}

func (s *Store) findInstance(ctx context.Context, where string, args ...any) (*instance.Instance, error) {
	var row instanceRow
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT id, location_id, started_at, finished_at FROM instances WHERE `+where), args...).
		Scan(&row.id, &row.locationID, &row.startedAt, &row.finishedAt)
	if err != nil {
		return nil, err
	}

	id, err := uuid.Parse(row.id)
	if err != nil {
		return nil, fmt.Errorf("invalid instance id %q: %w", row.id, err)
	}
	rings, err := s.loadRings(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	return row.build(rings)
}

// FindOpenInstance は location の受付中インスタンスを返す。無ければ nil, nil。
func (s *Store) FindOpenInstance(ctx context.Context, locationID uuid.UUID) (*instance.Instance, error) {
	in, err := s.findInstance(ctx, `location_id = ? AND finished_at IS NULL`, locationID.String())
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		logger.Error("Failed to find open instance", zap.Error(err), zap.String("location_id", locationID.String()))
		return nil, fmt.Errorf("failed to find open instance: %w", err)
	}
	return in, nil
}

func (s *Store) FindInstanceByID(ctx context.Context, id uuid.UUID) (*instance.Instance, error) {
	in, err := s.findInstance(ctx, `id = ?`, id.String())
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("instance", "find_by_id", id.String())
	}
	if err != nil {
		logger.Error("Failed to find instance", zap.Error(err), zap.String("instance_id", id.String()))
		return nil, fmt.Errorf("failed to find instance: %w", err)
	}
	return in, nil
}

// FindAllInstances は全インスタンスを started_at 昇順で返す。
func (s *Store) FindAllInstances(ctx context.Context) ([]*instance.Instance, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, location_id, started_at, finished_at FROM instances ORDER BY started_at`)
	if err != nil {
		logger.Error("Failed to query instances", zap.Error(err))
		return nil, fmt.Errorf("failed to query instances: %w", err)
	}
	var list []instanceRow
	for rows.Next() {
		var row instanceRow
		if err := rows.Scan(&row.id, &row.locationID, &row.startedAt, &row.finishedAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan instance: %w", err)
		}
		list = append(list, row)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate instances: %w", err)
	}

	ringsByInstance, err := s.loadAllRings(ctx)
	if err != nil {
		return nil, err
	}

	instances := make([]*instance.Instance, 0, len(list))
	for _, row := range list {
		in, err := row.build(ringsByInstance[row.id])
		if err != nil {
			return nil, err
		}
		instances = append(instances, in)
	}
	instance.SortByStartedAt(instances)
	return instances, nil
}

func (s *Store) loadAllRings(ctx context.Context) (map[string][]types.Ring, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+ringColumns+`, instance_id FROM rings ORDER BY instance_id, seq`)
	if err != nil {
		return nil, fmt.Errorf("failed to query rings: %w", err)
	}
	defer rows.Close()

	result := make(map[string][]types.Ring)
	for rows.Next() {
		var instanceID string
		r, err := scanRing(rows.Scan, &instanceID)
		if err != nil {
			return nil, err
		}
		result[instanceID] = append(result[instanceID], r)
	}
	return result, rows.Err()
}

// FindRingByID はリングと所属インスタンス・地点を返す。
func (s *Store) FindRingByID(ctx context.Context, id uuid.UUID) (RingRecord, error) {
	var instanceID, locationID string
	r, err := scanRing(s.db.QueryRowContext(ctx, s.rebind(`SELECT r.id, r.longitude, r.latitude, r.owner, r.slot_index, r.hue, r.created_at, i.id, i.location_id
		FROM rings r JOIN instances i ON i.id = r.instance_id WHERE r.id = ?`), id.String()).Scan, &instanceID, &locationID)
	if errors.Is(err, sql.ErrNoRows) {
		return RingRecord{}, apperr.NotFound("ring", "find_by_id", id.String())
	}
	if err != nil {
		logger.Error("Failed to find ring", zap.Error(err), zap.String("ring_id", id.String()))
		return RingRecord{}, fmt.Errorf("failed to find ring: %w", err)
	}

	rec := RingRecord{Ring: r}
	if rec.InstanceID, err = uuid.Parse(instanceID); err != nil {
		return RingRecord{}, fmt.Errorf("invalid instance id %q: %w", instanceID, err)
	}
	if rec.LocationID, err = uuid.Parse(locationID); err != nil {
		return RingRecord{}, fmt.Errorf("invalid location id %q: %w", locationID, err)
	}
	return rec, nil
}

func nullableNano(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixNano()
}
