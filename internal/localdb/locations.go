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
	"github.com/ichi0g0y/ring-overlay/internal/shared/logger"
	"github.com/ichi0g0y/ring-overlay/internal/types"
)

// CreateLocation は地点と表示名を保存する。
func (s *Store) CreateLocation(ctx context.Context, loc types.Location) error {
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, s.rebind(`INSERT INTO locations (id, longitude, latitude, radius, created_at) VALUES (?, ?, ?, ?, ?)`),
			loc.ID.String(), loc.Position.Longitude, loc.Position.Latitude, nullableInt(loc.Radius), loc.CreatedAt.UnixNano())
		if err != nil {
			if _, dup := isUniqueViolation(err); dup {
				return apperr.Conflict("location", "location id already exists: "+loc.ID.String())
			}
			return fmt.Errorf("failed to insert location: %w", err)
		}
		return s.insertNames(ctx, tx, loc.ID, loc.Names)
	})
	if err != nil {
		if apperr.IsClient(err) {
			return err
		}
		logger.Error("Failed to create location", zap.Error(err), zap.String("location_id", loc.ID.String()))
		return fmt.Errorf("failed to create location: %w", err)
	}
	return nil
}

// UpdateLocation は座標・半径を更新し、表示名を置き換える。
func (s *Store) UpdateLocation(ctx context.Context, loc types.Location) error {
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, s.rebind(`UPDATE locations SET longitude = ?, latitude = ?, radius = ? WHERE id = ?`),
			loc.Position.Longitude, loc.Position.Latitude, nullableInt(loc.Radius), loc.ID.String())
		if err != nil {
			return fmt.Errorf("failed to update location: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return apperr.NotFound("location", "update", loc.ID.String())
		}
		if _, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM location_names WHERE location_id = ?`), loc.ID.String()); err != nil {
			return fmt.Errorf("failed to clear location names: %w", err)
		}
		return s.insertNames(ctx, tx, loc.ID, loc.Names)
	})
	if err != nil {
		if apperr.IsClient(err) {
			return err
		}
		logger.Error("Failed to update location", zap.Error(err), zap.String("location_id", loc.ID.String()))
		return fmt.Errorf("failed to update location: %w", err)
	}
	return nil
}

// DeleteLocation は地点を削除する。表示名は外部キーで連鎖削除される。
func (s *Store) DeleteLocation(ctx context.Context, id uuid.UUID) error {
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM location_names WHERE location_id = ?`), id.String()); err != nil {
			return fmt.Errorf("failed to delete location names: %w", err)
		}
		res, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM locations WHERE id = ?`), id.String())
		if err != nil {
			return fmt.Errorf("failed to delete location: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return apperr.NotFound("location", "delete", id.String())
		}
		return nil
	})
	if err != nil {
		if apperr.IsClient(err) {
			return err
		}
		logger.Error("Failed to delete location", zap.Error(err), zap.String("location_id", id.String()))
		return fmt.Errorf("failed to delete location: %w", err)
	}
	return nil
}

func (s *Store) insertNames(ctx context.Context, tx *sql.Tx, locationID uuid.UUID, names []types.LocalizedName) error {
	for _, n := range names {
		_, err := tx.ExecContext(ctx, s.rebind(`INSERT INTO location_names (location_id, lang, name) VALUES (?, ?, ?)`),
			locationID.String(), n.Lang, n.Name)
		if err != nil {
			if _, dup := isUniqueViolation(err); dup {
				return apperr.Validation("localize", "duplicate language code: "+n.Lang)
			}
			return fmt.Errorf("failed to insert location name: %w", err)
		}
	}
	return nil
}

// FindLocationByID は地点を返す。無ければ NotFound。
func (s *Store) FindLocationByID(ctx context.Context, id uuid.UUID) (types.Location, error) {
	var (
		loc       types.Location
		radius    sql.NullInt64
		createdAt int64
	)
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT longitude, latitude, radius, created_at FROM locations WHERE id = ?`), id.String()).
		Scan(&loc.Position.Longitude, &loc.Position.Latitude, &radius, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return types.Location{}, apperr.NotFound("location", "find_by_id", id.String())
	}
	if err != nil {
		logger.Error("Failed to find location", zap.Error(err), zap.String("location_id", id.String()))
		return types.Location{}, fmt.Errorf("failed to find location: %w", err)
	}
	loc.ID = id
	loc.Radius = intPtr(radius)
	loc.CreatedAt = time.Unix(0, createdAt).UTC()

	names, err := s.loadNames(ctx, `WHERE location_id = ?`, id.String())
	if err != nil {
		return types.Location{}, err
	}
	loc.Names = names[id.String()]
	if loc.Names == nil {
		loc.Names = []types.LocalizedName{}
	}
	return loc, nil
}

// FindAllLocations は全地点を作成順に返す。
func (s *Store) FindAllLocations(ctx context.Context) ([]types.Location, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, longitude, latitude, radius, created_at FROM locations ORDER BY created_at, id`)
	if err != nil {
		logger.Error("Failed to query locations", zap.Error(err))
		return nil, fmt.Errorf("failed to query locations: %w", err)
	}

	locations := []types.Location{}
	for rows.Next() {
		var (
			loc       types.Location
			id        string
			radius    sql.NullInt64
			createdAt int64
		)
		if err := rows.Scan(&id, &loc.Position.Longitude, &loc.Position.Latitude, &radius, &createdAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan location: %w", err)
		}
		if loc.ID, err = uuid.Parse(id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("invalid location id %q: %w", id, err)
		}
		loc.Radius = intPtr(radius)
		loc.CreatedAt = time.Unix(0, createdAt).UTC()
		locations = append(locations, loc)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate locations: %w", err)
	}

	names, err := s.loadNames(ctx, "")
	if err != nil {
		return nil, err
	}
	for i := range locations {
		locations[i].Names = names[locations[i].ID.String()]
		if locations[i].Names == nil {
			locations[i].Names = []types.LocalizedName{}
		}
	}
	return locations, nil
}

func (s *Store) loadNames(ctx context.Context, where string, args ...any) (map[string][]types.LocalizedName, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`SELECT location_id, lang, name FROM location_names `+where+` ORDER BY location_id, lang`), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query location names: %w", err)
	}
	defer rows.Close()

	result := make(map[string][]types.LocalizedName)
	for rows.Next() {
		var locationID string
		var n types.LocalizedName
		if err := rows.Scan(&locationID, &n.Lang, &n.Name); err != nil {
			return nil, fmt.Errorf("failed to scan location name: %w", err)
		}
		result[locationID] = append(result[locationID], n)
	}
	return result, rows.Err()
}

func nullableInt(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func intPtr(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	n := int(v.Int64)
	return &n
}
