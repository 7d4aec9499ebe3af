package localdb

import (
	"errors"
	"strings"

	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
	"modernc.org/sqlite"
	sqlitelib "modernc.org/sqlite/lib"

	"github.com/ichi0g0y/ring-overlay/internal/instance"
)

// ErrNotInitialized はストア未初期化時のエラー。
var ErrNotInitialized = errors.New("database not initialized")

// isUniqueViolation reports whether err is a unique or primary key violation
// and returns the driver message used to tell which constraint fired.
func isUniqueViolation(err error) (string, bool) {
	var mattnErr sqlite3.Error
	if errors.As(err, &mattnErr) {
		if mattnErr.ExtendedCode == sqlite3.ErrConstraintUnique || mattnErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey {
			return mattnErr.Error(), true
		}
		return "", false
	}

	var modernErr *sqlite.Error
	if errors.As(err, &modernErr) {
		switch modernErr.Code() {
		case sqlitelib.SQLITE_CONSTRAINT_UNIQUE, sqlitelib.SQLITE_CONSTRAINT_PRIMARYKEY:
			return modernErr.Error(), true
		}
		return "", false
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return pqErr.Constraint + " " + pqErr.Message, true
	}
	return "", false
}

// mapRingConstraint は rings / instances の一意制約違反をドメインの衝突に変換する。
// 一意制約以外のエラーはそのまま返す。
func mapRingConstraint(err error) error {
	msg, ok := isUniqueViolation(err)
	if !ok {
		return err
	}
	switch {
	case strings.Contains(msg, "slot_index") || strings.Contains(msg, "rings_instance_slot"):
		return instance.ErrDuplicateIndex
	case strings.Contains(msg, "location_id") || strings.Contains(msg, "open_location"):
		return instance.ErrOpenInstanceExists
	default:
		return instance.ErrDuplicateID
	}
}
