package recipe

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// lookupTable is a reference table keyed by a unique normalized name.
type lookupTable string

const (
	ingredientsTable lookupTable = "ingredients"
	unitsTable       lookupTable = "units"
)

// resolveOrCreate returns the id of the row of table whose normalized name
// equals value, inserting the row when it is missing. Blank input yields an
// invalid NullInt64.
func resolveOrCreate(ctx context.Context, tx *sqlx.Tx, table lookupTable, value string) (sql.NullInt64, error) {
	normalized := Normalize(value)
	if normalized == "" {
		return sql.NullInt64{}, nil
	}

	selectQuery := fmt.Sprintf("SELECT id FROM %s WHERE name = $1", table)
	var id int64
	err := tx.GetContext(ctx, &id, selectQuery, normalized)
	if err == nil {
		return sql.NullInt64{Int64: id, Valid: true}, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return sql.NullInt64{}, &StorageError{Op: fmt.Sprintf("look up %s %q", table, normalized), Err: err}
	}

	// A concurrent writer may insert the same name between the lookup and
	// the insert; the unique index turns that into an empty RETURNING.
	insertQuery := fmt.Sprintf("INSERT INTO %s (name) VALUES ($1) ON CONFLICT (name) DO NOTHING RETURNING id", table)
	err = tx.GetContext(ctx, &id, insertQuery, normalized)
	if errors.Is(err, sql.ErrNoRows) {
		err = tx.GetContext(ctx, &id, selectQuery, normalized)
	}
	if err != nil {
		return sql.NullInt64{}, &StorageError{Op: fmt.Sprintf("insert %s %q", table, normalized), Err: err}
	}
	return sql.NullInt64{Int64: id, Valid: true}, nil
}
