package recipe

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// refSet holds the ingredient and unit ids a dish referenced before a write.
type refSet struct {
	ingredients []int64
	units       []int64
}

type refRow struct {
	IngredientID int64         `db:"ingredient_id"`
	UnitID       sql.NullInt64 `db:"unit_id"`
}

// Deletion order keeps foreign keys satisfied.
var deleteSteps = []struct {
	op    string
	query string
}{
	{"delete instruction steps", "DELETE FROM instruction_steps WHERE dish_id = $1"},
	{"delete dish ingredients", "DELETE FROM dish_ingredients WHERE dish_id = $1"},
	{"delete dish image", "DELETE FROM dish_images WHERE dish_id = $1"},
	{"delete recipe", "DELETE FROM recipes WHERE dish_id = $1"},
	{"delete dish", "DELETE FROM dishes WHERE id = $1"},
}

// DeleteRecipe removes a dish with every dependent row, drops ingredients
// and units nothing references anymore, and finally removes the image file.
func (s *PostgresStore) DeleteRecipe(ctx context.Context, dishID int64) error {
	var image string
	err := s.withTx(ctx, "delete recipe", func(tx *sqlx.Tx) error {
		if err := lockDish(ctx, tx, dishID); err != nil {
			return err
		}

		var err error
		image, err = dishImage(ctx, tx, dishID)
		if err != nil {
			return err
		}
		refs, err := associatedRefs(ctx, tx, dishID)
		if err != nil {
			return err
		}

		for _, step := range deleteSteps {
			if _, err := tx.ExecContext(ctx, step.query, dishID); err != nil {
				return &StorageError{Op: step.op, Err: err}
			}
		}

		// Must run after this dish's associations are gone, or rows used
		// only by this dish would still look referenced.
		return s.collectGarbage(ctx, tx, refs)
	})
	if err != nil {
		return err
	}

	s.removeImage(ctx, image)
	s.log.WithField("dish_id", dishID).Info("recipe and unused data deleted")
	return nil
}

// associatedRefs returns the distinct ingredient and unit ids linked to a dish.
func associatedRefs(ctx context.Context, tx *sqlx.Tx, dishID int64) (refSet, error) {
	var rows []refRow
	err := tx.SelectContext(ctx, &rows, "SELECT ingredient_id, unit_id FROM dish_ingredients WHERE dish_id = $1", dishID)
	if err != nil {
		return refSet{}, &StorageError{Op: "read dish ingredients", Err: err}
	}

	var refs refSet
	seenIngredient := make(map[int64]bool)
	seenUnit := make(map[int64]bool)
	for _, r := range rows {
		if !seenIngredient[r.IngredientID] {
			seenIngredient[r.IngredientID] = true
			refs.ingredients = append(refs.ingredients, r.IngredientID)
		}
		if r.UnitID.Valid && !seenUnit[r.UnitID.Int64] {
			seenUnit[r.UnitID.Int64] = true
			refs.units = append(refs.units, r.UnitID.Int64)
		}
	}
	return refs, nil
}

// collectGarbage deletes the ingredients and units in refs that no
// association row references anymore.
func (s *PostgresStore) collectGarbage(ctx context.Context, tx *sqlx.Tx, refs refSet) error {
	if len(refs.ingredients) > 0 {
		res, err := tx.ExecContext(ctx, `
			DELETE FROM ingredients i
			WHERE i.id = ANY($1)
			AND NOT EXISTS (SELECT 1 FROM dish_ingredients di WHERE di.ingredient_id = i.id)`,
			pq.Array(refs.ingredients))
		if err != nil {
			return &StorageError{Op: "delete unused ingredients", Err: err}
		}
		if n, _ := res.RowsAffected(); n > 0 {
			s.log.WithField("count", n).Debug("unused ingredients deleted")
		}
	}

	if len(refs.units) > 0 {
		res, err := tx.ExecContext(ctx, `
			DELETE FROM units u
			WHERE u.id = ANY($1)
			AND NOT EXISTS (SELECT 1 FROM dish_ingredients di WHERE di.unit_id = u.id)`,
			pq.Array(refs.units))
		if err != nil {
			return &StorageError{Op: "delete unused units", Err: err}
		}
		if n, _ := res.RowsAffected(); n > 0 {
			s.log.WithField("count", n).Debug("unused units deleted")
		}
	}
	return nil
}
