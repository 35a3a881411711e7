package recipe

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
)

type stepRow struct {
	DishID     int64  `db:"dish_id"`
	StepNumber int    `db:"step_number"`
	Content    string `db:"content"`
}

// CreateRecipe inserts a dish with its recipe, steps, ingredients and image
// in a single transaction and returns the new dish id.
func (s *PostgresStore) CreateRecipe(ctx context.Context, spec *Spec) (int64, error) {
	if err := spec.Validate(); err != nil {
		return 0, err
	}

	var dishID int64
	err := s.withTx(ctx, "create recipe", func(tx *sqlx.Tx) error {
		if err := checkCategory(ctx, tx, spec.CategoryID); err != nil {
			return err
		}

		var existing int64
		err := tx.GetContext(ctx, &existing, "SELECT id FROM dishes WHERE name = $1", spec.Name)
		if err == nil {
			return &ConflictError{Msg: "Dish with this name already exists"}
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return &StorageError{Op: "check dish name", Err: err}
		}

		err = tx.GetContext(ctx, &dishID,
			"INSERT INTO dishes (name, category_id) VALUES ($1, $2) RETURNING id",
			spec.Name, spec.CategoryID)
		if err != nil {
			return dishWriteErr("insert dish", err)
		}

		_, err = tx.ExecContext(ctx,
			"INSERT INTO recipes (dish_id, prep_time_minutes, cook_time_minutes, servings) VALUES ($1, $2, $3, $4)",
			dishID, spec.PrepTime, spec.CookTime, spec.Servings)
		if err != nil {
			return &StorageError{Op: "insert recipe", Err: err}
		}

		if err := insertSteps(ctx, tx, dishID, spec.Instructions); err != nil {
			return err
		}
		if err := insertIngredients(ctx, tx, dishID, spec.Ingredients); err != nil {
			return err
		}

		if spec.ImageFilename != "" {
			_, err = tx.ExecContext(ctx,
				"INSERT INTO dish_images (dish_id, image_filename) VALUES ($1, $2)",
				dishID, spec.ImageFilename)
			if err != nil {
				return &StorageError{Op: "insert dish image", Err: err}
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	s.log.WithField("dish_id", dishID).Info("recipe created")
	return dishID, nil
}

// UpdateRecipe replaces the metadata, steps and ingredients of a dish. The
// image is replaced only when spec carries a new one.
func (s *PostgresStore) UpdateRecipe(ctx context.Context, dishID int64, spec *Spec) error {
	if err := spec.Validate(); err != nil {
		return err
	}

	var replacedImage string
	err := s.withTx(ctx, "update recipe", func(tx *sqlx.Tx) error {
		if err := lockDish(ctx, tx, dishID); err != nil {
			return err
		}
		if err := checkCategory(ctx, tx, spec.CategoryID); err != nil {
			return err
		}

		_, err := tx.ExecContext(ctx,
			"UPDATE dishes SET name = $1, category_id = $2 WHERE id = $3",
			spec.Name, spec.CategoryID, dishID)
		if err != nil {
			return dishWriteErr("update dish", err)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO recipes (dish_id, prep_time_minutes, cook_time_minutes, servings)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (dish_id) DO UPDATE SET
				prep_time_minutes = EXCLUDED.prep_time_minutes,
				cook_time_minutes = EXCLUDED.cook_time_minutes,
				servings = EXCLUDED.servings`,
			dishID, spec.PrepTime, spec.CookTime, spec.Servings)
		if err != nil {
			return &StorageError{Op: "update recipe", Err: err}
		}

		if _, err := tx.ExecContext(ctx, "DELETE FROM instruction_steps WHERE dish_id = $1", dishID); err != nil {
			return &StorageError{Op: "delete instruction steps", Err: err}
		}
		if err := insertSteps(ctx, tx, dishID, spec.Instructions); err != nil {
			return err
		}

		old, err := associatedRefs(ctx, tx, dishID)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM dish_ingredients WHERE dish_id = $1", dishID); err != nil {
			return &StorageError{Op: "delete dish ingredients", Err: err}
		}
		if err := insertIngredients(ctx, tx, dishID, spec.Ingredients); err != nil {
			return err
		}
		if err := s.collectGarbage(ctx, tx, old); err != nil {
			return err
		}

		if spec.ImageFilename == "" {
			return nil
		}
		previous, err := dishImage(ctx, tx, dishID)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO dish_images (dish_id, image_filename) VALUES ($1, $2)
			ON CONFLICT (dish_id) DO UPDATE SET image_filename = EXCLUDED.image_filename`,
			dishID, spec.ImageFilename)
		if err != nil {
			return &StorageError{Op: "update dish image", Err: err}
		}
		if previous != spec.ImageFilename {
			replacedImage = previous
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.removeImage(ctx, replacedImage)
	s.log.WithField("dish_id", dishID).Info("recipe updated")
	return nil
}

func checkCategory(ctx context.Context, tx *sqlx.Tx, categoryID int64) error {
	var exists bool
	err := tx.GetContext(ctx, &exists, "SELECT EXISTS (SELECT 1 FROM categories WHERE id = $1)", categoryID)
	if err != nil {
		return &StorageError{Op: "check category", Err: err}
	}
	if !exists {
		return &ValidationError{Msg: fmt.Sprintf("Unknown category_id %d", categoryID)}
	}
	return nil
}

// insertSteps stores instructions numbered 1..N in input order.
func insertSteps(ctx context.Context, tx *sqlx.Tx, dishID int64, instructions []string) error {
	steps := make([]stepRow, 0, len(instructions))
	for i, content := range instructions {
		steps = append(steps, stepRow{DishID: dishID, StepNumber: i + 1, Content: content})
	}
	_, err := tx.NamedExecContext(ctx,
		"INSERT INTO instruction_steps (dish_id, step_number, content) VALUES (:dish_id, :step_number, :content)",
		steps)
	if err != nil {
		return &StorageError{Op: "insert instruction steps", Err: err}
	}
	return nil
}

// insertIngredients resolves each ingredient and unit in input order and
// links them to the dish.
func insertIngredients(ctx context.Context, tx *sqlx.Tx, dishID int64, entries []IngredientEntry) error {
	for i, entry := range entries {
		ingredientID, err := resolveOrCreate(ctx, tx, ingredientsTable, entry.Name)
		if err != nil {
			return err
		}
		if !ingredientID.Valid {
			return &ValidationError{Msg: "Ingredient name is required"}
		}
		unitID, err := resolveOrCreate(ctx, tx, unitsTable, entry.Unit)
		if err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx,
			"INSERT INTO dish_ingredients (dish_id, ingredient_id, unit_id, quantity, position) VALUES ($1, $2, $3, $4, $5)",
			dishID, ingredientID.Int64, unitID, entry.Quantity, i+1)
		if err != nil {
			return &StorageError{Op: "insert dish ingredient", Err: err}
		}
	}
	return nil
}

func dishImage(ctx context.Context, tx *sqlx.Tx, dishID int64) (string, error) {
	var filename string
	err := tx.GetContext(ctx, &filename, "SELECT image_filename FROM dish_images WHERE dish_id = $1", dishID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", &StorageError{Op: "read dish image", Err: err}
	}
	return filename, nil
}

func dishWriteErr(op string, err error) error {
	switch pqErrorCode(err) {
	case pqUniqueViolation:
		return &ConflictError{Msg: "Dish with this name already exists"}
	case pqForeignKeyViolation:
		return &ValidationError{Msg: "Unknown category_id"}
	}
	return &StorageError{Op: op, Err: err}
}
