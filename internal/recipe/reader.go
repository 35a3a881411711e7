package recipe

import (
	"context"
	"database/sql"
	"errors"
	"strings"
)

type summaryRow struct {
	ID            int64          `db:"id"`
	Name          string         `db:"name"`
	ImageFilename sql.NullString `db:"image_filename"`
}

type detailRow struct {
	ID            int64          `db:"id"`
	Name          string         `db:"name"`
	CategoryID    int64          `db:"category_id"`
	Category      string         `db:"category"`
	ImageFilename sql.NullString `db:"image_filename"`
	PrepTime      sql.NullInt64  `db:"prep_time_minutes"`
	CookTime      sql.NullInt64  `db:"cook_time_minutes"`
	Servings      sql.NullInt64  `db:"servings"`
}

type ingredientLineRow struct {
	Name     string `db:"name"`
	Quantity string `db:"quantity"`
	Unit     string `db:"unit"`
}

const summarySelect = `
	SELECT d.id, d.name, di.image_filename
	FROM dishes d
	LEFT JOIN dish_images di ON di.dish_id = d.id`

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// ListRecipes returns every recipe ordered by id.
func (s *PostgresStore) ListRecipes(ctx context.Context) ([]Summary, error) {
	return s.selectSummaries(ctx, "list recipes", summarySelect+" ORDER BY d.id")
}

// RecipesByCategory returns the recipes of the category with the given name.
func (s *PostgresStore) RecipesByCategory(ctx context.Context, category string) ([]Summary, error) {
	return s.selectSummaries(ctx, "get recipes by category", summarySelect+`
		JOIN categories c ON c.id = d.category_id
		WHERE c.name = $1
		ORDER BY d.id`, category)
}

// RecipesByCategoryID returns the recipes of the category with the given id.
func (s *PostgresStore) RecipesByCategoryID(ctx context.Context, categoryID int64) ([]Summary, error) {
	return s.selectSummaries(ctx, "get recipes by category id", summarySelect+`
		WHERE d.category_id = $1
		ORDER BY d.id`, categoryID)
}

// RecipesByIngredient returns each recipe using the ingredient once.
func (s *PostgresStore) RecipesByIngredient(ctx context.Context, ingredient string) ([]Summary, error) {
	return s.selectSummaries(ctx, "get recipes by ingredient", `
		SELECT DISTINCT d.id, d.name, di.image_filename
		FROM dishes d
		LEFT JOIN dish_images di ON di.dish_id = d.id
		JOIN dish_ingredients dii ON dii.dish_id = d.id
		JOIN ingredients i ON i.id = dii.ingredient_id
		WHERE i.name = $1
		ORDER BY d.id`, Normalize(ingredient))
}

// SearchRecipes matches query, as submitted, as a case-insensitive substring
// of the dish name or of any of its ingredient names.
func (s *PostgresStore) SearchRecipes(ctx context.Context, query string) ([]Summary, error) {
	if strings.TrimSpace(query) == "" {
		return nil, &ValidationError{Msg: "Search query is required"}
	}
	pattern := "%" + likeEscaper.Replace(query) + "%"
	return s.selectSummaries(ctx, "search recipes", `
		SELECT DISTINCT d.id, d.name, di.image_filename
		FROM dishes d
		LEFT JOIN dish_images di ON di.dish_id = d.id
		LEFT JOIN dish_ingredients dii ON dii.dish_id = d.id
		LEFT JOIN ingredients i ON i.id = dii.ingredient_id
		WHERE d.name ILIKE $1 OR i.name ILIKE $1
		ORDER BY d.name`, pattern)
}

func (s *PostgresStore) selectSummaries(ctx context.Context, op, query string, args ...interface{}) ([]Summary, error) {
	var rows []summaryRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, &StorageError{Op: op, Err: err}
	}

	recipes := make([]Summary, 0, len(rows))
	for _, row := range rows {
		recipes = append(recipes, Summary{
			ID:       row.ID,
			Name:     row.Name,
			ImageURL: s.imageURL(row.ImageFilename),
		})
	}
	return recipes, nil
}

// ListIngredients returns every ingredient ordered by name.
func (s *PostgresStore) ListIngredients(ctx context.Context) ([]Ingredient, error) {
	ingredients := []Ingredient{}
	if err := s.db.SelectContext(ctx, &ingredients, "SELECT id, name FROM ingredients ORDER BY name"); err != nil {
		return nil, &StorageError{Op: "list ingredients", Err: err}
	}
	return ingredients, nil
}

// ListCategories returns every category except the reserved one.
func (s *PostgresStore) ListCategories(ctx context.Context) ([]Category, error) {
	categories := []Category{}
	err := s.db.SelectContext(ctx, &categories,
		"SELECT id, name FROM categories WHERE name <> $1 ORDER BY name", ReservedCategory)
	if err != nil {
		return nil, &StorageError{Op: "list categories", Err: err}
	}
	return categories, nil
}

// GetRecipeByID assembles the full view of a dish.
func (s *PostgresStore) GetRecipeByID(ctx context.Context, dishID int64) (*Detail, error) {
	var head detailRow
	err := s.db.GetContext(ctx, &head, `
		SELECT d.id, d.name, d.category_id, c.name AS category, di.image_filename,
			r.prep_time_minutes, r.cook_time_minutes, r.servings
		FROM dishes d
		JOIN categories c ON c.id = d.category_id
		LEFT JOIN recipes r ON r.dish_id = d.id
		LEFT JOIN dish_images di ON di.dish_id = d.id
		WHERE d.id = $1`, dishID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errDishNotFound
	}
	if err != nil {
		return nil, &StorageError{Op: "get recipe", Err: err}
	}

	var lines []ingredientLineRow
	err = s.db.SelectContext(ctx, &lines, `
		SELECT i.name, dii.quantity, COALESCE(u.name, '') AS unit
		FROM dish_ingredients dii
		JOIN ingredients i ON i.id = dii.ingredient_id
		LEFT JOIN units u ON u.id = dii.unit_id
		WHERE dii.dish_id = $1
		ORDER BY dii.position, dii.id`, dishID)
	if err != nil {
		return nil, &StorageError{Op: "get recipe ingredients", Err: err}
	}

	instructions := []string{}
	err = s.db.SelectContext(ctx, &instructions,
		"SELECT content FROM instruction_steps WHERE dish_id = $1 ORDER BY step_number", dishID)
	if err != nil {
		return nil, &StorageError{Op: "get recipe instructions", Err: err}
	}

	detail := &Detail{
		ID:           head.ID,
		Name:         head.Name,
		CategoryID:   head.CategoryID,
		Category:     head.Category,
		ImageURL:     s.imageURL(head.ImageFilename),
		PrepTime:     intPtr(head.PrepTime),
		CookTime:     intPtr(head.CookTime),
		Servings:     intPtr(head.Servings),
		Instructions: instructions,
		Ingredients:  make([]IngredientLine, 0, len(lines)),
	}
	for _, l := range lines {
		detail.Ingredients = append(detail.Ingredients, IngredientLine(l))
	}
	return detail, nil
}

func intPtr(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	n := int(v.Int64)
	return &n
}
