package recipe

import (
	"bytes"
	"encoding/json"
	"strings"
)

// Spec is the input for creating or updating a recipe.
type Spec struct {
	Name         string            `json:"name" validate:"required,notblank"`
	CategoryID   int64             `json:"category_id" validate:"required,gt=0,lte=2147483647"`
	PrepTime     *int              `json:"prep_time" validate:"omitempty,gte=0,lte=2147483647"`
	CookTime     *int              `json:"cook_time" validate:"omitempty,gte=0,lte=2147483647"`
	Servings     *int              `json:"servings" validate:"omitempty,gte=0,lte=2147483647"`
	Instructions []string          `json:"instructions" validate:"required,min=1,dive,notblank"`
	Ingredients  []IngredientEntry `json:"ingredients" validate:"required,min=1,dive"`
	// ImageFilename is the stored filename of a freshly uploaded image, if any.
	ImageFilename string `json:"-"`
}

// IngredientEntry is one ingredient line of a recipe as submitted by a client.
type IngredientEntry struct {
	Name     string `json:"name" validate:"required,notblank"`
	Quantity string `json:"quantity"`
	Unit     string `json:"unit"`
}

// UnmarshalJSON implements the json.Unmarshaler interface for IngredientEntry.
// The unit may arrive as "unit" or as "unit_id" and the quantity may be a
// string or a bare number.
func (e *IngredientEntry) UnmarshalJSON(data []byte) error {
	aux := struct {
		Name     string          `json:"name"`
		Quantity json.RawMessage `json:"quantity"`
		Unit     *string         `json:"unit"`
		UnitID   *string         `json:"unit_id"`
	}{}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	e.Name = aux.Name
	e.Unit = ""
	if aux.Unit != nil {
		e.Unit = *aux.Unit
	} else if aux.UnitID != nil {
		e.Unit = *aux.UnitID
	}

	e.Quantity = ""
	raw := bytes.TrimSpace(aux.Quantity)
	switch {
	case len(raw) == 0 || bytes.Equal(raw, []byte("null")):
	case raw[0] == '"':
		if err := json.Unmarshal(raw, &e.Quantity); err != nil {
			return err
		}
	default:
		var n json.Number
		if err := json.Unmarshal(raw, &n); err != nil {
			return err
		}
		e.Quantity = n.String()
	}
	e.Quantity = strings.TrimSpace(e.Quantity)

	return nil
}

// Summary is the list view of a recipe.
type Summary struct {
	ID       int64   `json:"id"`
	Name     string  `json:"name"`
	ImageURL *string `json:"image_url"`
}

// Detail is the full view of a single recipe.
type Detail struct {
	ID           int64            `json:"id"`
	Name         string           `json:"name"`
	CategoryID   int64            `json:"category_id"`
	Category     string           `json:"category"`
	ImageURL     *string          `json:"image_url"`
	PrepTime     *int             `json:"prep_time"`
	CookTime     *int             `json:"cook_time"`
	Servings     *int             `json:"servings"`
	Instructions []string         `json:"instructions"`
	Ingredients  []IngredientLine `json:"ingredients"`
}

// IngredientLine is a resolved ingredient of a recipe detail.
type IngredientLine struct {
	Name     string `json:"name"`
	Quantity string `json:"quantity"`
	Unit     string `json:"unit"`
}

// Ingredient is a row of the shared ingredient table.
type Ingredient struct {
	ID   int64  `json:"id" db:"id"`
	Name string `json:"name" db:"name"`
}

// Category groups dishes.
type Category struct {
	ID   int64  `json:"id" db:"id"`
	Name string `json:"name" db:"name"`
}

// ReservedCategory is the pseudo-category hidden from category listings.
const ReservedCategory = "Ingredients"

// Normalize trims and lowercases a reference value (ingredient or unit name).
func Normalize(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}
