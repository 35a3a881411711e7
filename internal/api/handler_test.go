package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"recipecatalog/internal/platform/imagestore"
	"recipecatalog/internal/recipe"
)

// mockRecipeStore is a mock of the RecipeStore.
type mockRecipeStore struct {
	created   *recipe.Spec
	updated   *recipe.Spec
	updatedID int64
	deletedID int64
	query     string
	category  string
	err       error

	detail    *recipe.Detail
	summaries []recipe.Summary
}

func (m *mockRecipeStore) CreateRecipe(ctx context.Context, spec *recipe.Spec) (int64, error) {
	if m.err != nil {
		return 0, m.err
	}
	m.created = spec
	return 42, nil
}

func (m *mockRecipeStore) UpdateRecipe(ctx context.Context, dishID int64, spec *recipe.Spec) error {
	if m.err != nil {
		return m.err
	}
	m.updatedID, m.updated = dishID, spec
	return nil
}

func (m *mockRecipeStore) DeleteRecipe(ctx context.Context, dishID int64) error {
	if m.err != nil {
		return m.err
	}
	m.deletedID = dishID
	return nil
}

func (m *mockRecipeStore) GetRecipeByID(ctx context.Context, dishID int64) (*recipe.Detail, error) {
	return m.detail, m.err
}

func (m *mockRecipeStore) ListRecipes(ctx context.Context) ([]recipe.Summary, error) {
	return m.summaries, m.err
}

func (m *mockRecipeStore) ListIngredients(ctx context.Context) ([]recipe.Ingredient, error) {
	return []recipe.Ingredient{{ID: 1, Name: "bread"}}, m.err
}

func (m *mockRecipeStore) ListCategories(ctx context.Context) ([]recipe.Category, error) {
	return []recipe.Category{{ID: 1, Name: "Breakfast"}}, m.err
}

func (m *mockRecipeStore) RecipesByCategory(ctx context.Context, category string) ([]recipe.Summary, error) {
	m.category = category
	return m.summaries, m.err
}

func (m *mockRecipeStore) RecipesByCategoryID(ctx context.Context, categoryID int64) ([]recipe.Summary, error) {
	return m.summaries, m.err
}

func (m *mockRecipeStore) RecipesByIngredient(ctx context.Context, ingredient string) ([]recipe.Summary, error) {
	m.query = ingredient
	return m.summaries, m.err
}

func (m *mockRecipeStore) SearchRecipes(ctx context.Context, query string) ([]recipe.Summary, error) {
	m.query = query
	if strings.TrimSpace(query) == "" {
		return nil, &recipe.ValidationError{Msg: "Search query is required"}
	}
	return m.summaries, m.err
}

// fakeImages records saved and removed files in memory.
type fakeImages struct {
	saved   map[string]string
	removed []string
}

func (f *fakeImages) Save(ctx context.Context, originalName string, r io.Reader) (string, error) {
	if err := imagestore.CheckExtension(originalName); err != nil {
		return "", err
	}
	body, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	name := "1700000000000-" + originalName
	f.saved[name] = string(body)
	return name, nil
}

func (f *fakeImages) Remove(ctx context.Context, filename string) error {
	f.removed = append(f.removed, filename)
	return nil
}

type pingFunc func(ctx context.Context) error

func (p pingFunc) PingContext(ctx context.Context) error { return p(ctx) }

func newTestRouter(store *mockRecipeStore, images *fakeImages, db Pinger) *gin.Engine {
	gin.SetMode(gin.TestMode)
	log, _ := test.NewNullLogger()

	h := NewHandler(store, images, Options{Logger: log, DB: db})
	r := gin.New()
	h.Register(r.Group("/recipes"))
	r.GET("/healthz", h.Health)
	return r
}

type formFile struct {
	name    string
	content string
}

func multipartBody(t *testing.T, fields map[string]string, file *formFile) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	for k, v := range fields {
		require.NoError(t, writer.WriteField(k, v))
	}
	if file != nil {
		part, err := writer.CreateFormFile(imageField, file.name)
		require.NoError(t, err)
		_, err = io.Copy(part, strings.NewReader(file.content))
		require.NoError(t, err)
	}
	require.NoError(t, writer.Close())
	return body, writer.FormDataContentType()
}

func toastFields() map[string]string {
	return map[string]string{
		"name":         "Toast ",
		"category_id":  "1",
		"prep_time":    "5",
		"cook_time":    "",
		"servings":     "2",
		"instructions": `["Slice","Toast"]`,
		"ingredients":  `[{"name":"Bread","quantity":2,"unit_id":"slice"},{"name":"Butter","quantity":"1","unit":""}]`,
	}
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out))
	return out
}

func TestCreateRecipe(t *testing.T) {
	store := &mockRecipeStore{}
	images := &fakeImages{saved: map[string]string{}}
	r := newTestRouter(store, images, nil)

	body, contentType := multipartBody(t, toastFields(), &formFile{name: "toast.png", content: "png-bytes"})
	req := httptest.NewRequest(http.MethodPost, "/recipes", body)
	req.Header.Set("Content-Type", contentType)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	out := decodeBody(t, rr)
	assert.Equal(t, "Recipe created", out["message"])
	assert.Equal(t, float64(42), out["dish_id"])

	require.NotNil(t, store.created)
	assert.Equal(t, "Toast ", store.created.Name)
	assert.Equal(t, int64(1), store.created.CategoryID)
	require.NotNil(t, store.created.PrepTime)
	assert.Equal(t, 5, *store.created.PrepTime)
	assert.Nil(t, store.created.CookTime)
	assert.Equal(t, []string{"Slice", "Toast"}, store.created.Instructions)
	assert.Equal(t, []recipe.IngredientEntry{
		{Name: "Bread", Quantity: "2", Unit: "slice"},
		{Name: "Butter", Quantity: "1", Unit: ""},
	}, store.created.Ingredients)
	assert.Equal(t, "1700000000000-toast.png", store.created.ImageFilename)
	assert.Equal(t, "png-bytes", images.saved["1700000000000-toast.png"])
}

func TestCreateRecipe_WithoutImage(t *testing.T) {
	store := &mockRecipeStore{}
	images := &fakeImages{saved: map[string]string{}}
	r := newTestRouter(store, images, nil)

	body, contentType := multipartBody(t, toastFields(), nil)
	req := httptest.NewRequest(http.MethodPost, "/recipes", body)
	req.Header.Set("Content-Type", contentType)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	require.Equal(t, http.StatusCreated, rr.Code)
	assert.Empty(t, store.created.ImageFilename)
	assert.Empty(t, images.saved)
}

func TestCreateRecipe_JSONBody(t *testing.T) {
	store := &mockRecipeStore{}
	r := newTestRouter(store, &fakeImages{saved: map[string]string{}}, nil)

	req := httptest.NewRequest(http.MethodPost, "/recipes", strings.NewReader(
		`{"name":"Tea","category_id":6,"instructions":["Boil"],"ingredients":[{"name":"Water","quantity":"1","unit":"cup"}]}`))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	assert.Equal(t, "Tea", store.created.Name)
	assert.Equal(t, int64(6), store.created.CategoryID)
}

func TestCreateRecipe_BadRequests(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(map[string]string)
		file    *formFile
		wantErr string
	}{
		{
			name:    "malformed instructions",
			mutate:  func(f map[string]string) { f["instructions"] = "[not json" },
			wantErr: "Invalid instructions or ingredients format",
		},
		{
			name:    "malformed ingredients",
			mutate:  func(f map[string]string) { f["ingredients"] = `{"name":"x"}` },
			wantErr: "Invalid instructions or ingredients format",
		},
		{
			name:    "missing name",
			mutate:  func(f map[string]string) { f["name"] = "   " },
			wantErr: "Missing required fields: name",
		},
		{
			name:    "missing lists",
			mutate:  func(f map[string]string) { delete(f, "instructions"); delete(f, "ingredients") },
			wantErr: "Missing required fields: instructions, ingredients",
		},
		{
			name:    "non numeric prep time",
			mutate:  func(f map[string]string) { f["prep_time"] = "five" },
			wantErr: "Invalid fields: prep_time",
		},
		{
			name:    "servings beyond integer column",
			mutate:  func(f map[string]string) { f["servings"] = "3000000000" },
			wantErr: "Invalid fields: servings",
		},
		{
			name:    "category beyond integer column",
			mutate:  func(f map[string]string) { f["category_id"] = "9999999999" },
			wantErr: "Invalid fields: category_id",
		},
		{
			name:    "unsupported image",
			mutate:  func(map[string]string) {},
			file:    &formFile{name: "notes.txt", content: "x"},
			wantErr: imagestore.ErrUnsupportedType.Error(),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &mockRecipeStore{}
			images := &fakeImages{saved: map[string]string{}}
			r := newTestRouter(store, images, nil)

			fields := toastFields()
			tt.mutate(fields)
			body, contentType := multipartBody(t, fields, tt.file)
			req := httptest.NewRequest(http.MethodPost, "/recipes", body)
			req.Header.Set("Content-Type", contentType)
			rr := httptest.NewRecorder()
			r.ServeHTTP(rr, req)

			assert.Equal(t, http.StatusBadRequest, rr.Code)
			assert.Equal(t, tt.wantErr, decodeBody(t, rr)["error"])
			assert.Nil(t, store.created)
			assert.Empty(t, images.saved)
		})
	}
}

func TestCreateRecipe_ConflictRemovesUpload(t *testing.T) {
	store := &mockRecipeStore{err: &recipe.ConflictError{Msg: "Dish with this name already exists"}}
	images := &fakeImages{saved: map[string]string{}}
	r := newTestRouter(store, images, nil)

	body, contentType := multipartBody(t, toastFields(), &formFile{name: "toast.png", content: "png"})
	req := httptest.NewRequest(http.MethodPost, "/recipes", body)
	req.Header.Set("Content-Type", contentType)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "Dish with this name already exists", decodeBody(t, rr)["error"])
	assert.Equal(t, []string{"1700000000000-toast.png"}, images.removed)
}

func TestUpdateRecipe(t *testing.T) {
	store := &mockRecipeStore{}
	images := &fakeImages{saved: map[string]string{}}
	r := newTestRouter(store, images, nil)

	body, contentType := multipartBody(t, toastFields(), nil)
	req := httptest.NewRequest(http.MethodPut, "/recipes/7", body)
	req.Header.Set("Content-Type", contentType)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	out := decodeBody(t, rr)
	assert.Equal(t, "Recipe updated", out["message"])
	assert.Equal(t, float64(7), out["dish_id"])
	assert.Equal(t, int64(7), store.updatedID)
	assert.Empty(t, store.updated.ImageFilename)
}

func TestUpdateRecipe_NotFound(t *testing.T) {
	store := &mockRecipeStore{err: &recipe.NotFoundError{Msg: "Recipe not found"}}
	images := &fakeImages{saved: map[string]string{}}
	r := newTestRouter(store, images, nil)

	body, contentType := multipartBody(t, toastFields(), &formFile{name: "new.jpg", content: "jpg"})
	req := httptest.NewRequest(http.MethodPut, "/recipes/99", body)
	req.Header.Set("Content-Type", contentType)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, []string{"1700000000000-new.jpg"}, images.removed)
}

func TestDeleteRecipe(t *testing.T) {
	store := &mockRecipeStore{}
	r := newTestRouter(store, &fakeImages{saved: map[string]string{}}, nil)

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodDelete, "/recipes/3", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	out := decodeBody(t, rr)
	assert.Equal(t, "Recipe and unused data deleted", out["message"])
	assert.Equal(t, float64(3), out["dish_id"])
	assert.Equal(t, int64(3), store.deletedID)
}

func TestErrorStatusMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"not found", &recipe.NotFoundError{Msg: "Recipe not found"}, http.StatusNotFound},
		{"validation", &recipe.ValidationError{Msg: "bad"}, http.StatusBadRequest},
		{"storage", &recipe.StorageError{Op: "delete recipe", Err: errors.New("connection reset")}, http.StatusInternalServerError},
		{"timeout", &recipe.StorageError{Op: "delete recipe", Err: context.DeadlineExceeded}, http.StatusRequestTimeout},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &mockRecipeStore{err: tt.err}
			r := newTestRouter(store, &fakeImages{saved: map[string]string{}}, nil)

			rr := httptest.NewRecorder()
			r.ServeHTTP(rr, httptest.NewRequest(http.MethodDelete, "/recipes/3", nil))

			assert.Equal(t, tt.want, rr.Code)
			assert.Contains(t, decodeBody(t, rr), "error")
		})
	}
}

func TestInvalidPathID(t *testing.T) {
	r := newTestRouter(&mockRecipeStore{}, &fakeImages{saved: map[string]string{}}, nil)

	for _, path := range []string{"/recipes/abc", "/recipes/0", "/recipes/9999999999", "/recipes/by-category-id/x"} {
		rr := httptest.NewRecorder()
		r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusBadRequest, rr.Code, path)
	}
}

func TestGetRecipe(t *testing.T) {
	url := "/imgs/1-toast.png"
	store := &mockRecipeStore{detail: &recipe.Detail{
		ID:           1,
		Name:         "Toast",
		CategoryID:   1,
		Category:     "Breakfast",
		ImageURL:     &url,
		Instructions: []string{"Slice"},
		Ingredients:  []recipe.IngredientLine{{Name: "bread", Quantity: "2", Unit: ""}},
	}}
	r := newTestRouter(store, &fakeImages{saved: map[string]string{}}, nil)

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/recipes/1", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	var got recipe.Detail
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
	assert.Equal(t, *store.detail, got)
	assert.Contains(t, rr.Body.String(), `"prep_time":null`)
}

func TestListRoutesAreNotCapturedByID(t *testing.T) {
	store := &mockRecipeStore{summaries: []recipe.Summary{{ID: 1, Name: "Toast"}}}
	r := newTestRouter(store, &fakeImages{saved: map[string]string{}}, nil)

	for _, path := range []string{
		"/recipes/simple",
		"/recipes/ingredients",
		"/recipes/categories",
		"/recipes/by-category/Breakfast",
		"/recipes/by-category-id/1",
		"/recipes/by-ingredient/Bread",
		"/recipes/search?query=toa",
	} {
		rr := httptest.NewRecorder()
		r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, rr.Code, path)
		assert.True(t, strings.HasPrefix(rr.Body.String(), "["), path)
	}
	assert.Equal(t, "Breakfast", store.category)
}

func TestSearchRecipes_BlankQuery(t *testing.T) {
	r := newTestRouter(&mockRecipeStore{}, &fakeImages{saved: map[string]string{}}, nil)

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/recipes/search?query=%20", nil))

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "Search query is required", decodeBody(t, rr)["error"])
}

func TestHealth(t *testing.T) {
	healthy := newTestRouter(&mockRecipeStore{}, nil, pingFunc(func(context.Context) error { return nil }))
	rr := httptest.NewRecorder()
	healthy.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rr.Code)

	down := newTestRouter(&mockRecipeStore{}, nil, pingFunc(func(context.Context) error { return errors.New("refused") }))
	rr = httptest.NewRecorder()
	down.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}
