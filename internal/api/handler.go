package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"recipecatalog/internal/platform/imagestore"
	"recipecatalog/internal/recipe"
)

// RecipeStore defines the interface for recipe data operations.
type RecipeStore interface {
	CreateRecipe(ctx context.Context, spec *recipe.Spec) (int64, error)
	UpdateRecipe(ctx context.Context, dishID int64, spec *recipe.Spec) error
	DeleteRecipe(ctx context.Context, dishID int64) error
	GetRecipeByID(ctx context.Context, dishID int64) (*recipe.Detail, error)
	ListRecipes(ctx context.Context) ([]recipe.Summary, error)
	ListIngredients(ctx context.Context) ([]recipe.Ingredient, error)
	ListCategories(ctx context.Context) ([]recipe.Category, error)
	RecipesByCategory(ctx context.Context, category string) ([]recipe.Summary, error)
	RecipesByCategoryID(ctx context.Context, categoryID int64) ([]recipe.Summary, error)
	RecipesByIngredient(ctx context.Context, ingredient string) ([]recipe.Summary, error)
	SearchRecipes(ctx context.Context, query string) ([]recipe.Summary, error)
}

// Pinger reports whether the database is reachable.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Options tunes request handling.
type Options struct {
	Logger         logrus.FieldLogger
	RequestTimeout time.Duration
	MaxUploadBytes int64
	// DB is pinged by the health check. May be nil.
	DB Pinger
}

// Handler handles HTTP requests.
type Handler struct {
	RecipeStore RecipeStore
	Images      imagestore.Store

	db        Pinger
	log       logrus.FieldLogger
	timeout   time.Duration
	maxUpload int64
}

// NewHandler creates a new Handler.
func NewHandler(recipeStore RecipeStore, images imagestore.Store, opts Options) *Handler {
	h := &Handler{
		RecipeStore: recipeStore,
		Images:      images,
		db:          opts.DB,
		log:         opts.Logger,
		timeout:     opts.RequestTimeout,
		maxUpload:   opts.MaxUploadBytes,
	}
	if h.log == nil {
		h.log = logrus.StandardLogger()
	}
	if h.timeout <= 0 {
		h.timeout = 5 * time.Second
	}
	if h.maxUpload <= 0 {
		h.maxUpload = 10 << 20
	}
	return h
}

// Register mounts the recipe routes on r.
func (h *Handler) Register(r gin.IRoutes) {
	r.POST("", h.CreateRecipe)
	r.GET("/simple", h.ListRecipes)
	r.GET("/ingredients", h.ListIngredients)
	r.GET("/categories", h.ListCategories)
	r.GET("/search", h.SearchRecipes)
	r.GET("/by-category/:category", h.RecipesByCategory)
	r.GET("/by-category-id/:id", h.RecipesByCategoryID)
	r.GET("/by-ingredient/:name", h.RecipesByIngredient)
	r.GET("/:id", h.GetRecipe)
	r.PUT("/:id", h.UpdateRecipe)
	r.DELETE("/:id", h.DeleteRecipe)
}

func (h *Handler) context(c *gin.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request.Context(), h.timeout)
}

// CreateRecipe handles multipart recipe submissions with an optional image.
func (h *Handler) CreateRecipe(c *gin.Context) {
	ctx, cancel := h.context(c)
	defer cancel()

	spec, err := h.bindSpec(c)
	if err != nil {
		h.fail(c, err)
		return
	}
	if err := h.attachImage(ctx, c, spec); err != nil {
		h.fail(c, err)
		return
	}

	dishID, err := h.RecipeStore.CreateRecipe(ctx, spec)
	if err != nil {
		h.discardImage(ctx, spec.ImageFilename)
		h.fail(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"message": "Recipe created", "dish_id": dishID})
}

// UpdateRecipe replaces a recipe. Without an image upload the stored image is kept.
func (h *Handler) UpdateRecipe(c *gin.Context) {
	dishID, err := pathID(c, "id")
	if err != nil {
		h.fail(c, err)
		return
	}

	ctx, cancel := h.context(c)
	defer cancel()

	spec, err := h.bindSpec(c)
	if err != nil {
		h.fail(c, err)
		return
	}
	if err := h.attachImage(ctx, c, spec); err != nil {
		h.fail(c, err)
		return
	}

	if err := h.RecipeStore.UpdateRecipe(ctx, dishID, spec); err != nil {
		h.discardImage(ctx, spec.ImageFilename)
		h.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Recipe updated", "dish_id": dishID})
}

// DeleteRecipe removes a recipe and the shared data only it used.
func (h *Handler) DeleteRecipe(c *gin.Context) {
	dishID, err := pathID(c, "id")
	if err != nil {
		h.fail(c, err)
		return
	}

	ctx, cancel := h.context(c)
	defer cancel()

	if err := h.RecipeStore.DeleteRecipe(ctx, dishID); err != nil {
		h.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Recipe and unused data deleted", "dish_id": dishID})
}

// GetRecipe handles requests to retrieve a single recipe by id.
func (h *Handler) GetRecipe(c *gin.Context) {
	dishID, err := pathID(c, "id")
	if err != nil {
		h.fail(c, err)
		return
	}

	ctx, cancel := h.context(c)
	defer cancel()

	detail, err := h.RecipeStore.GetRecipeByID(ctx, dishID)
	if err != nil {
		h.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, detail)
}

// ListRecipes handles requests for the simplified list of all recipes.
func (h *Handler) ListRecipes(c *gin.Context) {
	ctx, cancel := h.context(c)
	defer cancel()

	h.respondList(c, func() (any, error) { return h.RecipeStore.ListRecipes(ctx) })
}

// ListIngredients handles requests for every known ingredient.
func (h *Handler) ListIngredients(c *gin.Context) {
	ctx, cancel := h.context(c)
	defer cancel()

	h.respondList(c, func() (any, error) { return h.RecipeStore.ListIngredients(ctx) })
}

// ListCategories handles requests for the categories a recipe can belong to.
func (h *Handler) ListCategories(c *gin.Context) {
	ctx, cancel := h.context(c)
	defer cancel()

	h.respondList(c, func() (any, error) { return h.RecipeStore.ListCategories(ctx) })
}

// RecipesByCategory handles requests for recipes of a category given by name.
func (h *Handler) RecipesByCategory(c *gin.Context) {
	ctx, cancel := h.context(c)
	defer cancel()

	category := c.Param("category")
	h.respondList(c, func() (any, error) { return h.RecipeStore.RecipesByCategory(ctx, category) })
}

// RecipesByCategoryID handles requests for recipes of a category given by id.
func (h *Handler) RecipesByCategoryID(c *gin.Context) {
	categoryID, err := pathID(c, "id")
	if err != nil {
		h.fail(c, err)
		return
	}

	ctx, cancel := h.context(c)
	defer cancel()

	h.respondList(c, func() (any, error) { return h.RecipeStore.RecipesByCategoryID(ctx, categoryID) })
}

// RecipesByIngredient handles requests for recipes that use an ingredient.
func (h *Handler) RecipesByIngredient(c *gin.Context) {
	ctx, cancel := h.context(c)
	defer cancel()

	name := c.Param("name")
	h.respondList(c, func() (any, error) { return h.RecipeStore.RecipesByIngredient(ctx, name) })
}

// SearchRecipes matches the query against recipe and ingredient names.
func (h *Handler) SearchRecipes(c *gin.Context) {
	ctx, cancel := h.context(c)
	defer cancel()

	query := c.Query("query")
	h.respondList(c, func() (any, error) { return h.RecipeStore.SearchRecipes(ctx, query) })
}

// Health reports whether the service can reach its database.
func (h *Handler) Health(c *gin.Context) {
	if h.db != nil {
		ctx, cancel := h.context(c)
		defer cancel()

		if err := h.db.PingContext(ctx); err != nil {
			h.log.WithError(err).Error("health check failed")
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handler) respondList(c *gin.Context, list func() (any, error)) {
	items, err := list()
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, items)
}

// fail maps err to a status code and writes it as {"error": msg}.
func (h *Handler) fail(c *gin.Context, err error) {
	status := statusFor(err)
	msg := err.Error()
	switch {
	case status == http.StatusRequestTimeout:
		msg = "Database query timed out"
	case status >= http.StatusInternalServerError:
		h.log.WithError(err).WithField("route", c.FullPath()).Error("request failed")
	}
	_ = c.Error(err)
	c.JSON(status, gin.H{"error": msg})
}

func statusFor(err error) int {
	var (
		ve *recipe.ValidationError
		ce *recipe.ConflictError
		ne *recipe.NotFoundError
		tl *http.MaxBytesError
	)
	switch {
	case errors.As(err, &ve), errors.As(err, &ce), errors.Is(err, imagestore.ErrUnsupportedType):
		return http.StatusBadRequest
	case errors.As(err, &ne):
		return http.StatusNotFound
	case errors.As(err, &tl):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}

func pathID(c *gin.Context, name string) (int64, error) {
	id, err := strconv.ParseInt(c.Param(name), 10, 32)
	if err != nil || id <= 0 {
		return 0, &recipe.ValidationError{Msg: "Invalid " + name}
	}
	return id, nil
}
