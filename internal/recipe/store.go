package recipe

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"
)

// Store defines the interface for recipe data operations.
type Store interface {
	CreateRecipe(ctx context.Context, spec *Spec) (int64, error)
	UpdateRecipe(ctx context.Context, dishID int64, spec *Spec) error
	DeleteRecipe(ctx context.Context, dishID int64) error
	GetRecipeByID(ctx context.Context, dishID int64) (*Detail, error)
	ListRecipes(ctx context.Context) ([]Summary, error)
	ListIngredients(ctx context.Context) ([]Ingredient, error)
	ListCategories(ctx context.Context) ([]Category, error)
	RecipesByCategory(ctx context.Context, category string) ([]Summary, error)
	RecipesByCategoryID(ctx context.Context, categoryID int64) ([]Summary, error)
	RecipesByIngredient(ctx context.Context, ingredient string) ([]Summary, error)
	SearchRecipes(ctx context.Context, query string) ([]Summary, error)
}

// ImageRemover deletes stored image files. Removing a file that does not
// exist must not be reported as an error.
type ImageRemover interface {
	Remove(ctx context.Context, filename string) error
}

// PostgresStore implements the Store interface for PostgreSQL.
type PostgresStore struct {
	db          *sqlx.DB
	images      ImageRemover
	imagePrefix string
	log         logrus.FieldLogger
}

var _ Store = (*PostgresStore)(nil)

// Options configures a PostgresStore.
type Options struct {
	// Images removes files of deleted or replaced images. May be nil.
	Images ImageRemover
	// ImageURLPrefix is joined with stored filenames to build image URLs.
	ImageURLPrefix string
	Logger         logrus.FieldLogger
}

// Connect opens a pooled PostgreSQL handle.
func Connect(ctx context.Context, dataSourceName string, maxOpen int) (*sqlx.DB, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if maxOpen > 0 {
		db.SetMaxOpenConns(maxOpen)
		db.SetMaxIdleConns(maxOpen)
	}
	db.SetConnMaxLifetime(30 * time.Minute)
	return db, nil
}

// NewPostgresStore creates a new PostgresStore on top of db.
func NewPostgresStore(db *sqlx.DB, opts Options) *PostgresStore {
	log := opts.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	prefix := opts.ImageURLPrefix
	if prefix == "" {
		prefix = "/imgs"
	}
	return &PostgresStore{
		db:          db,
		images:      opts.Images,
		imagePrefix: prefix,
		log:         log.WithField("component", "recipe_store"),
	}
}

// withTx runs fn in a transaction that is committed when fn succeeds and
// rolled back on every other exit path.
func (s *PostgresStore) withTx(ctx context.Context, op string, fn func(tx *sqlx.Tx) error) (err error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return &StorageError{Op: "begin transaction", Err: err}
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			s.log.WithError(rbErr).WithField("op", op).Warn("rollback failed")
		}
		return storageErr(op, err)
	}

	if err := tx.Commit(); err != nil {
		return &StorageError{Op: "commit " + op, Err: err}
	}
	return nil
}

// lockDish takes a row lock on the dish so that concurrent update and
// delete of the same dish run one after the other.
func lockDish(ctx context.Context, tx *sqlx.Tx, dishID int64) error {
	var id int64
	err := tx.GetContext(ctx, &id, "SELECT id FROM dishes WHERE id = $1 FOR UPDATE", dishID)
	if errors.Is(err, sql.ErrNoRows) {
		return errDishNotFound
	}
	if err != nil {
		return &StorageError{Op: "lock dish", Err: err}
	}
	return nil
}

// imageURL builds the public URL of a stored image, or nil when there is none.
func (s *PostgresStore) imageURL(filename sql.NullString) *string {
	if !filename.Valid || filename.String == "" {
		return nil
	}
	u, err := url.JoinPath(s.imagePrefix, filename.String)
	if err != nil {
		u = strings.TrimSuffix(s.imagePrefix, "/") + "/" + filename.String
	}
	return &u
}

// removeImage deletes a stored image file after its row is gone. Failures
// are logged and never reach the caller.
func (s *PostgresStore) removeImage(ctx context.Context, filename string) {
	if s.images == nil || filename == "" {
		return
	}
	if err := s.images.Remove(ctx, filename); err != nil {
		s.log.WithError(err).WithField("image", filename).Warn("image deletion error")
		return
	}
	s.log.WithField("image", filename).Debug("image deleted")
}
