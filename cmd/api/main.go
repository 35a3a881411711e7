package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"

	"recipecatalog/internal/api"
	"recipecatalog/internal/config"
	"recipecatalog/internal/platform/imagestore"
	"recipecatalog/internal/platform/logging"
	"recipecatalog/internal/platform/metrics"
	"recipecatalog/internal/platform/migrations"
	"recipecatalog/internal/recipe"
)

func main() {
	configPath := pflag.StringP("config", "c", "config.yaml", "path to the YAML configuration file")
	migrate := pflag.Bool("migrate", true, "apply database migrations on startup")
	pflag.Parse()

	if err := run(*configPath, *migrate); err != nil {
		logrus.WithError(err).Fatal("recipe catalog stopped")
	}
}

func run(configPath string, migrate bool) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	log, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}

	db, err := recipe.Connect(ctx, cfg.DatabaseURL, cfg.DBMaxOpenConns)
	if err != nil {
		return err
	}
	defer db.Close()

	if migrate {
		if err := migrations.Apply(ctx, db.DB, log); err != nil {
			return err
		}
	}

	images, staticDir, err := newImageStore(ctx, cfg.Images)
	if err != nil {
		return err
	}

	store := recipe.NewPostgresStore(db, recipe.Options{
		Images:         images,
		ImageURLPrefix: cfg.Images.URLPrefix,
		Logger:         log,
	})
	handler := api.NewHandler(store, images, api.Options{
		Logger:         log,
		RequestTimeout: cfg.RequestTimeout,
		MaxUploadBytes: cfg.MaxUploadBytes,
		DB:             db,
	})

	gin.SetMode(gin.ReleaseMode)
	r := newRouter(routerConfig{
		handler:      handler,
		metrics:      metrics.New(),
		log:          log,
		origins:      cfg.Origins(),
		staticPrefix: cfg.Images.URLPrefix,
		staticDir:    staticDir,
	})

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", cfg.Addr).Info("recipe catalog listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// newImageStore returns the configured image store and, for the local
// backend, the directory to serve images from.
func newImageStore(ctx context.Context, cfg config.Images) (imagestore.Store, string, error) {
	switch cfg.Backend {
	case config.ImageBackendS3:
		store, err := imagestore.NewS3Store(ctx, imagestore.S3Config{
			Bucket:    cfg.S3Bucket,
			Region:    cfg.S3Region,
			Prefix:    cfg.S3Prefix,
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
		})
		return store, "", err
	default:
		store, err := imagestore.NewLocalStore(cfg.Dir)
		if err != nil {
			return nil, "", err
		}
		return store, store.Dir(), nil
	}
}

type routerConfig struct {
	handler *api.Handler
	metrics *metrics.Metrics
	log     logrus.FieldLogger
	origins []string
	// staticDir is served under staticPrefix when set.
	staticPrefix string
	staticDir    string
}

func newRouter(rc routerConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logging.Middleware(rc.log))
	r.Use(rc.metrics.Middleware())
	r.Use(cors.New(corsConfig(rc.origins)))

	rc.handler.Register(r.Group("/recipes"))
	rc.handler.Register(r.Group("/api/recipes"))

	if rc.staticDir != "" && strings.HasPrefix(rc.staticPrefix, "/") {
		r.Static(rc.staticPrefix, rc.staticDir)
	}

	r.GET("/healthz", rc.handler.Health)
	r.GET("/metrics", gin.WrapH(rc.metrics.Handler()))
	return r
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods:  []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", logging.RequestIDHeader},
		ExposeHeaders: []string{"Content-Length", logging.RequestIDHeader},
		MaxAge:        12 * time.Hour,
	}
	if len(origins) == 0 || slices.Contains(origins, "*") {
		cfg.AllowAllOrigins = true
		return cfg
	}
	cfg.AllowOrigins = origins
	cfg.AllowCredentials = true
	return cfg
}
