package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/ehr/clinic/internal/config"
	"github.com/ehr/clinic/internal/domain/account"
	"github.com/ehr/clinic/internal/domain/records"
	"github.com/ehr/clinic/internal/platform/ai"
	"github.com/ehr/clinic/internal/platform/auth"
	"github.com/ehr/clinic/internal/platform/blobstore"
	"github.com/ehr/clinic/internal/platform/db"
	"github.com/ehr/clinic/internal/platform/events"
	"github.com/ehr/clinic/internal/platform/middleware"
)

const mongoRetryInterval = 5 * time.Second

func main() {
	rootCmd := &cobra.Command{
		Use:   "clinic-server",
		Short: "Clinic records API server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(userCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			count, err := db.NewMigrator(pool, db.EmbeddedMigrations()).Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			statuses, err := db.NewMigrator(pool, db.EmbeddedMigrations()).Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			fmt.Println("---------- ---------------------------------------- ---------- --------------------")
			for _, s := range statuses {
				status := "pending"
				appliedAt := ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	})

	return cmd
}

func userCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage practitioner accounts",
	}

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create a practitioner account",
		RunE: func(cmd *cobra.Command, args []string) error {
			email, _ := cmd.Flags().GetString("email")
			password, _ := cmd.Flags().GetString("password")
			role, _ := cmd.Flags().GetString("role")

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			svc := account.NewService(account.NewUserRepoPG(pool), auth.NewIssuer([]byte(cfg.JWTSecret), cfg.TokenTTL))
			u, err := svc.Signup(ctx, account.SignupInput{Email: email, Password: password, Role: role})
			if err != nil {
				return err
			}
			fmt.Printf("Created %s account %s (id %s)\n", u.Role, u.Email, u.ID)
			return nil
		},
	}
	createCmd.Flags().String("email", "", "Account email")
	createCmd.Flags().String("password", "", "Account password")
	createCmd.Flags().String("role", auth.RoleDoctor, "Account role (doctor or nurse)")
	_ = createCmd.MarkFlagRequired("email")
	_ = createCmd.MarkFlagRequired("password")
	cmd.AddCommand(createCmd)

	return cmd
}

func newLogger(dev bool) zerolog.Logger {
	if dev {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

// app holds the handlers and shared handles the HTTP server is built from.
type app struct {
	cfg        *config.Config
	logger     zerolog.Logger
	db         db.Pinger
	limiter    middleware.Limiter
	accounts   *account.Handler
	records    *records.Handler
	files      *blobstore.Handler
	signingKey []byte
}

func newServer(a app) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = middleware.ErrorHandler(a.logger)

	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(a.logger))
	e.Use(middleware.Recovery(a.logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins:     a.cfg.CORSOrigins,
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders:     []string{echo.HeaderAuthorization, echo.HeaderContentType, middleware.RequestIDHeader},
		AllowCredentials: true,
	}))
	e.Use(middleware.BodyLimit(a.cfg.MaxUploadSize))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	e.GET("/health/db", db.HealthHandler(a.db))

	api := e.Group("/api")
	api.Use(middleware.RateLimit(a.limiter, a.logger))
	api.Use(auth.JWTMiddleware(auth.JWTConfig{
		SigningKey: a.signingKey,
		Skipper:    auth.AuthSkipper,
	}))

	a.accounts.RegisterRoutes(api)
	a.records.RegisterRoutes(api)
	a.files.RegisterRoutes(api)

	return e
}

func runServer() error {
	logger := newLogger(os.Getenv("ENV") == "" || os.Getenv("ENV") == "development")

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	if cfg.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{Dsn: cfg.SentryDSN, Environment: cfg.Env}); err != nil {
			logger.Warn().Err(err).Msg("sentry init failed")
		} else {
			defer sentry.Flush(2 * time.Second)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Database
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	applied, err := db.NewMigrator(pool, db.EmbeddedMigrations()).Up(ctx)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to apply migrations")
	}
	logger.Info().Int("applied", applied).Msg("migrations up to date")

	// Blob store
	var blobs blobstore.Store
	mongoClient := make(chan *mongo.Client, 1)
	if cfg.MongoURI == "" {
		logger.Warn().Msg("MONGO_URI not set; using in-memory blob store")
		blobs = blobstore.NewMemory()
	} else {
		gate := blobstore.NewGate()
		blobs = gate
		go func() {
			if client := connectBlobStore(ctx, cfg, gate, logger); client != nil {
				mongoClient <- client
			}
		}()
	}

	// Rate limiting
	rl := middleware.RateLimitConfig{Requests: cfg.RateLimitRequests, Window: cfg.RateLimitWindow}
	var limiter middleware.Limiter = middleware.NewMemoryLimiter(rl)
	if cfg.RedisURL != "" {
		client, err := middleware.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			logger.Warn().Err(err).Msg("redis unavailable; using in-memory rate limiter")
		} else {
			defer client.Close()
			limiter = middleware.NewRedisLimiter(client, rl)
		}
	}

	// Domain services
	issuer := auth.NewIssuer([]byte(cfg.JWTSecret), cfg.TokenTTL)
	accountSvc := account.NewService(account.NewUserRepoPG(pool), issuer)

	recordsSvc := records.NewService(records.NewPGRepos(pool), blobs, logger)
	if len(cfg.KafkaBrokers) > 0 {
		pub, err := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic, logger)
		if err != nil {
			logger.Warn().Err(err).Msg("kafka publisher disabled")
		} else {
			defer pub.Close()
			recordsSvc.SetPublisher(pub)
		}
	}
	if cfg.GroqAPIKey != "" {
		recordsSvc.SetTitleGenerator(ai.NewGroqTitler(cfg.GroqAPIKey, cfg.GroqModel))
	} else {
		logger.Warn().Msg("GROQ_API_KEY not set; note title generation disabled")
	}
	if cfg.GeminiAPIKey != "" {
		reader, err := ai.NewGeminiReader(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
		if err != nil {
			logger.Warn().Err(err).Msg("gemini client disabled")
		} else {
			defer reader.Close()
			recordsSvc.SetPrescriptionReader(reader)
		}
	} else {
		logger.Warn().Msg("GEMINI_API_KEY not set; prescription reading disabled")
	}

	e := newServer(app{
		cfg:        cfg,
		logger:     logger,
		db:         pool,
		limiter:    limiter,
		accounts:   account.NewHandler(accountSvc),
		records:    records.NewHandler(recordsSvc),
		files:      blobstore.NewHandler(blobs),
		signingKey: []byte(cfg.JWTSecret),
	})

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	cancel()
	shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
	}
	select {
	case client := <-mongoClient:
		_ = client.Disconnect(shutdownCtx)
	default:
	}
	logger.Info().Msg("server stopped")
	return nil
}

// connectBlobStore dials MongoDB until it succeeds or ctx ends, then opens
// the GridFS bucket and marks gate ready.
func connectBlobStore(ctx context.Context, cfg *config.Config, gate *blobstore.Gate, logger zerolog.Logger) *mongo.Client {
	for {
		client, err := blobstore.Connect(ctx, cfg.MongoURI)
		if err == nil {
			store, gerr := blobstore.NewGridFS(client.Database(cfg.MongoDatabase), cfg.GridFSBucket)
			if gerr == nil {
				gate.Ready(store)
				logger.Info().Str("database", cfg.MongoDatabase).Str("bucket", cfg.GridFSBucket).Msg("blob store ready")
				return client
			}
			_ = client.Disconnect(context.Background())
			err = gerr
		}
		logger.Warn().Err(err).Dur("retry_in", mongoRetryInterval).Msg("blob store unavailable")

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(mongoRetryInterval):
		}
	}
}
