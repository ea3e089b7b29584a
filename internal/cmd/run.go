package cmd

import (
	"bufio"
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/calebwray/tempo/internal/auth"
	"github.com/calebwray/tempo/internal/logging"
	"github.com/calebwray/tempo/internal/server"
	"github.com/calebwray/tempo/internal/store"
	"github.com/calebwray/tempo/internal/strava"
	"github.com/calebwray/tempo/internal/workers"

	_ "modernc.org/sqlite"
)

// RuntimeConfig holds all runtime configuration from CLI flags
type RuntimeConfig struct {
	DBPath               string
	APIPort              int
	SyncInterval         time.Duration
	TokenRefreshInterval time.Duration
	NoSync               bool
	ForceReauth          bool
}

// Run is the main entry point for the unified run mode
func Run(cfg *RuntimeConfig) error {
	log := logging.Logger

	log.Info().
		Str("db_path", cfg.DBPath).
		Int("api_port", cfg.APIPort).
		Bool("no_sync", cfg.NoSync).
		Dur("sync_interval", cfg.SyncInterval).
		Dur("token_refresh_interval", cfg.TokenRefreshInterval).
		Msg("starting tempo")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		log.Info().Str("signal", sig.String()).Msg("received shutdown signal")
		cancel()
	}()

	log.Info().Str("path", cfg.DBPath).Msg("opening database")
	sqlDB, err := sql.Open("sqlite", cfg.DBPath)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer sqlDB.Close()

	if err := configureSQLite(sqlDB); err != nil {
		return fmt.Errorf("configuring SQLite: %w", err)
	}

	// Check for database lock (another instance running)
	if err := checkDatabaseLock(sqlDB); err != nil {
		return err
	}

	applied, err := store.Migrate(ctx, sqlDB)
	if err != nil {
		return err
	}
	log.Debug().Int("applied", applied).Msg("database migrations completed")

	st := store.New(sqlDB)
	workers.LogDatabaseStats(ctx, st)

	g, gCtx := errgroup.WithContext(ctx)

	var syncFn server.SyncFunc
	var srv *server.Server

	if !cfg.NoSync {
		storage := auth.NewStorage(sqlDB)

		accessToken, err := ensureAuthenticated(ctx, storage, cfg)
		if err != nil {
			return fmt.Errorf("authentication: %w", err)
		}

		retryConfig := strava.DefaultRetryConfig()

		// Perform initial sync; background worker retries on failure
		if err := workers.SyncOnce(ctx, st, accessToken, retryConfig); err != nil {
			log.Warn().Err(err).Msg("initial sync failed")
		}
		workers.LogDatabaseStats(ctx, st)

		syncFn = func(ctx context.Context) error {
			token, err := storage.GetValidAccessToken(ctx)
			if err != nil {
				return err
			}
			return workers.SyncOnce(ctx, st, token, retryConfig)
		}

		srv = server.New(st, syncFn)

		log.Info().Msg("starting background workers")

		tokenRefresher := workers.NewTokenRefresher(
			storage,
			cfg.TokenRefreshInterval,
		)
		g.Go(func() error {
			tokenRefresher.Run(gCtx)
			return nil
		})

		activitySyncer := workers.NewActivitySyncer(
			st,
			storage,
			cfg.SyncInterval,
			retryConfig,
			func(saved int) {
				log.Debug().Int("saved", saved).Msg("invalidating response cache after sync")
				srv.InvalidateCache()
			},
		)
		g.Go(func() error {
			activitySyncer.Run(gCtx)
			return nil
		})
	} else {
		log.Info().Msg("running in offline mode (--no-sync), skipping Strava API sync")
		srv = server.New(st, nil)
	}

	serverErr := runHTTPServer(ctx, srv, cfg.APIPort)

	if !cfg.NoSync {
		log.Info().Msg("waiting for workers to shut down")
		if err := g.Wait(); err != nil {
			log.Warn().Err(err).Msg("worker error during shutdown")
		} else {
			log.Info().Msg("all workers shut down gracefully")
		}
	}

	return serverErr
}

// ensureAuthenticated checks if we have valid auth tokens, and if not, runs the OAuth flow
func ensureAuthenticated(ctx context.Context, storage *auth.Storage, cfg *RuntimeConfig) (string, error) {
	log := logging.Logger

	// If force reauth is requested, clear existing tokens and credentials, then re-prompt
	if cfg.ForceReauth {
		log.Info().Msg("force re-authentication requested, clearing existing credentials and tokens")
		if err := storage.DeleteTokens(ctx); err != nil {
			log.Debug().Err(err).Msg("failed to delete existing auth config (may not exist)")
		}
	}

	clientConfig, err := storage.LoadClientConfig(ctx)
	if err != nil || cfg.ForceReauth {
		clientConfig, err = promptForCredentials()
		if err != nil {
			return "", fmt.Errorf("getting credentials: %w", err)
		}
	}

	// Try to get existing valid token (only if not force reauth)
	if !cfg.ForceReauth {
		accessToken, err := storage.GetValidAccessToken(ctx)
		if err == nil {
			log.Info().Msg("using existing authentication")
			return accessToken, nil
		}

		// Distinguish a failed refresh (token exists but is no longer usable)
		if strings.Contains(err.Error(), "refreshing token") {
			log.Warn().Err(err).Msg("token refresh failed, re-authentication required")
			fmt.Println("\n=== Token Refresh Failed ===")
			fmt.Println("Your Strava authentication has expired or been revoked.")
			fmt.Println("Re-authentication is required.")
		} else {
			log.Info().Msg("no valid authentication found, starting OAuth flow")
		}
	}

	return runOAuthFlow(ctx, storage, clientConfig)
}

// promptForCredentials prompts the user to enter their Strava API credentials
func promptForCredentials() (*auth.ClientConfig, error) {
	reader := bufio.NewReader(os.Stdin)

	fmt.Println("\n=== Strava API Credentials Required ===")
	fmt.Println("Get your API credentials from: https://www.strava.com/settings/api")
	fmt.Println()

	fmt.Print("Enter your Client ID: ")
	clientID, err := reader.ReadString('\n')
	if err != nil {
		return nil, fmt.Errorf("reading client ID: %w", err)
	}
	clientID = strings.TrimSpace(clientID)

	if clientID == "" {
		return nil, fmt.Errorf("client ID is required")
	}

	fmt.Print("Enter your Client Secret: ")
	clientSecret, err := reader.ReadString('\n')
	if err != nil {
		return nil, fmt.Errorf("reading client secret: %w", err)
	}
	clientSecret = strings.TrimSpace(clientSecret)

	if clientSecret == "" {
		return nil, fmt.Errorf("client secret is required")
	}

	return &auth.ClientConfig{
		ClientID:     clientID,
		ClientSecret: clientSecret,
	}, nil
}

// runOAuthFlow performs the OAuth authentication flow with Strava
func runOAuthFlow(ctx context.Context, storage *auth.Storage, clientConfig *auth.ClientConfig) (string, error) {
	log := logging.Logger

	fmt.Println("\n=== Strava Authentication Required ===")
	fmt.Println("A browser window will open for you to authorize this application.")
	fmt.Println("Press Enter to continue...")

	reader := bufio.NewReader(os.Stdin)
	reader.ReadString('\n')

	tokens, err := auth.Authenticate(ctx, clientConfig.ClientID, clientConfig.ClientSecret)
	if err != nil {
		return "", fmt.Errorf("OAuth flow failed: %w", err)
	}

	log.Info().
		Str("expires_at", time.Unix(tokens.ExpiresAt, 0).Format(time.RFC3339)).
		Msg("OAuth authentication successful")

	if err := storage.SaveFullConfig(ctx, clientConfig.ClientID, clientConfig.ClientSecret, tokens); err != nil {
		return "", fmt.Errorf("saving tokens: %w", err)
	}

	fmt.Printf("\nAuthentication successful! Token expires: %s\n\n",
		time.Unix(tokens.ExpiresAt, 0).Format(time.RFC1123))

	return tokens.AccessToken, nil
}

// runHTTPServer serves the dashboard API until the context is cancelled
func runHTTPServer(ctx context.Context, srv *server.Server, port int) error {
	log := logging.Logger

	addr := fmt.Sprintf(":%d", port)
	httpServer := &http.Server{
		Addr:    addr,
		Handler: srv.Handler(),
	}

	errChan := make(chan error, 1)
	go func() {
		log.Info().
			Str("address", addr).
			Str("endpoint", fmt.Sprintf("http://localhost%s", addr)).
			Msg("dashboard API listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutting down HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errChan:
		return err
	}
}

// configureSQLite sets up SQLite for concurrent access
func configureSQLite(sqlDB *sql.DB) error {
	log := logging.Logger

	// WAL allows concurrent reads while workers write
	if _, err := sqlDB.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return fmt.Errorf("setting WAL mode: %w", err)
	}

	// Wait instead of failing immediately when the database is busy
	if _, err := sqlDB.Exec("PRAGMA busy_timeout=5000"); err != nil {
		return fmt.Errorf("setting busy timeout: %w", err)
	}

	// NORMAL is safe with WAL and faster than FULL
	if _, err := sqlDB.Exec("PRAGMA synchronous=NORMAL"); err != nil {
		return fmt.Errorf("setting synchronous mode: %w", err)
	}

	// SQLite works best with a limited connection pool
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)

	log.Debug().
		Str("journal_mode", "WAL").
		Str("busy_timeout", "5000ms").
		Msg("SQLite configured")
	return nil
}

// checkDatabaseLock verifies no other process has the database locked
func checkDatabaseLock(sqlDB *sql.DB) error {
	log := logging.Logger

	_, err := sqlDB.Exec("PRAGMA locking_mode=EXCLUSIVE")
	if err != nil {
		return fmt.Errorf("another instance may be running (database locked): %w", err)
	}

	// Acquiring a transaction actually takes the lock
	_, err = sqlDB.Exec("BEGIN EXCLUSIVE")
	if err != nil {
		if strings.Contains(err.Error(), "locked") || strings.Contains(err.Error(), "busy") {
			return fmt.Errorf("another instance is already running (database is locked)")
		}
		return fmt.Errorf("checking database lock: %w", err)
	}

	_, err = sqlDB.Exec("COMMIT")
	if err != nil {
		return fmt.Errorf("releasing lock check: %w", err)
	}

	log.Debug().Msg("database lock check passed")
	return nil
}
