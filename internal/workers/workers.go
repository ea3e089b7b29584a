package workers

import (
	"context"
	"fmt"
	"time"

	"github.com/calebwray/tempo/internal/analytics"
	"github.com/calebwray/tempo/internal/auth"
	"github.com/calebwray/tempo/internal/logging"
	"github.com/calebwray/tempo/internal/store"
	"github.com/calebwray/tempo/internal/strava"
)

// TokenRefresher keeps auth tokens up to date
type TokenRefresher struct {
	storage  *auth.Storage
	interval time.Duration
}

// NewTokenRefresher creates a new token refresher worker
func NewTokenRefresher(storage *auth.Storage, interval time.Duration) *TokenRefresher {
	return &TokenRefresher{
		storage:  storage,
		interval: interval,
	}
}

// Run starts the token refresh worker
func (t *TokenRefresher) Run(ctx context.Context) {
	log := logging.Logger
	log.Info().Dur("interval", t.interval).Msg("token refresher started")

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	// Do an initial check
	t.checkAndRefresh(ctx)

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("token refresher stopped")
			return
		case <-ticker.C:
			t.checkAndRefresh(ctx)
		}
	}
}

func (t *TokenRefresher) checkAndRefresh(ctx context.Context) {
	log := logging.Logger
	log.Debug().Msg("checking token validity")

	tokens, err := t.storage.LoadTokens(ctx)
	if err != nil {
		log.Error().Err(err).Msg("failed to load tokens for refresh check")
		return
	}

	// Refresh if token expires within 10 minutes
	expiresAt := time.Unix(tokens.ExpiresAt, 0)
	timeUntilExpiry := time.Until(expiresAt)

	if timeUntilExpiry >= 10*time.Minute {
		log.Debug().Dur("expires_in", timeUntilExpiry.Round(time.Second)).Msg("token still valid")
		return
	}

	log.Info().Dur("expires_in", timeUntilExpiry).Msg("token expiring soon, refreshing")

	clientConfig, err := t.storage.LoadClientConfig(ctx)
	if err != nil {
		log.Error().Err(err).Msg("failed to load client config for refresh")
		return
	}

	newTokens, err := auth.RefreshAccessToken(clientConfig.ClientID, clientConfig.ClientSecret, tokens.RefreshToken)
	if err != nil {
		log.Error().Err(err).Msg("failed to refresh token")
		return
	}

	if err := t.storage.SaveTokens(ctx, newTokens); err != nil {
		log.Error().Err(err).Msg("failed to save refreshed tokens")
		return
	}

	log.Info().
		Str("new_expires_at", time.Unix(newTokens.ExpiresAt, 0).Format(time.RFC3339)).
		Msg("token refreshed successfully")
}

// ActivitySyncer periodically syncs activities from Strava
type ActivitySyncer struct {
	store       *store.Store
	storage     *auth.Storage
	interval    time.Duration
	retryConfig strava.RetryConfig
	onSynced    func(saved int)
}

// NewActivitySyncer creates a new activity sync worker. onSynced, if
// non-nil, is called after each sync that saved at least one activity
// (used to invalidate response caches).
func NewActivitySyncer(st *store.Store, storage *auth.Storage, interval time.Duration, retryConfig strava.RetryConfig, onSynced func(saved int)) *ActivitySyncer {
	return &ActivitySyncer{
		store:       st,
		storage:     storage,
		interval:    interval,
		retryConfig: retryConfig,
		onSynced:    onSynced,
	}
}

// Run starts the activity sync worker
func (a *ActivitySyncer) Run(ctx context.Context) {
	log := logging.Logger
	log.Info().Dur("interval", a.interval).Msg("activity syncer started")

	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	// Do an initial sync
	a.syncActivities(ctx)

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("activity syncer stopped")
			return
		case <-ticker.C:
			a.syncActivities(ctx)
		}
	}
}

func (a *ActivitySyncer) syncActivities(ctx context.Context) {
	log := logging.Logger
	log.Info().Msg("starting activity sync")

	accessToken, err := a.storage.GetValidAccessToken(ctx)
	if err != nil {
		log.Error().Err(err).Msg("failed to get access token for sync")
		return
	}

	client := strava.NewClientWithRetryConfig(accessToken, a.retryConfig)
	saved, err := syncWithClient(ctx, a.store, client, true)
	if err != nil {
		log.Error().Err(err).Msg("activity sync failed")
		return
	}

	if saved > 0 && a.onSynced != nil {
		a.onSynced(saved)
	}
}

// SyncOnce performs a single sync against the store. Used for the initial
// sync on startup and for on-demand refresh requests.
func SyncOnce(ctx context.Context, st *store.Store, accessToken string, retryConfig strava.RetryConfig) error {
	client := strava.NewClientWithRetryConfig(accessToken, retryConfig)
	_, err := syncWithClient(ctx, st, client, false)
	return err
}

func syncWithClient(ctx context.Context, st *store.Store, client *strava.Client, waitForRateLimit bool) (int, error) {
	log := logging.Logger

	// Wait in case a previous sync left us near the limit
	if waitForRateLimit {
		if err := client.WaitForRateLimit(ctx); err != nil {
			return 0, fmt.Errorf("waiting for rate limit: %w", err)
		}
	}

	latestDate, err := st.LatestStartDate(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("failed to get latest activity date, doing full sync")
		latestDate = time.Time{}
	}

	progressCallback := func(result strava.FetchResult) {
		rl := result.RateLimit
		logEvent := log.Debug()
		if rl.IsRateLimited {
			logEvent = log.Info()
		}
		logEvent.
			Int("page", result.Page).
			Int("activities_on_page", len(result.Activities)).
			Int("total_fetched", result.TotalFetched).
			Str("15min_usage", fmt.Sprintf("%d/%d", rl.Usage15Min, rl.Limit15Min)).
			Str("daily_usage", fmt.Sprintf("%d/%d", rl.UsageDaily, rl.LimitDaily)).
			Bool("rate_limited", rl.IsRateLimited).
			Msg("activity sync progress")
	}

	var fetchedActivities []analytics.RawActivity
	if !latestDate.IsZero() {
		log.Info().Str("since", latestDate.Format(time.RFC3339)).Msg("performing delta sync")
		fetchedActivities, err = client.FetchActivitiesSince(ctx, latestDate, progressCallback)
	} else {
		log.Info().Msg("performing full sync")
		fetchedActivities, err = client.FetchAllActivities(ctx, progressCallback)
	}
	if err != nil {
		return 0, fmt.Errorf("fetching activities: %w", err)
	}

	saved, err := st.UpsertActivities(ctx, fetchedActivities)
	if err != nil {
		return saved, fmt.Errorf("saving activities: %w", err)
	}

	rl := client.GetRateLimit()
	if len(fetchedActivities) == 0 {
		log.Info().
			Str("15min_usage", fmt.Sprintf("%d/%d", rl.Usage15Min, rl.Limit15Min)).
			Str("daily_usage", fmt.Sprintf("%d/%d", rl.UsageDaily, rl.LimitDaily)).
			Msg("no new activities to sync")
		return 0, nil
	}

	log.Info().
		Int("fetched", len(fetchedActivities)).
		Int("saved", saved).
		Str("15min_usage", fmt.Sprintf("%d/%d", rl.Usage15Min, rl.Limit15Min)).
		Str("daily_usage", fmt.Sprintf("%d/%d", rl.UsageDaily, rl.LimitDaily)).
		Msg("activity sync completed")

	return saved, nil
}

// LogDatabaseStats logs current database statistics
func LogDatabaseStats(ctx context.Context, st *store.Store) {
	log := logging.Logger

	count, err := st.CountActivities(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("failed to count activities")
		return
	}

	if count == 0 {
		log.Info().Int64("total_activities", 0).Msg("database statistics")
		return
	}

	newest := "unknown"
	if latest, err := st.LatestStartDate(ctx); err == nil && !latest.IsZero() {
		newest = latest.Format(time.RFC3339)
	}

	log.Info().
		Int64("total_activities", count).
		Str("newest_activity", newest).
		Msg("database statistics")
}
