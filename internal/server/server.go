// Package server exposes the dashboard API over HTTP. Read endpoints
// normalize and aggregate the stored activities on demand; responses are
// cached for an hour and invalidated when new data arrives.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/coocood/freecache"
	"github.com/gin-gonic/gin"

	"github.com/calebwray/tempo/internal/analytics"
	"github.com/calebwray/tempo/internal/logging"
)

const (
	cacheSizeBytes  = 16 * 1024 * 1024
	cacheTTLSeconds = 60 * 60
	queryDateLayout = "2006-01-02"
)

// ActivitySource provides the raw activities to serve analytics over
type ActivitySource interface {
	ListRawActivities(ctx context.Context) ([]analytics.RawActivity, error)
}

// SyncFunc triggers an on-demand sync against the Strava API
type SyncFunc func(ctx context.Context) error

// Server is the dashboard HTTP API
type Server struct {
	source ActivitySource
	syncFn SyncFunc
	cache  *freecache.Cache
	router *gin.Engine
}

// New creates a Server over the given activity source. syncFn may be nil
// when running offline; the refresh endpoint then reports the sync as
// unavailable.
func New(source ActivitySource, syncFn SyncFunc) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		source: source,
		syncFn: syncFn,
		cache:  freecache.NewCache(cacheSizeBytes),
	}

	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := r.Group("/api/v1")
	{
		api.GET("/activities", s.handleActivities)
		api.GET("/summary/:period", s.handleSummary)
		api.GET("/calendar/:granularity", s.handleCalendar)
		api.GET("/kpis", s.handleKPIs)
		api.POST("/refresh", s.handleRefresh)
	}

	s.router = r
	return s
}

// Handler returns the http.Handler for the API
func (s *Server) Handler() http.Handler {
	return s.router
}

// InvalidateCache drops all cached responses. Called after background
// syncs land new activities.
func (s *Server) InvalidateCache() {
	s.cache.Clear()
}

func (s *Server) handleActivities(c *gin.Context) {
	from, to, sport, ok := parseFilterQuery(c)
	if !ok {
		return
	}

	s.respondCached(c, func() (any, error) {
		table, err := s.loadTable(c.Request.Context())
		if err != nil {
			return nil, err
		}
		return analytics.Filter(table, from, to, sport), nil
	})
}

func (s *Server) handleSummary(c *gin.Context) {
	period := analytics.Period(c.Param("period"))
	from, to, sport, ok := parseFilterQuery(c)
	if !ok {
		return
	}

	s.respondCached(c, func() (any, error) {
		table, err := s.loadTable(c.Request.Context())
		if err != nil {
			return nil, err
		}
		return analytics.AggregateByPeriod(analytics.Filter(table, from, to, sport), period)
	})
}

func (s *Server) handleCalendar(c *gin.Context) {
	granularity := analytics.Granularity(c.Param("granularity"))
	from, to, sport, ok := parseFilterQuery(c)
	if !ok {
		return
	}

	s.respondCached(c, func() (any, error) {
		table, err := s.loadTable(c.Request.Context())
		if err != nil {
			return nil, err
		}
		return analytics.AggregateByCalendar(analytics.Filter(table, from, to, sport), granularity)
	})
}

func (s *Server) handleKPIs(c *gin.Context) {
	_, _, sport, ok := parseFilterQuery(c)
	if !ok {
		return
	}

	s.respondCached(c, func() (any, error) {
		table, err := s.loadTable(c.Request.Context())
		if err != nil {
			return nil, err
		}
		filtered := analytics.Filter(table, time.Time{}, time.Time{}, sport)

		now := time.Now()
		return gin.H{
			"distance_this_week_km":  analytics.DistanceThisWeek(filtered, now),
			"distance_this_month_km": analytics.DistanceThisMonth(filtered, now),
			"distance_this_year_km":  analytics.DistanceThisYear(filtered, now),
			"activity_count":         analytics.CountActivities(filtered),
		}, nil
	})
}

func (s *Server) handleRefresh(c *gin.Context) {
	log := logging.Logger

	if s.syncFn == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "sync is disabled"})
		return
	}

	if err := s.syncFn(c.Request.Context()); err != nil {
		log.Error().Err(err).Msg("on-demand refresh failed")
		c.JSON(http.StatusBadGateway, gin.H{"error": fmt.Sprintf("refresh failed: %v", err)})
		return
	}

	s.cache.Clear()
	log.Info().Msg("on-demand refresh completed, cache cleared")
	c.JSON(http.StatusOK, gin.H{"status": "refreshed"})
}

// respondCached serves the request from the response cache when possible,
// keyed by the full request URI.
func (s *Server) respondCached(c *gin.Context, compute func() (any, error)) {
	key := []byte(c.Request.URL.RequestURI())

	if cached, err := s.cache.Get(key); err == nil {
		c.Data(http.StatusOK, "application/json; charset=utf-8", cached)
		return
	}

	result, err := compute()
	if err != nil {
		s.respondError(c, err)
		return
	}

	body, err := json.Marshal(result)
	if err != nil {
		s.respondError(c, err)
		return
	}

	// Best effort: an over-size entry just stays uncached
	if err := s.cache.Set(key, body, cacheTTLSeconds); err != nil {
		logging.Logger.Debug().Err(err).Str("key", string(key)).Msg("response not cached")
	}

	c.Data(http.StatusOK, "application/json; charset=utf-8", body)
}

func (s *Server) respondError(c *gin.Context, err error) {
	var invalidPeriod *analytics.InvalidPeriodError
	if errors.As(err, &invalidPeriod) {
		c.JSON(http.StatusBadRequest, gin.H{"error": invalidPeriod.Error()})
		return
	}

	var missingField *analytics.MissingFieldError
	if errors.As(err, &missingField) {
		logging.Logger.Error().Err(err).Msg("stored activities missing date fields")
		c.JSON(http.StatusInternalServerError, gin.H{"error": missingField.Error()})
		return
	}

	logging.Logger.Error().Err(err).Str("path", c.Request.URL.Path).Msg("request failed")
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}

func (s *Server) loadTable(ctx context.Context) (analytics.Table, error) {
	records, err := s.source.ListRawActivities(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading activities: %w", err)
	}
	return analytics.Normalize(records)
}

// parseFilterQuery reads the shared start/end/sport query parameters.
// Returns ok=false after writing a 400 response for malformed dates.
func parseFilterQuery(c *gin.Context) (from, to time.Time, sport string, ok bool) {
	sport = c.Query("sport")

	if raw := c.Query("start"); raw != "" {
		t, err := time.Parse(queryDateLayout, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid start date %q, expected YYYY-MM-DD", raw)})
			return time.Time{}, time.Time{}, "", false
		}
		from = t
	}

	if raw := c.Query("end"); raw != "" {
		t, err := time.Parse(queryDateLayout, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid end date %q, expected YYYY-MM-DD", raw)})
			return time.Time{}, time.Time{}, "", false
		}
		// End date is inclusive
		to = t.AddDate(0, 0, 1).Add(-time.Nanosecond)
	}

	return from, to, sport, true
}
