// Package server exposes the stats store over a read-only HTTP API.
//
// Endpoints:
//
//	GET /stats                    live snapshot (503 before the first one)
//	GET /stats/history            in-memory consolidated entries
//	GET /stats/history/persisted  on-disk entries, optional from/to bounds
//	GET /healthz                  store and sampler status
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/nvalkyr/vigil/internal/errors"
	"github.com/nvalkyr/vigil/internal/logging"
	"github.com/nvalkyr/vigil/internal/scheduler"
	"github.com/nvalkyr/vigil/internal/stats"
	"github.com/nvalkyr/vigil/internal/store"
)

var log = logging.Component("server")

// Server serves the HTTP API. All endpoints are read-only; nothing on this
// surface mutates the store.
type Server struct {
	store   *store.TieredStore
	sampler *scheduler.Sampler
	httpSrv *http.Server
}

// New creates a Server listening on addr.
func New(addr string, st *store.TieredStore, sampler *scheduler.Sampler) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		store:   st,
		sampler: sampler,
	}

	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/stats", s.getStats)
	router.GET("/stats/history", s.getHistory)
	router.GET("/stats/history/persisted", s.getPersistedHistory)
	router.GET("/healthz", s.getHealth)

	s.httpSrv = &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	return s
}

// Start serves until Shutdown is called. It returns nil on graceful
// shutdown.
func (s *Server) Start() error {
	log.Info("http server listening", "addr", s.httpSrv.Addr)

	if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return errors.Wrap(err, "http server")
	}
	return nil
}

// Shutdown stops the server, waiting for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	log.Info("http server stopping")
	return s.httpSrv.Shutdown(ctx)
}

func (s *Server) getStats(c *gin.Context) {
	snapshot, ok := s.store.LatestSnapshot()
	if !ok {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error": "no snapshot collected yet",
		})
		return
	}
	c.JSON(http.StatusOK, snapshot)
}

func (s *Server) getHistory(c *gin.Context) {
	entries := s.store.RecentHistory()
	if entries == nil {
		entries = []stats.ConsolidatedEntry{}
	}
	c.JSON(http.StatusOK, gin.H{
		"count":   len(entries),
		"entries": entries,
	})
}

// getPersistedHistory reads the on-disk tier. from/to are RFC 3339; an
// absent bound is unbounded on that side. With persistence disabled the
// result is an empty set, not an error.
func (s *Server) getPersistedHistory(c *gin.Context) {
	from, ok := parseTimeParam(c, "from")
	if !ok {
		return
	}
	to, ok := parseTimeParam(c, "to")
	if !ok {
		return
	}

	entries, err := s.store.PersistedHistory(from, to)
	if err != nil {
		if errors.Is(err, errors.ErrHistoryDisabled) {
			c.JSON(http.StatusOK, gin.H{
				"count":   0,
				"entries": []any{},
			})
			return
		}
		log.Error("persisted history read failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "history read failed",
		})
		return
	}

	if entries == nil {
		entries = []stats.ConsolidatedEntry{}
	}
	c.JSON(http.StatusOK, gin.H{
		"count":   len(entries),
		"entries": entries,
	})
}

func (s *Server) getHealth(c *gin.Context) {
	status := s.store.Status()

	code := http.StatusOK
	if !status.HaveSnapshot {
		code = http.StatusServiceUnavailable
	}

	c.JSON(code, gin.H{
		"store":   status,
		"sampler": s.sampler.Stats(),
	})
}

func parseTimeParam(c *gin.Context, name string) (time.Time, bool) {
	raw := c.Query(name)
	if raw == "" {
		return time.Time{}, true
	}

	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "invalid " + name + ": expected RFC 3339 timestamp",
		})
		return time.Time{}, false
	}
	return t, true
}
