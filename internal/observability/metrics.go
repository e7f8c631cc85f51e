package observability

import (
	"context"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	contentrepo "github.com/yungbote/docingest-backend/internal/data/repos/content"
	types "github.com/yungbote/docingest-backend/internal/domain/content"
	"github.com/yungbote/docingest-backend/internal/pkg/dbctx"
	"github.com/yungbote/docingest-backend/internal/platform/envutil"
	"github.com/yungbote/docingest-backend/internal/platform/logger"
)

// Metrics is the process-wide registry. All methods are safe on a nil receiver, so a disabled
// registry can be passed anywhere an Observer is expected.
type Metrics struct {
	filesTotal    *CounterVec
	stageRuns     *CounterVec
	stageDuration *HistogramVec
	inflight      *GaugeVec
	stateFiles    *GaugeVec

	apiRequests *CounterVec
	apiLatency  *HistogramVec
	apiInflight *GaugeVec

	indexOps     *CounterVec
	indexLatency *HistogramVec
	bootstrap    *CounterVec
	providers    *GaugeVec

	dbStats   *GaugeVec
	redisUp   *GaugeVec
	redisPing *GaugeVec

	all []collector
}

var (
	initOnce sync.Once
	instance *Metrics
)

func Enabled() bool { return envutil.Bool("METRICS_ENABLED", false) }

func Current() *Metrics { return instance }

// Init builds the global registry once. It returns nil when METRICS_ENABLED is off.
func Init(log *logger.Logger) *Metrics {
	if !Enabled() {
		return nil
	}
	initOnce.Do(func() {
		instance = NewMetrics()
		log.Info("Metrics enabled")
	})
	return instance
}

func NewMetrics() *Metrics {
	m := &Metrics{
		filesTotal: NewCounterVec("ingest_files_total", "Files finished per stage by outcome.", []string{"stage", "outcome"}),
		stageRuns:  NewCounterVec("ingest_stage_runs_total", "Stage runs by final status.", []string{"stage", "status"}),
		stageDuration: NewHistogramVec("ingest_stage_duration_seconds", "Wall time of a stage run.", []string{"stage"},
			[]float64{1, 5, 15, 60, 300, 900, 1800, 3600, 7200}),
		inflight:   NewGaugeVec("ingest_inflight", "Files submitted to a worker pool and not yet settled.", []string{"stage"}),
		stateFiles: NewGaugeVec("ingest_state_files", "Content records per status.", []string{"status"}),

		apiRequests: NewCounterVec("ingest_api_requests_total", "Read API requests by method/route/status.", []string{"method", "route", "status"}),
		apiLatency: NewHistogramVec("ingest_api_request_duration_seconds", "Read API latency.", []string{"method", "route"},
			[]float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5}),
		apiInflight: NewGaugeVec("ingest_api_inflight_requests", "In-flight read API requests.", nil),

		indexOps: NewCounterVec("ingest_index_operations_total", "Index collaborator calls by provider/op/outcome.", []string{"provider", "op", "outcome"}),
		indexLatency: NewHistogramVec("ingest_index_operation_duration_seconds", "Index collaborator call latency.", []string{"provider", "op"},
			[]float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60}),
		bootstrap: NewCounterVec("ingest_provider_bootstrap_total", "Provider bootstrap attempts by component/provider/outcome/code.", []string{"component", "provider", "outcome", "code"}),
		providers: NewGaugeVec("ingest_provider_active", "1 for the provider selected for each component.", []string{"component", "provider"}),

		dbStats:   NewGaugeVec("ingest_db_pool", "database/sql pool statistics.", []string{"stat"}),
		redisUp:   NewGaugeVec("ingest_redis_up", "1 when the last Redis ping succeeded.", nil),
		redisPing: NewGaugeVec("ingest_redis_ping_seconds", "Latency of the last Redis ping.", nil),
	}
	m.all = []collector{
		m.filesTotal, m.stageRuns, m.stageDuration, m.inflight, m.stateFiles,
		m.apiRequests, m.apiLatency, m.apiInflight,
		m.indexOps, m.indexLatency, m.bootstrap, m.providers,
		m.dbStats, m.redisUp, m.redisPing,
	}
	return m
}

func (m *Metrics) StartServer(ctx context.Context, log *logger.Logger, addr string) {
	if m == nil || strings.TrimSpace(addr) == "" {
		return
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           http.HandlerFunc(m.WriteHTTP),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = srv.Shutdown(shutdownCtx)
		cancel()
	}()
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("metrics server failed", "error", err, "addr", addr)
		}
	}()
}

func (m *Metrics) WriteHTTP(w http.ResponseWriter, r *http.Request) {
	if m == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	_ = m.WritePrometheus(w)
}

func (m *Metrics) WritePrometheus(w io.Writer) error {
	if m == nil {
		return nil
	}
	for _, c := range m.all {
		if err := c.WritePrometheus(w); err != nil {
			return err
		}
	}
	return nil
}

func (m *Metrics) ObserveFile(stage, outcome string) {
	if m == nil {
		return
	}
	m.filesTotal.Inc(stage, outcome)
}

func (m *Metrics) ObserveStage(stage, status string, dur time.Duration) {
	if m == nil {
		return
	}
	m.stageRuns.Inc(stage, status)
	m.stageDuration.Observe(dur.Seconds(), stage)
}

func (m *Metrics) AddInflight(stage string, delta int) {
	if m == nil {
		return
	}
	m.inflight.Add(float64(delta), stage)
}

func (m *Metrics) ObserveAPI(method, route, status string, dur time.Duration) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unmatched"
	}
	m.apiRequests.Inc(method, route, status)
	m.apiLatency.Observe(dur.Seconds(), method, route)
}

func (m *Metrics) ApiInflightInc() {
	if m == nil {
		return
	}
	m.apiInflight.Add(1)
}

func (m *Metrics) ApiInflightDec() {
	if m == nil {
		return
	}
	m.apiInflight.Add(-1)
}

func (m *Metrics) ObserveIndexOp(provider, op string, err error, dur time.Duration) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.indexOps.Inc(provider, op, outcome)
	m.indexLatency.Observe(dur.Seconds(), provider, op)
}

// ObserveBootstrap counts one provider selection; code is "none" on success.
func (m *Metrics) ObserveBootstrap(component, provider, outcome, code string) {
	if m == nil {
		return
	}
	m.bootstrap.Inc(component, provider, outcome, code)
	if outcome == "success" {
		m.providers.Set(1, component, provider)
	}
}

// CollectStates refreshes ingest_state_files from one Stats call.
func (m *Metrics) CollectStates(ctx context.Context, states contentrepo.StateStore) error {
	if m == nil {
		return nil
	}
	stats, err := states.Stats(dbctx.Of(ctx))
	if err != nil {
		return err
	}
	for _, s := range types.AllStatuses {
		m.stateFiles.Set(float64(stats.ByStatus[s]), string(s))
	}
	return nil
}

func (m *Metrics) StartStateCollector(ctx context.Context, log *logger.Logger, states contentrepo.StateStore) {
	if m == nil || states == nil {
		return
	}
	every(ctx, scrapeInterval(), func() {
		if err := m.CollectStates(ctx, states); err != nil {
			log.Warn("metrics: state stats unavailable", "error", err)
		}
	})
}

func (m *Metrics) StartDBCollector(ctx context.Context, log *logger.Logger, db *gorm.DB) {
	if m == nil || db == nil {
		return
	}
	every(ctx, scrapeInterval(), func() {
		sqlDB, err := db.DB()
		if err != nil {
			log.Warn("metrics: db stats unavailable", "error", err)
			return
		}
		s := sqlDB.Stats()
		m.dbStats.Set(float64(s.OpenConnections), "open_connections")
		m.dbStats.Set(float64(s.InUse), "in_use")
		m.dbStats.Set(float64(s.Idle), "idle")
		m.dbStats.Set(float64(s.WaitCount), "wait_count")
		m.dbStats.Set(s.WaitDuration.Seconds(), "wait_duration_seconds")
		m.dbStats.Set(float64(s.MaxOpenConnections), "max_open_connections")
	})
}

func (m *Metrics) StartRedisCollector(ctx context.Context, log *logger.Logger, rdb goredis.UniversalClient) {
	if m == nil || rdb == nil {
		return
	}
	every(ctx, scrapeInterval(), func() {
		start := time.Now()
		if err := rdb.Ping(ctx).Err(); err != nil {
			m.redisUp.Set(0)
			log.Warn("metrics: redis ping failed", "error", err)
			return
		}
		m.redisUp.Set(1)
		m.redisPing.Set(time.Since(start).Seconds())
	})
}

func scrapeInterval() time.Duration {
	d := envutil.Duration("METRICS_SCRAPE_INTERVAL_SECONDS", 10*time.Second, time.Second)
	if d <= 0 {
		return 10 * time.Second
	}
	return d
}

func every(ctx context.Context, interval time.Duration, fn func()) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				fn()
			}
		}
	}()
}
