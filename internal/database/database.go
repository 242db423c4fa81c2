package database

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"settlement-service/pkg/common"
)

// Intent classifies a database operation for routing. Writes always hit the
// primary; reads prefer a healthy replica and fall back to the primary.
type Intent int

const (
	IntentRead Intent = iota
	IntentWrite
)

type Config struct {
	PrimaryDSN          string
	ReplicaDSNs         []string
	MaxOpenConns        int
	AcquireTimeout      time.Duration
	HealthCheckInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxOpenConns <= 0 {
		c.MaxOpenConns = 10
	}
	if c.AcquireTimeout <= 0 {
		c.AcquireTimeout = 5 * time.Second
	}
	if c.HealthCheckInterval <= 0 {
		c.HealthCheckInterval = 30 * time.Second
	}
	return c
}

type replicaPool struct {
	db      *gorm.DB
	healthy atomic.Bool
}

// Router owns the primary pool and zero-or-more replica pools. Replica pools
// are read-only by construction: no write path ever routes to one.
type Router struct {
	primary        *gorm.DB
	primaryHealthy atomic.Bool
	replicas       []*replicaPool
	next           atomic.Uint64
	acquireTimeout time.Duration
	probeInterval  time.Duration
	cron           *cron.Cron
}

type HealthStatus struct {
	Primary  bool   `json:"primary"`
	Replicas []bool `json:"replicas"`
}

func NewRouter(cfg Config) (*Router, error) {
	cfg = cfg.withDefaults()

	primary, err := openPool(cfg.PrimaryDSN, cfg.MaxOpenConns)
	if err != nil {
		return nil, fmt.Errorf("connect primary: %w", err)
	}

	r := &Router{
		primary:        primary,
		acquireTimeout: cfg.AcquireTimeout,
		probeInterval:  cfg.HealthCheckInterval,
	}
	r.primaryHealthy.Store(true)

	for _, dsn := range cfg.ReplicaDSNs {
		db, err := openPool(dsn, cfg.MaxOpenConns)
		if err != nil {
			// A replica that cannot be reached at startup is skipped, not fatal.
			log.Printf("Failed to connect to replica: %v", err)
			continue
		}
		rp := &replicaPool{db: db}
		rp.healthy.Store(true)
		r.replicas = append(r.replicas, rp)
	}

	return r, nil
}

func openPool(dsn string, maxOpen int) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{TranslateError: true})
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(maxOpen)
	sqlDB.SetMaxIdleConns(maxOpen / 2)
	sqlDB.SetConnMaxLifetime(time.Hour)
	return db, nil
}

// Route returns the pool for the given intent. Write intent always returns
// the primary. Read intent returns a healthy replica, falling back to the
// primary when none is configured or healthy.
func (r *Router) Route(intent Intent) *gorm.DB {
	if intent == IntentWrite {
		return r.primary
	}
	if _, db := r.pickReplica(); db != nil {
		return db
	}
	return r.primary
}

// Primary returns the write pool directly.
func (r *Router) Primary() *gorm.DB {
	return r.primary
}

// pickReplica returns the next healthy replica round-robin, or (-1, nil).
func (r *Router) pickReplica() (int, *gorm.DB) {
	n := len(r.replicas)
	if n == 0 {
		return -1, nil
	}
	start := int(r.next.Add(1))
	for i := 0; i < n; i++ {
		idx := (start + i) % n
		if r.replicas[idx].healthy.Load() {
			return idx, r.replicas[idx].db
		}
	}
	return -1, nil
}

// Read runs fn against a routed read pool with the acquire timeout applied.
// A replica failure during actual use marks that replica unhealthy until the
// next successful probe and retries once against the primary, so callers
// never see a replica-only error.
func (r *Router) Read(ctx context.Context, fn func(db *gorm.DB) error) error {
	ctx, cancel := context.WithTimeout(ctx, r.acquireTimeout)
	defer cancel()

	idx, db := r.pickReplica()
	if db == nil {
		return TranslateError(fn(r.primary.WithContext(ctx)))
	}

	if err := fn(db.WithContext(ctx)); err != nil {
		if !replicaFault(err) {
			return TranslateError(err)
		}
		r.MarkReplicaDown(idx)
		log.Printf("Replica %d query failed, retrying on primary: %v", idx, err)
		return TranslateError(fn(r.primary.WithContext(ctx)))
	}
	return nil
}

// replicaFault reports whether a read error indicts the replica itself.
// Lookup misses and validation failures are the caller's result, and
// cancellation or timeouts come from the caller or the acquire deadline,
// not from the pool that served the query.
func replicaFault(err error) bool {
	if errors.Is(err, gorm.ErrRecordNotFound) || common.IsValidationError(err) {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return true
}

// Write runs fn against the primary with the acquire timeout applied.
func (r *Router) Write(ctx context.Context, fn func(db *gorm.DB) error) error {
	ctx, cancel := context.WithTimeout(ctx, r.acquireTimeout)
	defer cancel()
	return TranslateError(fn(r.primary.WithContext(ctx)))
}

// MarkReplicaDown flags a replica unhealthy after a failure observed during
// use. It stays down until the next successful probe.
func (r *Router) MarkReplicaDown(idx int) {
	if idx >= 0 && idx < len(r.replicas) {
		r.replicas[idx].healthy.Store(false)
	}
}

// HealthCheck probes every pool with a liveness query and updates the health
// flags. Invoked on the probe interval and on demand by the health endpoint.
func (r *Router) HealthCheck(ctx context.Context) HealthStatus {
	status := HealthStatus{Replicas: make([]bool, len(r.replicas))}

	status.Primary = r.probe(ctx, r.primary)
	r.primaryHealthy.Store(status.Primary)

	for i, rp := range r.replicas {
		ok := r.probe(ctx, rp.db)
		rp.healthy.Store(ok)
		status.Replicas[i] = ok
	}
	return status
}

func (r *Router) probe(ctx context.Context, db *gorm.DB) bool {
	ctx, cancel := context.WithTimeout(ctx, r.acquireTimeout)
	defer cancel()
	return db.WithContext(ctx).Exec("SELECT 1").Error == nil
}

// StartHealthChecks runs the probe loop on its own schedule. Probes never
// block request-serving paths.
func (r *Router) StartHealthChecks() {
	r.HealthCheck(context.Background())

	c := cron.New()
	spec := fmt.Sprintf("@every %s", r.probeInterval)
	_, err := c.AddFunc(spec, func() {
		status := r.HealthCheck(context.Background())
		if !status.Primary {
			log.Println("Health probe: primary is unhealthy")
		}
		for i, ok := range status.Replicas {
			if !ok {
				log.Printf("Health probe: replica %d is unhealthy", i)
			}
		}
	})
	if err != nil {
		log.Printf("Error scheduling health checks: %v", err)
		return
	}
	c.Start()
	r.cron = c
	log.Printf("Database health checks started (every %s)", r.probeInterval)
}

// TranslateError maps driver-level failures onto the shared error taxonomy.
func TranslateError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return common.ErrNotFound
	case errors.Is(err, context.DeadlineExceeded):
		return common.ErrPoolExhausted
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return common.ErrConflict
	default:
		return err
	}
}
