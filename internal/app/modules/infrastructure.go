package modules

import (
	"context"
	"fmt"

	goredis "github.com/redis/go-redis/v9"
	"github.com/riverqueue/river"
	"go.uber.org/zap"

	"samasy.io/samasy/internal/config"
	"samasy.io/samasy/internal/domain"
	"samasy.io/samasy/internal/governance/audit"
	"samasy.io/samasy/internal/infrastructure"
	"samasy.io/samasy/internal/lock"
	"samasy.io/samasy/internal/metrics"
	"samasy.io/samasy/internal/pkg/logger"
	"samasy.io/samasy/internal/pkg/worker"
	"samasy.io/samasy/internal/repository"
	"samasy.io/samasy/internal/repository/memory"
	"samasy.io/samasy/internal/repository/postgres"
	"samasy.io/samasy/internal/repository/sqlite"
	"samasy.io/samasy/internal/staging"
)

// Infrastructure holds shared cross-cutting dependencies for all modules.
// It is a provider, not a Module.
type Infrastructure struct {
	Config  *config.Config
	Store   repository.Store
	Locker  lock.Locker
	Staging staging.Store
	Pools   *worker.Pools
	Events  *domain.EventDispatcher
	Metrics *metrics.Recorder
	Audit   *audit.Logger

	// DB is set only for the postgres storage driver; River needs it.
	DB *infrastructure.DatabaseClients

	redis     *goredis.Client
	auditFile *audit.FileSink
}

// NewInfrastructure opens the configured store, lock, staging area and
// worker pools. On error everything opened so far is closed again.
func NewInfrastructure(ctx context.Context, cfg *config.Config) (_ *Infrastructure, err error) {
	i := &Infrastructure{Config: cfg, Events: domain.NewEventDispatcher(), Metrics: metrics.NewRecorder()}
	defer func() {
		if err != nil {
			i.Close()
		}
	}()
	i.Metrics.Subscribe(i.Events)

	var sink audit.Sink
	if cfg.Audit.Path != "" {
		i.auditFile, err = audit.OpenFileSink(cfg.Audit.Path)
		if err != nil {
			return nil, err
		}
		sink = i.auditFile
	}
	i.Audit = audit.NewLogger(sink, cfg.Audit.Actor)
	i.Audit.Subscribe(i.Events)

	if err := i.openStore(ctx); err != nil {
		return nil, err
	}

	switch cfg.Lock.Driver {
	case config.LockRedis:
		rdb, err := lock.DialRedis(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return nil, fmt.Errorf("init redis lock: %w", err)
		}
		i.redis = rdb
		i.Locker = lock.NewRedisLocker(rdb, lock.RedisOptions{TTL: cfg.Lock.TTL, RetryInterval: cfg.Lock.RetryInterval})
	default:
		i.Locker = lock.NewLocalLocker()
	}

	i.Staging, err = staging.Open(ctx, staging.Config{
		Driver: cfg.Staging.Driver,
		Dir:    cfg.Staging.Dir,
		S3: staging.S3Config{
			Bucket:          cfg.Staging.S3.Bucket,
			Region:          cfg.Staging.S3.Region,
			Endpoint:        cfg.Staging.S3.Endpoint,
			Prefix:          cfg.Staging.S3.Prefix,
			AccessKeyID:     cfg.Staging.S3.AccessKeyID,
			SecretAccessKey: cfg.Staging.S3.SecretAccessKey,
			PathStyle:       cfg.Staging.S3.PathStyle,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("init staging: %w", err)
	}

	i.Pools, err = worker.NewPools(ctx, worker.PoolConfig{
		GeneralPoolSize: cfg.Worker.GeneralPoolSize,
		IngestPoolSize:  cfg.Worker.IngestPoolSize,
	})
	if err != nil {
		return nil, fmt.Errorf("init worker pools: %w", err)
	}
	if err := i.Metrics.WatchPools(i.Pools.Metrics); err != nil {
		return nil, fmt.Errorf("register pool metrics: %w", err)
	}

	logger.Info("Infrastructure initialized",
		zap.String("storage", cfg.Storage.Driver),
		zap.String("lock", cfg.Lock.Driver),
		zap.String("staging", string(i.Staging.Driver())),
	)
	return i, nil
}

func (i *Infrastructure) openStore(ctx context.Context) error {
	cfg := i.Config
	switch cfg.Storage.Driver {
	case config.StorageMemory:
		i.Store = memory.New()
	case config.StorageSQLite:
		s, err := sqlite.Open(cfg.Storage.SQLitePath)
		if err != nil {
			return fmt.Errorf("init sqlite store: %w", err)
		}
		i.Store = s
	case config.StoragePostgres:
		db, err := infrastructure.NewDatabaseClients(ctx, cfg.Database)
		if err != nil {
			return fmt.Errorf("init database: %w", err)
		}
		i.DB = db
		if cfg.Database.AutoMigrate {
			if err := db.AutoMigrate(ctx); err != nil {
				return fmt.Errorf("auto-migrate: %w", err)
			}
		}
		i.Store = postgres.New(db.Pool)
	default:
		return fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}
	return nil
}

// InitRiver initializes the River client on top of a prepared worker
// registry; nil workers gives an insert-only client. Without a database it
// is a no-op.
func (i *Infrastructure) InitRiver(workers *river.Workers) error {
	if i == nil || i.Config == nil {
		return fmt.Errorf("infrastructure is not initialized")
	}
	if i.DB == nil {
		return nil
	}
	if err := i.DB.InitRiverClient(workers, i.Config.River); err != nil {
		return fmt.Errorf("init river: %w", err)
	}
	return nil
}

// Close releases infra resources in reverse dependency order.
func (i *Infrastructure) Close() {
	if i == nil {
		return
	}
	if i.Pools != nil {
		i.Pools.Shutdown()
	}
	if i.redis != nil {
		if err := i.redis.Close(); err != nil {
			logger.Warn("failed to close redis client", zap.Error(err))
		}
	}
	if i.Store != nil {
		if err := i.Store.Close(); err != nil {
			logger.Warn("failed to close store", zap.Error(err))
		}
	}
	if i.DB != nil {
		i.DB.Close()
	}
	if i.auditFile != nil {
		if err := i.auditFile.Close(); err != nil {
			logger.Warn("failed to close audit file", zap.Error(err))
		}
	}
}
