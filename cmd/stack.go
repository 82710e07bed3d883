package cmd

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-etl/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-etl/pkg/config"
	"github.com/ekaya-inc/ekaya-etl/pkg/crypto"
	"github.com/ekaya-inc/ekaya-etl/pkg/database"
	"github.com/ekaya-inc/ekaya-etl/pkg/etl"
	"github.com/ekaya-inc/ekaya-etl/pkg/metrics"
	"github.com/ekaya-inc/ekaya-etl/pkg/repositories"
	"github.com/ekaya-inc/ekaya-etl/pkg/runlock"
	"github.com/ekaya-inc/ekaya-etl/pkg/services"
)

// stack is the wired application shared by serve and the one-shot commands.
type stack struct {
	db        *database.DB
	redis     *redis.Client
	pools     *datasource.ConnectionManager
	collector *metrics.Collector

	configRepo repositories.ConfigRepository
	logRepo    repositories.ImportLogRepository

	imports services.ImportService
	config  services.ConfigService
}

type stackOptions struct {
	// onProgress receives runner progress after every committed batch.
	onProgress func(etl.Progress)
}

// openDB connects to the ETL database without running migrations.
func openDB(ctx context.Context, cfg *config.Config) (*database.DB, error) {
	return database.NewConnection(ctx, &database.Config{
		URL:            cfg.Database.ConnectionString(),
		MaxConnections: cfg.Database.MaxConnections,
	})
}

// migrate applies or reverts schema migrations through database/sql, which
// golang-migrate requires.
func migrate(cfg *config.Config, direction string, logger *zap.Logger) error {
	sqlDB, err := sql.Open("pgx", cfg.Database.ConnectionString())
	if err != nil {
		return fmt.Errorf("failed to open database for migrations: %w", err)
	}
	defer sqlDB.Close()

	return database.Migrate(sqlDB, cfg.Database.MigrationsPath, direction, logger)
}

func newCipher(cfg *config.Config) (*crypto.DescriptorCipher, error) {
	if cfg.CredentialsKey == "" {
		return nil, nil
	}
	cipher, err := crypto.NewDescriptorCipher(cfg.CredentialsKey)
	if err != nil {
		return nil, fmt.Errorf("invalid ETL_CREDENTIALS_KEY: %w", err)
	}
	return cipher, nil
}

func newLockBackend(ctx context.Context, cfg *config.Config, db *database.DB, logger *zap.Logger) (runlock.Backend, *redis.Client, error) {
	switch cfg.ETL.LockBackend {
	case config.LockBackendRedis:
		client, err := database.NewRedisClient(ctx, &cfg.Redis)
		if err != nil {
			return nil, nil, err
		}
		return runlock.NewRedisBackend(client, cfg.ETL.LockTTL, logger), client, nil
	case config.LockBackendPostgres:
		return runlock.NewPostgresBackend(db.Pool, logger), nil, nil
	default:
		return nil, nil, nil
	}
}

// buildStack connects to the ETL database, migrates it and wires services.
func buildStack(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts stackOptions) (*stack, error) {
	if err := migrate(cfg, database.MigrateUp, logger); err != nil {
		return nil, err
	}

	db, err := openDB(ctx, cfg)
	if err != nil {
		return nil, err
	}
	s := &stack{db: db}

	cipher, err := newCipher(cfg)
	if err != nil {
		s.Close()
		return nil, err
	}

	backend, redisClient, err := newLockBackend(ctx, cfg, db, logger)
	if err != nil {
		s.Close()
		return nil, err
	}
	s.redis = redisClient

	s.pools = datasource.NewConnectionManager(datasource.ConnectionManagerConfig{
		TTLMinutes:     cfg.Datasource.ConnectionTTLMinutes,
		MaxConnections: cfg.Datasource.MaxOpenSources,
		PoolMaxConns:   cfg.Datasource.PoolMaxConns,
	}, logger)
	s.collector = metrics.NewCollector(func() int { return s.pools.GetStats().TotalConnections })

	s.configRepo = repositories.NewConfigRepository(db)
	s.logRepo = repositories.NewImportLogRepository(db)
	target := repositories.NewTargetStore(db, repositories.TargetOptions{
		IDColumn:    cfg.ETL.TargetIDColumn,
		GenerateIDs: cfg.ETL.GenerateTargetIDs,
	}, logger)

	registry := etl.Default()
	runner := etl.NewRunner(s.configRepo, s.logRepo,
		datasource.NewConnector(s.pools, cipher, cfg.ETL.SourceConnectRetries, logger),
		target, logger, etl.Options{
			FKLookupTimeout: cfg.ETL.FKLookupTimeout,
			Registry:        registry,
			Observer:        s.collector,
			OnProgress:      opts.onProgress,
		})

	s.imports = services.NewImportService(s.configRepo, s.logRepo, runner, runlock.New(backend, logger), registry, logger)
	s.config = services.NewConfigService(s.configRepo, cipher, registry, logger)
	return s, nil
}

// Close releases every connection the stack holds.
func (s *stack) Close() {
	if s.pools != nil {
		_ = s.pools.Close()
	}
	if s.redis != nil {
		_ = s.redis.Close()
	}
	if s.db != nil {
		s.db.Close()
	}
}
