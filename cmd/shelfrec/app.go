package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"

	"github.com/rs/zerolog"

	"github.com/rushteam/shelfrec/config"
	"github.com/rushteam/shelfrec/core"
	"github.com/rushteam/shelfrec/encoder"
	"github.com/rushteam/shelfrec/pipeline"
	"github.com/rushteam/shelfrec/recommend"
	"github.com/rushteam/shelfrec/store"
	"github.com/rushteam/shelfrec/store/postgres"
)

// app 是一次命令执行所需的存储与编码器句柄，按 storage.driver 装配。
//
//   - memory:   记录与向量都在 fixture 文件中，写操作结束后回写文件
//   - redis:    记录来自 fixture 文件，向量与热度存放在 Redis
//   - postgres: 记录与向量都在 Postgres（pgvector）
type app struct {
	cfg    *config.AppConfig
	logger zerolog.Logger

	vectors      core.VectorStore
	interactions core.InteractionStore
	users        core.UserStore
	catalog      core.BookCatalog
	kv           core.Store

	// repo 非空时写操作需要回写 fixture（仅 memory 驱动）
	repo *store.MemoryRepository

	closers []func() error
}

func openApp(ctx context.Context, cfg *config.AppConfig, logger zerolog.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}

	switch cfg.Storage.Driver {
	case "memory":
		repo, err := loadFixture(ctx, cfg.Storage.FixturePath)
		if err != nil {
			return nil, err
		}
		a.useRepository(repo)
		a.repo = repo
		a.kv = store.NewMemoryStore()

	case "redis":
		repo, err := loadFixture(ctx, cfg.Storage.FixturePath)
		if err != nil {
			return nil, err
		}
		rds, err := store.NewRedisStore(cfg.Storage.RedisAddr, cfg.Storage.RedisPassword, cfg.Storage.RedisDB)
		if err != nil {
			return nil, fmt.Errorf("connect redis %s: %w", cfg.Storage.RedisAddr, err)
		}
		a.closers = append(a.closers, rds.Close)
		a.useRepository(repo)

		vectors := store.NewKVVectorStore(rds, cfg.Storage.KeyPrefix)
		all, err := repo.ListInteractions(ctx, "")
		if err != nil {
			return nil, err
		}
		if err := vectors.RefreshPopularity(ctx, all); err != nil {
			return nil, fmt.Errorf("refresh popularity: %w", err)
		}
		a.vectors = vectors
		a.kv = rds

	case "postgres":
		db, err := postgres.NewDB(postgres.Config{DSN: cfg.Storage.DSN})
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, db.Close)
		if err := db.Migrate(ctx); err != nil {
			_ = a.Close()
			return nil, err
		}
		a.vectors = db
		a.interactions = db
		a.users = db
		a.catalog = db
		a.kv = store.NewMemoryStore()

	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.Storage.Driver)
	}

	logger.Debug().Str("driver", cfg.Storage.Driver).Msg("storage opened")
	return a, nil
}

func loadFixture(ctx context.Context, path string) (*store.MemoryRepository, error) {
	repo, err := store.LoadFixture(ctx, path)
	if errors.Is(err, fs.ErrNotExist) {
		return store.NewMemoryRepository(), nil
	}
	return repo, err
}

func (a *app) useRepository(repo *store.MemoryRepository) {
	a.vectors = repo
	a.interactions = repo
	a.users = repo
	a.catalog = repo
}

// persist 在 memory 驱动下把写入结果回写 fixture
func (a *app) persist() error {
	if a.repo == nil {
		return nil
	}
	if err := a.repo.SaveFixture(a.cfg.Storage.FixturePath); err != nil {
		return fmt.Errorf("save fixture: %w", err)
	}
	a.logger.Info().Str("path", a.cfg.Storage.FixturePath).Msg("fixture saved")
	return nil
}

func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (a *app) encoder() (core.TextEncoder, error) {
	ec := a.cfg.Encoder
	switch ec.Provider {
	case "", "hash":
		return encoder.NewHashEncoder(ec.Dimensions), nil
	case "openai":
		enc, err := encoder.NewOpenAIEncoder(encoder.Config{
			APIKey:           ec.APIKey,
			BaseURL:          ec.BaseURL,
			Model:            ec.Model,
			Dimensions:       ec.Dimensions,
			Timeout:          ec.Timeout,
			FailureThreshold: ec.FailureThreshold,
		}, a.logger.With().Str("component", "encoder").Logger())
		if err != nil {
			return nil, err
		}
		return enc, nil
	default:
		return nil, fmt.Errorf("unsupported encoder provider %q", ec.Provider)
	}
}

func (a *app) engine() (*recommend.Engine, error) {
	rc := a.cfg.Recommend
	enc, err := a.encoder()
	if err != nil {
		return nil, err
	}

	opts := []recommend.Option{
		recommend.WithLogger(a.logger.With().Str("component", "recommend").Logger()),
		recommend.WithMinInteractions(rc.MinInteractions),
		recommend.WithPattern(rc.EnablePattern),
		recommend.WithSourceTimeout(rc.SourceTimeout),
		recommend.WithMaxConcurrent(rc.MaxConcurrent),
		recommend.WithSamplingPolicies(
			a.cfg.Sampling.Content.Policy(),
			a.cfg.Sampling.CF.Policy(),
			a.cfg.Sampling.Graph.Policy(),
		),
	}
	if rc.PipelineFile != "" {
		p, err := config.LoadPipeline(rc.PipelineFile, &pipeline.Deps{
			Interactions: a.interactions,
			KV:           a.kv,
			Logger:       a.logger,
		})
		if err != nil {
			return nil, fmt.Errorf("load pipeline %s: %w", rc.PipelineFile, err)
		}
		opts = append(opts, recommend.WithPipeline(p))
	}

	return recommend.NewEngine(recommend.Deps{
		Vectors:      a.vectors,
		Interactions: a.interactions,
		Users:        a.users,
		Catalog:      a.catalog,
		Encoder:      enc,
	}, opts...), nil
}
