// Package postgres 是 PostgreSQL + pgvector 的存储实现，
// 同时提供 VectorStore、InteractionStore、UserStore、UserLister 与 BookCatalog。
package postgres

import (
	"context"
	"database/sql"
	"strconv"
	"time"

	// PostgreSQL 驱动
	_ "github.com/lib/pq"
	"github.com/pkg/errors"
)

// Schema 是本存储依赖的表结构，维度由 pgvector 列在插入时确定。
// 表结构的创建与迁移由外部负责，这里只作为约定说明与测试用。
const Schema = `
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS users (
	id            TEXT PRIMARY KEY,
	preferences   JSONB,
	kyc_embedding VECTOR,
	cf_embedding  VECTOR
);

CREATE TABLE IF NOT EXISTS books (
	id                BIGINT PRIMARY KEY,
	title             TEXT NOT NULL,
	author            TEXT NOT NULL DEFAULT '',
	description       TEXT NOT NULL DEFAULT '',
	genres            TEXT[] NOT NULL DEFAULT '{}',
	content_embedding VECTOR,
	cf_embedding      VECTOR,
	graph_embedding   VECTOR
);

CREATE TABLE IF NOT EXISTS interactions (
	id               BIGSERIAL PRIMARY KEY,
	user_id          TEXT NOT NULL,
	book_id          BIGINT NOT NULL,
	interaction_type TEXT NOT NULL,
	rating           DOUBLE PRECISION,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_interactions_user ON interactions (user_id, created_at);
CREATE INDEX IF NOT EXISTS idx_interactions_book ON interactions (book_id);
`

// Config 是连接池配置
type Config struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type DB struct {
	db *sql.DB
}

// NewDB 打开连接并校验可用性。连接池大小决定并发读的上限。
func NewDB(cfg Config) (*DB, error) {
	if cfg.DSN == "" {
		return nil, errors.New("postgres dsn is empty")
	}

	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open database")
	}

	maxOpen := cfg.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = 10
	}
	maxIdle := cfg.MaxIdleConns
	if maxIdle <= 0 {
		maxIdle = 2
	}
	lifetime := cfg.ConnMaxLifetime
	if lifetime <= 0 {
		lifetime = time.Hour
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	db.SetConnMaxLifetime(lifetime)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "failed to ping database")
	}
	return &DB{db: db}, nil
}

// NewFromSQL 包装一个已存在的连接（由调用方管理生命周期）
func NewFromSQL(db *sql.DB) *DB {
	return &DB{db: db}
}

func (d *DB) Name() string { return "postgres" }

func (d *DB) GetDB() *sql.DB { return d.db }

func (d *DB) Close() error { return d.db.Close() }

// Migrate 执行 Schema，开发环境使用
func (d *DB) Migrate(ctx context.Context) error {
	if _, err := d.db.ExecContext(ctx, Schema); err != nil {
		return errors.Wrap(err, "failed to apply schema")
	}
	return nil
}

func placeholder(n int) string {
	return "$" + strconv.Itoa(n)
}
