package directory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresConfig 数据库连接配置
type PostgresConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// DefaultPostgresConfig 默认配置
func DefaultPostgresConfig() *PostgresConfig {
	return &PostgresConfig{
		Host:    "localhost",
		Port:    5432,
		User:    "postgres",
		DBName:  "postgres",
		SSLMode: "disable",
	}
}

// PostgresDirectory 基于PostgreSQL的持久用户目录
type PostgresDirectory struct {
	pool *pgxpool.Pool
}

// ConnectPostgres 建立连接池并初始化用户表
func ConnectPostgres(ctx context.Context, config *PostgresConfig) (*PostgresDirectory, error) {
	dsn := fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		config.User, config.Password, config.Host, config.Port, config.DBName, config.SSLMode,
	)

	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	// 连接池参数
	poolConfig.MaxConns = 25
	poolConfig.MinConns = 5
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	d := &PostgresDirectory{pool: pool}
	if err := d.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return d, nil
}

func (d *PostgresDirectory) ensureSchema(ctx context.Context) error {
	_, err := d.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS relay_users (
			username   TEXT PRIMARY KEY,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			online     BOOLEAN NOT NULL DEFAULT false,
			session_id TEXT NOT NULL DEFAULT '',
			last_seen  TIMESTAMPTZ NOT NULL DEFAULT now()
		)`)
	if err != nil {
		return fmt.Errorf("failed to ensure relay_users schema: %w", err)
	}
	return nil
}

// Close 关闭连接池
func (d *PostgresDirectory) Close() {
	if d.pool != nil {
		d.pool.Close()
	}
}

// Lookup 查找用户记录
func (d *PostgresDirectory) Lookup(ctx context.Context, username string) (*UserRecord, bool, error) {
	var rec UserRecord
	err := d.pool.QueryRow(ctx,
		`SELECT username, created_at, online, session_id, last_seen
		 FROM relay_users WHERE username = $1`, username,
	).Scan(&rec.Username, &rec.CreatedAt, &rec.Online, &rec.SessionID, &rec.LastSeen)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("lookup user %q failed: %w", username, err)
	}
	return &rec, true, nil
}

// Create 创建用户记录，重名时返回ErrUserExists
func (d *PostgresDirectory) Create(ctx context.Context, username string) (*UserRecord, error) {
	var rec UserRecord
	err := d.pool.QueryRow(ctx,
		`INSERT INTO relay_users (username) VALUES ($1)
		 ON CONFLICT (username) DO NOTHING
		 RETURNING username, created_at, online, session_id, last_seen`, username,
	).Scan(&rec.Username, &rec.CreatedAt, &rec.Online, &rec.SessionID, &rec.LastSeen)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrUserExists
	}
	if err != nil {
		return nil, fmt.Errorf("create user %q failed: %w", username, err)
	}
	return &rec, nil
}

// MarkOnline 标记用户上线，未知用户自动建档
func (d *PostgresDirectory) MarkOnline(ctx context.Context, username, sessionID string) error {
	_, err := d.pool.Exec(ctx,
		`INSERT INTO relay_users (username, online, session_id, last_seen)
		 VALUES ($1, true, $2, now())
		 ON CONFLICT (username) DO UPDATE
		 SET online = true, session_id = $2, last_seen = now()`, username, sessionID)
	if err != nil {
		return fmt.Errorf("mark user %q online failed: %w", username, err)
	}
	return nil
}

// MarkOffline 标记用户下线
func (d *PostgresDirectory) MarkOffline(ctx context.Context, username string) error {
	_, err := d.pool.Exec(ctx,
		`UPDATE relay_users
		 SET online = false, session_id = '', last_seen = now()
		 WHERE username = $1`, username)
	if err != nil {
		return fmt.Errorf("mark user %q offline failed: %w", username, err)
	}
	return nil
}

// Usernames 返回已知用户名的有序列表
func (d *PostgresDirectory) Usernames(ctx context.Context) ([]string, error) {
	rows, err := d.pool.Query(ctx, `SELECT username FROM relay_users ORDER BY username`)
	if err != nil {
		return nil, fmt.Errorf("list usernames failed: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}
