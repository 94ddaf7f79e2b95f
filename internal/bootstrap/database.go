package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver
	"github.com/redis/go-redis/v9"
	"github.com/target/chart-analysis-worker/config"
	"github.com/target/chart-analysis-worker/internal/migrate"
)

const connectTimeout = 5 * time.Second

// DatabaseConfig contains configuration for database connections.
type DatabaseConfig struct {
	DBConfig    config.DBConfig
	RedisConfig config.RedisConfig
	Logger      *slog.Logger
}

// postgresDSN builds the pgx URL. url.URL escapes credentials with reserved characters.
func postgresDSN(cfg config.DBConfig) string {
	u := &url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(cfg.User, cfg.Password),
		Host:     net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		Path:     "/" + cfg.Name,
		RawQuery: url.Values{"sslmode": {cfg.SSLMode}}.Encode(),
	}
	return u.String()
}

// ConnectDB opens the Postgres pool and verifies it with a ping.
func ConnectDB(cfg DatabaseConfig) (*sql.DB, error) {
	db, err := sql.Open("pgx", postgresDSN(cfg.DBConfig))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.DBConfig.MaxOpenConns)
	db.SetMaxIdleConns(cfg.DBConfig.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.DBConfig.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	if pingErr := db.PingContext(ctx); pingErr != nil {
		return nil, errors.Join(fmt.Errorf("ping database: %w", pingErr), db.Close())
	}

	if cfg.Logger != nil {
		cfg.Logger.Info("database connected",
			"host", cfg.DBConfig.Host,
			"port", cfg.DBConfig.Port,
			"database", cfg.DBConfig.Name,
			"max_open_conns", cfg.DBConfig.MaxOpenConns,
		)
	}
	return db, nil
}

// ConnectRedis picks a cluster, sentinel or direct client from config and pings it.
//
//nolint:ireturn // the client flavour is chosen at runtime.
func ConnectRedis(cfg DatabaseConfig) (redis.UniversalClient, error) {
	client, desc, err := newRedisClient(cfg.RedisConfig)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	if pingErr := client.Ping(ctx).Err(); pingErr != nil {
		return nil, errors.Join(fmt.Errorf("ping redis %s: %w", desc, pingErr), client.Close())
	}

	if cfg.Logger != nil {
		cfg.Logger.Info("redis connected", "target", desc)
	}
	return client, nil
}

// newRedisClient returns the client and a credential-free description of its target.
//
//nolint:ireturn // the client flavour is chosen at runtime.
func newRedisClient(cfg config.RedisConfig) (redis.UniversalClient, string, error) {
	switch {
	case cfg.UseCluster:
		opts := &redis.ClusterOptions{Addrs: cfg.ClusterNodes, Password: cfg.Password}
		if len(opts.Addrs) == 0 {
			// A single seed from REDIS_URI is enough for the cluster client to discover the rest.
			seed, err := parseRedisURI(cfg)
			if err != nil {
				return nil, "", err
			}
			if seed.Addr == "" {
				return nil, "", errors.New("redis cluster configuration requires at least one address")
			}
			opts.Addrs = []string{seed.Addr}
			opts.Username = seed.Username
			opts.Password = seed.Password
			opts.TLSConfig = seed.TLSConfig
		}
		return redis.NewClusterClient(opts), "cluster:" + strings.Join(opts.Addrs, ","), nil

	case cfg.UseSentinel:
		if len(cfg.SentinelNodes) == 0 {
			return nil, "", errors.New("redis sentinel configuration requires at least one sentinel node")
		}
		return redis.NewFailoverClient(&redis.FailoverOptions{
			MasterName:       cfg.SentinelMasterName,
			SentinelAddrs:    cfg.SentinelNodes,
			Password:         cfg.Password,
			SentinelPassword: cfg.SentinelPassword,
			DB:               cfg.DB,
		}), "sentinel:" + cfg.SentinelMasterName, nil

	default:
		opts, err := parseRedisURI(cfg)
		if err != nil {
			return nil, "", err
		}
		if opts.Addr == "" {
			return nil, "", errors.New("redis direct configuration requires a URI")
		}
		return redis.NewClient(opts), opts.Addr, nil
	}
}

// parseRedisURI accepts either a redis:// or rediss:// URL or a bare host:port. Credentials and
// DB index embedded in a URL take precedence over REDIS_PASSWORD and REDIS_DB.
func parseRedisURI(cfg config.RedisConfig) (*redis.Options, error) {
	uri := strings.TrimSpace(cfg.URI)
	if !strings.HasPrefix(uri, "redis://") && !strings.HasPrefix(uri, "rediss://") {
		return &redis.Options{Addr: uri, Password: cfg.Password, DB: cfg.DB}, nil
	}
	opts, err := redis.ParseURL(uri)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	if opts.Password == "" {
		opts.Password = cfg.Password
	}
	return opts, nil
}

// RunMigrations applies pending migrations.
func RunMigrations(ctx context.Context, db *sql.DB, logger *slog.Logger) error {
	if err := migrate.Run(ctx, db); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	if logger != nil {
		logger.InfoContext(ctx, "database migrations completed")
	}
	return nil
}
