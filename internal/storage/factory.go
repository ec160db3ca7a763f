package storage

import (
	"context"
	"fmt"

	"github.com/growgrammers/authflow/internal/config"
	"github.com/growgrammers/authflow/internal/util"
)

// Backend names accepted by New.
const (
	TypeMemory   = "memory"
	TypeFile     = "file"
	TypePostgres = "postgres"
	TypeRedis    = "redis"
	TypeObject   = "object"
)

// New creates the backend selected by cfg.Type.
// A failed constructor never leaks a typed nil pointer into the returned interface.
func New(ctx context.Context, cfg config.StorageConfig) (Storage, error) {
	switch cfg.Type {
	case TypeMemory:
		return NewMemoryStorage(), nil
	case TypeFile, "":
		p := cfg.Path
		if p == "" {
			p = config.DefaultStoragePath
		}
		resolved, err := util.ResolvePath(p)
		if err != nil {
			return nil, err
		}
		s, err := NewFileStorage(resolved)
		if err != nil {
			return nil, err
		}
		return s, nil
	case TypePostgres:
		s, err := NewPostgresStorage(ctx, PostgresConfig{
			DSN:    cfg.Postgres.DSN,
			Schema: cfg.Postgres.Schema,
			Table:  cfg.Postgres.Table,
		})
		if err != nil {
			return nil, err
		}
		return s, nil
	case TypeRedis:
		s, err := NewRedisStorageFromOptions(RedisOptions{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Prefix:   cfg.Redis.Prefix,
		})
		if err != nil {
			return nil, err
		}
		return s, nil
	case TypeObject:
		s, err := NewObjectStorage(ctx, ObjectConfig{
			Endpoint:  cfg.Object.Endpoint,
			Bucket:    cfg.Object.Bucket,
			AccessKey: cfg.Object.AccessKey,
			SecretKey: cfg.Object.SecretKey,
			Region:    cfg.Object.Region,
			Prefix:    cfg.Object.Prefix,
			UseSSL:    cfg.Object.UseSSL,
		})
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", cfg.Type)
	}
}
