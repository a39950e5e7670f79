package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kilianp07/fueltrack/core/factory"
	coresnap "github.com/kilianp07/fueltrack/core/snapshot"
)

// RedisConfig configures RedisStore.
type RedisConfig struct {
	URL       string `json:"url"`
	Password  string `json:"password"`
	DB        int    `json:"db"`
	KeyPrefix string `json:"key_prefix"`
	// TTL expires snapshots of vehicles that stopped reporting. Zero keeps
	// them forever.
	TTL time.Duration `json:"ttl"`
}

func newRedisFromConf(conf map[string]any) (coresnap.Store, error) {
	var cfg RedisConfig
	if err := factory.Decode(conf, &cfg); err != nil {
		return nil, err
	}
	return NewRedisStore(cfg)
}

// RedisStore keeps each vehicle in a hash keyed by component, plus a set
// indexing the known vehicles.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisStore connects to the server described by cfg.
func NewRedisStore(cfg RedisConfig) (*RedisStore, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("redis snapshot store: url is required")
	}
	opt, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	if cfg.Password != "" {
		opt.Password = cfg.Password
	}
	if cfg.DB != 0 {
		opt.DB = cfg.DB
	}
	opt.DialTimeout = 5 * time.Second
	opt.ReadTimeout = 3 * time.Second
	opt.WriteTimeout = 3 * time.Second
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "fueltrack:"
	}
	return &RedisStore{client: redis.NewClient(opt), prefix: cfg.KeyPrefix, ttl: cfg.TTL}, nil
}

func (s *RedisStore) vehicleKey(id string) string { return s.prefix + "snapshot:" + id }
func (s *RedisStore) indexKey() string          { return s.prefix + "snapshot:vehicles" }

// Ping checks the connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}

// Save writes all records in one transaction.
func (s *RedisStore) Save(ctx context.Context, recs []coresnap.Record) error {
	byVehicle := map[string][]any{}
	for _, r := range recs {
		b, err := json.Marshal(r)
		if err != nil {
			return err
		}
		byVehicle[r.VehicleID] = append(byVehicle[r.VehicleID], r.Component, string(b))
	}
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for id, fields := range byVehicle {
			key := s.vehicleKey(id)
			pipe.HSet(ctx, key, fields...)
			if s.ttl > 0 {
				pipe.Expire(ctx, key, s.ttl)
			}
			pipe.SAdd(ctx, s.indexKey(), id)
		}
		return nil
	})
	return err
}

func (s *RedisStore) Load(ctx context.Context, vehicleID string) ([]coresnap.Record, error) {
	fields, err := s.client.HGetAll(ctx, s.vehicleKey(vehicleID)).Result()
	if err != nil {
		return nil, err
	}
	return decodeFields(fields)
}

// LoadAll reads every indexed vehicle with one pipelined round trip. Index
// entries whose hash expired are removed.
func (s *RedisStore) LoadAll(ctx context.Context) ([]coresnap.Record, error) {
	ids, err := s.client.SMembers(ctx, s.indexKey()).Result()
	if err != nil {
		return nil, err
	}
	sort.Strings(ids)
	cmds := make([]*redis.MapStringStringCmd, len(ids))
	_, err = s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = pipe.HGetAll(ctx, s.vehicleKey(id))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	var (
		out   []coresnap.Record
		stale []any
	)
	for i, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			stale = append(stale, ids[i])
			continue
		}
		recs, err := decodeFields(fields)
		if err != nil {
			return nil, fmt.Errorf("vehicle %s: %w", ids[i], err)
		}
		out = append(out, recs...)
	}
	if len(stale) > 0 {
		_ = s.client.SRem(ctx, s.indexKey(), stale...).Err()
	}
	return out, nil
}

func decodeFields(fields map[string]string) ([]coresnap.Record, error) {
	out := make([]coresnap.Record, 0, len(fields))
	for comp, raw := range fields {
		var r coresnap.Record
		if err := json.Unmarshal([]byte(raw), &r); err != nil {
			return nil, fmt.Errorf("component %s: %w", comp, err)
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Component < out[j].Component })
	return out, nil
}

func (s *RedisStore) Delete(ctx context.Context, vehicleID string) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.vehicleKey(vehicleID))
		pipe.SRem(ctx, s.indexKey(), vehicleID)
		return nil
	})
	return err
}

func (s *RedisStore) Close() error { return s.client.Close() }
