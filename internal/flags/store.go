package flags

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// All toggles live in one hash: field = flag key, value = JSON Flag.
const hashKey = "nlq:flags"

var keyRe = regexp.MustCompile(`^[a-zA-Z0-9._-]{1,128}$`)

// Store keeps runtime toggles in Redis. Reads through Enabled are cached in
// process for a short TTL so the hot path does not hit Redis per request.
type Store struct {
	client redis.Cmdable
	reads  *cache.Cache
	logger *logrus.Logger
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithReadTTL sets how long Enabled trusts a cached value. Zero disables the
// cache.
func WithReadTTL(ttl time.Duration) StoreOption {
	return func(s *Store) {
		if ttl <= 0 {
			s.reads = nil
			return
		}
		s.reads = cache.New(ttl, 2*ttl)
	}
}

// WithLogger sets the logger used for degraded reads.
func WithLogger(l *logrus.Logger) StoreOption {
	return func(s *Store) { s.logger = l }
}

func NewStore(client redis.Cmdable, opts ...StoreOption) (*Store, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is nil")
	}
	s := &Store{
		client: client,
		reads:  cache.New(5*time.Second, 10*time.Second),
		logger: logrus.New(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func ValidateKey(key string) error {
	if !keyRe.MatchString(key) {
		return ErrInvalidKey
	}
	return nil
}

func (s *Store) Upsert(ctx context.Context, key string, value bool) (*Flag, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}

	flag := &Flag{Key: key, Value: value, UpdatedAt: time.Now().UTC()}
	b, err := json.Marshal(flag)
	if err != nil {
		return nil, fmt.Errorf("marshal flag: %w", err)
	}
	if err := s.client.HSet(ctx, hashKey, key, b).Err(); err != nil {
		return nil, fmt.Errorf("upsert flag: %w", err)
	}

	s.forget(key)
	return flag, nil
}

func (s *Store) Get(ctx context.Context, key string) (*Flag, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}

	val, err := s.client.HGet(ctx, hashKey, key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get flag: %w", err)
	}

	var f Flag
	if err := json.Unmarshal([]byte(val), &f); err != nil {
		return nil, fmt.Errorf("unmarshal flag: %w", err)
	}
	return &f, nil
}

// List returns every stored flag ordered by key.
func (s *Store) List(ctx context.Context) ([]*Flag, error) {
	vals, err := s.client.HGetAll(ctx, hashKey).Result()
	if err != nil {
		return nil, fmt.Errorf("list flags: %w", err)
	}

	out := make([]*Flag, 0, len(vals))
	for k, v := range vals {
		if ValidateKey(k) != nil {
			continue
		}
		var f Flag
		if err := json.Unmarshal([]byte(v), &f); err != nil {
			continue
		}
		out = append(out, &f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// Delete removes a flag. Deleting a missing flag is not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	if err := s.client.HDel(ctx, hashKey, key).Err(); err != nil {
		return fmt.Errorf("delete flag: %w", err)
	}
	s.forget(key)
	return nil
}

// Enabled reports a toggle's value, falling back to def when the toggle is
// unset or Redis cannot be reached.
func (s *Store) Enabled(ctx context.Context, key string, def bool) bool {
	if s.reads != nil {
		if v, ok := s.reads.Get(key); ok {
			return v.(bool)
		}
	}

	value := def
	f, err := s.Get(ctx, key)
	switch {
	case err == nil:
		value = f.Value
	case errors.Is(err, ErrNotFound):
	default:
		s.logger.WithError(err).WithField("flag", key).Warn("flag read failed, using default")
		return def
	}

	if s.reads != nil {
		s.reads.SetDefault(key, value)
	}
	return value
}

func (s *Store) forget(key string) {
	if s.reads != nil {
		s.reads.Delete(key)
	}
}
