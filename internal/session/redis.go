package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/digkill/medpost/internal/pipeline"
)

var releaseBusy = redis.NewScript(`
	if redis.call('GET', KEYS[1]) == ARGV[1] then
		return redis.call('DEL', KEYS[1])
	end
	return 0
`)

var saveAtEpoch = redis.NewScript(`
	local current = redis.call('GET', KEYS[2]) or '0'
	if current ~= ARGV[1] then
		return 0
	end
	redis.call('SET', KEYS[1], ARGV[2], 'PX', ARGV[3])
	return 1
`)

// RedisStore shares sessions between instances. Sessions expire after TTL of
// inactivity; the busy marker expires after BusyTTL so a crashed instance
// cannot hold a user forever.
type RedisStore struct {
	rdb     *redis.Client
	prefix  string
	ttl     time.Duration
	busyTTL time.Duration
}

func NewRedisStore(rdb *redis.Client, ttl, busyTTL time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	if busyTTL <= 0 {
		busyTTL = 10 * time.Minute
	}
	return &RedisStore{rdb: rdb, prefix: "medpost:session:", ttl: ttl, busyTTL: busyTTL}
}

func (r *RedisStore) key(userID string) string      { return r.prefix + userID }
func (r *RedisStore) busyKey(userID string) string  { return r.prefix + userID + ":busy" }
func (r *RedisStore) epochKey(userID string) string { return r.prefix + userID + ":epoch" }

func (r *RedisStore) Load(ctx context.Context, userID string) (pipeline.Session, bool, error) {
	raw, err := r.rdb.Get(ctx, r.key(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return pipeline.Session{}, false, nil
	}
	if err != nil {
		return pipeline.Session{}, false, fmt.Errorf("load session: %w", err)
	}
	var s pipeline.Session
	if err := json.Unmarshal(raw, &s); err != nil {
		return pipeline.Session{}, false, fmt.Errorf("decode session: %w", err)
	}
	return s, true, nil
}

func (r *RedisStore) Save(ctx context.Context, userID string, s pipeline.Session) error {
	raw, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	if err := r.rdb.Set(ctx, r.key(userID), raw, r.ttl).Err(); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

func (r *RedisStore) Delete(ctx context.Context, userID string) error {
	_, err := r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, r.key(userID))
		pipe.Incr(ctx, r.epochKey(userID))
		pipe.Expire(ctx, r.epochKey(userID), r.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

func (r *RedisStore) Epoch(ctx context.Context, userID string) (int64, error) {
	epoch, err := r.rdb.Get(ctx, r.epochKey(userID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("load session epoch: %w", err)
	}
	return epoch, nil
}

func (r *RedisStore) SaveAt(ctx context.Context, userID string, epoch int64, s pipeline.Session) (bool, error) {
	raw, err := json.Marshal(s)
	if err != nil {
		return false, fmt.Errorf("encode session: %w", err)
	}
	keys := []string{r.key(userID), r.epochKey(userID)}
	saved, err := saveAtEpoch.Run(ctx, r.rdb, keys, strconv.FormatInt(epoch, 10), raw, r.ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("save session: %w", err)
	}
	return saved == 1, nil
}

func (r *RedisStore) Busy(ctx context.Context, userID string) (bool, error) {
	n, err := r.rdb.Exists(ctx, r.busyKey(userID)).Result()
	if err != nil {
		return false, fmt.Errorf("check session busy: %w", err)
	}
	return n > 0, nil
}

func (r *RedisStore) Acquire(ctx context.Context, userID string) (func(), error) {
	token := uuid.NewString()
	ok, err := r.rdb.SetNX(ctx, r.busyKey(userID), token, r.busyTTL).Result()
	if err != nil {
		return nil, fmt.Errorf("mark session busy: %w", err)
	}
	if !ok {
		return nil, ErrBusy
	}
	key := r.busyKey(userID)
	return func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = releaseBusy.Run(releaseCtx, r.rdb, []string{key}, token).Err()
	}, nil
}
