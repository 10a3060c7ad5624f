package session

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	gocache "github.com/patrickmn/go-cache"
	rdb "github.com/redis/go-redis/v9"
)

var ErrNotFound = errors.New("session not found")

// Store persists session state between requests.
type Store interface {
	Load(ctx context.Context, id string) (*State, error)
	Save(ctx context.Context, st *State, ttl time.Duration) error
	Delete(ctx context.Context, id string) error
}

func decode(b []byte) (*State, error) {
	st := &State{}
	if err := json.Unmarshal(b, st); err != nil {
		return nil, err
	}
	st.Validate()
	return st, nil
}

type MemoryStore struct {
	c *gocache.Cache
}

func NewMemoryStore(defaultTTL time.Duration) *MemoryStore {
	return &MemoryStore{c: gocache.New(defaultTTL, time.Minute)}
}

func (m *MemoryStore) Load(_ context.Context, id string) (*State, error) {
	v, ok := m.c.Get(id)
	if !ok {
		return nil, ErrNotFound
	}
	b, _ := v.([]byte)
	return decode(b)
}

func (m *MemoryStore) Save(_ context.Context, st *State, ttl time.Duration) error {
	b, err := json.Marshal(st)
	if err != nil {
		return err
	}
	m.c.Set(st.ID, b, ttl)
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.c.Delete(id)
	return nil
}

type RedisStore struct {
	c      *rdb.Client
	prefix string
}

func NewRedisStore(addr, password string, db int) *RedisStore {
	return &RedisStore{
		c:      rdb.NewClient(&rdb.Options{Addr: addr, Password: password, DB: db}),
		prefix: "session:",
	}
}

func (r *RedisStore) Load(ctx context.Context, id string) (*State, error) {
	b, err := r.c.Get(ctx, r.prefix+id).Bytes()
	if err != nil {
		if errors.Is(err, rdb.Nil) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return decode(b)
}

func (r *RedisStore) Save(ctx context.Context, st *State, ttl time.Duration) error {
	b, err := json.Marshal(st)
	if err != nil {
		return err
	}
	return r.c.Set(ctx, r.prefix+st.ID, b, ttl).Err()
}

func (r *RedisStore) Delete(ctx context.Context, id string) error {
	return r.c.Del(ctx, r.prefix+id).Err()
}

func (r *RedisStore) Ping(ctx context.Context) error {
	return r.c.Ping(ctx).Err()
}

func (r *RedisStore) Close() error {
	return r.c.Close()
}
