package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"
)

var (
	ErrNotFound   = errors.New("session not found")
	ErrNoSnapshot = errors.New("session has no snapshot")
)

// Store keeps sessions and their snapshots for a bounded time.
type Store interface {
	Get(ctx context.Context, id string) (*Session, error)
	Put(ctx context.Context, s *Session) error
	PutSnapshot(ctx context.Context, id string, snap Snapshot) error
	GetSnapshot(ctx context.Context, id string) (Snapshot, error)
}

type memEntry struct {
	data    []byte
	expires time.Time
}

// Memory stores sessions in process. Values are stored encoded so callers never share pointers.
type Memory struct {
	TTL time.Duration

	mu    sync.Mutex
	items map[string]memEntry
	now   func() time.Time
}

func NewMemory(ttl time.Duration) *Memory {
	return &Memory{TTL: ttl, items: map[string]memEntry{}, now: time.Now}
}

func (m *Memory) Get(ctx context.Context, id string) (*Session, error) {
	b, ok := m.load(sessionKey(id))
	if !ok {
		return nil, ErrNotFound
	}
	var s Session
	if err := json.Unmarshal(b, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (m *Memory) Put(ctx context.Context, s *Session) error {
	b, err := json.Marshal(s)
	if err != nil {
		return err
	}
	m.store(sessionKey(s.ID), b)
	return nil
}

func (m *Memory) PutSnapshot(ctx context.Context, id string, snap Snapshot) error {
	b, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	m.store(snapshotKey(id), b)
	return nil
}

func (m *Memory) GetSnapshot(ctx context.Context, id string) (Snapshot, error) {
	var snap Snapshot
	b, ok := m.load(snapshotKey(id))
	if !ok {
		return snap, ErrNoSnapshot
	}
	err := json.Unmarshal(b, &snap)
	return snap, err
}

func (m *Memory) load(k string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.items[k]
	if !ok {
		return nil, false
	}
	if !e.expires.IsZero() && m.now().After(e.expires) {
		delete(m.items, k)
		return nil, false
	}
	return e.data, true
}

func (m *Memory) store(k string, b []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := memEntry{data: b}
	if m.TTL > 0 {
		e.expires = m.now().Add(m.TTL)
	}
	m.items[k] = e
}

// Redis stores sessions as JSON strings with the session TTL so any API replica can serve them.
type Redis struct {
	rdb *redis.Client
	TTL time.Duration
}

func NewRedis(rdb *redis.Client, ttl time.Duration) *Redis {
	return &Redis{rdb: rdb, TTL: ttl}
}

func (r *Redis) Get(ctx context.Context, id string) (*Session, error) {
	b, err := r.rdb.Get(ctx, sessionKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var s Session
	if err := json.Unmarshal(b, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *Redis) Put(ctx context.Context, s *Session) error {
	b, err := json.Marshal(s)
	if err != nil {
		return err
	}
	return r.rdb.Set(ctx, sessionKey(s.ID), b, r.TTL).Err()
}

func (r *Redis) PutSnapshot(ctx context.Context, id string, snap Snapshot) error {
	b, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	return r.rdb.Set(ctx, snapshotKey(id), b, r.TTL).Err()
}

func (r *Redis) GetSnapshot(ctx context.Context, id string) (Snapshot, error) {
	var snap Snapshot
	b, err := r.rdb.Get(ctx, snapshotKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return snap, ErrNoSnapshot
	}
	if err != nil {
		return snap, err
	}
	err = json.Unmarshal(b, &snap)
	return snap, err
}

func sessionKey(id string) string  { return "session:" + id }
func snapshotKey(id string) string { return "session:" + id + ":snapshot" }
