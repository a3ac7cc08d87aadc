// Package clienttest provides an in-memory client.Store for tests. It
// honors the same contract as the Redis adapter, including TTL expiry
// driven by an adjustable clock.
package clienttest

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"sync"
	"time"

	"license-service/internal/client"
)

type entry struct {
	value    string
	expireAt time.Time // zero means no expiry
}

// Store is a map-backed client.Store. The zero value is not usable; call
// New.
type Store struct {
	mu      sync.Mutex
	data    map[string]entry
	subs    map[string][]func(channel, payload string)
	clock   time.Time
	FailAll bool // when set, every call returns an error
}

var _ client.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		data:  make(map[string]entry),
		subs:  make(map[string][]func(channel, payload string)),
		clock: time.Now(),
	}
}

// Advance moves the fake clock forward, expiring keys as it goes.
func (s *Store) Advance(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clock = s.clock.Add(d)
}

// Now returns the fake clock, for aligning other injected clocks.
func (s *Store) Now() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clock
}

func (s *Store) live(key string) (entry, bool) {
	e, ok := s.data[key]
	if !ok {
		return entry{}, false
	}
	if !e.expireAt.IsZero() && !e.expireAt.After(s.clock) {
		delete(s.data, key)
		return entry{}, false
	}
	return e, true
}

func (s *Store) fail() error {
	if s.FailAll {
		return fmt.Errorf("store unavailable")
	}
	return nil
}

func (s *Store) Get(ctx context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail(); err != nil {
		return "", err
	}
	e, ok := s.live(key)
	if !ok {
		return "", fmt.Errorf("%w: %s", client.ErrKeyNotFound, key)
	}
	return e.value, nil
}

func (s *Store) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail(); err != nil {
		return err
	}

	var str string
	switch v := value.(type) {
	case string:
		str = v
	case []byte:
		str = string(v)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return err
		}
		str = string(b)
	}

	e := entry{value: str}
	if ttl > 0 {
		e.expireAt = s.clock.Add(ttl)
	}
	s.data[key] = e
	return nil
}

func (s *Store) Del(ctx context.Context, keys ...string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail(); err != nil {
		return 0, err
	}
	var removed int64
	for _, key := range keys {
		if _, ok := s.live(key); ok {
			delete(s.data, key)
			removed++
		}
	}
	return removed, nil
}

func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail(); err != nil {
		return false, err
	}
	_, ok := s.live(key)
	return ok, nil
}

func (s *Store) TTL(ctx context.Context, key string) (time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail(); err != nil {
		return 0, err
	}
	e, ok := s.live(key)
	if !ok {
		return 0, fmt.Errorf("%w: %s", client.ErrKeyNotFound, key)
	}
	if e.expireAt.IsZero() {
		return -1, nil
	}
	return e.expireAt.Sub(s.clock), nil
}

func (s *Store) Expire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail(); err != nil {
		return false, err
	}
	e, ok := s.live(key)
	if !ok {
		return false, nil
	}
	e.expireAt = s.clock.Add(ttl)
	s.data[key] = e
	return true, nil
}

func (s *Store) IncrWithTTL(ctx context.Context, key string, amount int64, ttl time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail(); err != nil {
		return 0, err
	}

	var current int64
	e, ok := s.live(key)
	if ok {
		fmt.Sscanf(e.value, "%d", &current)
	}
	current += amount

	next := entry{value: fmt.Sprintf("%d", current), expireAt: e.expireAt}
	if !ok && ttl > 0 {
		next.expireAt = s.clock.Add(ttl)
	}
	s.data[key] = next
	return current, nil
}

func (s *Store) ScanAll(ctx context.Context, pattern string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail(); err != nil {
		return nil, err
	}
	var keys []string
	for key := range s.data {
		if _, ok := s.live(key); !ok {
			continue
		}
		if matched, _ := path.Match(pattern, key); matched {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

func (s *Store) Publish(ctx context.Context, channel string, payload string) error {
	s.mu.Lock()
	handlers := append([]func(channel, payload string){}, s.subs[channel]...)
	err := s.fail()
	s.mu.Unlock()
	if err != nil {
		return err
	}
	for _, h := range handlers {
		h(channel, payload)
	}
	return nil
}

func (s *Store) Subscribe(ctx context.Context, channel string, handler func(channel, payload string)) error {
	s.mu.Lock()
	s.subs[channel] = append(s.subs[channel], handler)
	s.mu.Unlock()
	<-ctx.Done()
	return ctx.Err()
}
