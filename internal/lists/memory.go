package lists

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/mixproxy/proxyadmin/internal/proxyconfig"
)

type memEntry struct {
	reason  Reason
	expires time.Time // zero means no expiry
}

type memList struct {
	enabled map[string]bool
	entries map[string]memEntry // keyed like Redis: [scope]ip or global:ip
}

// MemoryStore is an in-process Store with the same semantics as RedisStore,
// TTLs included. It backs developer mode and tests.
type MemoryStore struct {
	mu    sync.Mutex
	lists [2]memList
	now   func() time.Time
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{now: time.Now}
	for i := range s.lists {
		s.lists[i] = memList{enabled: map[string]bool{}, entries: map[string]memEntry{}}
	}
	return s
}

func (s *MemoryStore) list(kind proxyconfig.ListKind) (*memList, error) {
	if err := checkKind(kind); err != nil {
		return nil, err
	}
	return &s.lists[kind], nil
}

func (s *MemoryStore) SetListEnabled(_ context.Context, kind proxyconfig.ListKind, scope string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, err := s.list(kind)
	if err != nil {
		return err
	}
	l.enabled[scope] = enabled
	return nil
}

func (s *MemoryStore) ListEnabled(_ context.Context, kind proxyconfig.ListKind, scope string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, err := s.list(kind)
	if err != nil {
		return false, err
	}
	return l.enabled[scope], nil
}

func (s *MemoryStore) EnabledScopes(_ context.Context, kind proxyconfig.ListKind) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, err := s.list(kind)
	if err != nil {
		return nil, err
	}
	scopes := []string{}
	for scope, on := range l.enabled {
		if on {
			scopes = append(scopes, scope)
		}
	}
	return scopes, nil
}

func (s *MemoryStore) AddIP(_ context.Context, kind proxyconfig.ListKind, scope, ip string, reason Reason, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, err := s.list(kind)
	if err != nil {
		return err
	}
	s.put(l, ipKey(scope, ip), reason, ttl)
	return nil
}

func (s *MemoryStore) RemoveIP(_ context.Context, kind proxyconfig.ListKind, scope, ip string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, err := s.list(kind)
	if err != nil {
		return err
	}
	delete(l.entries, ipKey(scope, ip))
	return nil
}

func (s *MemoryStore) IPs(_ context.Context, kind proxyconfig.ListKind, scope string) (map[string]Reason, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, err := s.list(kind)
	if err != nil {
		return nil, err
	}
	return s.collect(l, "["+scope+"]"), nil
}

func (s *MemoryStore) RenameScope(_ context.Context, kind proxyconfig.ListKind, scope, newScope string) error {
	if scope == newScope {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	l, err := s.list(kind)
	if err != nil {
		return err
	}
	prefix := "[" + scope + "]"
	for key, e := range l.entries {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		delete(l.entries, key)
		if s.live(e) {
			l.entries[ipKey(newScope, strings.TrimPrefix(key, prefix))] = e
		}
	}
	if on, ok := l.enabled[scope]; ok {
		delete(l.enabled, scope)
		l.enabled[newScope] = on
	}
	return nil
}

func (s *MemoryStore) ClearScope(_ context.Context, kind proxyconfig.ListKind, scope string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, err := s.list(kind)
	if err != nil {
		return err
	}
	prefix := "[" + scope + "]"
	for key := range l.entries {
		if strings.HasPrefix(key, prefix) {
			delete(l.entries, key)
		}
	}
	l.enabled[scope] = false
	return nil
}

func (s *MemoryStore) AddGlobalIP(_ context.Context, ip string, reason Reason, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.put(&s.lists[proxyconfig.Blacklist], globalPrefix+ip, reason, ttl)
	return nil
}

func (s *MemoryStore) RemoveGlobalIP(_ context.Context, ip string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.lists[proxyconfig.Blacklist].entries, globalPrefix+ip)
	return nil
}

func (s *MemoryStore) GlobalIPs(_ context.Context) (map[string]Reason, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.collect(&s.lists[proxyconfig.Blacklist], globalPrefix), nil
}

func (s *MemoryStore) put(l *memList, key string, reason Reason, ttl time.Duration) {
	e := memEntry{reason: reason}
	if ttl > 0 {
		e.expires = s.now().Add(ttl)
	}
	l.entries[key] = e
}

func (s *MemoryStore) live(e memEntry) bool {
	return e.expires.IsZero() || s.now().Before(e.expires)
}

// collect returns live entries under prefix and drops expired ones.
func (s *MemoryStore) collect(l *memList, prefix string) map[string]Reason {
	result := map[string]Reason{}
	for key, e := range l.entries {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		if !s.live(e) {
			delete(l.entries, key)
			continue
		}
		result[strings.TrimPrefix(key, prefix)] = e.reason
	}
	return result
}
