package lists

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mixproxy/proxyadmin/internal/logging"
	"github.com/mixproxy/proxyadmin/internal/proxyconfig"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisStore keeps list state in Redis, one database per list kind, using the
// key layout the proxy runtime reads:
//
//	<scope>         "1" or "0", list enabled for scope
//	[<scope>]<ip>   JSON Reason, expires with the entry's TTL
//	global:<ip>     JSON Reason, global blacklist (blacklist DB only)
type RedisStore struct {
	whitelist *redis.Client
	blacklist *redis.Client
	timeout   time.Duration
}

// NewRedisStore creates a store over one client per list kind.
func NewRedisStore(whitelist, blacklist *redis.Client) *RedisStore {
	return &RedisStore{
		whitelist: whitelist,
		blacklist: blacklist,
		timeout:   2 * time.Second,
	}
}

// Ping checks both databases.
func (s *RedisStore) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := s.whitelist.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("whitelist db: %w", err)
	}
	if err := s.blacklist.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("blacklist db: %w", err)
	}
	return nil
}

// Close closes both clients.
func (s *RedisStore) Close() error {
	return errors.Join(s.whitelist.Close(), s.blacklist.Close())
}

func (s *RedisStore) client(kind proxyconfig.ListKind) (*redis.Client, error) {
	if err := checkKind(kind); err != nil {
		return nil, err
	}
	if kind == proxyconfig.Whitelist {
		return s.whitelist, nil
	}
	return s.blacklist, nil
}

func (s *RedisStore) SetListEnabled(ctx context.Context, kind proxyconfig.ListKind, scope string, enabled bool) error {
	c, err := s.client(kind)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := c.Set(ctx, scope, enabled, 0).Err(); err != nil {
		return fmt.Errorf("set %s flag for %q: %w", kind, scope, err)
	}
	return nil
}

func (s *RedisStore) ListEnabled(ctx context.Context, kind proxyconfig.ListKind, scope string) (bool, error) {
	c, err := s.client(kind)
	if err != nil {
		return false, err
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	enabled, err := c.Get(ctx, scope).Bool()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get %s flag for %q: %w", kind, scope, err)
	}
	return enabled, nil
}

func (s *RedisStore) EnabledScopes(ctx context.Context, kind proxyconfig.ListKind) ([]string, error) {
	c, err := s.client(kind)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	keys, err := scanKeys(ctx, c, "*")
	if err != nil {
		return nil, fmt.Errorf("scan %s scopes: %w", kind, err)
	}
	scopes := []string{}
	for _, key := range keys {
		if strings.HasPrefix(key, "[") || strings.HasPrefix(key, globalPrefix) {
			continue
		}
		enabled, err := c.Get(ctx, key).Bool()
		if err != nil {
			if !errors.Is(err, redis.Nil) {
				logging.Warn("skipping unreadable list flag", zap.String("kind", kind.String()), zap.String("key", key), zap.Error(err))
			}
			continue
		}
		if enabled {
			scopes = append(scopes, key)
		}
	}
	return scopes, nil
}

func (s *RedisStore) AddIP(ctx context.Context, kind proxyconfig.ListKind, scope, ip string, reason Reason, ttl time.Duration) error {
	c, err := s.client(kind)
	if err != nil {
		return err
	}
	return s.setReason(ctx, c, ipKey(scope, ip), reason, ttl)
}

func (s *RedisStore) RemoveIP(ctx context.Context, kind proxyconfig.ListKind, scope, ip string) error {
	c, err := s.client(kind)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := c.Del(ctx, ipKey(scope, ip)).Err(); err != nil {
		return fmt.Errorf("remove %s entry %s: %w", kind, ip, err)
	}
	return nil
}

func (s *RedisStore) IPs(ctx context.Context, kind proxyconfig.ListKind, scope string) (map[string]Reason, error) {
	c, err := s.client(kind)
	if err != nil {
		return nil, err
	}
	return s.reasons(ctx, c, escapeGlob("["+scope+"]")+"*", "["+scope+"]")
}

func (s *RedisStore) RenameScope(ctx context.Context, kind proxyconfig.ListKind, scope, newScope string) error {
	if scope == newScope {
		return nil
	}
	c, err := s.client(kind)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	prefix := "[" + scope + "]"
	keys, err := scanKeys(ctx, c, escapeGlob(prefix)+"*")
	if err != nil {
		return fmt.Errorf("scan %s entries for %q: %w", kind, scope, err)
	}
	moved := 0
	for _, key := range keys {
		ip := strings.TrimPrefix(key, prefix)
		if err := c.Rename(ctx, key, ipKey(newScope, ip)).Err(); err != nil {
			// The entry expired between scan and rename.
			if isNoSuchKey(err) {
				continue
			}
			return fmt.Errorf("rename %s entry %s: %w", kind, key, err)
		}
		moved++
	}
	if err := c.Rename(ctx, scope, newScope).Err(); err != nil && !isNoSuchKey(err) {
		return fmt.Errorf("rename %s flag %q: %w", kind, scope, err)
	}

	logging.Info("list scope renamed",
		zap.String("kind", kind.String()),
		zap.String("from", scope),
		zap.String("to", newScope),
		zap.Int("entries", moved),
	)
	return nil
}

func (s *RedisStore) ClearScope(ctx context.Context, kind proxyconfig.ListKind, scope string) error {
	c, err := s.client(kind)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	keys, err := scanKeys(ctx, c, escapeGlob("["+scope+"]")+"*")
	if err != nil {
		return fmt.Errorf("scan %s entries for %q: %w", kind, scope, err)
	}
	if len(keys) > 0 {
		if err := c.Del(ctx, keys...).Err(); err != nil {
			return fmt.Errorf("clear %s entries for %q: %w", kind, scope, err)
		}
	}
	if err := c.Set(ctx, scope, false, 0).Err(); err != nil {
		return fmt.Errorf("set %s flag for %q: %w", kind, scope, err)
	}
	return nil
}

func (s *RedisStore) AddGlobalIP(ctx context.Context, ip string, reason Reason, ttl time.Duration) error {
	return s.setReason(ctx, s.blacklist, globalPrefix+ip, reason, ttl)
}

func (s *RedisStore) RemoveGlobalIP(ctx context.Context, ip string) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := s.blacklist.Del(ctx, globalPrefix+ip).Err(); err != nil {
		return fmt.Errorf("remove global blacklist entry %s: %w", ip, err)
	}
	return nil
}

func (s *RedisStore) GlobalIPs(ctx context.Context) (map[string]Reason, error) {
	return s.reasons(ctx, s.blacklist, globalPrefix+"*", globalPrefix)
}

func (s *RedisStore) setReason(ctx context.Context, c *redis.Client, key string, reason Reason, ttl time.Duration) error {
	data, err := json.Marshal(reason)
	if err != nil {
		return err
	}
	if ttl < 0 {
		ttl = 0
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := c.Set(ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

// reasons loads every entry matching pattern, keyed by the remainder after
// prefix. Entries that expire or fail to decode mid-scan are skipped.
func (s *RedisStore) reasons(ctx context.Context, c *redis.Client, pattern, prefix string) (map[string]Reason, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	keys, err := scanKeys(ctx, c, pattern)
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", pattern, err)
	}
	result := make(map[string]Reason, len(keys))
	if len(keys) == 0 {
		return result, nil
	}

	values, err := c.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", pattern, err)
	}
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		var reason Reason
		if err := json.Unmarshal([]byte(raw), &reason); err != nil {
			logging.Warn("skipping undecodable list entry", zap.String("key", keys[i]), zap.Error(err))
			continue
		}
		result[strings.TrimPrefix(keys[i], prefix)] = reason
	}
	return result, nil
}

func scanKeys(ctx context.Context, c *redis.Client, pattern string) ([]string, error) {
	var keys []string
	var cursor uint64
	for {
		batch, next, err := c.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return nil, err
		}
		keys = append(keys, batch...)
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return keys, nil
}

var globEscaper = strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`)

func escapeGlob(s string) string {
	return globEscaper.Replace(s)
}

func isNoSuchKey(err error) bool {
	return err != nil && strings.Contains(err.Error(), "no such key")
}
