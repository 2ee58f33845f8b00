package viewer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/renameio/v2"
	"github.com/redis/go-redis/v9"
)

// PreferenceKey is the fixed key the last-used playlist URL is stored under.
const PreferenceKey = "iptvUrl"

// Preferences persists the last-used playlist URL. A missing value reads as "".
type Preferences interface {
	LastPlaylistURL(ctx context.Context) (string, error)
	SetLastPlaylistURL(ctx context.Context, u string) error
}

// MemoryPreferences keeps the value in process memory.
type MemoryPreferences struct {
	mu    sync.RWMutex
	value string
}

// NewMemoryPreferences returns an empty in-memory store.
func NewMemoryPreferences() *MemoryPreferences {
	return &MemoryPreferences{}
}

// LastPlaylistURL implements Preferences.
func (p *MemoryPreferences) LastPlaylistURL(context.Context) (string, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.value, nil
}

// SetLastPlaylistURL implements Preferences.
func (p *MemoryPreferences) SetLastPlaylistURL(_ context.Context, u string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.value = u
	return nil
}

// FilePreferences stores a one-key JSON object on disk, replaced atomically.
type FilePreferences struct {
	path string
	mu   sync.Mutex
}

// NewFilePreferences returns a store backed by path. The file need not exist.
func NewFilePreferences(path string) *FilePreferences {
	return &FilePreferences{path: path}
}

// LastPlaylistURL implements Preferences.
func (p *FilePreferences) LastPlaylistURL(context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	b, err := os.ReadFile(p.path)
	if errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read preferences: %w", err)
	}

	var values map[string]string
	if err := json.Unmarshal(b, &values); err != nil {
		return "", fmt.Errorf("decode preferences: %w", err)
	}
	return values[PreferenceKey], nil
}

// SetLastPlaylistURL implements Preferences.
func (p *FilePreferences) SetLastPlaylistURL(_ context.Context, u string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(p.path), 0o755); err != nil {
		return fmt.Errorf("create preferences dir: %w", err)
	}

	pending, err := renameio.NewPendingFile(p.path)
	if err != nil {
		return fmt.Errorf("create pending preferences file: %w", err)
	}
	defer pending.Cleanup()

	if err := json.NewEncoder(pending).Encode(map[string]string{PreferenceKey: u}); err != nil {
		return fmt.Errorf("write preferences: %w", err)
	}
	if err := pending.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("replace preferences file: %w", err)
	}
	return nil
}

// RedisConfig holds Redis connection settings for RedisPreferences.
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string // prepended to PreferenceKey, e.g. "iptv-viewer:"
}

// RedisPreferences stores the value in Redis so several instances share it.
type RedisPreferences struct {
	client *redis.Client
	key    string
}

// NewRedisPreferences connects and pings Redis.
func NewRedisPreferences(ctx context.Context, cfg RedisConfig) (*RedisPreferences, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	return NewRedisPreferencesWithClient(client, cfg.KeyPrefix), nil
}

// NewRedisPreferencesWithClient wraps an existing client.
func NewRedisPreferencesWithClient(client *redis.Client, keyPrefix string) *RedisPreferences {
	return &RedisPreferences{client: client, key: keyPrefix + PreferenceKey}
}

// LastPlaylistURL implements Preferences.
func (p *RedisPreferences) LastPlaylistURL(ctx context.Context) (string, error) {
	v, err := p.client.Get(ctx, p.key).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("redis get %s: %w", p.key, err)
	}
	return v, nil
}

// SetLastPlaylistURL implements Preferences.
func (p *RedisPreferences) SetLastPlaylistURL(ctx context.Context, u string) error {
	if err := p.client.Set(ctx, p.key, u, 0).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", p.key, err)
	}
	return nil
}

// Close closes the Redis client.
func (p *RedisPreferences) Close() error {
	return p.client.Close()
}
