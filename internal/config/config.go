// Package config は環境変数からアプリケーション設定を読み込む。
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// MinSessionSecretBytes はCSRFトークンのHMAC鍵として要求するSESSION_SECRETの最小バイト数。
const MinSessionSecretBytes = 32

// MaxItemsPageSize はITEMS_PAGE_SIZEとリクエストのpage_sizeの上限。
const MaxItemsPageSize = 100

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	DatabaseURL string

	SessionSecret        string
	SessionMaxAge        int // 秒
	SessionRetentionDays int // 期限切れセッションを保持する日数
	CleanupInterval      time.Duration

	RedisURL string // 空の場合はプロセス内ブローカーを使う

	ItemsPageSize     int
	RemoteCallTimeout time.Duration

	ImportTimeout  time.Duration
	ImportMaxSize  int64
	ImportMaxItems int

	RateLimitGeneral int // 1分あたり
	RateLimitAuth    int // 1分あたり

	ServerPort string
	BaseURL    string

	CookieSecure bool // BASE_URLがhttpsの場合にtrue
	CookieDomain string

	CORSAllowedOrigin string // カンマ区切り
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数の未設定、解析できない値、範囲外の値はまとめて1つのエラーとして返す。
func Load() (*Config, error) {
	var missing []string
	required := func(key string) string {
		v := os.Getenv(key)
		if v == "" {
			missing = append(missing, key)
		}
		return v
	}

	cfg := &Config{
		DatabaseURL:   required("DATABASE_URL"),
		SessionSecret: required("SESSION_SECRET"),
		BaseURL:       required("BASE_URL"),
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	env := &envReader{}
	cfg.SessionMaxAge = env.Int("SESSION_MAX_AGE", 86400)
	cfg.SessionRetentionDays = env.Int("SESSION_RETENTION_DAYS", 7)
	cfg.CleanupInterval = env.Duration("CLEANUP_INTERVAL", 24*time.Hour)
	cfg.RedisURL = env.String("REDIS_URL", "")
	cfg.ItemsPageSize = env.Int("ITEMS_PAGE_SIZE", 16)
	cfg.RemoteCallTimeout = env.Duration("REMOTE_CALL_TIMEOUT", 10*time.Second)
	cfg.ImportTimeout = env.Duration("IMPORT_TIMEOUT", 10*time.Second)
	cfg.ImportMaxSize = env.Int64("IMPORT_MAX_SIZE", 5*1024*1024)
	cfg.ImportMaxItems = env.Int("IMPORT_MAX_ITEMS", 50)
	cfg.RateLimitGeneral = env.Int("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitAuth = env.Int("RATE_LIMIT_AUTH", 10)
	cfg.ServerPort = env.String("SERVER_PORT", "8080")
	cfg.CookieDomain = env.String("COOKIE_DOMAIN", "")
	cfg.CORSAllowedOrigin = env.String("CORS_ALLOWED_ORIGIN", "http://localhost:3000")
	cfg.CookieSecure = strings.HasPrefix(cfg.BaseURL, "https://")

	if err := errors.Join(append(env.errs, cfg.validate()...)...); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (c *Config) validate() []error {
	var errs []error
	if len(c.SessionSecret) < MinSessionSecretBytes {
		errs = append(errs, fmt.Errorf("SESSION_SECRET must be at least %d bytes", MinSessionSecretBytes))
	}
	if u, err := url.Parse(c.BaseURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, fmt.Errorf("BASE_URL must be an absolute http(s) URL: %q", c.BaseURL))
	}
	if c.RedisURL != "" && !strings.HasPrefix(c.RedisURL, "redis://") && !strings.HasPrefix(c.RedisURL, "rediss://") {
		errs = append(errs, fmt.Errorf("REDIS_URL must use redis:// or rediss://"))
	}
	if c.ItemsPageSize < 1 || c.ItemsPageSize > MaxItemsPageSize {
		errs = append(errs, fmt.Errorf("ITEMS_PAGE_SIZE must be between 1 and %d, got %d", MaxItemsPageSize, c.ItemsPageSize))
	}
	for key, v := range map[string]int{
		"SESSION_MAX_AGE":    c.SessionMaxAge,
		"IMPORT_MAX_ITEMS":   c.ImportMaxItems,
		"RATE_LIMIT_GENERAL": c.RateLimitGeneral,
		"RATE_LIMIT_AUTH":    c.RateLimitAuth,
	} {
		if v <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %d", key, v))
		}
	}
	if c.SessionRetentionDays < 0 {
		errs = append(errs, fmt.Errorf("SESSION_RETENTION_DAYS must not be negative, got %d", c.SessionRetentionDays))
	}
	return errs
}

// envReader は任意の環境変数を型付きで読み込み、解析エラーを蓄積する。
type envReader struct {
	errs []error
}

func (e *envReader) String(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func (e *envReader) Int(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: %q is not an integer", key, v))
		return defaultVal
	}
	return i
}

func (e *envReader) Int64(key string, defaultVal int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: %q is not an integer", key, v))
		return defaultVal
	}
	return i
}

func (e *envReader) Duration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: %q is not a duration (e.g. 10s, 6h)", key, v))
		return defaultVal
	}
	return d
}
