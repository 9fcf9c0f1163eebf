package portal

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// devJWTSecret は開発モードでのみ使えるJWT署名鍵。
const devJWTSecret = "dev-secret-key"

// Config はポータルサーバーの設定。
// 既定値、YAMLファイル、環境変数の順に上書きされる。
type Config struct {
	// Port はサーバーのリッスンポート。
	Port string `yaml:"port"`
	// DatabasePath はSQLiteデータベースファイルのパス。
	DatabasePath string `yaml:"database_path"`
	// JWTSecret は認証トークンの署名鍵。DevModeでなければ必須。
	JWTSecret string `yaml:"jwt_secret"`
	// DevMode は開発用の署名鍵を許可する。本番では無効にすること。
	DevMode bool `yaml:"dev_mode"`
	// PublicURL は利用者がアクセスするポータルのオリジン。
	// リダイレクト先とパスワード再設定リンクの基準になる。
	PublicURL string `yaml:"public_url"`
	// FrontendURL はページを配信するフロントエンドサーバーのURL。
	FrontendURL string `yaml:"frontend_url"`
	// BackendURL は課金・SMSプラットフォームAPIのURL。
	BackendURL string `yaml:"backend_url"`
	// SMSGatewayURL はOTP等を送信するSMSゲートウェイのURL。空ならログ出力のみ。
	SMSGatewayURL string `yaml:"sms_gateway_url"`
	// SMSGatewayAPIKey はSMSゲートウェイのAPIキー。
	SMSGatewayAPIKey string `yaml:"sms_gateway_api_key"`
	// SecureCookies はCookieにSecure属性を付けるかどうか。
	SecureCookies bool `yaml:"secure_cookies"`
	// LogLevel はログレベル。
	LogLevel string `yaml:"log_level"`
	// OTPTTL はワンタイムパスワードの有効期間。
	OTPTTL time.Duration `yaml:"otp_ttl"`
	// TokenTTL は認証トークンの有効期間。
	TokenTTL time.Duration `yaml:"token_ttl"`
	// ResetTokenTTL はパスワード再設定トークンの有効期間。
	ResetTokenTTL time.Duration `yaml:"reset_token_ttl"`
}

// DefaultConfig は既定値を返す。JWTSecretは含まない。
func DefaultConfig() Config {
	return Config{
		Port:          "8080",
		DatabasePath:  "/data/portal.db",
		PublicURL:     "http://localhost:8080",
		FrontendURL:   "http://localhost:3000",
		BackendURL:    "http://localhost:8081",
		LogLevel:      "info",
		OTPTTL:        5 * time.Minute,
		TokenTTL:      24 * time.Hour,
		ResetTokenTTL: time.Hour,
	}
}

// LoadConfig は設定を読み込む。pathが空ならYAMLファイルは読まない。
func LoadConfig(path string) (Config, error) {
	return loadConfig(path, os.LookupEnv)
}

func loadConfig(path string, lookup func(string) (string, bool)) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("設定ファイルの読み込みに失敗: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("設定ファイルの解析に失敗: %w", err)
		}
	}

	if err := applyEnv(&cfg, lookup); err != nil {
		return Config{}, err
	}
	if cfg.DevMode && cfg.JWTSecret == "" {
		cfg.JWTSecret = devJWTSecret
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// applyEnv は環境変数で設定を上書きする。
func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	strs := map[string]*string{
		"PORT":                &cfg.Port,
		"DATABASE_PATH":       &cfg.DatabasePath,
		"JWT_SECRET":          &cfg.JWTSecret,
		"PUBLIC_URL":          &cfg.PublicURL,
		"FRONTEND_URL":        &cfg.FrontendURL,
		"BACKEND_URL":         &cfg.BackendURL,
		"SMS_GATEWAY_URL":     &cfg.SMSGatewayURL,
		"SMS_GATEWAY_API_KEY": &cfg.SMSGatewayAPIKey,
		"LOG_LEVEL":           &cfg.LogLevel,
	}
	for key, dst := range strs {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}

	durations := map[string]*time.Duration{
		"OTP_TTL":         &cfg.OTPTTL,
		"TOKEN_TTL":       &cfg.TokenTTL,
		"RESET_TOKEN_TTL": &cfg.ResetTokenTTL,
	}
	for key, dst := range durations {
		v, ok := lookup(key)
		if !ok || v == "" {
			continue
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%sの解析に失敗: %w", key, err)
		}
		*dst = d
	}

	bools := map[string]*bool{
		"SECURE_COOKIES":  &cfg.SecureCookies,
		"PORTAL_DEV_MODE": &cfg.DevMode,
	}
	for key, dst := range bools {
		v, ok := lookup(key)
		if !ok || v == "" {
			continue
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%sの解析に失敗: %w", key, err)
		}
		*dst = b
	}
	return nil
}

// Validate は設定値を検証する。
func (c Config) Validate() error {
	var errs []error
	if c.Port == "" {
		errs = append(errs, errors.New("portが空です"))
	}
	switch {
	case c.JWTSecret == "":
		errs = append(errs, errors.New("jwt_secretが空です"))
	case c.JWTSecret == devJWTSecret && !c.DevMode:
		errs = append(errs, errors.New("開発用のjwt_secretはdev_modeでのみ使用できます"))
	}
	for name, raw := range map[string]string{
		"public_url":   c.PublicURL,
		"frontend_url": c.FrontendURL,
		"backend_url":  c.BackendURL,
	} {
		u, err := url.Parse(raw)
		if err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("%sが絶対URLではありません: %q", name, raw))
		}
	}
	if c.OTPTTL <= 0 || c.TokenTTL <= 0 || c.ResetTokenTTL <= 0 {
		errs = append(errs, errors.New("有効期間は正の値である必要があります"))
	}
	return errors.Join(errs...)
}
