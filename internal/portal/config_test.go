package portal

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// envMap はテスト用の環境変数ルックアップ。
func envMap(m map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := m[key]
		return v, ok
	}
}

// TestLoadConfig は設定の読み込み順序を検証する。
func TestLoadConfig(t *testing.T) {
	t.Parallel()

	t.Run("署名鍵以外は既定値になること", func(t *testing.T) {
		t.Parallel()

		cfg, err := loadConfig("", envMap(map[string]string{"JWT_SECRET": "s3cret"}))
		if err != nil {
			t.Fatalf("loadConfig()でエラーが発生: %v", err)
		}
		want := DefaultConfig()
		want.JWTSecret = "s3cret"
		if cfg != want {
			t.Errorf("loadConfig() = %+v, want %+v", cfg, want)
		}
	})

	t.Run("署名鍵が未設定ならエラーになること", func(t *testing.T) {
		t.Parallel()

		if _, err := loadConfig("", envMap(nil)); err == nil {
			t.Error("署名鍵なしでエラーが返らなかった")
		}
	})

	t.Run("開発モードでは開発用の署名鍵が使われること", func(t *testing.T) {
		t.Parallel()

		cfg, err := loadConfig("", envMap(map[string]string{"PORTAL_DEV_MODE": "true"}))
		if err != nil {
			t.Fatalf("loadConfig()でエラーが発生: %v", err)
		}
		if !cfg.DevMode {
			t.Error("DevModeがtrueになっていない")
		}
		if cfg.JWTSecret != devJWTSecret {
			t.Errorf("JWTSecret = %q, want %q", cfg.JWTSecret, devJWTSecret)
		}
	})

	t.Run("開発モード以外で開発用の署名鍵は拒否されること", func(t *testing.T) {
		t.Parallel()

		if _, err := loadConfig("", envMap(map[string]string{"JWT_SECRET": devJWTSecret})); err == nil {
			t.Error("開発用の署名鍵でエラーが返らなかった")
		}
	})

	t.Run("PUBLIC_URLで公開オリジンを上書きできること", func(t *testing.T) {
		t.Parallel()

		cfg, err := loadConfig("", envMap(map[string]string{
			"JWT_SECRET": "s3cret",
			"PUBLIC_URL": "https://portal.example.com",
		}))
		if err != nil {
			t.Fatalf("loadConfig()でエラーが発生: %v", err)
		}
		if cfg.PublicURL != "https://portal.example.com" {
			t.Errorf("PublicURL = %q", cfg.PublicURL)
		}
	})

	t.Run("YAMLファイルの値を環境変数が上書きすること", func(t *testing.T) {
		t.Parallel()

		path := filepath.Join(t.TempDir(), "portal.yaml")
		content := "port: \"9090\"\njwt_secret: from-file\notp_ttl: 2m\nsecure_cookies: true\nbackend_url: http://billing:8000\n"
		if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
			t.Fatalf("設定ファイルの書き込みに失敗: %v", err)
		}

		cfg, err := loadConfig(path, envMap(map[string]string{
			"JWT_SECRET": "from-env",
			"TOKEN_TTL":  "1h",
		}))
		if err != nil {
			t.Fatalf("loadConfig()でエラーが発生: %v", err)
		}
		if cfg.Port != "9090" {
			t.Errorf("Port = %q, want %q", cfg.Port, "9090")
		}
		if cfg.JWTSecret != "from-env" {
			t.Errorf("JWTSecret = %q, want %q", cfg.JWTSecret, "from-env")
		}
		if cfg.OTPTTL != 2*time.Minute {
			t.Errorf("OTPTTL = %v, want 2m", cfg.OTPTTL)
		}
		if cfg.TokenTTL != time.Hour {
			t.Errorf("TokenTTL = %v, want 1h", cfg.TokenTTL)
		}
		if !cfg.SecureCookies {
			t.Error("SecureCookiesがtrueになっていない")
		}
		if cfg.BackendURL != "http://billing:8000" {
			t.Errorf("BackendURL = %q", cfg.BackendURL)
		}
	})

	t.Run("不正な期間はエラーになること", func(t *testing.T) {
		t.Parallel()

		if _, err := loadConfig("", envMap(map[string]string{"OTP_TTL": "five"})); err == nil {
			t.Error("不正なOTP_TTLでエラーが返らなかった")
		}
	})

	t.Run("不正な真偽値はエラーになること", func(t *testing.T) {
		t.Parallel()

		if _, err := loadConfig("", envMap(map[string]string{"SECURE_COOKIES": "maybe"})); err == nil {
			t.Error("不正なSECURE_COOKIESでエラーが返らなかった")
		}
	})

	t.Run("存在しない設定ファイルはエラーになること", func(t *testing.T) {
		t.Parallel()

		if _, err := loadConfig(filepath.Join(t.TempDir(), "missing.yaml"), envMap(nil)); err == nil {
			t.Error("存在しないファイルでエラーが返らなかった")
		}
	})
}

// TestConfigValidate は設定の検証を検証する。
func TestConfigValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{name: "JWTシークレットが空", modify: func(c *Config) { c.JWTSecret = "" }},
		{name: "開発モード以外で開発用シークレット", modify: func(c *Config) { c.JWTSecret = devJWTSecret }},
		{name: "公開URLが相対", modify: func(c *Config) { c.PublicURL = "portal.example.com" }},
		{name: "ポートが空", modify: func(c *Config) { c.Port = "" }},
		{name: "フロントエンドURLが相対", modify: func(c *Config) { c.FrontendURL = "/frontend" }},
		{name: "バックエンドURLが空", modify: func(c *Config) { c.BackendURL = "" }},
		{name: "OTP有効期間が0", modify: func(c *Config) { c.OTPTTL = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := validConfig()
			tt.modify(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Validate()がエラーを返さなかった")
			}
		})
	}

	if err := validConfig().Validate(); err != nil {
		t.Errorf("有効な設定の検証に失敗: %v", err)
	}
	if err := DefaultConfig().Validate(); err == nil {
		t.Error("署名鍵のない既定値が検証を通過した")
	}
	dev := DefaultConfig()
	dev.DevMode = true
	dev.JWTSecret = devJWTSecret
	if err := dev.Validate(); err != nil {
		t.Errorf("開発モードの検証に失敗: %v", err)
	}
}

// validConfig は検証を通過する設定を返す。
func validConfig() Config {
	cfg := DefaultConfig()
	cfg.JWTSecret = "s3cret"
	return cfg
}
