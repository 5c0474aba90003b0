package config

import (
	"os"
	"testing"

	"github.com/rs/zerolog"
)

func TestLoad_Defaults(t *testing.T) {
	// Clear relevant env vars to test defaults
	envVars := []string{
		"ENV", "QTEST_LOG_LEVEL", "QTEST_OUTPUT_DIR", "QTEST_NATS_URL", "QTEST_STATUS_ADDR",
		"GITHUB_TOKEN", "QTEST_TIMEOUT_MS", "QTEST_CHROME_PATH", "QTEST_ENVIRONMENT_URL",
		"QTEST_ENVIRONMENT_ID", "QTEST_TENANT_ID", "QTEST_DOMAIN", "QTEST_QUERY_PARAMS",
	}
	for _, v := range envVars {
		t.Setenv(v, "")
		os.Unsetenv(v)
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Env != "development" {
		t.Errorf("Env = %s, want development", cfg.Env)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %s, want info", cfg.LogLevel)
	}
	if cfg.OutputDir != "./TestOutput" {
		t.Errorf("OutputDir = %s, want ./TestOutput", cfg.OutputDir)
	}
	if cfg.NATSURL != "" {
		t.Errorf("NATSURL = %s, want empty", cfg.NATSURL)
	}
	if cfg.TimeoutMs != 0 {
		t.Errorf("TimeoutMs = %d, want 0", cfg.TimeoutMs)
	}
	if cfg.Environment.URL != "https://apps.powerapps.com" {
		t.Errorf("Environment.URL = %s, want default", cfg.Environment.URL)
	}
}

func TestLoad_FromEnv(t *testing.T) {
	t.Setenv("ENV", "production")
	t.Setenv("QTEST_LOG_LEVEL", "debug")
	t.Setenv("QTEST_OUTPUT_DIR", "/tmp/results")
	t.Setenv("QTEST_NATS_URL", "nats://nats:4222")
	t.Setenv("QTEST_STATUS_ADDR", ":8088")
	t.Setenv("GITHUB_TOKEN", "ghp_test_token")
	t.Setenv("QTEST_TIMEOUT_MS", "45000")
	t.Setenv("QTEST_CHROME_PATH", "/usr/bin/chromium")
	t.Setenv("QTEST_ENVIRONMENT_URL", "https://apps.contoso.com")
	t.Setenv("QTEST_ENVIRONMENT_ID", "env-1")
	t.Setenv("QTEST_TENANT_ID", "tenant-1")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Env != "production" {
		t.Errorf("Env = %s, want production", cfg.Env)
	}
	if cfg.Level() != zerolog.DebugLevel {
		t.Errorf("Level() = %v, want debug", cfg.Level())
	}
	if cfg.OutputDir != "/tmp/results" {
		t.Errorf("OutputDir mismatch")
	}
	if cfg.NATSURL != "nats://nats:4222" {
		t.Errorf("NATSURL mismatch")
	}
	if cfg.StatusAddr != ":8088" {
		t.Errorf("StatusAddr mismatch")
	}
	if cfg.GitHubToken != "ghp_test_token" {
		t.Errorf("GitHubToken mismatch")
	}
	if cfg.TimeoutMs != 45000 {
		t.Errorf("TimeoutMs = %d, want 45000", cfg.TimeoutMs)
	}
	if cfg.Browser.ExecPath != "/usr/bin/chromium" {
		t.Errorf("Browser.ExecPath mismatch")
	}
	if cfg.Environment.ID != "env-1" || cfg.Environment.TenantID != "tenant-1" {
		t.Errorf("Environment = %+v", cfg.Environment)
	}
}

func TestLoad_InvalidIntFallsBack(t *testing.T) {
	t.Setenv("QTEST_TIMEOUT_MS", "soon")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.TimeoutMs != 0 {
		t.Errorf("TimeoutMs = %d, want 0", cfg.TimeoutMs)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{
			name: "valid",
			cfg:  Config{LogLevel: "info", OutputDir: "out", Environment: EnvironmentConfig{URL: "https://x"}},
		},
		{
			name:    "bad log level",
			cfg:     Config{LogLevel: "loud", OutputDir: "out", Environment: EnvironmentConfig{URL: "https://x"}},
			wantErr: true,
		},
		{
			name:    "empty output dir",
			cfg:     Config{LogLevel: "info", Environment: EnvironmentConfig{URL: "https://x"}},
			wantErr: true,
		},
		{
			name:    "negative timeout",
			cfg:     Config{LogLevel: "info", OutputDir: "out", TimeoutMs: -1, Environment: EnvironmentConfig{URL: "https://x"}},
			wantErr: true,
		},
		{
			name:    "missing environment url",
			cfg:     Config{LogLevel: "info", OutputDir: "out"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLevel_Default(t *testing.T) {
	cfg := &Config{LogLevel: "nonsense"}
	if cfg.Level() != zerolog.InfoLevel {
		t.Errorf("Level() = %v, want info", cfg.Level())
	}
}
