package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadEmptyPathUsesDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != DefaultPort {
		t.Fatalf("port = %s, want %s", cfg.Server.Port, DefaultPort)
	}
	if cfg.Engine.LockWait != DefaultLockWait {
		t.Fatalf("lock wait = %s, want %s", cfg.Engine.LockWait, DefaultLockWait)
	}
	if !cfg.Engine.SignupGrant.Equal(mustDecimal(DefaultSignupGrant)) {
		t.Fatalf("signup grant = %s, want %s", cfg.Engine.SignupGrant, DefaultSignupGrant)
	}
}

func TestLoadFile(t *testing.T) {
	path := writeFile(t, `
server:
  port: "9000"
  resolve_token: secret
engine:
  lock_wait: 5s
  signup_grant: "250"
drift:
  rate: "0.01"
  interval: 1m
milestones:
  - id: first-thousand
    name: First Thousand
    required_coins: "1000"
    reward_coins: "100"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != "9000" || cfg.Server.ResolveToken != "secret" {
		t.Fatalf("server = %+v", cfg.Server)
	}
	if cfg.Engine.LockWait != 5*time.Second {
		t.Fatalf("lock wait = %s, want 5s", cfg.Engine.LockWait)
	}
	if !cfg.Engine.SignupGrant.Equal(mustDecimal("250")) {
		t.Fatalf("signup grant = %s, want 250", cfg.Engine.SignupGrant)
	}
	if !cfg.Drift.Rate.Equal(mustDecimal("0.01")) || cfg.Drift.Interval != time.Minute {
		t.Fatalf("drift = %+v", cfg.Drift)
	}
	if len(cfg.Milestones) != 1 || cfg.Milestones[0].ID != "first-thousand" {
		t.Fatalf("milestones = %+v", cfg.Milestones)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("PORT", "7777")
	t.Setenv("DATABASE_URL", "postgres://env")
	t.Setenv("RESOLVE_TOKEN", "env-secret")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != "7777" {
		t.Fatalf("port = %s, want 7777", cfg.Server.Port)
	}
	if cfg.Database.URL != "postgres://env" {
		t.Fatalf("database url = %s", cfg.Database.URL)
	}
	if cfg.Server.ResolveToken != "env-secret" {
		t.Fatalf("resolve token = %s", cfg.Server.ResolveToken)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "drift rate too high",
			yaml: "drift:\n  rate: \"1.5\"\n",
			want: "drift.rate",
		},
		{
			name: "redis without database",
			yaml: "redis:\n  url: redis://localhost\n",
			want: "redis cache requires",
		},
		{
			name: "milestone without id",
			yaml: "milestones:\n  - name: Nameless\n    required_coins: \"10\"\n    reward_coins: \"1\"\n",
			want: "id is required",
		},
		{
			name: "duplicate milestone",
			yaml: "milestones:\n  - id: m1\n    required_coins: \"10\"\n    reward_coins: \"1\"\n  - id: m1\n    required_coins: \"20\"\n    reward_coins: \"2\"\n",
			want: "duplicate id",
		},
		{
			name: "non-positive reward",
			yaml: "milestones:\n  - id: m1\n    required_coins: \"10\"\n    reward_coins: \"0\"\n",
			want: "reward_coins",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeFile(t, tc.yaml))
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("Load error = %v, want mention of %q", err, tc.want)
			}
		})
	}
}
