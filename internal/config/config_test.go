package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadRequiresToken(t *testing.T) {
	t.Setenv("CONFIG_PATH", filepath.Join(t.TempDir(), "missing.yaml"))
	t.Setenv("DISCORD_TOKEN", "")

	if _, err := Load(); err == nil {
		t.Fatalf("expected missing token error")
	}
}

func TestLoadAppliesYAMLThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	data := []byte(`
discord_token: from-file
database_url: file.db
security:
  raid_join_threshold: 4
nuke:
  thresholds:
    ban:
      count: 5
      window_seconds: 20
`)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("CONFIG_PATH", path)
	t.Setenv("DISCORD_TOKEN", "from-env")
	t.Setenv("SPAM_WINDOW_SECONDS", "9")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.DiscordToken != "from-env" {
		t.Fatalf("expected env token, got %q", cfg.DiscordToken)
	}
	if cfg.DatabaseURL != "file.db" {
		t.Fatalf("expected file database url, got %q", cfg.DatabaseURL)
	}
	if cfg.Security.RaidJoinThreshold != 4 {
		t.Fatalf("expected raid threshold 4, got %d", cfg.Security.RaidJoinThreshold)
	}
	if cfg.Security.SpamWindowSeconds != 9 {
		t.Fatalf("expected spam window 9, got %d", cfg.Security.SpamWindowSeconds)
	}
	if cfg.Security.SpamMessageThreshold != 5 {
		t.Fatalf("expected default spam threshold to survive, got %d", cfg.Security.SpamMessageThreshold)
	}
	if got := cfg.Nuke.Thresholds["ban"]; got.Count != 5 || got.WindowSeconds != 20 {
		t.Fatalf("unexpected ban threshold %+v", got)
	}
	if _, ok := cfg.Nuke.Thresholds["channel_delete"]; !ok {
		t.Fatalf("expected default channel_delete threshold to be merged")
	}
}

func TestValidateS3BackupNeedsBucket(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DiscordToken = "token"
	cfg.Backup.Backend = "s3"
	cfg.Backup.Endpoint = "minio:9000"

	if err := Validate(cfg); err == nil {
		t.Fatalf("expected bucket validation error")
	}
	cfg.Backup.Bucket = "backups"
	if err := Validate(cfg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateLevelingRange(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DiscordToken = "token"
	cfg.Leveling.MinXP = 30
	cfg.Leveling.MaxXP = 10
	if err := Validate(cfg); err == nil {
		t.Fatalf("expected xp range error")
	}
}

func TestValidateWelcomeColor(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DiscordToken = "token"
	if err := Validate(cfg); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
	cfg.Welcome.Color = 0x1000000
	if err := Validate(cfg); err == nil {
		t.Fatalf("expected color range error")
	}
}
