package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_FileThenEnv(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 8080
  env: production
database:
  driver: mysql
  url: "user:pass@tcp(localhost:3306)/paylink"
reconciliation:
  workers: 8
  cooldown: 30s
`)
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("RECONCILIATION_LOCK_TIMEOUT", "90s")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port, "env overrides the file")
	assert.Equal(t, "production", cfg.Server.Env)
	assert.Equal(t, "mysql", cfg.Database.Driver)
	assert.Equal(t, 8, cfg.Reconciliation.Workers)
	assert.Equal(t, 30*time.Second, cfg.Reconciliation.Cooldown)
	assert.Equal(t, 90*time.Second, cfg.Reconciliation.LockTimeout)
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 4000, cfg.Server.Port)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, "http", cfg.Settlement.Provider)
	assert.Equal(t, 15*time.Second, cfg.Settlement.Timeout)
	assert.Equal(t, 5*time.Minute, cfg.Reconciliation.Interval)
	assert.Equal(t, 4, cfg.Reconciliation.Workers)
	assert.Equal(t, 100, cfg.Reconciliation.BatchSize)
	assert.Equal(t, 5*time.Minute, cfg.Reconciliation.LockTimeout)
}

func TestLoad_RejectsUnknownDriver(t *testing.T) {
	path := writeConfig(t, "database:\n  driver: oracle\n")

	_, err := Load(path)
	assert.ErrorContains(t, err, "unsupported database driver")
}

func TestLoad_RejectsUnknownProvider(t *testing.T) {
	t.Setenv("SETTLEMENT_PROVIDER", "carrier-pigeon")

	_, err := Load("")
	assert.ErrorContains(t, err, "unsupported settlement provider")
}

func TestLoad_MalformedFile(t *testing.T) {
	path := writeConfig(t, "server: [not, a, map\n")

	_, err := Load(path)
	assert.ErrorContains(t, err, "parse config file")
}

func TestLoad_ArchiveAndNotify(t *testing.T) {
	path := writeConfig(t, `
archive:
  type: local
notify:
  smtp_host: smtp.example.com
  operators: [ops@example.com]
`)
	t.Setenv("NOTIFY_OPERATORS", "a@example.com,b@example.com")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "./archive", cfg.Archive.BasePath)
	assert.Equal(t, 587, cfg.Notify.SMTPPort)
	assert.Equal(t, []string{"a@example.com", "b@example.com"}, cfg.Notify.Operators)
}

func TestLoad_RejectsIncompleteArchiveAndNotify(t *testing.T) {
	_, err := Load(writeConfig(t, "archive:\n  type: s3\n"))
	assert.ErrorContains(t, err, "archive.bucket")

	_, err = Load(writeConfig(t, "archive:\n  type: ftp\n"))
	assert.ErrorContains(t, err, "unsupported archive type")

	_, err = Load(writeConfig(t, "notify:\n  smtp_host: smtp.example.com\n"))
	assert.ErrorContains(t, err, "notify.operators")
}

func TestWebhookBodyPolicy(t *testing.T) {
	assert.True(t, WebhookFileConfig.Allows("application/json"))
	assert.True(t, WebhookFileConfig.Allows("application/json; charset=utf-8"))
	assert.True(t, WebhookFileConfig.Allows(""))
	assert.False(t, WebhookFileConfig.Allows("text/xml"))
}
