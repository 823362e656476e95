package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
server:
  port: 9090
auth:
  enabled: true
  api_key: secret
db:
  dsn: postgres://harvester:pw@localhost:5432/licitabr
  max_conns: 20
pncp:
  page_size: 100
  timeout_seconds: 45
crawl:
  categories: [6, 8]
  lookback_days: 3
  page_workers: 2
items:
  batch_size: 25
  max_notices: 200
transform:
  notice_batch_size: 1000
notify:
  max_notices: 10
  published_status: Divulgada no PNCP
logging:
  development: false
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Fatalf("expected port 9090, got %d", cfg.Server.Port)
	}
	if !cfg.Auth.Enabled || cfg.Auth.APIKey != "secret" {
		t.Fatalf("expected auth enabled with secret key")
	}
	if cfg.DB.DSN == "" || cfg.DB.MaxConns != 20 {
		t.Fatalf("expected db overrides to apply: %+v", cfg.DB)
	}
	if len(cfg.Crawl.Categories) != 2 || cfg.Crawl.Categories[0] != 6 {
		t.Fatalf("expected crawl categories [6 8], got %v", cfg.Crawl.Categories)
	}
	if cfg.Crawl.Lookback() != 3*24*time.Hour {
		t.Fatalf("expected 3 day lookback, got %v", cfg.Crawl.Lookback())
	}
	if cfg.Items.BatchSize != 25 || cfg.Items.MaxNotices != 200 {
		t.Fatalf("expected items overrides to apply: %+v", cfg.Items)
	}
	if cfg.Transform.NoticeBatchSize != 1000 || cfg.Transform.ItemBatchSize != 2000 {
		t.Fatalf("expected transform override + default: %+v", cfg.Transform)
	}
	if cfg.PNCP.Timeout() != 45*time.Second {
		t.Fatalf("expected pncp timeout 45s, got %v", cfg.PNCP.Timeout())
	}
	if labels := cfg.Crawl.Labels(); labels[8] != "Dispensa" {
		t.Fatalf("expected default category labels, got %v", labels)
	}
	if cfg.Logging.Development {
		t.Fatal("expected logging.development to be overridden to false")
	}
}

// TestDefaultListURLIsUpdateFeed pins the default crawl endpoint to the
// update feed; the publication feed lists a notice only once, so status and
// closing-date changes would never reach the normalized layer.
func TestDefaultListURLIsUpdateFeed(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("db:\n  dsn: postgres://localhost/licitabr\n"), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	want := "https://pncp.gov.br/api/consulta/v1/contratacoes/atualizacao"
	if cfg.PNCP.ListURL != want {
		t.Fatalf("expected default list URL %q, got %q", want, cfg.PNCP.ListURL)
	}
}

func TestLoadRequiresDSN(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("server:\n  port: 8080\n"), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "db.dsn") {
		t.Fatalf("expected db.dsn error, got %v", err)
	}
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base := Config{
		Server: ServerConfig{Port: 8080},
		DB:     DBConfig{DSN: "postgres://localhost/licitabr"},
		PNCP:   PNCPConfig{PageSize: 50, TimeoutSeconds: 30},
		Crawl:  CrawlConfig{Categories: []int{6}},
	}

	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{
			name: "invalid port",
			cfg: func() Config {
				c := base
				c.Server.Port = 0
				return c
			}(),
			want: "server.port",
		},
		{
			name: "missing categories",
			cfg: func() Config {
				c := base
				c.Crawl.Categories = nil
				return c
			}(),
			want: "crawl.categories",
		},
		{
			name: "oversized page size",
			cfg: func() Config {
				c := base
				c.PNCP.PageSize = 5000
				return c
			}(),
			want: "pncp.page_size",
		},
		{
			name: "auth without key",
			cfg: func() Config {
				c := base
				c.Auth.Enabled = true
				return c
			}(),
			want: "auth.api_key",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error containing %q, got %v", tc.want, err)
			}
		})
	}
}
