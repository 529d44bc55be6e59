package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nemonet1337/zaiQuant/pkg/inventory"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "localhost", cfg.Database.Host)
	assert.Equal(t, 5432, cfg.Database.Port)
	assert.Equal(t, 8080, cfg.API.Port)
	assert.Equal(t, int64(1), cfg.Inventory.CompanyID)
	assert.Equal(t, "fifo", cfg.Inventory.DefaultRemovalStrategy)
	assert.Equal(t, 5*time.Minute, cfg.Inventory.QuantTasksInterval)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("DB_HOST", "db.internal")
	t.Setenv("DB_PORT", "6543")
	t.Setenv("API_PORT", "9090")
	t.Setenv("API_ENABLE_CORS", "false")
	t.Setenv("INVENTORY_COMPANY_ID", "3")
	t.Setenv("INVENTORY_QUANT_TASKS_INTERVAL", "90s")
	t.Setenv("INVENTORY_DEFAULT_REMOVAL_STRATEGY", "lifo")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "db.internal", cfg.Database.Host)
	assert.Equal(t, 6543, cfg.Database.Port)
	assert.Equal(t, 9090, cfg.API.Port)
	assert.False(t, cfg.API.EnableCORS)
	assert.Equal(t, int64(3), cfg.Inventory.CompanyID)
	assert.Equal(t, 90*time.Second, cfg.Inventory.QuantTasksInterval)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Contains(t, cfg.DSN(), "host=db.internal port=6543")
}

func TestLoad_YAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
database:
  host: yaml-host
  dbname: quants
inventory:
  company_id: 7
  uom_decimal_precision: 4
  quant_tasks_interval: 45s
  default_removal_strategy: lifo
logging:
  format: console
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	t.Setenv("CONFIG_FILE", path)
	// 環境変数はYAMLより優先される
	t.Setenv("DB_NAME", "quants_env")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "yaml-host", cfg.Database.Host)
	assert.Equal(t, "quants_env", cfg.Database.DBName)
	assert.Equal(t, 5432, cfg.Database.Port)
	assert.Equal(t, "console", cfg.Logging.Format)

	engine := cfg.Engine()
	assert.Equal(t, int32(4), engine.UoMDecimalPrecision)
	assert.Equal(t, 45*time.Second, engine.QuantTasksInterval)
	assert.Equal(t, inventory.RemovalLIFO, engine.DefaultRemovalStrategy)
	assert.Equal(t, int64(7), cfg.Inventory.CompanyID)
}

func TestLoad_MissingFile(t *testing.T) {
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "missing.yaml"))

	_, err := Load()
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"ホスト未指定", func(c *Config) { c.Database.Host = "" }},
		{"DBポート範囲外", func(c *Config) { c.Database.Port = 70000 }},
		{"APIポート不正", func(c *Config) { c.API.Port = 0 }},
		{"会社ID不正", func(c *Config) { c.Inventory.CompanyID = 0 }},
		{"小数桁数不正", func(c *Config) { c.Inventory.UoMDecimalPrecision = 11 }},
		{"実行間隔不正", func(c *Config) { c.Inventory.QuantTasksInterval = 0 }},
		{"払出戦略不正", func(c *Config) { c.Inventory.DefaultRemovalStrategy = "random" }},
		{"払出戦略未指定", func(c *Config) { c.Inventory.DefaultRemovalStrategy = "" }},
		{"ログレベル不正", func(c *Config) { c.Logging.Level = "trace" }},
		{"ログ形式不正", func(c *Config) { c.Logging.Format = "xml" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoad_InvalidEnv(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("DB_PORT", "abc")
	t.Setenv("API_ENABLE_METRICS", "maybe")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DB_PORT")
	assert.Contains(t, err.Error(), "API_ENABLE_METRICS")
}

func TestValidate_ReportsAllProblems(t *testing.T) {
	cfg := Default()
	cfg.Database.Host = ""
	cfg.Logging.Level = "trace"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "データベースホスト")
	assert.Contains(t, err.Error(), "trace")
}
