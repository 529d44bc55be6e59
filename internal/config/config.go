package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/nemonet1337/zaiQuant/pkg/inventory"
)

// Config holds application configuration
// アプリケーション設定を保持
type Config struct {
	Database  DatabaseConfig  `yaml:"database"`
	API       APIConfig       `yaml:"api"`
	Inventory InventoryConfig `yaml:"inventory"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// DatabaseConfig holds database configuration
// データベース設定を保持
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
	SSLMode  string `yaml:"sslmode"`
}

// APIConfig holds API server configuration
type APIConfig struct {
	Port          int           `yaml:"port"`
	ReadTimeout   time.Duration `yaml:"read_timeout"`
	WriteTimeout  time.Duration `yaml:"write_timeout"`
	IdleTimeout   time.Duration `yaml:"idle_timeout"`
	EnableCORS    bool          `yaml:"enable_cors"`
	EnableMetrics bool          `yaml:"enable_metrics"`
}

// InventoryConfig holds quant engine configuration
// クォントエンジンの設定を保持
type InventoryConfig struct {
	CompanyID              int64         `yaml:"company_id"`               // 既定の会社
	UoMDecimalPrecision    int32         `yaml:"uom_decimal_precision"`    // 計量単位の小数桁数
	QuantTasksInterval     time.Duration `yaml:"quant_tasks_interval"`     // メンテナンス実行間隔
	DefaultRemovalStrategy string        `yaml:"default_removal_strategy"` // デフォルト払出戦略
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json, console
	Output string `yaml:"output"` // stdout, stderr, ファイルパス
}

// Default returns the built-in configuration
// 組み込みのデフォルト設定を返す
func Default() *Config {
	engine := inventory.DefaultConfig()
	return &Config{
		Database: DatabaseConfig{
			Host:     "localhost",
			Port:     5432,
			User:     "inventory",
			Password: "password",
			DBName:   "inventory_db",
			SSLMode:  "disable",
		},
		API: APIConfig{
			Port:          8080,
			ReadTimeout:   30 * time.Second,
			WriteTimeout:  30 * time.Second,
			IdleTimeout:   60 * time.Second,
			EnableCORS:    true,
			EnableMetrics: true,
		},
		Inventory: InventoryConfig{
			CompanyID:              1,
			UoMDecimalPrecision:    engine.UoMDecimalPrecision,
			QuantTasksInterval:     engine.QuantTasksInterval,
			DefaultRemovalStrategy: string(engine.DefaultRemovalStrategy),
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// Load reads .env, then the YAML file named by CONFIG_FILE, then environment variables.
// Later sources override earlier ones.
// .env・YAMLファイル・環境変数の順に設定を読み込み
func Load() (*Config, error) {
	// .env は存在しなくてもよい
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf(".envファイルの読み込みに失敗しました: %w", err)
	}

	cfg := Default()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("設定バリデーションに失敗しました: %w", err)
	}
	return cfg, nil
}

// loadFile overlays a YAML file on the configuration
// YAMLファイルの内容を設定に上書き
func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("設定ファイルの読み込みに失敗しました: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("設定ファイルの解析に失敗しました: %w", err)
	}
	return nil
}

// applyEnv overrides fields with the environment variables that are set.
// A set variable that cannot be parsed is an error.
// 環境変数で設定を上書き
func (c *Config) applyEnv() error {
	var e env

	e.str("DB_HOST", &c.Database.Host)
	e.int("DB_PORT", &c.Database.Port)
	e.str("DB_USER", &c.Database.User)
	e.str("DB_PASSWORD", &c.Database.Password)
	e.str("DB_NAME", &c.Database.DBName)
	e.str("DB_SSLMODE", &c.Database.SSLMode)

	e.int("API_PORT", &c.API.Port)
	e.duration("API_READ_TIMEOUT", &c.API.ReadTimeout)
	e.duration("API_WRITE_TIMEOUT", &c.API.WriteTimeout)
	e.duration("API_IDLE_TIMEOUT", &c.API.IdleTimeout)
	e.bool("API_ENABLE_CORS", &c.API.EnableCORS)
	e.bool("API_ENABLE_METRICS", &c.API.EnableMetrics)

	e.int64("INVENTORY_COMPANY_ID", &c.Inventory.CompanyID)
	e.int32("INVENTORY_UOM_DECIMAL_PRECISION", &c.Inventory.UoMDecimalPrecision)
	e.duration("INVENTORY_QUANT_TASKS_INTERVAL", &c.Inventory.QuantTasksInterval)
	e.str("INVENTORY_DEFAULT_REMOVAL_STRATEGY", &c.Inventory.DefaultRemovalStrategy)

	e.str("LOG_LEVEL", &c.Logging.Level)
	e.str("LOG_FORMAT", &c.Logging.Format)
	e.str("LOG_OUTPUT", &c.Logging.Output)

	return e.err()
}

// Validate reports every inconsistent value of the configuration
// 設定をバリデーション
func (c *Config) Validate() error {
	return errors.Join(
		c.Database.validate(),
		c.API.validate(),
		c.Inventory.validate(),
		c.Logging.validate(),
	)
}

func (d DatabaseConfig) validate() error {
	var errs []error
	if d.Host == "" {
		errs = append(errs, errors.New("データベースホストが指定されていません"))
	}
	if !validPort(d.Port) {
		errs = append(errs, fmt.Errorf("無効なデータベースポート: %d", d.Port))
	}
	if d.User == "" {
		errs = append(errs, errors.New("データベースユーザーが指定されていません"))
	}
	if d.DBName == "" {
		errs = append(errs, errors.New("データベース名が指定されていません"))
	}
	return errors.Join(errs...)
}

func (a APIConfig) validate() error {
	if !validPort(a.Port) {
		return fmt.Errorf("無効なAPIポート: %d", a.Port)
	}
	return nil
}

func (i InventoryConfig) validate() error {
	var errs []error
	if i.CompanyID <= 0 {
		errs = append(errs, fmt.Errorf("会社IDは正の値である必要があります: %d", i.CompanyID))
	}
	if i.UoMDecimalPrecision < 0 || i.UoMDecimalPrecision > 10 {
		errs = append(errs, fmt.Errorf("無効な計量単位の小数桁数: %d", i.UoMDecimalPrecision))
	}
	if i.QuantTasksInterval <= 0 {
		errs = append(errs, fmt.Errorf("メンテナンス実行間隔は正の値である必要があります: %s", i.QuantTasksInterval))
	}
	strategy := inventory.RemovalStrategy(i.DefaultRemovalStrategy)
	if strategy == "" || inventory.ValidateRemovalStrategy(strategy) != nil {
		errs = append(errs, fmt.Errorf("無効なデフォルト払出戦略: %q", i.DefaultRemovalStrategy))
	}
	return errors.Join(errs...)
}

func (l LoggingConfig) validate() error {
	var errs []error
	switch l.Level {
	case "debug", "info", "warn", "error", "fatal":
	default:
		errs = append(errs, fmt.Errorf("無効なログレベル: %s", l.Level))
	}
	switch l.Format {
	case "json", "console":
	default:
		errs = append(errs, fmt.Errorf("無効なログフォーマット: %s", l.Format))
	}
	return errors.Join(errs...)
}

func validPort(port int) bool {
	return port > 0 && port <= 65535
}

// Engine converts the inventory section into the quant engine configuration
// 在庫設定をクォントエンジンの設定に変換
func (c *Config) Engine() *inventory.Config {
	return &inventory.Config{
		UoMDecimalPrecision:    c.Inventory.UoMDecimalPrecision,
		QuantTasksInterval:     c.Inventory.QuantTasksInterval,
		DefaultRemovalStrategy: inventory.RemovalStrategy(c.Inventory.DefaultRemovalStrategy),
	}
}

// DSN generates PostgreSQL Data Source Name
// PostgreSQLデータソース名を生成
func (c *Config) DSN() string {
	d := c.Database
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode)
}

// env reads typed environment variables and collects parse failures
// 環境変数の型変換（変換エラーを蓄積）
type env struct {
	errs []error
}

func (e *env) lookup(key string) (string, bool) {
	v, ok := os.LookupEnv(key)
	return v, ok && v != ""
}

func (e *env) fail(key, value string, err error) {
	e.errs = append(e.errs, fmt.Errorf("環境変数 %s の値が不正です (%q): %w", key, value, err))
}

func (e *env) str(key string, dst *string) {
	if v, ok := e.lookup(key); ok {
		*dst = v
	}
}

func (e *env) int(key string, dst *int) {
	if v, ok := e.lookup(key); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			e.fail(key, v, err)
			return
		}
		*dst = n
	}
}

func (e *env) int64(key string, dst *int64) {
	if v, ok := e.lookup(key); ok {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			e.fail(key, v, err)
			return
		}
		*dst = n
	}
}

func (e *env) int32(key string, dst *int32) {
	if v, ok := e.lookup(key); ok {
		n, err := strconv.ParseInt(v, 10, 32)
		if err != nil {
			e.fail(key, v, err)
			return
		}
		*dst = int32(n)
	}
}

func (e *env) bool(key string, dst *bool) {
	if v, ok := e.lookup(key); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			e.fail(key, v, err)
			return
		}
		*dst = b
	}
}

func (e *env) duration(key string, dst *time.Duration) {
	if v, ok := e.lookup(key); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			e.fail(key, v, err)
			return
		}
		*dst = d
	}
}

func (e *env) err() error {
	return errors.Join(e.errs...)
}
