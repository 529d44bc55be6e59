package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/nemonet1337/zaiQuant/internal/config"
)

const usage = "使い方: migrate [up|status] [マイグレーションディレクトリ]"

func main() {
	command, dir := "up", "migrations"
	args := os.Args[1:]
	if len(args) > 0 && (args[0] == "up" || args[0] == "status") {
		command, args = args[0], args[1:]
	}
	if len(args) > 0 {
		dir = args[0]
	}
	if len(args) > 1 {
		log.Fatal(usage)
	}

	logger, err := zap.NewDevelopment()
	if err != nil {
		log.Fatal("ログ初期化に失敗しました:", err)
	}
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("設定読み込みに失敗しました", zap.Error(err))
	}

	logger.Info("データベースに接続中",
		zap.String("host", cfg.Database.Host),
		zap.Int("port", cfg.Database.Port),
		zap.String("dbname", cfg.Database.DBName),
	)
	db, err := sqlx.Connect("postgres", cfg.DSN())
	if err != nil {
		logger.Fatal("データベース接続に失敗しました", zap.Error(err))
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	m := &migrator{db: db, dir: dir, logger: logger}
	switch command {
	case "status":
		err = m.Status(ctx)
	default:
		var n int
		n, err = m.Up(ctx)
		if err == nil {
			logger.Info("すべてのマイグレーションが完了しました", zap.Int("applied", n))
		}
	}
	if err != nil {
		logger.Fatal("マイグレーションに失敗しました", zap.String("command", command), zap.Error(err))
	}
}

// migration is one SQL file of the migration directory
type migration struct {
	name     string
	content  []byte
	checksum string
}

// loadMigrations reads every .sql file of dir in file name order
// マイグレーションファイルをファイル名順に読み込む
func loadMigrations(dir string) ([]migration, error) {
	if _, err := os.Stat(dir); err != nil {
		return nil, fmt.Errorf("マイグレーションディレクトリが見つかりません: %s: %w", dir, err)
	}
	files, err := filepath.Glob(filepath.Join(dir, "*.sql"))
	if err != nil {
		return nil, fmt.Errorf("マイグレーションファイル検索エラー: %w", err)
	}
	sort.Strings(files)

	migrations := make([]migration, 0, len(files))
	for _, file := range files {
		content, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("ファイル読み込みエラー %s: %w", filepath.Base(file), err)
		}
		migrations = append(migrations, migration{
			name:     filepath.Base(file),
			content:  content,
			checksum: calculateChecksum(content),
		})
	}
	return migrations, nil
}

// migrator applies the migrations of a directory and records them in schema_migrations
// マイグレーションの適用と履歴管理
type migrator struct {
	db     *sqlx.DB
	dir    string
	logger *zap.Logger
}

// ensureTable マイグレーション履歴テーブルを作成
func (m *migrator) ensureTable(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			id SERIAL PRIMARY KEY,
			filename VARCHAR(255) NOT NULL UNIQUE,
			executed_at TIMESTAMP NOT NULL DEFAULT NOW(),
			checksum VARCHAR(64) NOT NULL
		)`
	if _, err := m.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("マイグレーション履歴テーブル作成エラー: %w", err)
	}
	return nil
}

// applied returns the checksum of every executed migration by file name
// 実行済みマイグレーションとチェックサムを取得
func (m *migrator) applied(ctx context.Context) (map[string]string, error) {
	var rows []struct {
		Filename string `db:"filename"`
		Checksum string `db:"checksum"`
	}
	if err := m.db.SelectContext(ctx, &rows, "SELECT filename, checksum FROM schema_migrations"); err != nil {
		return nil, fmt.Errorf("実行済みマイグレーション取得エラー: %w", err)
	}

	executed := make(map[string]string, len(rows))
	for _, r := range rows {
		executed[r.Filename] = r.Checksum
	}
	return executed, nil
}

// pending returns the migrations not executed yet.
// An executed file whose content changed is an error.
func (m *migrator) pending(ctx context.Context) ([]migration, error) {
	migrations, err := loadMigrations(m.dir)
	if err != nil {
		return nil, err
	}
	if err := m.ensureTable(ctx); err != nil {
		return nil, err
	}
	executed, err := m.applied(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]migration, 0, len(migrations))
	for _, mg := range migrations {
		recorded, ok := executed[mg.name]
		if !ok {
			out = append(out, mg)
			continue
		}
		if recorded != mg.checksum {
			return nil, fmt.Errorf("実行済みマイグレーションが変更されています: %s", mg.name)
		}
	}
	return out, nil
}

// Up runs every pending migration, each in its own transaction
// 未実行のマイグレーションを順に実行
func (m *migrator) Up(ctx context.Context) (int, error) {
	pending, err := m.pending(ctx)
	if err != nil {
		return 0, err
	}

	for i, mg := range pending {
		m.logger.Info("マイグレーション実行中", zap.String("file", mg.name))
		if err := m.apply(ctx, mg); err != nil {
			return i, err
		}
	}
	return len(pending), nil
}

func (m *migrator) apply(ctx context.Context, mg migration) error {
	tx, err := m.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("トランザクション開始エラー %s: %w", mg.name, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, string(mg.content)); err != nil {
		return fmt.Errorf("マイグレーション実行エラー %s: %w", mg.name, err)
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO schema_migrations (filename, checksum) VALUES ($1, $2)",
		mg.name, mg.checksum,
	); err != nil {
		return fmt.Errorf("マイグレーション履歴記録エラー %s: %w", mg.name, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("トランザクションコミットエラー %s: %w", mg.name, err)
	}
	return nil
}

// Status logs the pending migrations without running them
func (m *migrator) Status(ctx context.Context) error {
	pending, err := m.pending(ctx)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		m.logger.Info("未実行のマイグレーションはありません")
		return nil
	}
	for _, mg := range pending {
		m.logger.Info("未実行", zap.String("file", mg.name), zap.String("checksum", mg.checksum[:12]))
	}
	return nil
}

// calculateChecksum ファイル内容のSHA-256チェックサムを計算
func calculateChecksum(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}
