package portal

import (
	"context"
	"database/sql"
	"embed"
	"fmt"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/nao1215/smsportal/pkg/migration"
)

// migrationsFS はポータルのマイグレーションSQL。
//
//go:embed migrations/*.sql
var migrationsFS embed.FS

// migrationsDir はmigrationsFS内のマイグレーションディレクトリ。
const migrationsDir = "migrations"

// OpenDB はSQLiteデータベースを開く。
// WALモード、ビジータイムアウト、外部キー制約を有効にする。
func OpenDB(path string) (*sql.DB, error) {
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("データベース接続に失敗: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("データベースへの疎通確認に失敗: %w", err)
	}
	return db, nil
}

// Migrate は未適用のマイグレーションを適用する。
func Migrate(ctx context.Context, db *sql.DB, logger *zap.Logger) error {
	if _, err := migration.Run(ctx, db, migrationsFS, migrationsDir, logger); err != nil {
		return fmt.Errorf("スキーマの適用に失敗: %w", err)
	}
	return nil
}
