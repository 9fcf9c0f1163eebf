// ポータルの管理コマンド。
// データベースのマイグレーション、ユーザーの登録とロール変更、ロール一覧の表示を行う。
package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/nao1215/smsportal/internal/portal"
	"github.com/nao1215/smsportal/pkg/logger"
)

// globalOptions はすべてのサブコマンドに共通のフラグ。
type globalOptions struct {
	configPath   string
	databasePath string
	logLevel     string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}

	cmd := &cobra.Command{
		Use:           "portalctl",
		Short:         "SMS・課金管理ポータルの管理コマンド",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&opts.configPath, "config", os.Getenv("PORTAL_CONFIG"), "設定ファイルのパス")
	cmd.PersistentFlags().StringVar(&opts.databasePath, "db", "", "データベースファイルのパス（設定より優先）")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "warn", "ログレベル")

	cmd.AddCommand(
		newMigrateCmd(opts),
		newUserCmd(opts),
		newRoleCmd(opts),
	)
	return cmd
}

// openStore はマイグレーション済みのデータベースを開く。
// --dbが指定されていれば設定ファイルは読まない。
func openStore(ctx context.Context, opts *globalOptions) (*portal.Store, *sql.DB, error) {
	path, err := databasePath(opts)
	if err != nil {
		return nil, nil, err
	}

	log, err := logger.New(opts.logLevel)
	if err != nil {
		return nil, nil, err
	}

	db, err := portal.OpenDB(path)
	if err != nil {
		return nil, nil, err
	}
	if err := portal.Migrate(ctx, db, log); err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	log.Debug("database ready", zap.String("path", path))
	return portal.NewStore(db), db, nil
}

// databasePath は操作対象のデータベースファイルを決める。
func databasePath(opts *globalOptions) (string, error) {
	if opts.databasePath != "" {
		return opts.databasePath, nil
	}
	cfg, err := portal.LoadConfig(opts.configPath)
	if err != nil {
		return "", fmt.Errorf("設定の読み込みに失敗 (--dbで直接指定できます): %w", err)
	}
	return cfg.DatabasePath, nil
}
