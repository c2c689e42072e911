package app

import (
	"fmt"
	"strconv"
)

// Command はアプリケーションの起動モードを表す。
type Command string

const (
	// CommandServe はAPIサーバーを起動する。送信キューの処理も同じプロセスで行える。
	CommandServe Command = "serve"
	// CommandWorker は送信キューの配信と定期クリーンアップを行う。
	CommandWorker Command = "worker"
	// CommandMigrate はスキーマを適用または巻き戻す。
	CommandMigrate Command = "migrate"
	// CommandHealthcheck は起動中のサーバーの/healthを確認する。
	// distroless環境でのDockerヘルスチェック用。
	CommandHealthcheck Command = "healthcheck"
)

var commands = map[string]Command{
	"serve":       CommandServe,
	"worker":      CommandWorker,
	"migrate":     CommandMigrate,
	"healthcheck": CommandHealthcheck,
}

// ParseCommand はコマンドライン引数からサブコマンドを解析する。
// 引数が空またはサポート外のコマンドの場合はCommandServeを返す。
func ParseCommand(args []string) Command {
	if len(args) == 0 {
		return CommandServe
	}
	if cmd, ok := commands[args[0]]; ok {
		return cmd
	}
	return CommandServe
}

// MigrateOptions はmigrateサブコマンドの引数。
// RollbackStepsが0の場合は未適用分をすべて適用する。
type MigrateOptions struct {
	RollbackSteps int
}

// ParseMigrateArgs は "migrate" に続く引数を解析する。
//
//	migrate            未適用分をすべて適用
//	migrate down       1件巻き戻す
//	migrate down <n>   n件巻き戻す
func ParseMigrateArgs(args []string) (MigrateOptions, error) {
	if len(args) == 0 || args[0] == "up" {
		if len(args) > 1 {
			return MigrateOptions{}, fmt.Errorf("migrate up takes no arguments")
		}
		return MigrateOptions{}, nil
	}
	if args[0] != "down" {
		return MigrateOptions{}, fmt.Errorf("unknown migrate direction %q (want up or down)", args[0])
	}

	switch len(args) {
	case 1:
		return MigrateOptions{RollbackSteps: 1}, nil
	case 2:
		n, err := strconv.Atoi(args[1])
		if err != nil || n <= 0 {
			return MigrateOptions{}, fmt.Errorf("invalid rollback steps %q", args[1])
		}
		return MigrateOptions{RollbackSteps: n}, nil
	default:
		return MigrateOptions{}, fmt.Errorf("migrate down takes at most one argument")
	}
}
