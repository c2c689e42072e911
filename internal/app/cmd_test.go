package app

import (
	"bytes"
	"strings"
	"testing"
)

func TestParseCommand(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want Command
	}{
		{"引数なしはserve", nil, CommandServe},
		{"serve", []string{"serve"}, CommandServe},
		{"worker", []string{"worker"}, CommandWorker},
		{"migrate", []string{"migrate"}, CommandMigrate},
		{"migrate down", []string{"migrate", "down", "2"}, CommandMigrate},
		{"healthcheck", []string{"healthcheck"}, CommandHealthcheck},
		{"未知のコマンドはserve", []string{"unknown"}, CommandServe},
		{"大文字は未知として扱う", []string{"WORKER"}, CommandServe},
		{"余分な引数は無視", []string{"worker", "--flag", "value"}, CommandWorker},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ParseCommand(tt.args); got != tt.want {
				t.Errorf("ParseCommand(%v) = %q, want %q", tt.args, got, tt.want)
			}
		})
	}
}

func TestParseMigrateArgs(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		want    int
		wantErr bool
	}{
		{"引数なしは適用", nil, 0, false},
		{"up", []string{"up"}, 0, false},
		{"downは1件", []string{"down"}, 1, false},
		{"down 3", []string{"down", "3"}, 3, false},
		{"down 0は不正", []string{"down", "0"}, 0, true},
		{"down 数値以外は不正", []string{"down", "all"}, 0, true},
		{"down 引数過多", []string{"down", "1", "2"}, 0, true},
		{"up 引数過多", []string{"up", "1"}, 0, true},
		{"未知の方向", []string{"sideways"}, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts, err := ParseMigrateArgs(tt.args)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseMigrateArgs(%v) error = %v, wantErr %v", tt.args, err, tt.wantErr)
			}
			if !tt.wantErr && opts.RollbackSteps != tt.want {
				t.Errorf("RollbackSteps = %d, want %d", opts.RollbackSteps, tt.want)
			}
		})
	}
}

// 不正なmigrate引数は設定の読み込みやDB接続より前に拒否される
func TestRun_MigrateInvalidArgsFailsBeforeInit(t *testing.T) {
	t.Setenv("DATABASE_URL", "")

	var buf bytes.Buffer
	err := Run(&buf, []string{"migrate", "down", "x"})
	if err == nil {
		t.Fatal("Run() error = nil, want error")
	}
	if !strings.Contains(err.Error(), "invalid rollback steps") {
		t.Errorf("error = %q, want rollback steps error", err)
	}
}
