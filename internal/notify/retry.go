package notify

import "time"

const (
	// initialBackoff は指数バックオフの初回遅延（30秒）。
	initialBackoff = 30 * time.Second
	// maxBackoff は指数バックオフの最大遅延（30分）。
	maxBackoff = 30 * time.Minute
)

// CalculateBackoff は失敗回数に基づいて次回送信までの遅延を計算する。
// 初回30秒、2倍ずつ増加、最大30分。
func CalculateBackoff(failures int) time.Duration {
	delay := initialBackoff
	for i := 0; i < failures; i++ {
		delay *= 2
		if delay > maxBackoff {
			return maxBackoff
		}
	}
	return delay
}
