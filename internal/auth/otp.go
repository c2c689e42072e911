package auth

import (
	"crypto/rand"
	"fmt"
	"io"
	"math/big"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

const otpDigits = 6

// otpSpace は確認コードの値域（000000〜999999）。
var otpSpace = big.NewInt(1_000_000)

// GenerateCode は000000〜999999から一様に選んだ6桁の確認コードを返す。
func GenerateCode() (string, error) {
	return generateCode(rand.Reader)
}

func generateCode(r io.Reader) (string, error) {
	n, err := rand.Int(r, otpSpace)
	if err != nil {
		return "", fmt.Errorf("failed to generate otp: %w", err)
	}
	return fmt.Sprintf("%0*d", otpDigits, n.Int64()), nil
}

// NormalizeCode は入力された確認コードの前後の空白を除去し、6桁の数字かどうかを返す。
func NormalizeCode(input string) (string, bool) {
	code := strings.TrimSpace(input)
	if len(code) != otpDigits {
		return "", false
	}
	for _, r := range code {
		if r < '0' || r > '9' {
			return "", false
		}
	}
	return code, true
}

// hashCode は確認コードをbcryptでハッシュ化する。セッションには平文を保存しない。
func hashCode(code string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(code), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash otp: %w", err)
	}
	return string(hash), nil
}

// matchCode は入力コードが保存済みハッシュと一致するかを返す。
func matchCode(code, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(code)) == nil
}
