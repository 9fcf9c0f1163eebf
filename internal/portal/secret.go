package portal

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"

	"golang.org/x/crypto/bcrypt"
)

// minPasswordLength はパスワードの最小文字数。
const minPasswordLength = 8

// otpDigits はワンタイムパスワードの桁数。
const otpDigits = 6

// errPasswordTooShort はパスワードが短すぎることを表す。
var errPasswordTooShort = fmt.Errorf("パスワードは%d文字以上必要です", minPasswordLength)

// hashSecret はパスワードやOTPコードのbcryptハッシュを生成する。
func hashSecret(secret string, cost int) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(secret), cost)
	if err != nil {
		if errors.Is(err, bcrypt.ErrPasswordTooLong) {
			return "", errors.New("パスワードが長すぎます")
		}
		return "", fmt.Errorf("ハッシュの生成に失敗: %w", err)
	}
	return string(hashed), nil
}

// verifySecret は平文とbcryptハッシュが一致するかを返す。
func verifySecret(secret, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(secret)) == nil
}

// validatePassword はパスワードの長さを検証する。
func validatePassword(password string) error {
	if len([]rune(password)) < minPasswordLength {
		return errPasswordTooShort
	}
	return nil
}

// newOTPCode はotpDigits桁の数字からなるワンタイムパスワードを生成する。
func newOTPCode() (string, error) {
	limit := big.NewInt(1)
	for range otpDigits {
		limit.Mul(limit, big.NewInt(10))
	}
	n, err := rand.Int(rand.Reader, limit)
	if err != nil {
		return "", fmt.Errorf("OTPコードの生成に失敗: %w", err)
	}
	return fmt.Sprintf("%0*d", otpDigits, n.Int64()), nil
}

// newResetToken はURLに埋め込めるランダムな再設定トークンを生成する。
func newResetToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("再設定トークンの生成に失敗: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// hashResetToken は再設定トークンの保存用ダイジェストを返す。
// トークン自体が高エントロピーのためbcryptではなくSHA-256で検索可能にする。
func hashResetToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// HashPassword はパスワードの長さを検証し、保存用のbcryptハッシュを返す。
// 管理コマンドからユーザーを登録する際に使う。
func HashPassword(password string) (string, error) {
	if err := validatePassword(password); err != nil {
		return "", err
	}
	return hashSecret(password, bcrypt.DefaultCost)
}
