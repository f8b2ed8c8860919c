package password

import (
	"fmt"

	"im-sync/pkg/errs"

	"golang.org/x/crypto/bcrypt"
)

// bcrypt 只使用前 72 字节
const (
	MinLength = 6
	MaxLength = 72
)

// Hash 校验长度后生成 bcrypt 哈希
func Hash(plain string) (string, error) {
	if len(plain) < MinLength || len(plain) > MaxLength {
		return "", errs.Conflict("密码长度需在%d到%d字节之间", MinLength, MaxLength)
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("生成密码哈希失败: %w", err)
	}
	return string(hashed), nil
}

// Verify 校验密码
func Verify(plain, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain)) == nil
}
