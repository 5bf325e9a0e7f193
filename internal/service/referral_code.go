package service

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
)

const (
	referralCodePrefix   = "JBL-"
	referralCodeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	referralCodeLength   = 6
)

// CodeGenerator produces candidate referral codes. Uniqueness is enforced by
// the store; callers retry on conflict.
type CodeGenerator func() (string, error)

// GenerateReferralCode returns JBL- followed by six random characters from [A-Z0-9]
func GenerateReferralCode() (string, error) {
	var sb strings.Builder
	sb.Grow(len(referralCodePrefix) + referralCodeLength)
	sb.WriteString(referralCodePrefix)

	limit := big.NewInt(int64(len(referralCodeAlphabet)))
	for i := 0; i < referralCodeLength; i++ {
		n, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", fmt.Errorf("failed to generate referral code: %w", err)
		}
		sb.WriteByte(referralCodeAlphabet[n.Int64()])
	}

	return sb.String(), nil
}

// IsReferralCode reports whether s has the referral code shape
func IsReferralCode(s string) bool {
	if len(s) != len(referralCodePrefix)+referralCodeLength || !strings.HasPrefix(s, referralCodePrefix) {
		return false
	}
	for _, c := range s[len(referralCodePrefix):] {
		if !strings.ContainsRune(referralCodeAlphabet, c) {
			return false
		}
	}
	return true
}
