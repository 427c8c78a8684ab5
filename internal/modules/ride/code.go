package ride

import (
	"crypto/rand"
	"crypto/subtle"
	"math/big"
	"strings"
)

const (
	codeLength   = 6
	codeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

// newVerificationCode returns a random pickup code of uppercase letters and digits.
func newVerificationCode() (string, error) {
	var b strings.Builder
	b.Grow(codeLength)
	max := big.NewInt(int64(len(codeAlphabet)))
	for i := 0; i < codeLength; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b.WriteByte(codeAlphabet[n.Int64()])
	}
	return b.String(), nil
}

func codesEqual(supplied, want string) bool {
	s := strings.ToUpper(strings.TrimSpace(supplied))
	return want != "" && subtle.ConstantTimeCompare([]byte(s), []byte(want)) == 1
}
