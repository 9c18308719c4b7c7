package refcode

import (
	"crypto/rand"
	"encoding/base32"
	"strings"
)

// Generate returns a settlement reference such as "SPN-4F7QK2ZB3XHA".
// The random part is 12 base32 characters (60 bits).
func Generate(prefix string) (string, error) {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", err
	}
	code := base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(buf[:])
	if len(code) > 12 {
		code = code[:12]
	}
	prefix = strings.ToUpper(strings.TrimSpace(prefix))
	if prefix == "" {
		return code, nil
	}
	return prefix + "-" + code, nil
}
