// internal/keys/kcv.go
package keys

import (
	"crypto/aes"
	"encoding/hex"
	"fmt"
	"strings"
)

// KCV computes the key check value of an AES key: the first three bytes of
// the encryption of an all-zero block, hex encoded. It proves which key is
// loaded without exposing the key itself.
func KCV(key []byte) (string, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("failed to compute kcv: %w", err)
	}
	zero := make([]byte, block.BlockSize())
	out := make([]byte, block.BlockSize())
	block.Encrypt(out, zero)
	return strings.ToUpper(hex.EncodeToString(out[:3])), nil
}
