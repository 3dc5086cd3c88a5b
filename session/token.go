package session

import (
	"io"

	"github.com/escritoresnogueira/backend/internal/util"
)

// TokenBytes is the amount of entropy in a session token (384 bits).
const TokenBytes = 48

// NewToken draws TokenBytes from src and encodes them as unpadded base64url.
func NewToken(src io.Reader) (string, error) {
	b, err := util.RandomBytesFrom(src, TokenBytes)
	if err != nil {
		return "", err
	}
	defer util.WipeBytes(b)
	return util.Base64URLEncode(b), nil
}
