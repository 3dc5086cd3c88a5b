package util

import (
	"fmt"
	"io"
)

// RandomBytesFrom reads exactly n bytes from src.
func RandomBytesFrom(src io.Reader, n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := io.ReadFull(src, b); err != nil {
		return nil, fmt.Errorf("generating random bytes: %w", err)
	}
	return b, nil
}
