package utils

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// HexToFixedBytes decodes a hex string (with or without 0x prefix) into exactly
// size bytes. Unlike a padding decoder, it rejects strings of the wrong length
// so that a corrupted or truncated stored value is surfaced instead of silently
// reshaped.
func HexToFixedBytes(hexStr string, size int) ([]byte, error) {
	s := strings.TrimPrefix(hexStr, "0x")
	if len(s) != size*2 {
		return nil, fmt.Errorf("expected %d hex chars, got %d", size*2, len(s))
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, err
	}
	return b, nil
}

// HexToBytes decodes a variable-length hex string (with or without 0x prefix).
// An empty string (or bare "0x") decodes to an empty byte slice.
func HexToBytes(hexStr string) ([]byte, error) {
	s := strings.TrimPrefix(hexStr, "0x")
	if len(s)%2 != 0 {
		return nil, fmt.Errorf("odd length hex string: %d chars", len(s))
	}
	return hex.DecodeString(s)
}

// BytesToHex encodes bytes as a 0x-prefixed lowercase hex string, the canonical
// textual form used for all stored hash, address and bloom columns.
func BytesToHex(b []byte) string {
	return "0x" + hex.EncodeToString(b)
}
