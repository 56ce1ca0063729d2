package utils

import (
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

func HashString(input string) string {
	hash := md5.Sum([]byte(input))
	return hex.EncodeToString(hash[:])
}

// ShortHash returns the first n hex characters of the md5 of input.
func ShortHash(input string, n int) string {
	h := HashString(input)
	if n <= 0 || n >= len(h) {
		return h
	}
	return h[:n]
}

func SHA256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// NormalizeText collapses whitespace runs to a single space and trims the ends.
func NormalizeText(input string) string {
	return strings.Join(strings.Fields(input), " ")
}
