package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHashString(t *testing.T) {
	assert.Equal(t, "5d41402abc4b2a76b9719d911017c592", HashString("hello"))
	assert.Equal(t, "5d41402a", ShortHash("hello", 8))
	assert.Len(t, ShortHash("hello", 0), 32)
}

func TestSHA256Hex(t *testing.T) {
	assert.Equal(t,
		"2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824",
		SHA256Hex([]byte("hello")))
}

func TestNormalizeText(t *testing.T) {
	assert.Equal(t, "ยาหอม ตำรับ", NormalizeText("  ยาหอม\n\t ตำรับ  "))
	assert.Equal(t, "", NormalizeText(" \n "))
}
