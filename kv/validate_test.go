package kv

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateKeyRejectsEmptyAndWhitespaceOnly(t *testing.T) {
	assert.ErrorIs(t, ValidateKey(nil), ErrInvalidKey)
	assert.ErrorIs(t, ValidateKey([]byte("")), ErrInvalidKey)
	assert.ErrorIs(t, ValidateKey([]byte("   ")), ErrInvalidKey)
	assert.ErrorIs(t, ValidateKey([]byte("\t\t")), ErrInvalidKey)
	assert.ErrorIs(t, ValidateKey([]byte(" \t ")), ErrInvalidKey)
}

func TestValidateKeyRejectsControlCharacters(t *testing.T) {
	assert.ErrorIs(t, ValidateKey([]byte("a\rb")), ErrInvalidCharacter)
	assert.ErrorIs(t, ValidateKey([]byte("a\nb")), ErrInvalidCharacter)
}

func TestValidateKeySizeLimit(t *testing.T) {
	assert.NoError(t, ValidateKey([]byte(strings.Repeat("k", MaxKeyBytes))))
	assert.ErrorIs(t, ValidateKey([]byte(strings.Repeat("k", MaxKeyBytes+1))), ErrInvalidKey)
}

func TestValidateKeyAcceptsKeysWithInteriorWhitespace(t *testing.T) {
	// Whitespace-only is rejected, but a key containing whitespace among
	// other bytes is legal at this layer; the line parser never produces
	// one, but replication might deliver one from a different client
	// protocol.
	assert.NoError(t, ValidateKey([]byte("a b")))
}

func TestValidateValueAllowsTabsAndEmpty(t *testing.T) {
	assert.NoError(t, ValidateValue(nil))
	assert.NoError(t, ValidateValue([]byte("")))
	assert.NoError(t, ValidateValue([]byte("a\tb\tc")))
}

func TestValidateValueRejectsLineTerminators(t *testing.T) {
	assert.ErrorIs(t, ValidateValue([]byte("a\rb")), ErrInvalidCharacter)
	assert.ErrorIs(t, ValidateValue([]byte("a\nb")), ErrInvalidCharacter)
}

func TestLamportTagOrdering(t *testing.T) {
	a1 := LamportTag{Counter: 1, NodeID: "A"}
	a2 := LamportTag{Counter: 2, NodeID: "A"}
	b1 := LamportTag{Counter: 1, NodeID: "B"}

	assert.True(t, a2.Dominates(a1), "higher counter wins")
	assert.False(t, a1.Dominates(a2))
	assert.True(t, b1.Dominates(a1), "counter tie broken by node id, greater wins")
	assert.False(t, a1.Dominates(a1), "a tag never dominates itself")

	assert.Equal(t, 0, a1.Compare(a1))
	assert.Equal(t, -1, a1.Compare(b1))
	assert.Equal(t, 1, b1.Compare(a1))
}

func TestLamportTagZero(t *testing.T) {
	assert.True(t, LamportTag{}.Zero())
	assert.False(t, LamportTag{Counter: 1, NodeID: "A"}.Zero())
}
