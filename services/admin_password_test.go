package services

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdminAuth(t *testing.T) {
	open := NewAdminAuth("")
	assert.False(t, open.Required())
	assert.True(t, open.LoggedIn(900))

	hash, err := HashPassword("s3cret!")
	require.NoError(t, err)
	a := NewAdminAuth(hash)
	assert.True(t, a.Required())
	assert.False(t, a.LoggedIn(900))

	assert.False(t, a.Login(900, "wrong"))
	assert.False(t, a.LoggedIn(900))
	assert.True(t, a.Login(900, "s3cret!"))
	assert.True(t, a.LoggedIn(900))
	assert.False(t, a.LoggedIn(901), "login is per user")
}

func TestGenerateSecurePassword(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 20; i++ {
		pw, err := GenerateSecurePassword()
		require.NoError(t, err)
		assert.Len(t, pw, passwordLen)
		assert.True(t, strings.ContainsAny(pw, upperLetters))
		assert.True(t, strings.ContainsAny(pw, lowerLetters))
		assert.True(t, strings.ContainsAny(pw, digits))
		assert.True(t, strings.ContainsAny(pw, symbols))
		seen[pw] = true
	}
	assert.Len(t, seen, 20)
}
