package utils

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPasswordRoundTrip(t *testing.T) {
	cheap := Argon2Params{Memory: 1024, Time: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32}
	hash, err := HashPasswordWith("correct horse battery", cheap)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(hash, "$argon2id$v=19$m=1024,t=1,p=1$"))

	ok, err := VerifyPassword("correct horse battery", hash)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = VerifyPassword("correct horse", hash)
	require.NoError(t, err)
	assert.False(t, ok)

	other, err := HashPasswordWith("correct horse battery", cheap)
	require.NoError(t, err)
	assert.NotEqual(t, hash, other, "salted")
}

func TestVerifyPasswordRejectsMalformedHash(t *testing.T) {
	for _, h := range []string{
		"",
		"plaintext",
		"$bcrypt$v=19$m=1024,t=1,p=1$c2FsdA$aGFzaA",
		"$argon2id$v=18$m=1024,t=1,p=1$c2FsdA$aGFzaA",
		"$argon2id$v=19$m=x,t=1,p=1$c2FsdA$aGFzaA",
		"$argon2id$v=19$m=1024,t=1,p=1$!!!$aGFzaA",
	} {
		_, err := VerifyPassword("pw", h)
		assert.ErrorIs(t, err, ErrInvalidHash, h)
	}
}

func TestValidateUsername(t *testing.T) {
	assert.NoError(t, ValidateUsername("ops.lead-1"))
	for _, bad := range []string{"ab", "_ops", "ops lead", strings.Repeat("a", 33)} {
		err := ValidateUsername(bad)
		var verr *ValidationError
		require.True(t, errors.As(err, &verr), bad)
		assert.Equal(t, "username", verr.Field)
	}
	assert.Error(t, ValidatePassword("short"))
	assert.NoError(t, ValidatePassword("long enough password"))
}
