package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateUsername(t *testing.T) {
	assert.NoError(t, ValidateUsername("abc"))
	assert.NoError(t, ValidateUsername("Alice99"))
	assert.NoError(t, ValidateUsername("a1234567890123456789"))

	assert.ErrorIs(t, ValidateUsername("ab"), ErrUsernameTooShort)
	assert.ErrorIs(t, ValidateUsername(""), ErrUsernameTooShort)
	assert.ErrorIs(t, ValidateUsername("a12345678901234567890"), ErrUsernameTooLong)
	assert.ErrorIs(t, ValidateUsername("has space"), ErrUsernameInvalid)
	assert.ErrorIs(t, ValidateUsername("semi;colon"), ErrUsernameInvalid)
	assert.ErrorIs(t, ValidateUsername("émile"), ErrUsernameInvalid)
}

func TestConfidentialTypes(t *testing.T) {
	assert.True(t, TypeMessage.Confidential())
	assert.True(t, TypeAuth.Confidential())
	assert.False(t, TypeJoin.Confidential())
	assert.False(t, TypeLeave.Confidential())
	assert.False(t, TypePublicKey.Confidential())
	assert.False(t, TypeAuthResult.Confidential())
	assert.False(t, TypeUsernameResult.Confidential())
}
