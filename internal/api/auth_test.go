package api

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/teleclinic/teleclinic/internal/database"
	"github.com/teleclinic/teleclinic/internal/types"
)

func TestNormalizeRole(t *testing.T) {
	tests := []struct {
		input    string
		expected types.Role
	}{
		{"patient", types.RolePatient},
		{"patients", types.RolePatient},
		{"Doctors", types.RoleDoctor},
		{"DOCTOR", types.RoleDoctor},
		{"admin", types.RoleAdmin},
	}

	for _, tc := range tests {
		assert.Equal(t, tc.expected, normalizeRole(tc.input))
	}
}

func TestPasswordHashing(t *testing.T) {
	hash, err := hashPassword("s3cret-passw0rd")
	require.NoError(t, err)
	assert.NotEqual(t, "s3cret-passw0rd", hash)
	assert.True(t, verifyPassword(hash, "s3cret-passw0rd"))
	assert.False(t, verifyPassword(hash, "wrong"))
}

func TestTokenRoundTrip(t *testing.T) {
	app, _ := newTestApp(t, &database.MockRepository{})

	identity := types.Identity{UserId: 7, Role: types.RoleDoctor}
	token, err := app.createJwtForSession(identity, time.Hour)
	require.NoError(t, err)

	extracted, err := app.extractIdentityFromToken(token)
	require.NoError(t, err)
	assert.Equal(t, identity, extracted)
}

func TestExpiredTokenRejected(t *testing.T) {
	app, _ := newTestApp(t, &database.MockRepository{})

	token, err := app.createJwtForSession(types.Identity{UserId: 7, Role: types.RoleDoctor}, -time.Hour)
	require.NoError(t, err)

	_, err = app.extractIdentityFromToken(token)
	assert.Error(t, err)
}

func TestTokenWithForeignKeyRejected(t *testing.T) {
	app, _ := newTestApp(t, &database.MockRepository{})
	other, _ := newTestApp(t, &database.MockRepository{})
	other.signingKey = []byte("some-other-signing-key")

	token, err := other.createJwtForSession(types.Identity{UserId: 7, Role: types.RoleDoctor}, time.Hour)
	require.NoError(t, err)

	_, err = app.extractIdentityFromToken(token)
	assert.Error(t, err)
}

func TestTokenWithInvalidRoleRejected(t *testing.T) {
	app, _ := newTestApp(t, &database.MockRepository{})

	token, err := app.createJwtForSession(types.Identity{UserId: 7, Role: types.Role("janitor")}, time.Hour)
	require.NoError(t, err)

	_, err = app.extractIdentityFromToken(token)
	assert.Error(t, err)
}
