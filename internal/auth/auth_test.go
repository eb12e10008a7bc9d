package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/kensaku/internal/model"
)

func TestIssueAndValidateToken(t *testing.T) {
	m, err := NewJWTManager("", "", time.Hour)
	require.NoError(t, err)

	user := model.UserContext{UserID: "u-123", Role: model.RoleAdmin, Email: "ops@example.com"}
	token, exp, err := m.IssueToken(user)
	require.NoError(t, err)
	assert.True(t, exp.After(time.Now()))

	claims, err := m.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, user, claims.User())
}

func TestValidateTokenRejectsExpired(t *testing.T) {
	m, err := NewJWTManager("", "", -time.Minute)
	require.NoError(t, err)

	token, _, err := m.IssueToken(model.UserContext{UserID: "u1", Role: model.RoleUser})
	require.NoError(t, err)

	_, err = m.ValidateToken(token)
	assert.Error(t, err)
}

func TestValidateTokenRejectsForeignKey(t *testing.T) {
	issuerMgr, err := NewJWTManager("", "", time.Hour)
	require.NoError(t, err)
	verifierMgr, err := NewJWTManager("", "", time.Hour)
	require.NoError(t, err)

	token, _, err := issuerMgr.IssueToken(model.UserContext{UserID: "u1", Role: model.RoleUser})
	require.NoError(t, err)

	_, err = verifierMgr.ValidateToken(token)
	assert.Error(t, err)
}

func TestValidateTokenRejectsMissingRole(t *testing.T) {
	m, err := NewJWTManager("", "", time.Hour)
	require.NoError(t, err)

	token, _, err := m.IssueToken(model.UserContext{UserID: "u1"})
	require.NoError(t, err)

	_, err = m.ValidateToken(token)
	assert.Error(t, err)
}

func TestHashAndVerifyAPIKey(t *testing.T) {
	hash, err := HashAPIKey("sk-kensaku-test")
	require.NoError(t, err)

	ok, err := VerifyAPIKey("sk-kensaku-test", hash)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = VerifyAPIKey("wrong-key", hash)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestVerifyAPIKeyInvalidFormat(t *testing.T) {
	_, err := VerifyAPIKey("anything", "not-a-valid-hash")
	assert.Error(t, err)
}
