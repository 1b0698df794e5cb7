package auth_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fundops/capcall-api/internal/auth"
)

func TestGenerateToken_RoundTrip(t *testing.T) {
	svc := auth.NewService("test-secret")
	svc.RegisterAPICredentials("ops-key", "ops-secret")

	token, err := svc.GenerateToken(auth.Credentials{APIKey: "ops-key", APISecret: "ops-secret"})
	require.NoError(t, err)
	require.NotEmpty(t, token.Token)

	claims, err := svc.ValidateToken(token.Token)
	require.NoError(t, err)
	assert.Equal(t, "ops-key", claims.ClientID)
	assert.ElementsMatch(t, auth.AllPermissions, claims.Permissions)
}

func TestGenerateToken_InvalidCredentials(t *testing.T) {
	svc := auth.NewService("test-secret")
	svc.RegisterAPICredentials("ops-key", "ops-secret")

	_, err := svc.GenerateToken(auth.Credentials{APIKey: "ops-key", APISecret: "wrong"})
	require.ErrorIs(t, err, auth.ErrInvalidCredentials)

	_, err = svc.GenerateToken(auth.Credentials{APIKey: "unknown", APISecret: "ops-secret"})
	require.ErrorIs(t, err, auth.ErrInvalidCredentials)
}

func TestValidateToken_RejectsWrongSecret(t *testing.T) {
	issuer := auth.NewService("secret-a")
	issuer.RegisterAPICredentials("ops-key", "ops-secret")
	token, err := issuer.GenerateToken(auth.Credentials{APIKey: "ops-key", APISecret: "ops-secret"})
	require.NoError(t, err)

	verifier := auth.NewService("secret-b")
	_, err = verifier.ValidateToken(token.Token)
	require.Error(t, err)
}

func TestActor_Require(t *testing.T) {
	actor := auth.Actor{
		ClientID:    "ops",
		Permissions: []string{auth.PermIssueDrawdowns},
	}

	assert.NoError(t, actor.Require(auth.PermIssueDrawdowns))
	assert.True(t, actor.Can(auth.PermIssueDrawdowns))
	assert.False(t, actor.Can(auth.PermAllot))

	err := actor.Require(auth.PermAllot)
	require.ErrorIs(t, err, auth.ErrPermissionDenied)
}
