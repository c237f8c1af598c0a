// file: services/identity_test.go
package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-score-hub/models"
)

func TestValidate_GoodToken(t *testing.T) {
	svc := NewTokenIdentityService()
	require.NoError(t, svc.Register("j1", "secret-token", models.RoleJudge))

	role, err := svc.Validate("secret-token", "s1", "j1")
	assert.NoError(t, err)
	assert.Equal(t, models.RoleJudge, role)
}

func TestValidate_BadToken(t *testing.T) {
	svc := NewTokenIdentityService()
	require.NoError(t, svc.Register("j1", "secret-token", models.RoleJudge))

	_, err := svc.Validate("wrong", "s1", "j1")
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestValidate_UnknownJudge(t *testing.T) {
	svc := NewTokenIdentityService()
	_, err := svc.Validate("whatever", "s1", "ghost")
	assert.ErrorIs(t, err, ErrUnauthorized)
}

// A judge with a session allow-list cannot join other sessions.
func TestValidate_SessionAllowList(t *testing.T) {
	svc := NewTokenIdentityService()
	require.NoError(t, svc.Register("j1", "tok", models.RoleJudge, "s1", "s2"))

	_, err := svc.Validate("tok", "s1", "j1")
	assert.NoError(t, err)

	_, err = svc.Validate("tok", "s9", "j1")
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestAuthorizationPredicates(t *testing.T) {
	svc := NewTokenIdentityService()
	assert.True(t, svc.CanResolveConflicts("hj", models.RoleHeadJudge))
	assert.False(t, svc.CanResolveConflicts("j1", models.RoleJudge))
	assert.False(t, svc.CanResolveConflicts("obs", models.RoleObserver))
	assert.True(t, svc.CanAmendSubmitted("hj", models.RoleHeadJudge))
	assert.False(t, svc.CanAmendSubmitted("j1", models.RoleJudge))
}
