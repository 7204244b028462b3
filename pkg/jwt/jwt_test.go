package jwt

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueAndVerify(t *testing.T) {
	svc := NewService("test-secret", time.Hour)

	t.Run("Round Trip", func(t *testing.T) {
		token, err := svc.Issue("payment-service", RoleInternalConsumer)
		require.NoError(t, err)

		claims, err := svc.Verify(token)
		require.NoError(t, err)
		assert.Equal(t, "payment-service", claims.ActorID)
		assert.Equal(t, RoleInternalConsumer, claims.Role)
	})

	t.Run("Unknown Role Rejected At Issue", func(t *testing.T) {
		_, err := svc.Issue("x", Role("SUPERUSER"))
		assert.Error(t, err)
	})

	t.Run("Wrong Secret", func(t *testing.T) {
		token, err := svc.Issue("ops", RoleAdmin)
		require.NoError(t, err)

		other := NewService("other-secret", time.Hour)
		_, err = other.Verify(token)
		assert.Error(t, err)
	})

	t.Run("Expired Token", func(t *testing.T) {
		short := NewService("test-secret", -time.Minute)
		token, err := short.Issue("ops", RoleSupport)
		require.NoError(t, err)

		_, err = svc.Verify(token)
		assert.Error(t, err)
	})
}

func TestRolePIIAccess(t *testing.T) {
	assert.True(t, RoleAdmin.CanReadPlaintextPII())
	assert.True(t, RoleOwner.CanReadPlaintextPII())
	assert.False(t, RoleSupport.CanReadPlaintextPII())
	assert.False(t, RoleServiceLookup.CanReadPlaintextPII())
	assert.False(t, RoleInternalConsumer.CanReadPlaintextPII())
}
