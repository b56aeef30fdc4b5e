package ice

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestResolveRoleConflictControllingWinsOnHigherTieBreaker covers RFC 8445
// §7.3.1.1: a controlling agent whose tie-breaker is >= the peer's keeps
// its role and rejects the peer's request with 487.
func TestResolveRoleConflictControllingWinsOnHigherTieBreaker(t *testing.T) {
	role, reject := ResolveRoleConflict(RoleControlling, 100, 50)
	assert.Equal(t, RoleControlling, role)
	assert.True(t, reject)
}

func TestResolveRoleConflictControllingSwitchesOnLowerTieBreaker(t *testing.T) {
	role, reject := ResolveRoleConflict(RoleControlling, 50, 100)
	assert.Equal(t, RoleControlled, role)
	assert.False(t, reject)
}

func TestResolveRoleConflictControlledWinsOnHigherTieBreaker(t *testing.T) {
	role, reject := ResolveRoleConflict(RoleControlled, 100, 50)
	assert.Equal(t, RoleControlled, role)
	assert.True(t, reject)
}

func TestResolveRoleConflictControlledSwitchesOnLowerTieBreaker(t *testing.T) {
	role, reject := ResolveRoleConflict(RoleControlled, 50, 100)
	assert.Equal(t, RoleControlling, role)
	assert.False(t, reject)
}

func TestResolveRoleConflictEqualTieBreakerFavorsIncumbent(t *testing.T) {
	role, reject := ResolveRoleConflict(RoleControlling, 42, 42)
	assert.Equal(t, RoleControlling, role)
	assert.True(t, reject)
}

func TestRoleString(t *testing.T) {
	assert.Equal(t, "controlling", RoleControlling.String())
	assert.Equal(t, "controlled", RoleControlled.String())
}
