package postgres

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"pgregory.net/rapid"
)

// cheapHashing lowers the bcrypt cost for the duration of a test.
func cheapHashing(t *testing.T) {
	prev := passwordCost
	passwordCost = bcrypt.MinCost
	t.Cleanup(func() { passwordCost = prev })
}

func TestHashPassword_UsesConfiguredCost(t *testing.T) {
	cheapHashing(t)
	hash, err := HashPassword("ember")
	require.NoError(t, err)
	cost, err := bcrypt.Cost([]byte(hash))
	require.NoError(t, err)
	assert.Equal(t, bcrypt.MinCost, cost)
	assert.NotContains(t, hash, "ember")
}

func TestHashPassword_TooLong(t *testing.T) {
	cheapHashing(t)
	_, err := HashPassword(string(make([]byte, 73)))
	assert.Error(t, err)
}

func TestValidRole(t *testing.T) {
	for role, want := range map[string]bool{
		RolePlayer: true, RoleGM: true, RoleAdmin: true,
		"": false, "editor": false, "GM": false,
	} {
		assert.Equal(t, want, ValidRole(role), "role %q", role)
	}
}

func TestAccount_Operator(t *testing.T) {
	gm := Account{ID: 42, Username: "gail", Role: RoleGM}
	op := gm.Operator("table_a")
	assert.Equal(t, "42", op.UserID)
	assert.Equal(t, "gail", op.Username)
	assert.Equal(t, "table_a", op.TableID)
	assert.True(t, op.Privileged())
	assert.Nil(t, op.Inbox)

	assert.False(t, Account{ID: 7, Role: RolePlayer}.Operator("table_a").Privileged())
}

func TestPropertyCheckPassword_MatchesOnlyOriginal(t *testing.T) {
	cheapHashing(t)
	rapid.Check(t, func(t *rapid.T) {
		password := rapid.StringMatching(`[a-zA-Z0-9!@#$%^&*]{1,64}`).Draw(t, "password")
		other := rapid.StringMatching(`[a-zA-Z0-9]{1,64}`).Draw(t, "other")

		hash, err := HashPassword(password)
		require.NoError(t, err)
		assert.True(t, CheckPassword(password, hash))
		if other != password {
			assert.False(t, CheckPassword(other, hash))
		}
	})
}

func TestPropertyHashPassword_Salted(t *testing.T) {
	cheapHashing(t)
	rapid.Check(t, func(t *rapid.T) {
		password := rapid.StringMatching(`[a-zA-Z]{6,20}`).Draw(t, "password")
		h1, err := HashPassword(password)
		require.NoError(t, err)
		h2, err := HashPassword(password)
		require.NoError(t, err)
		assert.NotEqual(t, h1, h2)
	})
}
