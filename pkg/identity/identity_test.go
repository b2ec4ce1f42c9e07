package identity

import (
	"testing"

	"github.com/clerk/clerk-sdk-go/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDisplayName(t *testing.T) {
	t.Parallel()

	t.Run("first and last name", func(t *testing.T) {
		t.Parallel()
		u := &clerk.User{
			FirstName: clerk.String("Ada"),
			LastName:  clerk.String("Lovelace"),
		}
		assert.Equal(t, "Ada Lovelace", displayName(u))
	})

	t.Run("first name only", func(t *testing.T) {
		t.Parallel()
		u := &clerk.User{FirstName: clerk.String("Ada"), LastName: clerk.String("")}
		assert.Equal(t, "Ada", displayName(u))
	})

	t.Run("falls back to username", func(t *testing.T) {
		t.Parallel()
		u := &clerk.User{Username: clerk.String("ada42")}
		assert.Equal(t, "ada42", displayName(u))
	})

	t.Run("nothing available", func(t *testing.T) {
		t.Parallel()
		assert.Empty(t, displayName(&clerk.User{}))
	})
}

func TestPrimaryEmail(t *testing.T) {
	t.Parallel()

	t.Run("primary id wins over order", func(t *testing.T) {
		t.Parallel()
		u := &clerk.User{
			PrimaryEmailAddressID: clerk.String("em_2"),
			EmailAddresses: []*clerk.EmailAddress{
				{ID: "em_1", EmailAddress: "old@example.com"},
				{ID: "em_2", EmailAddress: "ada@example.com"},
			},
		}
		assert.Equal(t, "ada@example.com", primaryEmail(u))
	})

	t.Run("dangling primary id falls back to first", func(t *testing.T) {
		t.Parallel()
		u := &clerk.User{
			PrimaryEmailAddressID: clerk.String("em_gone"),
			EmailAddresses: []*clerk.EmailAddress{
				{ID: "em_1", EmailAddress: "old@example.com"},
			},
		}
		assert.Equal(t, "old@example.com", primaryEmail(u))
	})

	t.Run("no addresses", func(t *testing.T) {
		t.Parallel()
		assert.Empty(t, primaryEmail(&clerk.User{}))
	})
}

func TestNewClient_RequiresSecretKey(t *testing.T) {
	_, err := NewClient(Config{})
	require.Error(t, err)
}
