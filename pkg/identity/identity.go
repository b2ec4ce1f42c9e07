// Package identity integrates the identity provider's management API:
// profile lookups for checkout and session-token verification for the
// HTTP layer.
package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/clerk/clerk-sdk-go/v2"
	clerkjwt "github.com/clerk/clerk-sdk-go/v2/jwt"
	clerkuser "github.com/clerk/clerk-sdk-go/v2/user"
)

var (
	ErrUserNotFound = errors.New("identity user not found")
	ErrInvalidToken = errors.New("invalid session token")
)

// Config holds identity-provider configuration.
type Config struct {
	SecretKey     string `env:"CLERK_SECRET_KEY,required"`
	WebhookSecret string `env:"CLERK_WEBHOOK_SECRET,required"`
}

// Profile is the subset of an identity account used for billing.
type Profile struct {
	ID    string
	Email string
	Name  string
}

// ProfileResolver fetches account profiles by subject id.
type ProfileResolver interface {
	Profile(ctx context.Context, userID string) (*Profile, error)
}

// TokenVerifier validates a session token and returns the subject id.
type TokenVerifier interface {
	VerifyToken(ctx context.Context, token string) (string, error)
}

// Client wraps the identity provider SDK. The SDK key is also installed
// as the package default because token verification fetches the
// provider's JWKS through it.
type Client struct {
	users *clerkuser.Client
}

// NewClient creates an identity client for the given configuration.
func NewClient(cfg Config) (*Client, error) {
	if cfg.SecretKey == "" {
		return nil, errors.New("identity secret key is required")
	}

	clerk.SetKey(cfg.SecretKey)

	clientCfg := &clerk.ClientConfig{}
	clientCfg.Key = clerk.String(cfg.SecretKey)

	return &Client{users: clerkuser.NewClient(clientCfg)}, nil
}

// Profile fetches the user's profile from the identity provider.
func (c *Client) Profile(ctx context.Context, userID string) (*Profile, error) {
	u, err := c.users.Get(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUserNotFound, userID)
	}

	return &Profile{
		ID:    u.ID,
		Email: primaryEmail(u),
		Name:  displayName(u),
	}, nil
}

// VerifyToken validates a session JWT and returns the subject id.
func (c *Client) VerifyToken(ctx context.Context, token string) (string, error) {
	claims, err := clerkjwt.Verify(ctx, &clerkjwt.VerifyParams{Token: token})
	if err != nil {
		return "", errors.Join(ErrInvalidToken, err)
	}
	return claims.Subject, nil
}

func primaryEmail(u *clerk.User) string {
	if u.PrimaryEmailAddressID != nil {
		for _, addr := range u.EmailAddresses {
			if addr.ID == *u.PrimaryEmailAddressID {
				return addr.EmailAddress
			}
		}
	}
	if len(u.EmailAddresses) > 0 {
		return u.EmailAddresses[0].EmailAddress
	}
	return ""
}

func displayName(u *clerk.User) string {
	var parts []string
	if u.FirstName != nil && *u.FirstName != "" {
		parts = append(parts, *u.FirstName)
	}
	if u.LastName != nil && *u.LastName != "" {
		parts = append(parts, *u.LastName)
	}
	if len(parts) > 0 {
		return strings.Join(parts, " ")
	}
	if u.Username != nil {
		return *u.Username
	}
	return ""
}
