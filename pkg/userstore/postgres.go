package userstore

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dmitrymomot/membergate/pkg/entitlement"
	"github.com/dmitrymomot/membergate/pkg/pg"
)

type postgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore returns a Store backed by the given pgx pool.
func NewPostgresStore(pool *pgxpool.Pool) Store {
	if pool == nil {
		panic("userstore: pgx pool is required")
	}
	return &postgresStore{pool: pool}
}

const userColumns = `id, email, name, avatar_url,
	COALESCE(billing_customer_id, ''), COALESCE(billing_subscription_id, ''), COALESCE(billing_price_id, ''),
	subscription_tier, subscription_status, current_period_end, subscription_version,
	created_at, updated_at`

func (s *postgresStore) scanUser(row interface{ Scan(...any) error }) (*User, error) {
	var u User
	var tier, status string
	err := row.Scan(
		&u.ID, &u.Email, &u.Name, &u.AvatarURL,
		&u.BillingCustomerID, &u.BillingSubscriptionID, &u.BillingPriceID,
		&tier, &status, &u.CurrentPeriodEnd, &u.SubscriptionVersion,
		&u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		if pg.IsNotFoundError(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan user row: %w", err)
	}
	u.SubscriptionTier = entitlement.Tier(tier)
	u.SubscriptionStatus = entitlement.Status(status)
	return &u, nil
}

func (s *postgresStore) Get(ctx context.Context, id string) (*User, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	return s.scanUser(row)
}

func (s *postgresStore) GetByEmail(ctx context.Context, email string) (*User, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email)
	return s.scanUser(row)
}

func (s *postgresStore) GetByCustomerID(ctx context.Context, customerID string) (*User, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE billing_customer_id = $1`, customerID)
	return s.scanUser(row)
}

func (s *postgresStore) Create(ctx context.Context, user *User) error {
	tier := user.SubscriptionTier
	if tier == "" {
		tier = entitlement.TierFree
	}
	status := user.SubscriptionStatus
	if status == "" {
		status = entitlement.StatusFree
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO users (id, email, name, avatar_url, billing_customer_id, subscription_tier, subscription_status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $7, now(), now())`,
		user.ID, user.Email, user.Name, user.AvatarURL, user.BillingCustomerID, string(tier), string(status),
	)
	if err != nil {
		if pg.IsDuplicateKeyError(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

func (s *postgresStore) UpsertProfile(ctx context.Context, id, email, name, avatarURL string) error {
	// Conflict target is the primary key so replayed identity events
	// update in place. Billing fields are deliberately untouched.
	_, err := s.pool.Exec(ctx, `
		INSERT INTO users (id, email, name, avatar_url, subscription_tier, subscription_status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, 'FREE', 'FREE', now(), now())
		ON CONFLICT (id) DO UPDATE
		SET email = EXCLUDED.email, name = EXCLUDED.name, avatar_url = EXCLUDED.avatar_url, updated_at = now()`,
		id, email, name, avatarURL,
	)
	if err != nil {
		if pg.IsDuplicateKeyError(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("failed to upsert user profile: %w", err)
	}
	return nil
}

func (s *postgresStore) Delete(ctx context.Context, id string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM users WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}
	// Zero rows affected is success: the row may already be gone.
	return nil
}

func (s *postgresStore) Rekey(ctx context.Context, oldID, newID string) error {
	tag, err := s.pool.Exec(ctx, `UPDATE users SET id = $2, updated_at = now() WHERE id = $1`, oldID, newID)
	if err != nil {
		if pg.IsDuplicateKeyError(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("failed to rekey user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *postgresStore) SetBillingCustomer(ctx context.Context, id, customerID string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE users SET billing_customer_id = NULLIF($2, ''), updated_at = now() WHERE id = $1`,
		id, customerID,
	)
	if err != nil {
		if pg.IsDuplicateKeyError(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("failed to set billing customer: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *postgresStore) ApplySubscriptionState(ctx context.Context, customerID string, state SubscriptionState) error {
	if _, err := s.GetByCustomerID(ctx, customerID); err != nil {
		return err
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE users
		SET billing_subscription_id = NULLIF($2, ''),
		    billing_price_id = NULLIF($3, ''),
		    subscription_tier = $4,
		    subscription_status = $5,
		    current_period_end = $6,
		    subscription_version = $7,
		    updated_at = now()
		WHERE billing_customer_id = $1 AND subscription_version <= $7`,
		customerID, state.SubscriptionID, state.PriceID,
		string(entitlement.NormalizeTier(state.Tier)), string(state.Status),
		state.CurrentPeriodEnd, state.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to apply subscription state: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrStaleEvent
	}
	return nil
}

func (s *postgresStore) SetSubscriptionStatus(ctx context.Context, customerID string, status entitlement.Status, version int64) error {
	if _, err := s.GetByCustomerID(ctx, customerID); err != nil {
		return err
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE users
		SET subscription_status = $2,
		    subscription_version = $3,
		    updated_at = now()
		WHERE billing_customer_id = $1 AND subscription_version <= $3`,
		customerID, string(status), version,
	)
	if err != nil {
		return fmt.Errorf("failed to set subscription status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrStaleEvent
	}
	return nil
}

func (s *postgresStore) ClearSubscription(ctx context.Context, customerID string, version int64) error {
	if _, err := s.GetByCustomerID(ctx, customerID); err != nil {
		return err
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE users
		SET billing_subscription_id = NULL,
		    billing_price_id = NULL,
		    subscription_tier = $2,
		    subscription_status = $3,
		    subscription_version = $4,
		    updated_at = now()
		WHERE billing_customer_id = $1 AND subscription_version <= $4`,
		customerID, string(entitlement.TierFree), string(entitlement.StatusCanceled), version,
	)
	if err != nil {
		return fmt.Errorf("failed to clear subscription: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrStaleEvent
	}
	return nil
}
