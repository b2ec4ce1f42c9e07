package userstore

import (
	"context"
	"sync"
	"time"

	"github.com/dmitrymomot/membergate/pkg/entitlement"
)

// memoryStore is an in-memory Store with the same uniqueness and
// version-guard semantics as the Postgres implementation. Used in tests
// and local development without a database.
type memoryStore struct {
	mu    sync.Mutex
	users map[string]*User
}

// NewMemoryStore returns an empty in-memory Store.
func NewMemoryStore() Store {
	return &memoryStore{users: make(map[string]*User)}
}

func cloneUser(u *User) *User {
	c := *u
	if u.CurrentPeriodEnd != nil {
		t := *u.CurrentPeriodEnd
		c.CurrentPeriodEnd = &t
	}
	return &c
}

func (s *memoryStore) Get(_ context.Context, id string) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneUser(u), nil
}

func (s *memoryStore) GetByEmail(_ context.Context, email string) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range s.users {
		if u.Email == email {
			return cloneUser(u), nil
		}
	}
	return nil, ErrNotFound
}

func (s *memoryStore) GetByCustomerID(_ context.Context, customerID string) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.byCustomerIDLocked(customerID)
	if !ok {
		return nil, ErrNotFound
	}
	return cloneUser(u), nil
}

func (s *memoryStore) byCustomerIDLocked(customerID string) (*User, bool) {
	if customerID == "" {
		return nil, false
	}
	for _, u := range s.users {
		if u.BillingCustomerID == customerID {
			return u, true
		}
	}
	return nil, false
}

func (s *memoryStore) Create(_ context.Context, user *User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.users[user.ID]; exists {
		return ErrAlreadyExists
	}
	for _, u := range s.users {
		if user.Email != "" && u.Email == user.Email {
			return ErrAlreadyExists
		}
	}

	c := cloneUser(user)
	if c.SubscriptionTier == "" {
		c.SubscriptionTier = entitlement.TierFree
	}
	if c.SubscriptionStatus == "" {
		c.SubscriptionStatus = entitlement.StatusFree
	}
	now := time.Now().UTC()
	c.CreatedAt = now
	c.UpdatedAt = now
	s.users[c.ID] = c
	return nil
}

func (s *memoryStore) UpsertProfile(_ context.Context, id, email, name, avatarURL string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	if u, ok := s.users[id]; ok {
		u.Email = email
		u.Name = name
		u.AvatarURL = avatarURL
		u.UpdatedAt = now
		return nil
	}

	for _, u := range s.users {
		if email != "" && u.Email == email {
			return ErrAlreadyExists
		}
	}

	s.users[id] = &User{
		ID:                 id,
		Email:              email,
		Name:               name,
		AvatarURL:          avatarURL,
		SubscriptionTier:   entitlement.TierFree,
		SubscriptionStatus: entitlement.StatusFree,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	return nil
}

func (s *memoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.users, id)
	return nil
}

func (s *memoryStore) Rekey(_ context.Context, oldID, newID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[oldID]
	if !ok {
		return ErrNotFound
	}
	if _, exists := s.users[newID]; exists {
		return ErrAlreadyExists
	}

	delete(s.users, oldID)
	u.ID = newID
	u.UpdatedAt = time.Now().UTC()
	s.users[newID] = u
	return nil
}

func (s *memoryStore) SetBillingCustomer(_ context.Context, id, customerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return ErrNotFound
	}
	if other, exists := s.byCustomerIDLocked(customerID); exists && other.ID != id {
		return ErrAlreadyExists
	}

	u.BillingCustomerID = customerID
	u.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *memoryStore) ApplySubscriptionState(_ context.Context, customerID string, state SubscriptionState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.byCustomerIDLocked(customerID)
	if !ok {
		return ErrNotFound
	}
	if state.Version < u.SubscriptionVersion {
		return ErrStaleEvent
	}

	u.BillingSubscriptionID = state.SubscriptionID
	u.BillingPriceID = state.PriceID
	u.SubscriptionTier = entitlement.NormalizeTier(state.Tier)
	u.SubscriptionStatus = state.Status
	if state.CurrentPeriodEnd != nil {
		t := *state.CurrentPeriodEnd
		u.CurrentPeriodEnd = &t
	} else {
		u.CurrentPeriodEnd = nil
	}
	u.SubscriptionVersion = state.Version
	u.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *memoryStore) SetSubscriptionStatus(_ context.Context, customerID string, status entitlement.Status, version int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.byCustomerIDLocked(customerID)
	if !ok {
		return ErrNotFound
	}
	if version < u.SubscriptionVersion {
		return ErrStaleEvent
	}

	u.SubscriptionStatus = status
	u.SubscriptionVersion = version
	u.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *memoryStore) ClearSubscription(_ context.Context, customerID string, version int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.byCustomerIDLocked(customerID)
	if !ok {
		return ErrNotFound
	}
	if version < u.SubscriptionVersion {
		return ErrStaleEvent
	}

	u.BillingSubscriptionID = ""
	u.BillingPriceID = ""
	u.SubscriptionTier = entitlement.TierFree
	u.SubscriptionStatus = entitlement.StatusCanceled
	u.SubscriptionVersion = version
	u.UpdatedAt = time.Now().UTC()
	return nil
}
