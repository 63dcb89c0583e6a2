package tracker

import (
	"context"
	"errors"
	"fmt"

	"github.com/h0rv/bugbox/internal/kv"
)

// TokenCache keeps an auth token in one or more storage tiers, ordered fastest first.
// Reads fall through to slower tiers and mirror a hit back into the faster ones;
// writes go through to every tier.
type TokenCache struct {
	key   string
	tiers []kv.Store
}

// NewTokenCache creates a cache storing the token under key in each tier.
// Nil tiers are skipped.
func NewTokenCache(key string, tiers ...kv.Store) *TokenCache {
	c := &TokenCache{key: key}
	for _, tier := range tiers {
		if tier != nil {
			c.tiers = append(c.tiers, tier)
		}
	}
	return c
}

// Get returns the token, or "" when no tier holds one.
func (c *TokenCache) Get(ctx context.Context) (string, error) {
	for i, tier := range c.tiers {
		has, err := tier.Has(ctx, c.key)
		if err != nil {
			return "", fmt.Errorf("failed to read token: %w", err)
		}
		if !has {
			continue
		}

		token, err := tier.Get(ctx, c.key)
		if err != nil {
			return "", fmt.Errorf("failed to read token: %w", err)
		}
		if token == "" {
			continue
		}

		for _, faster := range c.tiers[:i] {
			if err := faster.Set(ctx, c.key, token); err != nil {
				return "", fmt.Errorf("failed to mirror token: %w", err)
			}
		}
		return token, nil
	}
	return "", nil
}

// Set writes token to every tier. An empty token clears it everywhere.
func (c *TokenCache) Set(ctx context.Context, token string) error {
	var errs []error
	for _, tier := range c.tiers {
		if err := tier.Set(ctx, c.key, token); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("failed to store token: %w", err)
	}
	return nil
}

// Clear removes the token from every tier.
func (c *TokenCache) Clear(ctx context.Context) error {
	return c.Set(ctx, "")
}

// SelectedProject is the session-scoped id of the most recently fetched project.
type SelectedProject struct {
	key   string
	store kv.Store
}

// NewSelectedProject creates a selected-project reference stored under key.
func NewSelectedProject(key string, store kv.Store) *SelectedProject {
	return &SelectedProject{key: key, store: store}
}

// Get returns the selected project id, or "" if none.
func (s *SelectedProject) Get(ctx context.Context) string {
	id, err := s.store.Get(ctx, s.key)
	if err != nil {
		return ""
	}
	return id
}

// Set records id as the selected project. An empty id clears it.
func (s *SelectedProject) Set(ctx context.Context, id string) error {
	if err := s.store.Set(ctx, s.key, id); err != nil {
		return fmt.Errorf("failed to store selected project: %w", err)
	}
	return nil
}
