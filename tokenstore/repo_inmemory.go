// Package tokenstore persists session token sets between runs.
package tokenstore

import (
	"sync"

	apperrors "github.com/jrsteele09/safe-zone-client/internal/errors"
	"github.com/jrsteele09/safe-zone-client/session"
)

var (
	_ session.TokenStore = (*InMemory)(nil)
	_ session.TokenStore = (*Bolt)(nil)
)

// InMemory keeps token sets for the lifetime of the process.
type InMemory struct {
	mu     sync.RWMutex
	tokens map[string]session.TokenSet // issuer -> tokens
}

func NewInMemory() *InMemory {
	return &InMemory{tokens: make(map[string]session.TokenSet)}
}

func (r *InMemory) Save(issuer string, tokens session.TokenSet) error {
	if issuer == "" {
		return apperrors.ErrEmptyIssuer
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tokens[issuer] = tokens
	return nil
}

func (r *InMemory) Load(issuer string) (*session.TokenSet, error) {
	if issuer == "" {
		return nil, apperrors.ErrEmptyIssuer
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	tokens, ok := r.tokens[issuer]
	if !ok {
		return nil, apperrors.Wrapf(apperrors.ErrNotFound, "tokens for %s", issuer)
	}
	return &tokens, nil
}

// Delete removes the tokens for issuer. Deleting a missing entry is not an
// error.
func (r *InMemory) Delete(issuer string) error {
	if issuer == "" {
		return apperrors.ErrEmptyIssuer
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tokens, issuer)
	return nil
}
