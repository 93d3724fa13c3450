package session

import (
	"context"

	"github.com/jonboulle/clockwork"
	apperrors "github.com/jrsteele09/safe-zone-client/internal/errors"
)

const refreshKey = "refresh"

// Refresh runs the refresh grant now. Concurrent callers share one request.
// It reports whether the session is still logged in afterwards.
func (m *Manager) Refresh(ctx context.Context) bool {
	_, _, _ = m.refreshGroup.Do(refreshKey, func() (interface{}, error) {
		m.doRefresh(ctx)
		return nil, nil
	})
	return m.LoggedIn()
}

// armRefreshLocked replaces the running refresh loop. m.mu must be held.
func (m *Manager) armRefreshLocked() {
	m.stopRefreshLocked()

	ctx, cancel := context.WithCancel(context.Background())
	ticker := m.clock.NewTicker(m.settings.RefreshInterval)
	m.stopRefresh = cancel
	m.ticker = ticker
	go m.refreshLoop(ctx, ticker)
}

// stopRefreshLocked stops the refresh loop if one is running. m.mu must be
// held. Once it returns the old ticker delivers no further ticks.
func (m *Manager) stopRefreshLocked() {
	if m.stopRefresh != nil {
		m.stopRefresh()
		m.stopRefresh = nil
	}
	if m.ticker != nil {
		m.ticker.Stop()
		m.ticker = nil
	}
}

// refreshLoop checks the tokens against the clock on every tick. Ticks may be
// coalesced, so the clock is read rather than the tick value.
func (m *Manager) refreshLoop(ctx context.Context, ticker clockwork.Ticker) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			if ctx.Err() != nil {
				return
			}
			m.refreshIfDue(ctx)
		}
	}
}

func (m *Manager) refreshIfDue(ctx context.Context) {
	m.mu.Lock()
	due := m.tokens.ShouldRefresh(m.clock.Now(), m.settings.RefreshMargin)
	m.mu.Unlock()
	if !due {
		return
	}
	m.logger.Debug().Msg("Access token close to expiry, refreshing")
	m.Refresh(ctx)
}

func (m *Manager) doRefresh(ctx context.Context) {
	m.mu.Lock()
	current := m.tokens
	d := m.discovery
	if current == nil || d == nil {
		m.mu.Unlock()
		return
	}
	m.phase = PhaseRefreshing
	m.mu.Unlock()
	m.publish()

	var (
		next *TokenSet
		err  error
	)
	if current.RefreshToken == "" {
		err = apperrors.ErrMissingRefreshToken
	} else {
		next, err = m.provider.Refresh(ctx, d, current.RefreshToken)
		if err == nil && next == nil {
			err = apperrors.ErrRefreshFailed
		}
	}

	m.mu.Lock()
	if ctx.Err() != nil || m.tokens != current || m.closed {
		// The loop was stopped or the session changed while the grant was in
		// flight; the result belongs to a session that no longer exists.
		if m.tokens == current && m.phase == PhaseRefreshing {
			m.phase = PhaseAuthenticated
		}
		m.mu.Unlock()
		m.publish()
		return
	}

	if err != nil {
		m.tokens = nil
		m.phase = PhaseLoggedOut
		m.lastErr = apperrors.Wrapf(apperrors.ErrRefreshFailed, "%v", err)
		m.stopRefreshLocked()
		issuer := m.issuer
		m.mu.Unlock()

		m.logger.Err(err).Msg("Failed to refresh tokens, logging out")
		m.forget(issuer)
		m.BuildRequest()
		return
	}

	if next.RefreshToken == "" {
		next.RefreshToken = current.RefreshToken
	}
	if next.IDToken == "" {
		next.IDToken = current.IDToken
	}
	issuer := m.applyTokensLocked(next)
	m.mu.Unlock()

	m.persist(issuer, next)
	m.publish()
	m.logger.Debug().Time("expiry", next.Expiry).Msg("Tokens refreshed")
}
