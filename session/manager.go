package session

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	apperrors "github.com/jrsteele09/safe-zone-client/internal/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"
)

// DefaultRefreshInterval is how often the refresh loop checks the tokens.
const DefaultRefreshInterval = 60 * time.Second

// Phase is the lifecycle position of a Manager.
type Phase int

const (
	PhaseUninitialized Phase = iota
	PhaseDiscovering
	PhaseReady
	PhaseRequestBuilt
	PhaseAuthenticating
	PhaseAuthenticated
	PhaseRefreshing
	PhaseLoggedOut
)

var phaseNames = map[Phase]string{
	PhaseUninitialized:  "uninitialized",
	PhaseDiscovering:    "discovering",
	PhaseReady:          "ready",
	PhaseRequestBuilt:   "request_built",
	PhaseAuthenticating: "authenticating",
	PhaseAuthenticated:  "authenticated",
	PhaseRefreshing:     "refreshing",
	PhaseLoggedOut:      "logged_out",
}

func (p Phase) String() string {
	if name, ok := phaseNames[p]; ok {
		return name
	}
	return "unknown"
}

// Settings are the fixed client parameters of a Manager.
type Settings struct {
	ClientID        string
	Scopes          []string
	RedirectURI     string
	RefreshInterval time.Duration
	RefreshMargin   time.Duration
}

// Snapshot is an immutable view of the session published to observers.
type Snapshot struct {
	Phase       Phase
	Issuer      string
	LoginReady  bool
	LoggedIn    bool
	AccessToken string
	Expiry      time.Time
	Err         error
}

type Option func(*Manager)

// WithTokenStore persists tokens across runs.
func WithTokenStore(store TokenStore) Option {
	return func(m *Manager) { m.store = store }
}

// WithLauncher sets how the authorization URL is opened.
func WithLauncher(l Launcher) Option {
	return func(m *Manager) { m.launcher = l }
}

// WithClock replaces the clock driving the refresh loop.
func WithClock(c clockwork.Clock) Option {
	return func(m *Manager) { m.clock = c }
}

// WithLogger replaces the global zerolog logger.
func WithLogger(l zerolog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithStateGenerator replaces the generator of authorization state values.
func WithStateGenerator(gen func() string) Option {
	return func(m *Manager) { m.newState = gen }
}

// Manager owns the authenticated session against a single OIDC realm.
// Methods never return errors: failures are logged and reflected in the
// published Snapshot.
type Manager struct {
	provider Provider
	settings Settings
	store    TokenStore
	launcher Launcher
	clock    clockwork.Clock
	logger   zerolog.Logger
	newState func() string

	mu          sync.Mutex
	phase       Phase
	issuer      string
	discovery   *Discovery
	request     *AuthRequest
	response    *AuthResponse
	tokens      *TokenSet
	lastErr     error
	stopRefresh context.CancelFunc
	ticker      clockwork.Ticker
	closed      bool

	// droppedSession is set when a retarget discards a logged in session and
	// cleared once discovery for the new issuer completes.
	droppedSession bool

	refreshGroup singleflight.Group

	subsMu     sync.Mutex
	subs       map[int]chan Snapshot
	nextSub    int
	subsClosed bool
}

var _ oauth2.TokenSource = (*Manager)(nil)

// NewManager creates a Manager. Call Initialize to start discovery.
func NewManager(provider Provider, settings Settings, opts ...Option) *Manager {
	if settings.RefreshInterval <= 0 {
		settings.RefreshInterval = DefaultRefreshInterval
	}
	if settings.RefreshMargin <= 0 {
		settings.RefreshMargin = DefaultRefreshMargin
	}
	if len(settings.Scopes) == 0 {
		settings.Scopes = []string{"openid"}
	}

	m := &Manager{
		provider: provider,
		settings: settings,
		clock:    clockwork.NewRealClock(),
		logger:   log.Logger,
		newState: newState,
		subs:     make(map[int]chan Snapshot),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.launcher == nil {
		m.launcher = LauncherFunc(func(_ context.Context, authURL string) error {
			m.logger.Info().Str("url", authURL).Msg("Open this URL to log in")
			return nil
		})
	}
	return m
}

// Initialize fetches the discovery document for issuer. On failure the
// manager stays in PhaseDiscovering until Initialize is called again.
// Switching away from a logged in issuer ends in PhaseLoggedOut unless
// tokens for the new issuer are stored.
func (m *Manager) Initialize(ctx context.Context, issuer string) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	if issuer == m.issuer && m.discovery != nil {
		m.mu.Unlock()
		return
	}
	if issuer != m.issuer {
		// Tokens belong to the previous realm; keep them stored but drop
		// them locally.
		if m.tokens != nil {
			m.droppedSession = true
		}
		m.stopRefreshLocked()
		m.discovery = nil
		m.request = nil
		m.response = nil
		m.tokens = nil
	}
	m.issuer = issuer
	m.phase = PhaseDiscovering
	m.lastErr = nil
	m.mu.Unlock()
	m.publish()

	d, err := m.provider.Discover(ctx, issuer)
	if err == nil && d == nil {
		err = apperrors.ErrDiscoveryUnavailable
	}
	if err != nil {
		m.logger.Err(err).Str("issuer", issuer).Msg("Failed to fetch discovery document")
		m.mu.Lock()
		if m.issuer == issuer {
			m.lastErr = err
		}
		m.mu.Unlock()
		m.publish()
		return
	}
	m.logger.Debug().Str("issuer", issuer).Msg("Discovery document acquired")

	// Stored tokens are read before the phase is published so observers never
	// see a logged out session that is about to be restored.
	stored := m.loadStored(issuer)

	m.mu.Lock()
	if m.issuer != issuer || m.closed {
		m.mu.Unlock()
		return
	}
	m.discovery = d
	switch {
	case stored != nil:
		m.applyTokensLocked(stored)
	case m.droppedSession:
		m.phase = PhaseLoggedOut
	default:
		m.phase = PhaseReady
	}
	m.droppedSession = false
	m.mu.Unlock()

	m.BuildRequest()

	if stored == nil {
		return
	}
	m.logger.Debug().Str("issuer", issuer).Msg("Restored stored tokens")
	if stored.ShouldRefresh(m.clock.Now(), m.settings.RefreshMargin) {
		m.Refresh(ctx)
	}
}

// BuildRequest prepares a fresh authorization request. It requires a
// discovery document. A logged out session keeps PhaseLoggedOut but becomes
// login ready again.
func (m *Manager) BuildRequest() {
	m.mu.Lock()
	if m.discovery == nil {
		m.mu.Unlock()
		m.logger.Debug().Msg("Cannot build authorization request before discovery")
		return
	}
	m.request = newAuthRequest(m.discovery, m.settings, m.newState())
	if m.phase == PhaseReady {
		m.phase = PhaseRequestBuilt
	}
	m.mu.Unlock()
	m.publish()
}

// Login opens the interactive authorization flow and returns immediately.
// The outcome arrives later through HandleResponse. Login is a no-op unless
// the login is ready and no flow is in flight.
func (m *Manager) Login(ctx context.Context) {
	m.mu.Lock()
	if m.request == nil {
		m.mu.Unlock()
		m.logger.Warn().Err(apperrors.ErrLoginNotReady).Msg("Login requested before the authorization request was built")
		return
	}
	if m.phase == PhaseAuthenticating {
		m.mu.Unlock()
		m.logger.Debug().Msg("Login already in progress")
		return
	}
	if m.tokens != nil {
		m.mu.Unlock()
		m.logger.Debug().Msg("User is already logged in")
		return
	}
	authURL := m.request.URL
	m.phase = PhaseAuthenticating
	m.response = nil
	m.lastErr = nil
	m.mu.Unlock()
	m.publish()

	if err := m.launcher.Launch(ctx, authURL); err != nil {
		m.logger.Err(err).Msg("Failed to open authorization flow")
		m.mu.Lock()
		if m.phase == PhaseAuthenticating {
			m.phase = PhaseRequestBuilt
			m.lastErr = err
		}
		m.mu.Unlock()
		m.publish()
	}
}

// HandleResponse completes an authorization flow. Only a response whose
// state matches the pending request ends the flow; anything else is logged
// and ignored. A successful response is exchanged for tokens.
func (m *Manager) HandleResponse(ctx context.Context, resp AuthResponse) {
	m.mu.Lock()
	req := m.request
	d := m.discovery
	if m.phase != PhaseAuthenticating || req == nil || d == nil {
		phase := m.phase
		m.mu.Unlock()
		m.logger.Warn().Err(apperrors.ErrLoginNotReady).
			Str("phase", phase.String()).
			Str("type", string(resp.Type)).
			Msg("Ignoring authorization response without a pending login")
		return
	}
	if resp.State != req.State {
		m.mu.Unlock()
		m.logger.Warn().Err(apperrors.ErrStateMismatch).
			Str("type", string(resp.Type)).
			Msg("Ignoring authorization response")
		return
	}
	if m.response != nil {
		m.mu.Unlock()
		m.logger.Debug().Msg("Authorization response already handled")
		return
	}
	m.response = &resp
	m.mu.Unlock()

	if resp.Type != ResponseSuccess {
		err := apperrors.ErrAuthorizationDenied
		if resp.Error != "" {
			err = apperrors.Wrapf(err, "%s: %s", resp.Error, resp.ErrorDescription)
		}
		m.logger.Warn().Err(err).Str("type", string(resp.Type)).Msg("Authorization flow did not succeed")
		m.failLogin(err)
		return
	}

	tokens, err := m.provider.Exchange(ctx, d, ExchangeRequest{
		Code:        resp.Code,
		State:       resp.State,
		RedirectURI: req.RedirectURI,
	})
	if err == nil && tokens == nil {
		err = apperrors.ErrExchangeFailed
	}
	if err != nil {
		m.logger.Err(err).Msg("Failed to exchange authorization code")
		m.failLogin(apperrors.Wrapf(err, "exchange"))
		return
	}

	m.setTokens(tokens, true)
	m.logger.Info().Msg("Logged in")
}

// Logout revokes the tokens at the provider and clears them locally.
// Revocation is best effort; the local session is always cleared. Without
// tokens or discovery nothing happens.
func (m *Manager) Logout(ctx context.Context) {
	m.mu.Lock()
	tokens := m.tokens
	d := m.discovery
	if tokens == nil || d == nil {
		m.mu.Unlock()
		if tokens == nil {
			m.logger.Error().Err(apperrors.ErrNotLoggedIn).Msg("User is not logged in, cannot log out user")
		}
		if d == nil {
			m.logger.Error().Err(apperrors.ErrDiscoveryUnavailable).Msg("Authentication server details not yet acquired")
		}
		return
	}
	m.stopRefreshLocked()
	m.mu.Unlock()

	if tokens.RefreshToken != "" {
		if err := m.provider.Revoke(ctx, d, tokens.RefreshToken, HintRefreshToken); err != nil {
			m.logger.Err(err).Str("token_type", HintRefreshToken).Msg("Failed to revoke token")
		}
	}
	if err := m.provider.Revoke(ctx, d, tokens.AccessToken, HintAccessToken); err != nil {
		m.logger.Err(err).Str("token_type", HintAccessToken).Msg("Failed to revoke token")
	}

	m.mu.Lock()
	if m.tokens == tokens {
		m.tokens = nil
		m.phase = PhaseLoggedOut
	}
	issuer := m.issuer
	m.mu.Unlock()

	m.forget(issuer)
	m.BuildRequest()
	m.logger.Info().Msg("Logged out")
}

// Token implements oauth2.TokenSource with the current access token.
func (m *Manager) Token() (*oauth2.Token, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.tokens == nil {
		return nil, apperrors.ErrNotLoggedIn
	}
	return m.tokens.OAuth2Token(), nil
}

func (m *Manager) LoginReady() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.request != nil
}

func (m *Manager) LoggedIn() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tokens != nil
}

// Snapshot returns the current session state.
func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

func (m *Manager) snapshotLocked() Snapshot {
	s := Snapshot{
		Phase:      m.phase,
		Issuer:     m.issuer,
		LoginReady: m.request != nil,
		LoggedIn:   m.tokens != nil,
		Err:        m.lastErr,
	}
	if m.tokens != nil {
		s.AccessToken = m.tokens.AccessToken
		s.Expiry = m.tokens.Expiry
	}
	return s
}

// Subscribe returns a channel receiving the latest Snapshot after every
// change, starting with the current one. Slow readers only miss
// intermediate snapshots. The returned function ends the subscription.
// After Close the channel holds the final snapshot and is already closed.
func (m *Manager) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 1)
	ch <- m.Snapshot()

	m.subsMu.Lock()
	if m.subsClosed {
		m.subsMu.Unlock()
		close(ch)
		return ch, func() {}
	}
	id := m.nextSub
	m.nextSub++
	m.subs[id] = ch
	m.subsMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.subsMu.Lock()
			if _, ok := m.subs[id]; ok {
				delete(m.subs, id)
				close(ch)
			}
			m.subsMu.Unlock()
		})
	}
}

// Close stops the refresh loop and ends all subscriptions.
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	m.stopRefreshLocked()
	m.mu.Unlock()

	m.subsMu.Lock()
	m.subsClosed = true
	for id, ch := range m.subs {
		delete(m.subs, id)
		close(ch)
	}
	m.subsMu.Unlock()
}

func (m *Manager) publish() {
	snap := m.Snapshot()

	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	for _, ch := range m.subs {
		select {
		case ch <- snap:
		default:
			select {
			case <-ch:
			default:
			}
			ch <- snap
		}
	}
}

func (m *Manager) failLogin(err error) {
	m.mu.Lock()
	m.lastErr = err
	if m.tokens == nil {
		m.phase = PhaseRequestBuilt
	}
	m.mu.Unlock()
	m.BuildRequest()
}

// setTokens replaces the token set atomically and re-arms the refresh loop.
func (m *Manager) setTokens(tokens *TokenSet, persist bool) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	issuer := m.applyTokensLocked(tokens)
	m.mu.Unlock()

	if persist {
		m.persist(issuer, tokens)
	}
	m.publish()
}

// applyTokensLocked installs tokens and re-arms the refresh loop. m.mu must
// be held.
func (m *Manager) applyTokensLocked(tokens *TokenSet) string {
	if tokens.Expiry.IsZero() {
		tokens.Expiry = expiryFromClaims(tokens.AccessToken)
	}
	m.tokens = tokens
	m.phase = PhaseAuthenticated
	m.lastErr = nil
	m.armRefreshLocked()
	return m.issuer
}

func (m *Manager) persist(issuer string, tokens *TokenSet) {
	if m.store == nil {
		return
	}
	if err := m.store.Save(issuer, *tokens); err != nil {
		m.logger.Err(err).Msg("Failed to persist tokens")
	}
}

func (m *Manager) loadStored(issuer string) *TokenSet {
	if m.store == nil {
		return nil
	}
	tokens, err := m.store.Load(issuer)
	if err != nil {
		if !apperrors.Is(err, apperrors.ErrNotFound) {
			m.logger.Err(err).Msg("Failed to load stored tokens")
		}
		return nil
	}
	return tokens
}

func (m *Manager) forget(issuer string) {
	if m.store == nil {
		return
	}
	if err := m.store.Delete(issuer); err != nil {
		m.logger.Err(err).Msg("Failed to delete stored tokens")
	}
}
