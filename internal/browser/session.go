package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"

	"github.com/applabs/tollquery/internal/retry"
)

var (
	// ErrSessionInit is returned when a browser session cannot be brought
	// to a usable state within the configured attempt budget.
	ErrSessionInit = errors.New("browser session initialization failed")

	// ErrChallengeNotReady is returned while the page's challenge-token
	// provider is not yet callable.
	ErrChallengeNotReady = errors.New("challenge token provider not ready")
)

// Config holds browser session configuration.
type Config struct {
	EntryURL           string
	Headless           bool
	NavigationTimeout  time.Duration
	SettleDelay        time.Duration
	ReadinessAttempts  int
	ReadinessBaseDelay time.Duration
	Identities         IdentityPools
}

// Session is an exclusive handle to one browser tab pointed at the portal
// entry page, with the challenge-token provider confirmed callable. It
// drives one interaction at a time and must be released by its owner.
type Session struct {
	Ctx context.Context

	allocCancel context.CancelFunc
	tabCancel   context.CancelFunc
	identity    Identity
}

// Identity returns the randomized identity applied to this session.
func (s *Session) Identity() Identity {
	return s.identity
}

// Manager owns browser session lifecycle: acquire, recycle, release.
type Manager struct {
	config *Config
	logger *slog.Logger
}

// NewManager creates a new session manager.
func NewManager(config *Config, logger *slog.Logger) *Manager {
	return &Manager{
		config: config,
		logger: logger,
	}
}

// Acquire launches a fresh browser, applies a randomized identity,
// navigates to the portal entry page and blocks until the challenge-token
// provider is callable. The returned session must be released by the
// caller on every exit path.
func (m *Manager) Acquire(ctx context.Context) (*Session, error) {
	identity := m.config.Identities.Random()

	opts := append(
		chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", m.config.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.UserAgent(identity.UserAgent),
		chromedp.WindowSize(identity.Viewport.Width, identity.Viewport.Height),
	)

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx)

	session := &Session{
		Ctx:         tabCtx,
		allocCancel: allocCancel,
		tabCancel:   tabCancel,
		identity:    identity,
	}

	m.logger.Info("Acquiring browser session",
		slog.String("user_agent", identity.UserAgent),
		slog.Int("viewport_width", identity.Viewport.Width),
		slog.Int("viewport_height", identity.Viewport.Height),
	)

	if err := m.initialize(ctx, session); err != nil {
		m.Release(session)
		return nil, fmt.Errorf("%w: %v", ErrSessionInit, err)
	}

	m.logger.Info("Browser session ready",
		slog.String("entry_url", m.config.EntryURL),
	)

	return session, nil
}

// Recycle releases the given session and acquires a replacement. Used
// periodically to bound memory growth and staleness.
func (m *Manager) Recycle(ctx context.Context, session *Session) (*Session, error) {
	m.logger.Info("Recycling browser session")
	m.Release(session)
	return m.Acquire(ctx)
}

// Release closes the session best-effort. Failures are logged, never
// propagated.
func (m *Manager) Release(session *Session) {
	if session == nil {
		return
	}

	if err := chromedp.Cancel(session.Ctx); err != nil {
		m.logger.Warn("Failed to close browser gracefully",
			slog.Any("error", err),
		)
	}

	session.tabCancel()
	session.allocCancel()
}

// initialize navigates the fresh tab to the entry page, applies the
// anti-fingerprint setup and waits for the challenge-token provider.
func (m *Manager) initialize(ctx context.Context, session *Session) error {
	navCtx, cancel := context.WithTimeout(session.Ctx, m.config.NavigationTimeout)
	defer cancel()

	headers := network.Headers{
		"Accept-Language": session.identity.AcceptLanguage,
	}

	err := chromedp.Run(navCtx,
		network.Enable(),
		network.SetExtraHTTPHeaders(headers),
		chromedp.ActionFunc(func(ctx context.Context) error {
			// Hide the automation marker before any page script runs.
			_, err := page.AddScriptToEvaluateOnNewDocument(
				`Object.defineProperty(navigator, 'webdriver', { get: () => undefined });`,
			).Do(ctx)
			return err
		}),
		chromedp.Navigate(m.config.EntryURL),
		chromedp.Sleep(m.config.SettleDelay),
	)
	if err != nil {
		return fmt.Errorf("failed to navigate to entry page: %w", err)
	}

	_, err = retry.Do(ctx, m.config.ReadinessAttempts, m.config.ReadinessBaseDelay,
		func(ctx context.Context) (bool, error) {
			var ready bool
			if err := chromedp.Run(session.Ctx,
				chromedp.Evaluate(`window.grecaptcha !== undefined && typeof window.grecaptcha.execute === 'function'`, &ready),
			); err != nil {
				return false, fmt.Errorf("readiness probe failed: %w", err)
			}
			if !ready {
				return false, ErrChallengeNotReady
			}
			return true, nil
		})
	if err != nil {
		return fmt.Errorf("challenge provider never became ready: %w", err)
	}

	return nil
}
