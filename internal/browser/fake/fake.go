package fake

import (
	"context"
	"fmt"
	"sync"

	"github.com/flowforge/flowforge/internal/browser"
	"github.com/flowforge/flowforge/internal/log"
	"github.com/flowforge/flowforge/internal/model"
)

// SessionConfig is the configuration for the fake session.
type SessionConfig struct {
	StartURL string
	Logger   log.Logger
}

func (c *SessionConfig) defaults() error {
	if c.StartURL == "" {
		c.StartURL = "about:blank"
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "browser.Fake"})
	return nil
}

// Session is a fake implementation of browser.Session. It simulates a page as
// a set of present selectors plus per-URL documents, without driving a real
// browser. Tests script it through the mutator methods.
type Session struct {
	mu sync.Mutex

	url   string
	pages map[string]string // URL -> HTML document.

	selectors map[string]bool
	// clickRoutes maps a selector click to a resulting URL, simulating
	// navigation side effects of clicks (OAuth buttons, submit buttons).
	clickRoutes map[string]string

	screenshots int
	closed      bool
	logger      log.Logger
}

var _ browser.Session = (*Session)(nil)

// NewSession creates a new fake session.
func NewSession(cfg SessionConfig) (*Session, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Session{
		url:         cfg.StartURL,
		pages:       map[string]string{},
		selectors:   map[string]bool{},
		clickRoutes: map[string]string{},
		logger:      cfg.Logger,
	}, nil
}

// SetPage registers the HTML document served at a URL.
func (s *Session) SetPage(url, html string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pages[url] = html
}

// AddSelector makes a selector resolvable on the current page.
func (s *Session) AddSelector(selectors ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sel := range selectors {
		s.selectors[sel] = true
	}
}

// RemoveSelector makes a selector unresolvable again.
func (s *Session) RemoveSelector(selectors ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sel := range selectors {
		delete(s.selectors, sel)
	}
}

// RouteClick makes clicking a selector navigate to the given URL.
func (s *Session) RouteClick(selector, url string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clickRoutes[selector] = url
}

// SetURL moves the session to a URL without any interaction, simulating an
// out-of-band navigation such as the user logging in manually.
func (s *Session) SetURL(url string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.url = url
}

// URL returns the current URL.
func (s *Session) URL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.url
}

// Closed reports whether Close was called.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Screenshots returns how many screenshots were captured.
func (s *Session) Screenshots() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.screenshots
}

func (s *Session) Navigate(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.url = url
	s.logger.Debugf("Navigated to %s", url)
	return nil
}

func (s *Session) Click(ctx context.Context, selector string) error {
	if err := s.requireSelector(ctx, selector); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if url, ok := s.clickRoutes[selector]; ok {
		s.url = url
		s.logger.Debugf("Click on %s routed to %s", selector, url)
	}
	return nil
}

func (s *Session) Fill(ctx context.Context, selector, value string) error {
	return s.requireSelector(ctx, selector)
}

func (s *Session) SelectOption(ctx context.Context, selector, value string) error {
	return s.requireSelector(ctx, selector)
}

func (s *Session) Scroll(ctx context.Context, selector string) error {
	return s.requireSelector(ctx, selector)
}

func (s *Session) PressKey(ctx context.Context, key string) error {
	return ctx.Err()
}

func (s *Session) WaitFor(ctx context.Context, selector string) error {
	return s.requireSelector(ctx, selector)
}

func (s *Session) Screenshot(ctx context.Context, name string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.screenshots++
	return fmt.Sprintf("fake/%s.png", name), nil
}

func (s *Session) State(ctx context.Context) (*browser.NavigationState, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return &browser.NavigationState{
		URL:  s.url,
		HTML: s.pages[s.url],
	}, nil
}

func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.logger.Debugf("Session closed")
	return nil
}

func (s *Session) requireSelector(ctx context.Context, selector string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("session closed: %w", model.ErrBackendUnavailable)
	}
	if !s.selectors[selector] {
		return fmt.Errorf("selector %q: %w", selector, model.ErrNotFound)
	}
	return nil
}

// LauncherConfig is the configuration for the fake launcher.
type LauncherConfig struct {
	// Prepare scripts each new session before it is handed to a job.
	Prepare func(jobID string, s *Session)
	Logger  log.Logger
}

func (c *LauncherConfig) defaults() error {
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	return nil
}

// Launcher is a fake implementation of browser.Launcher.
type Launcher struct {
	mu       sync.Mutex
	sessions map[string]*Session
	prepare  func(jobID string, s *Session)
	logger   log.Logger
}

var _ browser.Launcher = (*Launcher)(nil)

// NewLauncher creates a new fake launcher.
func NewLauncher(cfg LauncherConfig) (*Launcher, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Launcher{
		sessions: map[string]*Session{},
		prepare:  cfg.Prepare,
		logger:   cfg.Logger,
	}, nil
}

// Launch creates a new scripted session for the job.
func (l *Launcher) Launch(ctx context.Context, jobID string) (browser.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s, err := NewSession(SessionConfig{Logger: l.logger})
	if err != nil {
		return nil, err
	}
	if l.prepare != nil {
		l.prepare(jobID, s)
	}

	l.mu.Lock()
	l.sessions[jobID] = s
	l.mu.Unlock()

	return s, nil
}

// Session returns the session launched for a job, nil if none.
func (l *Launcher) Session(jobID string) *Session {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sessions[jobID]
}
