package browser

import "math/rand"

// Viewport is a browser window size drawn from the identity pool.
type Viewport struct {
	Width  int `yaml:"width"`
	Height int `yaml:"height"`
}

// IdentityPools holds the fixed value pools the session manager draws a
// randomized browser identity from. Empty pools fall back to built-in
// defaults.
type IdentityPools struct {
	UserAgents []string   `yaml:"user_agents"`
	Viewports  []Viewport `yaml:"viewports"`
	Locales    []string   `yaml:"locales"`
}

// Identity is one randomized configuration applied to a freshly acquired
// browser session.
type Identity struct {
	UserAgent      string
	Viewport       Viewport
	AcceptLanguage string
}

var defaultUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/125.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
}

var defaultViewports = []Viewport{
	{Width: 1920, Height: 1080},
	{Width: 1366, Height: 768},
	{Width: 1536, Height: 864},
	{Width: 1440, Height: 900},
}

var defaultLocales = []string{
	"es-PA,es;q=0.9,en;q=0.8",
	"es-ES,es;q=0.9,en;q=0.8",
	"es-MX,es;q=0.9,en;q=0.8",
	"es-CO,es;q=0.9,en;q=0.8",
}

// Random draws one identity from the pools.
func (p IdentityPools) Random() Identity {
	userAgents := p.UserAgents
	if len(userAgents) == 0 {
		userAgents = defaultUserAgents
	}

	viewports := p.Viewports
	if len(viewports) == 0 {
		viewports = defaultViewports
	}

	locales := p.Locales
	if len(locales) == 0 {
		locales = defaultLocales
	}

	return Identity{
		UserAgent:      userAgents[rand.Intn(len(userAgents))],
		Viewport:       viewports[rand.Intn(len(viewports))],
		AcceptLanguage: locales[rand.Intn(len(locales))],
	}
}
