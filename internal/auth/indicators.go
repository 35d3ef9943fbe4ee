package auth

import (
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/flowforge/flowforge/internal/browser"
)

// loginURLIndicators are URL substrings marking an authentication page.
var loginURLIndicators = []string{
	"login",
	"signin",
	"sign-in",
	"signup",
	"sign-up",
	"auth",
	"authenticate",
	"register",
}

// LoginURL reports whether a URL looks like an authentication page.
func LoginURL(raw string) bool {
	u := strings.ToLower(raw)
	for _, ind := range loginURLIndicators {
		if strings.Contains(u, ind) {
			return true
		}
	}
	return false
}

// PageIndicators summarizes the authentication affordances a document shows.
type PageIndicators struct {
	PasswordField  bool
	EmailField     bool
	OAuthProviders []string
}

// oauthProviderPhrases are the button/link texts of known third-party
// sign-in affordances.
var oauthProviderPhrases = map[string][]string{
	"google": {"sign in with google", "continue with google", "log in with google"},
	"github": {"sign in with github", "continue with github", "log in with github"},
}

// InspectHTML scans a rendered document for login affordances. An empty or
// unparsable document yields the zero value.
func InspectHTML(html string) PageIndicators {
	var ind PageIndicators
	if html == "" {
		return ind
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return ind
	}

	ind.PasswordField = doc.Find(`input[type="password"]`).Length() > 0
	ind.EmailField = doc.Find(`input[type="email"], input[name="email"], input[name="username"]`).Length() > 0

	seen := map[string]bool{}
	doc.Find(`button, a, [role="button"]`).Each(func(_ int, sel *goquery.Selection) {
		text := strings.ToLower(strings.TrimSpace(sel.Text()))
		if text == "" {
			if label, ok := sel.Attr("aria-label"); ok {
				text = strings.ToLower(label)
			}
		}
		for provider, phrases := range oauthProviderPhrases {
			if seen[provider] {
				continue
			}
			for _, phrase := range phrases {
				if strings.Contains(text, phrase) {
					seen[provider] = true
					ind.OAuthProviders = append(ind.OAuthProviders, provider)
					break
				}
			}
		}
	})

	return ind
}

// OnLoginPage reports whether the session's current state looks like an
// authentication wall, combining URL heuristics with the document scan.
func OnLoginPage(state *browser.NavigationState) bool {
	if state == nil {
		return false
	}
	if LoginURL(state.URL) {
		return true
	}
	return InspectHTML(state.HTML).PasswordField
}

// oauthClickCandidates are the selectors tried, in order, to invoke a
// provider's sign-in affordance.
var oauthClickCandidates = map[string][]string{
	"google": {
		`[data-provider="google"]`,
		`[aria-label*="Google"]`,
		`button[class*="google"]`,
		`a[href*="accounts.google.com"]`,
	},
	"github": {
		`[data-provider="github"]`,
		`[aria-label*="GitHub"]`,
		`button[class*="github"]`,
		`a[href*="github.com/login/oauth"]`,
	},
}

// Login form fill candidates, most specific first.
var (
	emailFieldCandidates = []string{
		`input[type="email"]`,
		`input[name="email"]`,
		`input[name="username"]`,
		`#email`,
	}
	passwordFieldCandidates = []string{
		`input[type="password"]`,
		`input[name="password"]`,
		`#password`,
	}
	submitCandidates = []string{
		`button[type="submit"]`,
		`input[type="submit"]`,
		`button[name="login"]`,
	}
)
