package auth_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/flowforge/flowforge/internal/auth"
	"github.com/flowforge/flowforge/internal/browser"
)

func TestLoginURL(t *testing.T) {
	tests := map[string]struct {
		url      string
		expLogin bool
	}{
		"A plain application URL is not a login page.": {
			url: "https://app.example.com/dashboard",
		},
		"A /login path is a login page.": {
			url:      "https://app.example.com/login",
			expLogin: true,
		},
		"Indicators match case-insensitively.": {
			url:      "https://app.example.com/SignIn",
			expLogin: true,
		},
		"Hyphenated variants match.": {
			url:      "https://example.com/sign-up?next=%2F",
			expLogin: true,
		},
		"An auth subdomain matches.": {
			url:      "https://auth.example.com/",
			expLogin: true,
		},
		"Registration pages count as login pages.": {
			url:      "https://example.com/register",
			expLogin: true,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, test.expLogin, auth.LoginURL(test.url))
		})
	}
}

func TestInspectHTML(t *testing.T) {
	tests := map[string]struct {
		html string
		exp  auth.PageIndicators
	}{
		"An empty document shows nothing.": {
			html: "",
			exp:  auth.PageIndicators{},
		},
		"A password input is detected.": {
			html: `<form><input type="password" name="pw"></form>`,
			exp:  auth.PageIndicators{PasswordField: true},
		},
		"Email fields are detected by type or name.": {
			html: `<form><input name="username"><input type="password"></form>`,
			exp:  auth.PageIndicators{PasswordField: true, EmailField: true},
		},
		"OAuth buttons are detected by text.": {
			html: `<button>Continue with Google</button><a href="/oauth/github">Sign in with GitHub</a>`,
			exp:  auth.PageIndicators{OAuthProviders: []string{"google", "github"}},
		},
		"Unrelated buttons are ignored.": {
			html: `<button>Save changes</button>`,
			exp:  auth.PageIndicators{},
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			got := auth.InspectHTML(test.html)
			assert.Equal(t, test.exp.PasswordField, got.PasswordField)
			assert.Equal(t, test.exp.EmailField, got.EmailField)
			assert.ElementsMatch(t, test.exp.OAuthProviders, got.OAuthProviders)
		})
	}
}

func TestOnLoginPage(t *testing.T) {
	tests := map[string]struct {
		state    *browser.NavigationState
		expLogin bool
	}{
		"A nil state is inconclusive, assume logged in.": {
			state: nil,
		},
		"A login URL is decisive on its own.": {
			state:    &browser.NavigationState{URL: "https://example.com/login"},
			expLogin: true,
		},
		"A password form on a neutral URL is decisive.": {
			state: &browser.NavigationState{
				URL:  "https://example.com/welcome",
				HTML: `<form><input type="password"></form>`,
			},
			expLogin: true,
		},
		"A neutral page with no affordances is not a login page.": {
			state: &browser.NavigationState{
				URL:  "https://example.com/dashboard",
				HTML: `<h1>Dashboard</h1>`,
			},
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, test.expLogin, auth.OnLoginPage(test.state))
		})
	}
}
