// Package sanitize cleans user-supplied text before it is stored. Account
// fields such as display names are plain text: any markup is stripped with
// bluemonday's strict policy so a name can never smuggle HTML into a page
// that renders it.
package sanitize

import (
	"html"
	"strings"
	"sync"
	"unicode"

	"github.com/microcosm-cc/bluemonday"
)

// policy is the singleton strict policy. Initialized once via sync.Once for
// thread-safe lazy initialization.
var (
	policy     *bluemonday.Policy
	policyOnce sync.Once
)

// getPolicy returns the shared policy, initializing it on first call.
func getPolicy() *bluemonday.Policy {
	policyOnce.Do(func() {
		policy = bluemonday.StrictPolicy()
	})
	return policy
}

// PlainText removes every HTML element from input and returns the text
// content. Entities escaped by the policy are decoded again because the
// result is stored as text, not HTML.
func PlainText(input string) string {
	if input == "" {
		return ""
	}
	return html.UnescapeString(getPolicy().Sanitize(input))
}

// DisplayName returns input as plain text with control characters removed
// and runs of whitespace collapsed to single spaces.
func DisplayName(input string) string {
	text := strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return ' '
		}
		return r
	}, PlainText(input))
	return strings.Join(strings.Fields(text), " ")
}
