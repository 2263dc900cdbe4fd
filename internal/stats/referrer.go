package stats

import (
	"net/url"
	"strings"
)

// Referrer classification buckets.
const (
	ReferrerTypeSearch = "search"
	ReferrerTypeSocial = "social"
	ReferrerTypeDirect = "direct"
	ReferrerTypeOther  = "other"
)

var (
	searchTokens = []string{"google", "bing", "yahoo"}
	socialTokens = []string{"facebook", "twitter", "instagram", "linkedin"}
)

// ClassifyReferrer buckets a raw referrer string. Classification runs on
// the full stored string, not the hostname, so query parameters that name
// a network still match.
func ClassifyReferrer(referrer string) string {
	r := strings.ToLower(strings.TrimSpace(referrer))
	if r == "" || r == "direct" {
		return ReferrerTypeDirect
	}
	for _, token := range searchTokens {
		if strings.Contains(r, token) {
			return ReferrerTypeSearch
		}
	}
	for _, token := range socialTokens {
		if strings.Contains(r, token) {
			return ReferrerTypeSocial
		}
	}
	return ReferrerTypeOther
}

// ReferrerHostname reduces a referrer URL to its hostname for presentation.
// Unparseable values are returned unchanged.
func ReferrerHostname(referrer string) string {
	if referrer == "" {
		return ""
	}
	parsed, err := url.Parse(referrer)
	if err != nil || parsed.Hostname() == "" {
		return referrer
	}
	return parsed.Hostname()
}
