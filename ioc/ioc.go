// Package ioc matches indicator-of-compromise patterns in carved bytes.
package ioc

import "regexp"

// Matcher maps indicator types to the values found in a byte slice.
// An empty value list still flags the type as present.
type Matcher interface {
	Match(data []byte) map[string][]string
}

// Indicator type identifiers used for report tagging.
const (
	TypeURI    = "network.static.uri"
	TypeIP     = "network.static.ip"
	TypeDomain = "network.static.domain"
	TypeEmail  = "network.email.address"
)

var (
	uriRe    = regexp.MustCompile(`(?i)\b(?:https?|ftp|file)://[^\s<>()"']{4,}`)
	ipRe     = regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`)
	emailRe  = regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`)
	domainRe = regexp.MustCompile(`\b(?:[a-zA-Z0-9-]{1,63}\.)+(?:com|net|org|info|biz|ru|cn|io|xyz|top|cc)\b`)
)

// RegexMatcher is the default pattern set. It favours precision over
// recall; the host framework can substitute a richer matcher.
type RegexMatcher struct{}

func NewRegexMatcher() *RegexMatcher { return &RegexMatcher{} }

func (m *RegexMatcher) Match(data []byte) map[string][]string {
	out := make(map[string][]string)
	add := func(typ string, hits [][]byte) {
		for _, h := range hits {
			out[typ] = append(out[typ], string(h))
		}
	}
	add(TypeURI, uriRe.FindAll(data, -1))
	add(TypeIP, ipRe.FindAll(data, -1))
	add(TypeEmail, emailRe.FindAll(data, -1))
	add(TypeDomain, domainRe.FindAll(data, -1))
	return out
}
