// Package signal flags string constants that look like endpoints,
// credentials or key material, so literals the rewrite rules miss can be
// reviewed by hand.
package signal

import (
	"math"
	"regexp"
	"slices"
	"strings"
)

// Categories for string signal classification.
const (
	CatURL        = "url"
	CatHost       = "host" // IP literal or dotted host name
	CatPort       = "port" // host:port pair
	CatEncryption = "encryption"
	CatAuth       = "auth"
	CatNet        = "net"
	CatKey        = "key" // long hex or base64 blob
)

const (
	SeverityHigh   = "high"
	SeverityMedium = "medium"
	SeverityLow    = "low"
)

var (
	reURL       = regexp.MustCompile(`(?i)(https?|wss?|ftp)://`)
	reIPLiteral = regexp.MustCompile(`\b\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}\b`)
	reHostName  = regexp.MustCompile(`(?i)^([a-z0-9-]+\.)+(com|net|org|io|co\.uk|gg|ps|info)$`)
	reHostPort  = regexp.MustCompile(`(?i)^[a-z0-9.-]+:\d{2,5}$`)
	reHex       = regexp.MustCompile(`^[0-9a-fA-F]{32,}$`)
	reBase64    = regexp.MustCompile(`^[A-Za-z0-9+/=]{24,}$`)

	cryptoKeywords = []string{
		"encrypt", "decrypt", "cipher", "modpow", "modulus", "exponent",
		"isaac", "xtea", "signature", "digest",
	}

	// Short words need word boundaries ("rsa" in "Traversal").
	reCryptoShort = regexp.MustCompile(`(?i)(^|[^a-zA-Z])(aes|rsa|hmac|sha1|sha256|md5|crc32|xor)([^a-zA-Z]|$)`)

	reAuth = regexp.MustCompile(`(?i)(^|[^a-zA-Z])(oauth|jwt|bearer|credential|authenticator|authorization|sessionid)([^a-zA-Z]|$)`)

	reAuthStandalone = regexp.MustCompile(`(?i)(^|[^a-z])(password|token|secret|login|otp)([^a-z]|$)`)

	netKeywords = []string{"socket", "connect", "proxy", "jav_config", "worldlist", "codebase"}
)

// ClassifyString returns the categories matching value, or nil when the
// string carries no signal.
func ClassifyString(value string) []string {
	if len(value) < 2 {
		return nil
	}
	var cats []string
	trimmed := strings.TrimSpace(value)
	lower := strings.ToLower(value)

	if reURL.MatchString(value) {
		cats = append(cats, CatURL)
	}
	if reIPLiteral.MatchString(value) || reHostName.MatchString(trimmed) {
		cats = append(cats, CatHost)
	}
	if reHostPort.MatchString(trimmed) {
		cats = append(cats, CatPort)
	}
	if containsKeyword(value, cryptoKeywords) || reCryptoShort.MatchString(value) {
		cats = append(cats, CatEncryption)
	}
	if reAuth.MatchString(value) || reAuthStandalone.MatchString(value) {
		cats = append(cats, CatAuth)
	}
	for _, w := range netKeywords {
		if strings.Contains(lower, w) {
			cats = append(cats, CatNet)
			break
		}
	}

	// Identifiers match the base64 alphabet too; skip camelCase names.
	if reHex.MatchString(trimmed) ||
		(reBase64.MatchString(trimmed) && entropy(trimmed) > 3.5 && !isCamelCase(trimmed)) {
		cats = append(cats, CatKey)
	}
	return cats
}

// CategorySeverity returns the severity level for a category.
func CategorySeverity(cat string) string {
	switch cat {
	case CatURL, CatHost, CatPort, CatKey:
		return SeverityHigh
	case CatEncryption, CatAuth:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// MaxSeverity returns the highest severity from a list of categories.
func MaxSeverity(categories []string) string {
	best := SeverityLow
	for _, c := range categories {
		switch CategorySeverity(c) {
		case SeverityHigh:
			return SeverityHigh
		case SeverityMedium:
			best = SeverityMedium
		}
	}
	return best
}

// isCamelCase reports a lowercase-to-uppercase transition ("loginScreen").
func isCamelCase(s string) bool {
	for i := 1; i < len(s); i++ {
		if s[i-1] >= 'a' && s[i-1] <= 'z' && s[i] >= 'A' && s[i] <= 'Z' {
			return true
		}
	}
	return false
}

// normalizeForMatch lowercases s and strips _ - space and dots, so
// "mod_pow" and "modPow" both match "modpow".
func normalizeForMatch(s string) string {
	lower := strings.ToLower(s)
	var b strings.Builder
	b.Grow(len(lower))
	for i := 0; i < len(lower); i++ {
		c := lower[i]
		if c != '_' && c != '-' && c != ' ' && c != '.' {
			b.WriteByte(c)
		}
	}
	return b.String()
}

func containsKeyword(value string, keywords []string) bool {
	norm := normalizeForMatch(value)
	return slices.ContainsFunc(keywords, func(kw string) bool {
		return strings.Contains(norm, kw)
	})
}

// entropy computes Shannon entropy of s in bits per character.
func entropy(s string) float64 {
	if len(s) == 0 {
		return 0
	}
	freq := make(map[byte]int)
	for i := 0; i < len(s); i++ {
		freq[s[i]]++
	}
	n := float64(len(s))
	var ent float64
	for _, count := range freq {
		p := float64(count) / n
		ent -= p * math.Log2(p)
	}
	return ent
}
