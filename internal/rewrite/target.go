// Package rewrite substitutes endpoint and key constants in parsed class
// files and splices the target key into BigInteger construction sites.
package rewrite

import (
	"errors"
	"fmt"
	"strings"
)

// DefaultOriginalKeyHex is the stock login RSA modulus shipped in the
// gamepack.
const DefaultOriginalKeyHex = "86e8427690ebc5e5cc9b6b3336a1f7af648af5bcf44a8057b13a05934a356697" +
	"924662f3dc12214aa0ddcb0030e0e53c3fc937e50424a85a5ae1ddfa7712e297" +
	"1cbc0c6a7c1ed5a6602c4d838b3ec9cd663b6e065923456bc76ea9974bef518d" +
	"df4caac9e9cf6ae8090345598fd2f8c55ef7a2e8f01770582bf8cfcc4e668ae9"

// Defaults applied by NewTarget.
var (
	DefaultDomainMarkers = []string{"runescape.com", "jagex.com"}
)

const (
	DefaultClientClass = "client"
	DefaultLoginMarker = "login"

	// hexKeyMinLen is the length a hex-only literal must exceed before it
	// is treated as key material.
	hexKeyMinLen = 200
)

var ErrInvalidTarget = errors.New("rewrite: invalid target")

// Target is the patch configuration for one job. It is not modified
// after NewTarget returns and may be shared by concurrent rewrites.
type Target struct {
	Host           string
	KeyHex         string
	OriginalKeyHex string
	DomainMarkers  []string
	ClientClass    string
	LoginMarker    string
}

// Option adjusts a Target under construction.
type Option func(*Target)

// WithOriginalKey sets the literal matched by the exact-key rule and the
// raw byte pass.
func WithOriginalKey(hex string) Option {
	return func(t *Target) { t.OriginalKeyHex = hex }
}

// WithDomainMarkers replaces the substrings that identify endpoint
// literals.
func WithDomainMarkers(markers ...string) Option {
	return func(t *Target) { t.DomainMarkers = append([]string(nil), markers...) }
}

// WithClientClass sets the class name whose BigInteger sites are spliced.
func WithClientClass(name string) Option {
	return func(t *Target) { t.ClientClass = name }
}

// WithLoginMarker sets the substring that marks login classes.
func WithLoginMarker(marker string) Option {
	return func(t *Target) { t.LoginMarker = marker }
}

// NewTarget builds a validated Target.
func NewTarget(host, keyHex string, opts ...Option) (*Target, error) {
	t := &Target{
		Host:           host,
		KeyHex:         keyHex,
		OriginalKeyHex: DefaultOriginalKeyHex,
		DomainMarkers:  append([]string(nil), DefaultDomainMarkers...),
		ClientClass:    DefaultClientClass,
		LoginMarker:    DefaultLoginMarker,
	}
	for _, o := range opts {
		o(t)
	}
	if err := t.validate(); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *Target) validate() error {
	switch {
	case t.Host == "":
		return fmt.Errorf("%w: host is empty", ErrInvalidTarget)
	case strings.ContainsRune(t.Host, 0):
		return fmt.Errorf("%w: host contains NUL", ErrInvalidTarget)
	case !isHex(t.KeyHex):
		return fmt.Errorf("%w: key is not a hex string", ErrInvalidTarget)
	case t.OriginalKeyHex == "":
		return fmt.Errorf("%w: original key is empty", ErrInvalidTarget)
	}
	for _, m := range t.DomainMarkers {
		if m == "" {
			return fmt.Errorf("%w: empty domain marker", ErrInvalidTarget)
		}
	}
	return nil
}

// Rule names the substitution applied to a string literal.
type Rule uint8

const (
	RuleNone Rule = iota
	RuleDomain
	RuleExactKey
	RuleHexKey
)

func (r Rule) String() string {
	switch r {
	case RuleDomain:
		return "domain"
	case RuleExactKey:
		return "exact-key"
	case RuleHexKey:
		return "hex-key"
	default:
		return "none"
	}
}

func (r Rule) MarshalText() ([]byte, error) { return []byte(r.String()), nil }

// Classify returns the first rule that matches s: a domain marker
// anywhere in s, then equality with the original key, then a hex-only
// literal longer than 200 characters.
func (t *Target) Classify(s string) Rule {
	for _, m := range t.DomainMarkers {
		if strings.Contains(s, m) {
			return RuleDomain
		}
	}
	if s == t.OriginalKeyHex {
		return RuleExactKey
	}
	if len(s) > hexKeyMinLen && isHex(s) {
		return RuleHexKey
	}
	return RuleNone
}

// Replacement returns the literal substituted under rule r.
func (t *Target) Replacement(r Rule) string {
	switch r {
	case RuleDomain:
		return t.Host
	case RuleExactKey, RuleHexKey:
		return t.KeyHex
	}
	return ""
}

// SplicesClass reports whether BigInteger sites in the named class get
// the target key.
func (t *Target) SplicesClass(name string) bool {
	return name == t.ClientClass || (t.LoginMarker != "" && strings.Contains(name, t.LoginMarker))
}

func isHex(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !('0' <= c && c <= '9' || 'a' <= c && c <= 'f' || 'A' <= c && c <= 'F') {
			return false
		}
	}
	return true
}
