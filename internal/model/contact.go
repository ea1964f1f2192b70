package model

import (
	"regexp"
	"strings"
	"time"
)

// ContactType classifies a contact signal.
type ContactType string

const (
	ContactEmail  ContactType = "email"
	ContactPhone  ContactType = "phone"
	ContactDomain ContactType = "domain"
	ContactSocial ContactType = "social"
)

// Contact sources. Provider-sourced contacts carry the provider name.
const (
	SourceStorefront = "storefront"
	SourceWhois      = "whois"
)

// Contact is a single contact signal attached to a seller. The triple
// (SellerID, Type, Value) is unique; Verified only ever transitions
// false -> true.
type Contact struct {
	ID         int64       `json:"id"`
	SellerID   int64       `json:"seller_id"`
	Type       ContactType `json:"type"`
	Value      string      `json:"value"`
	Source     string      `json:"source"`
	Verified   bool        `json:"verified"`
	Confidence float64     `json:"confidence"`
	CreatedAt  time.Time   `json:"created_at"`
}

var (
	emailShapeRe  = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)
	domainShapeRe = regexp.MustCompile(`^[a-z0-9]([a-z0-9\-]*[a-z0-9])?(\.[a-z0-9]([a-z0-9\-]*[a-z0-9])?)+$`)
	digitsRe      = regexp.MustCompile(`\d`)
)

// ValidEmail reports whether v is an RFC-shaped email address.
func ValidEmail(v string) bool {
	return emailShapeRe.MatchString(strings.TrimSpace(v))
}

// ValidPhone reports whether v carries at least ten digits.
func ValidPhone(v string) bool {
	return len(digitsRe.FindAllString(v, -1)) >= 10
}

// CleanDomain canonicalizes a domain: scheme, "www." prefix, path, query
// and port stripped, lowercased.
func CleanDomain(raw string) string {
	s := strings.ToLower(strings.TrimSpace(raw))
	s = strings.TrimPrefix(s, "http://")
	s = strings.TrimPrefix(s, "https://")
	s = strings.TrimPrefix(s, "www.")
	for _, sep := range []string{"/", "?", "#", ":"} {
		if i := strings.Index(s, sep); i >= 0 {
			s = s[:i]
		}
	}
	return s
}

// ValidDomain reports whether v is a labeled hostname containing at least
// one dot. Values are expected to be cleaned first.
func ValidDomain(v string) bool {
	return domainShapeRe.MatchString(v)
}

// ValidContactValue applies the type-specific validation rule for a contact
// value before persistence.
func ValidContactValue(t ContactType, v string) bool {
	switch t {
	case ContactEmail:
		return ValidEmail(v)
	case ContactPhone:
		return ValidPhone(v)
	case ContactDomain:
		return ValidDomain(v)
	case ContactSocial:
		return strings.TrimSpace(v) != ""
	}
	return false
}
