package model

import (
	"net/url"
	"strings"
	"time"
)

// Seller is a third-party marketplace seller discovered behind one or more
// products. NormalizedURL is the dedup key. TotalEstRevenue, IsWhale and
// TotalContacts are derived by the metrics resync and are never written
// directly by pipeline code.
type Seller struct {
	ID               int64     `json:"id"`
	Name             string    `json:"name"`
	URL              string    `json:"url"`
	NormalizedURL    string    `json:"normalized_url"`
	Rating           *float64  `json:"rating,omitempty"`
	ListingsCount    *int      `json:"listings_count,omitempty"`
	TotalEstRevenue  float64   `json:"total_est_revenue"`
	IsWhale          bool      `json:"is_whale"`
	StorefrontParsed bool      `json:"storefront_parsed"`
	TotalContacts    int       `json:"total_contacts"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// ProductSellerLink associates a product with a seller. The pair
// (ProductID, SellerID) is unique; upserts are idempotent.
type ProductSellerLink struct {
	ProductID       int64 `json:"product_id"`
	SellerID        int64 `json:"seller_id"`
	IsPrimarySeller bool  `json:"is_primary_seller"`
}

// NormalizeSellerURL canonicalizes a seller URL for deduplication: scheme
// and "www." prefix stripped, trailing slash dropped, lowercased. Two URLs
// that normalize equal identify the same seller.
func NormalizeSellerURL(raw string) string {
	s := strings.TrimSpace(raw)
	if s == "" {
		return ""
	}
	if u, err := url.Parse(s); err == nil && u.Host != "" {
		s = u.Host + u.Path
		if u.RawQuery != "" {
			s += "?" + u.RawQuery
		}
	} else {
		s = strings.TrimPrefix(s, "http://")
		s = strings.TrimPrefix(s, "https://")
	}
	s = strings.ToLower(s)
	s = strings.TrimPrefix(s, "www.")
	s = strings.TrimSuffix(s, "/")
	return s
}

// Storefront holds the free-form business info parsed from a seller's
// public marketplace profile page.
type Storefront struct {
	SellerID        int64     `json:"seller_id"`
	Title           string    `json:"title,omitempty"`
	Description     string    `json:"description,omitempty"`
	Keywords        []string  `json:"keywords,omitempty"`
	ExternalDomains []string  `json:"external_domains,omitempty"`
	ParsedAt        time.Time `json:"parsed_at"`
}
