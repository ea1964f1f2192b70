package model

import (
	"encoding/json"
	"time"
)

// DomainRecord is the enrichment result for one external domain surfaced by
// a storefront. One row per domain; enrichment is attempted at most once,
// and failed attempts are recorded separately so they are not retried.
type DomainRecord struct {
	Domain          string          `json:"domain"`
	WhoisData       json.RawMessage `json:"whois_data,omitempty"`
	RegistrantEmail string          `json:"registrant_email,omitempty"`
	RegistrantPhone string          `json:"registrant_phone,omitempty"`
	CompanyName     string          `json:"company_name,omitempty"`
	EnrichedAt      time.Time       `json:"enriched_at"`
}

// PipelineRun is a persisted summary of one batch invocation of a pipeline
// stage.
type PipelineRun struct {
	ID          string    `json:"id"`
	Stage       string    `json:"stage"`
	Status      string    `json:"status"`
	Processed   int       `json:"processed"`
	Succeeded   int       `json:"succeeded"`
	Failed      int       `json:"failed"`
	CostUSD     float64   `json:"cost_usd"`
	Detail      string    `json:"detail,omitempty"`
	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`
}
