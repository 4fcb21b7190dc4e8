package models

import "fmt"

// ExtractRequest is the body of POST /api/v1/extract.
//
// Exactly one of URL or HTML must be set. When HTML is set, URL (if present)
// is only used to resolve relative links and for domain-prior lookup.
type ExtractRequest struct {
	URL  string `json:"url,omitempty"`
	HTML string `json:"html,omitempty"`

	// ModeHint skips the gate when set: "raw", "probes_first" or "headless".
	ModeHint string `json:"mode_hint,omitempty"`

	// Timeout in seconds for the whole extraction, 0 = server default.
	Timeout int `json:"timeout,omitempty"`
}

// Validate checks the request and applies no defaults (the handler does that).
func (r *ExtractRequest) Validate() error {
	if r.URL == "" && r.HTML == "" {
		return fmt.Errorf("either url or html is required")
	}
	switch r.ModeHint {
	case "", "raw", "probes_first", "headless":
	default:
		return fmt.Errorf("invalid mode_hint %q", r.ModeHint)
	}
	if r.Timeout < 0 {
		return fmt.Errorf("timeout must be >= 0")
	}
	return nil
}
