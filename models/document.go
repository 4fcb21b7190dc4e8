package models

// Document is the structured result of a successful extraction.
//
// Degraded is set when the orchestrator had to escalate past the mode the
// gate originally chose, or when the accepted result scored below the
// configured quality threshold. Callers that care about fidelity should
// check it; callers that just want content can ignore it.
type Document struct {
	URL          string   `json:"url"`
	Title        string   `json:"title,omitempty"`
	Byline       string   `json:"byline,omitempty"`
	PublishedISO string   `json:"published_iso,omitempty"`
	Markdown     string   `json:"markdown,omitempty"`
	Text         string   `json:"text"`
	Links        []string `json:"links,omitempty"`
	Media        []string `json:"media,omitempty"`
	Language     string   `json:"language,omitempty"`
	SiteName     string   `json:"site_name,omitempty"`
	Description  string   `json:"description,omitempty"`
	WordCount    int      `json:"word_count"`

	// Fingerprint is a 64-bit simhash of Text, for downstream dedup.
	Fingerprint uint64 `json:"fingerprint"`

	// QualityScore in [0,1] as evaluated by the reliability layer.
	QualityScore float64 `json:"quality_score"`

	Degraded bool `json:"degraded"`
}
