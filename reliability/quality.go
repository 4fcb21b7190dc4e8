package reliability

import "github.com/use-agent/skimmer/models"

// EvaluateQuality scores an extracted document in [0, 1]. It decides whether
// a fast-path result is good enough to return or whether the orchestrator
// should escalate to the headless backend.
//
// Weights: title 20%, text length 40%, markdown structure 20%, metadata 20%.
func EvaluateQuality(doc *models.Document) float64 {
	var score float64

	if len(doc.Title) > 0 {
		score += 0.2
	}

	switch textLen := len(doc.Text); {
	case textLen > 1000:
		score += 0.4
	case textLen > 200:
		score += 0.2
	}

	indicators := 0
	for _, r := range doc.Markdown {
		switch r {
		case '#', '*', '[':
			indicators++
		}
	}
	switch {
	case indicators > 5:
		score += 0.2
	case indicators > 2:
		score += 0.1
	}

	metadata := 0
	if doc.Byline != "" {
		metadata++
	}
	if doc.PublishedISO != "" {
		metadata++
	}
	if doc.Description != "" {
		metadata++
	}
	if len(doc.Links) > 0 {
		metadata++
	}
	score += float64(metadata) * 0.05

	if score > 1 {
		score = 1
	}
	return score
}
