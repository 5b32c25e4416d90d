package overview

import "github.com/schematichub/overview-gateway/internal/summarystore"

// NeedsProcessing reports whether a commit still lacks a complete overview:
// nothing stored, or a stored record missing its blurb or description.
func NeedsProcessing(existing *summarystore.Summary) bool {
	return existing == nil || existing.Blurb == nil || existing.Description == nil
}
