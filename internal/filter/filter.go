// Package filter narrows a photo catalog to the records worth extracting.
package filter

import (
	"github.com/starford/perthro/internal/address"
	"github.com/starford/perthro/internal/models"
)

// DefaultMinConfidence is the confidence a record must exceed by default.
const DefaultMinConfidence = 5

// Filter returns the records classified as label with a confidence
// strictly above minConfidence, in input order. The result is never nil
// and records is not modified.
func Filter(records []models.CatalogRecord, label string, minConfidence int) []models.CatalogRecord {
	out := []models.CatalogRecord{}
	for _, r := range records {
		if r.SceneClassification == label && r.Confidence > minConfidence {
			out = append(out, r)
		}
	}
	return out
}

// Identities maps records to the camera roll identities they are stored under.
func Identities(records []models.CatalogRecord) []models.Identity {
	ids := make([]models.Identity, len(records))
	for i, r := range records {
		ids[i] = models.Identity{
			Domain:       address.CameraRollDomain,
			RelativePath: "Media/" + r.RelativePath(),
			DisplayName:  r.Filename,
		}
	}
	return ids
}

// Labels returns the distinct scene labels of records in first-seen order.
func Labels(records []models.CatalogRecord) []string {
	seen := make(map[string]bool)
	var out []string
	for _, r := range records {
		if !seen[r.SceneClassification] {
			seen[r.SceneClassification] = true
			out = append(out, r.SceneClassification)
		}
	}
	return out
}
