package extract

import "github.com/starford/perthro/internal/models"

// Totals counts results per outcome and per winning strategy.
type Totals struct {
	Total      int            `json:"total"`
	Extracted  int            `json:"extracted"`
	NotFound   int            `json:"not_found"`
	Failed     int            `json:"failed"`
	ByStrategy map[string]int `json:"by_strategy"`
}

// Summary tallies results.
func Summary(results []models.Result) Totals {
	t := Totals{Total: len(results), ByStrategy: map[string]int{}}
	for _, r := range results {
		switch r.Outcome {
		case models.Extracted:
			t.Extracted++
			t.ByStrategy[r.Strategy]++
		case models.NotFound:
			t.NotFound++
		case models.Failed:
			t.Failed++
		}
	}
	return t
}
