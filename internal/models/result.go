package models

// Outcome is the result of extracting a single identity.
type Outcome string

// Extraction outcomes.
const (
	Extracted Outcome = "extracted"
	NotFound  Outcome = "not_found"
	Failed    Outcome = "failed"
)

// Result records what happened to one requested identity.
type Result struct {
	Identity   Identity `json:"identity"`
	Outcome    Outcome  `json:"outcome"`
	Strategy   string   `json:"strategy,omitempty"`
	Reason     string   `json:"reason,omitempty"`
	OutputPath string   `json:"output_path,omitempty"`
	Checksum   string   `json:"checksum,omitempty"`
}

// OK reports whether the identity was extracted.
func (r Result) OK() bool { return r.Outcome == Extracted }

// RecoveryStatus tells whether a requested record is present after extraction.
type RecoveryStatus struct {
	Record    CatalogRecord `json:"record"`
	Recovered bool          `json:"recovered"`
}

// Status returns the human-readable status.
func (s RecoveryStatus) Status() string {
	if s.Recovered {
		return "Recovered"
	}
	return "Missing"
}
