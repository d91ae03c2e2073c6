package domain

import "time"

// ReindexReport summarizes a completed reindex run.
type ReindexReport struct {
	RunID      string    `json:"run_id"`
	Index      string    `json:"index"`
	Alias      string    `json:"alias,omitempty"`
	Recreated  bool      `json:"recreated"`
	Pages      int       `json:"pages"`
	Indexed    int       `json:"indexed"`
	Failed     int       `json:"failed"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// Duration returns the wall time of the run.
func (r *ReindexReport) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// BackfillReport summarizes an embedding backfill run.
type BackfillReport struct {
	RunID      string    `json:"run_id"`
	Scanned    int       `json:"scanned"`
	Embedded   int       `json:"embedded"`
	Skipped    int       `json:"skipped"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// ProductEmbedding is the stored embedding vector of a product's composed text.
type ProductEmbedding struct {
	SupplierAID string
	Model       string
	Vector      []float32
	// TextHash identifies the composed text the vector was computed from.
	TextHash  string
	UpdatedAt time.Time
}
