package models

// Batch groups the jobs created from one submission.
type Batch struct {
	ID        string            `json:"id"`
	JobIDs    []string          `json:"job_ids"`
	Results   map[string]Result `json:"results"`
	Completed int               `json:"completed"`
	Total     int               `json:"total"`
}

// Done reports whether every job of the batch has a result.
func (b *Batch) Done() bool {
	return b.Completed >= b.Total
}
