package domain

import "time"

type Batch struct {
	ID         string     `db:"id" json:"id"`
	Name       string     `db:"name" json:"name"`
	Total      int        `db:"total_jobs" json:"total_jobs"`
	Pending    int        `db:"pending_jobs" json:"pending_jobs"`
	Failed     int        `db:"failed_jobs" json:"failed_jobs"`
	CreatedAt  time.Time  `db:"created_at" json:"created_at"`
	FinishedAt *time.Time `db:"finished_at" json:"finished_at,omitempty"`
}

func (b *Batch) Finished() bool {
	return b.FinishedAt != nil || b.Pending <= 0
}

// Progress returns completed jobs over total jobs.
func (b *Batch) Progress() float64 {
	if b.Total == 0 {
		return 1
	}
	return float64(b.Total-b.Pending) / float64(b.Total)
}
