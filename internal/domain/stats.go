package domain

import "time"

// ProcessStats holds statistics about one processing run.
type ProcessStats struct {
	Service   string
	Items     int
	Objects   int
	New       int
	Updated   int
	Skipped   int
	Errors    int
	Published int
	Duration  time.Duration
}

func (s *ProcessStats) Add(other *ProcessStats) {
	if other == nil {
		return
	}
	s.Items += other.Items
	s.Objects += other.Objects
	s.New += other.New
	s.Updated += other.Updated
	s.Skipped += other.Skipped
	s.Errors += other.Errors
	s.Published += other.Published
}
