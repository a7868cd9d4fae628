package ingest

import (
	"time"
)

type Stage string

const (
	StageFetching      Stage = "fetching"
	StageParsing       Stage = "parsing"
	StageNormalizing   Stage = "normalizing"
	StageDeduplicating Stage = "deduplicating"
	StageStoring       Stage = "storing"
	StageDone          Stage = "done"
	StageSkipped       Stage = "skipped"
	StageFailed        Stage = "failed"
)

// Report describes one source's ingestion run.
type Report struct {
	Source     string
	Kind       string
	Stage      Stage // StageDone, StageSkipped or StageFailed once the run is over
	FailedAt   Stage // stage that failed, empty on success
	Candidates int
	Ingested   int
	Duplicates int
	Merged     int // duplicates that filled in missing fields
	Errors     int // candidates skipped by storage faults
	Err        error
	Duration   time.Duration
}

func (r Report) Failed() bool {
	return r.Stage == StageFailed
}

func (r Report) Skipped() bool {
	return r.Stage == StageSkipped
}

func (r Report) skip(err error) Report {
	r.Stage = StageSkipped
	r.Err = err
	return r
}

func (r Report) fail(stage Stage, err error) Report {
	r.Stage = StageFailed
	r.FailedAt = stage
	r.Err = err
	return r
}

// Summary aggregates the reports of one ingestion pass.
type Summary struct {
	Reports    []Report
	Ingested   int
	Duplicates int
	Errors     int
	Failed     int
	Skipped    int
}

// With returns the summary extended by r.
func (s Summary) With(r Report) Summary {
	s.Reports = append(s.Reports, r)
	s.Ingested += r.Ingested
	s.Duplicates += r.Duplicates
	s.Errors += r.Errors
	switch {
	case r.Failed():
		s.Failed++
	case r.Skipped():
		s.Skipped++
	}
	return s
}
