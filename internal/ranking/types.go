package ranking

import (
	"context"
	"errors"
	"time"
)

// ErrContract marks a ranking response that violates the interface contract
// (missing/duplicated ids, wrong include count, unparseable payload). The
// orchestrator aborts the cycle on it and retries the backlog later.
var ErrContract = errors.New("ranking contract violation")

// Candidate is one unprocessed message re-tagged with its source.
type Candidate struct {
	ID         string    `json:"id"`
	SourceID   string    `json:"source_id"`
	SourceName string    `json:"source_name"`
	Sender     string    `json:"sender"`
	Text       string    `json:"text"`
	Timestamp  time.Time `json:"timestamp"`
}

// Verdict is the ranker's judgement for one candidate. Every input id appears
// exactly once in a valid response; exactly topK verdicts carry Include=true.
type Verdict struct {
	ID        string  `json:"id"`
	Include   bool    `json:"include"`
	Relevance float64 `json:"relevance"`
	Category  string  `json:"category"`
	Reason    string  `json:"reason"`
}

// Ranker scores candidates against a standing interest profile.
type Ranker interface {
	Rank(ctx context.Context, candidates []Candidate, profile string, topK int) ([]Verdict, error)
}
