package ranking

import (
	"errors"
	"testing"
)

func TestParseVerdicts(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		raw     string
		wantN   int
		wantErr bool
	}{
		{
			name:  "plain array",
			raw:   `[{"id":"a","include":true,"relevance":0.9}]`,
			wantN: 1,
		},
		{
			name:  "fenced json",
			raw:   "```json\n[{\"id\":\"a\",\"include\":false,\"relevance\":0.2}]\n```",
			wantN: 1,
		},
		{
			name:  "bare fence",
			raw:   "```\n[{\"id\":\"a\"},{\"id\":\"b\"}]\n```",
			wantN: 2,
		},
		{
			name:  "envelope object",
			raw:   `{"items":[{"id":"a","include":true,"relevance":1}]}`,
			wantN: 1,
		},
		{
			name:  "surrounding whitespace",
			raw:   "\n\n  [{\"id\":\"a\"}]  \n",
			wantN: 1,
		},
		{
			name:    "prose instead of json",
			raw:     "Here are my picks: message a looks relevant.",
			wantErr: true,
		},
		{
			name:    "truncated json",
			raw:     `[{"id":"a","include":tr`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := parseVerdicts(tt.raw)
			if tt.wantErr {
				if !errors.Is(err, ErrContract) {
					t.Fatalf("error = %v, want ErrContract", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseVerdicts: %v", err)
			}
			if len(got) != tt.wantN {
				t.Fatalf("parsed %d verdicts, want %d", len(got), tt.wantN)
			}
		})
	}
}

func TestValidateVerdicts(t *testing.T) {
	t.Parallel()
	cands := []Candidate{{ID: "a"}, {ID: "b"}, {ID: "c"}}

	tests := []struct {
		name     string
		verdicts []Verdict
		topK     int
		wantErr  bool
	}{
		{
			name: "valid",
			verdicts: []Verdict{
				{ID: "a", Include: true, Relevance: 0.9},
				{ID: "b", Include: true, Relevance: 0.7},
				{ID: "c", Include: false, Relevance: 0.1},
			},
			topK: 2,
		},
		{
			name: "count mismatch",
			verdicts: []Verdict{
				{ID: "a", Include: true},
			},
			topK:    1,
			wantErr: true,
		},
		{
			name: "unknown id",
			verdicts: []Verdict{
				{ID: "a", Include: true},
				{ID: "b"},
				{ID: "zzz"},
			},
			topK:    1,
			wantErr: true,
		},
		{
			name: "duplicate id",
			verdicts: []Verdict{
				{ID: "a", Include: true},
				{ID: "a"},
				{ID: "b"},
			},
			topK:    1,
			wantErr: true,
		},
		{
			name: "too many includes",
			verdicts: []Verdict{
				{ID: "a", Include: true},
				{ID: "b", Include: true},
				{ID: "c", Include: true},
			},
			topK:    2,
			wantErr: true,
		},
		{
			name: "too few includes",
			verdicts: []Verdict{
				{ID: "a", Include: true},
				{ID: "b"},
				{ID: "c"},
			},
			topK:    2,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := validateVerdicts(tt.verdicts, cands, tt.topK)
			if tt.wantErr {
				if !errors.Is(err, ErrContract) {
					t.Fatalf("error = %v, want ErrContract", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("validateVerdicts: %v", err)
			}
		})
	}
}

func TestValidateClampsRelevance(t *testing.T) {
	t.Parallel()
	cands := []Candidate{{ID: "a"}, {ID: "b"}}
	verdicts := []Verdict{
		{ID: "a", Include: true, Relevance: 1.7},
		{ID: "b", Include: false, Relevance: -0.4},
	}
	if err := validateVerdicts(verdicts, cands, 1); err != nil {
		t.Fatalf("validateVerdicts: %v", err)
	}
	if verdicts[0].Relevance != 1 {
		t.Fatalf("relevance = %v, want clamped to 1", verdicts[0].Relevance)
	}
	if verdicts[1].Relevance != 0 {
		t.Fatalf("relevance = %v, want clamped to 0", verdicts[1].Relevance)
	}
}
