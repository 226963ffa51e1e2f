package domain

import "encoding/json"

// VerifyReport is the outcome of one verification pass.
type VerifyReport struct {
	Passed   bool   `json:"passed"`
	Score    int    `json:"score"`
	Loops    int    `json:"loops"`
	Degraded bool   `json:"degraded,omitempty"`
	Summary  string `json:"summary,omitempty"`
}

// RunSnapshot is the state carried between steps and persisted with every
// attempt. Each step fills in its own artifact and appends itself to
// History; downstream steps read what upstream steps produced.
type RunSnapshot struct {
	History      []string        `json:"history"`
	PRD          json.RawMessage `json:"prd,omitempty"`
	DesignReview json.RawMessage `json:"designReview,omitempty"`
	Research     json.RawMessage `json:"research,omitempty"`
	Plan         json.RawMessage `json:"plan,omitempty"`
	Patch        string          `json:"patch,omitempty"`
	Verify       *VerifyReport   `json:"verify,omitempty"`
	ReleaseNotes string          `json:"releaseNotes,omitempty"`
}

func (s *RunSnapshot) Clone() *RunSnapshot {
	if s == nil {
		return &RunSnapshot{}
	}
	out := *s
	out.History = append([]string(nil), s.History...)
	if s.Verify != nil {
		verify := *s.Verify
		out.Verify = &verify
	}
	return &out
}

func (s *RunSnapshot) Encode() (json.RawMessage, error) {
	if s == nil {
		return json.RawMessage("{}"), nil
	}
	raw, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	return raw, nil
}

func DecodeRunSnapshot(raw json.RawMessage) (*RunSnapshot, error) {
	snapshot := &RunSnapshot{}
	if len(raw) == 0 {
		return snapshot, nil
	}
	if err := json.Unmarshal(raw, snapshot); err != nil {
		return nil, err
	}
	return snapshot, nil
}
