package types

import (
	"encoding/json"
	"sort"
)

// Match is a persisted correlation row: the per-feather records grouped by
// the correlation algorithm plus any semantic annotations accumulated so far.
type Match struct {
	MatchID        string
	Application    string // matched_application column
	FilePath       string // matched_file_path column
	FeatherRecords map[string][]Record
	SemanticData   map[string]*MatchResult // keyed by rule ID
}

// MatchResult is the outcome of one rule applying to one identity's
// aggregated records. It is persisted as one entry of a match's
// semantic_data JSON.
type MatchResult struct {
	RuleID          string   `json:"rule_id"`
	RuleName        string   `json:"rule_name"`
	SemanticValue   string   `json:"semantic_value"`
	MatchedFeathers []string `json:"matched_feathers"`
	MatchedRecords  []Record `json:"matched_records"`
	Confidence      float64  `json:"confidence"`
}

// AddFeather records a contributing feather, keeping the set deduplicated
// and sorted for deterministic persistence.
func (m *MatchResult) AddFeather(featherID string) {
	for _, f := range m.MatchedFeathers {
		if f == featherID {
			return
		}
	}
	m.MatchedFeathers = append(m.MatchedFeathers, featherID)
	sort.Strings(m.MatchedFeathers)
}

// DecodeSemanticData decodes a semantic_data JSON column. Empty or NULL
// payloads decode to an empty map.
func DecodeSemanticData(raw []byte) (map[string]*MatchResult, error) {
	if len(raw) == 0 {
		return map[string]*MatchResult{}, nil
	}
	var data map[string]*MatchResult
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, err
	}
	if data == nil {
		data = map[string]*MatchResult{}
	}
	return data, nil
}

// EncodeSemanticData encodes semantic annotations for persistence.
func EncodeSemanticData(data map[string]*MatchResult) ([]byte, error) {
	if data == nil {
		data = map[string]*MatchResult{}
	}
	return json.Marshal(data)
}
