package types

import (
	"encoding/json"

	"go.uber.org/zap"
)

// TableField is the reserved record key naming the source table of a record.
const TableField = "_table"

// MetadataTableName marks structural noise rows that must be filtered out
// before evaluation.
const MetadataTableName = "feather_metadata"

// Record is one forensic record: column name to tagged value, plus the
// reserved _table field.
type Record map[string]Value

// Table returns the record's source table, or "" when absent.
func (r Record) Table() string {
	if v, ok := r[TableField]; ok {
		return v.AsString()
	}
	return ""
}

// IsMetadata reports whether the record is a feather_metadata structural row.
func (r Record) IsMetadata() bool {
	return r.Table() == MetadataTableName
}

// Field returns the value of a column and whether it is present.
func (r Record) Field(name string) (Value, bool) {
	v, ok := r[name]
	return v, ok
}

// DecodeFeatherRecords decodes a feather_records JSON payload into per-
// feather record lists. Top-level malformation is an error; inner shape
// problems (a feather entry that is not a list, a record that is not an
// object) are dropped with a logged warning so one bad entry never poisons
// the rest of the payload.
func DecodeFeatherRecords(raw []byte, logger *zap.SugaredLogger) (map[string][]Record, error) {
	var outer map[string]json.RawMessage
	if err := json.Unmarshal(raw, &outer); err != nil {
		return nil, err
	}

	result := make(map[string][]Record, len(outer))
	for featherID, entry := range outer {
		var items []json.RawMessage
		if err := json.Unmarshal(entry, &items); err != nil {
			if logger != nil {
				logger.Warnw("Feather entry is not a list, dropping",
					"feather_id", featherID,
				)
			}
			continue
		}

		records := make([]Record, 0, len(items))
		for i, item := range items {
			var rec Record
			if err := json.Unmarshal(item, &rec); err != nil {
				if logger != nil {
					logger.Warnw("Feather record is not an object, dropping",
						"feather_id", featherID,
						"index", i,
					)
				}
				continue
			}
			records = append(records, rec)
		}
		result[featherID] = records
	}
	return result, nil
}
