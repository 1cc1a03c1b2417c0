package store

import "encoding/json"

// extractJSONStringField pulls a single top-level string field out of a
// JSON document without fully decoding it into a typed struct, so the
// generic store can index on it regardless of which document type
// (session, or any future co-housed type) it belongs to.
func extractJSONStringField(payload []byte, field string) string {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(payload, &m); err != nil {
		return ""
	}
	raw, ok := m[field]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}
