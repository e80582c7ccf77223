package redolog

import "encoding/json"

// jsonMarshal/jsonUnmarshal are thin wrappers kept in their own file so
// record.go's encode/decode path reads as log framing logic, not JSON
// plumbing.
func jsonMarshal(v any) ([]byte, error)        { return json.Marshal(v) }
func jsonUnmarshal(b []byte, v any) error      { return json.Unmarshal(b, v) }
