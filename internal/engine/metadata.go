package engine

import (
	"encoding/json"
	"strconv"

	"github.com/rfdb/rfdb/model"
)

// endpointTypes are the node types classified as graph endpoints
// regardless of metadata.
var endpointTypes = map[string]struct{}{
	"db:query":      {},
	"http:request":  {},
	"http:endpoint": {},
	"EXTERNAL":      {},
	"fs:operation":  {},
	"SIDE_EFFECT":   {},
}

// IsEndpoint classifies a node as a graph endpoint: an inherently
// terminal node type, or an exported function.
func IsEndpoint(rec model.NodeRecord) bool {
	if _, ok := endpointTypes[rec.Type]; ok {
		return true
	}
	if rec.Type == "FUNCTION" {
		return metadataMatches(rec.Metadata, map[string]string{"exported": "true"})
	}
	return false
}

// metadataMatches evaluates key/value predicates against a node's JSON
// metadata payload. Strings, booleans and numbers are all compared in
// string form; a missing key, a non-scalar value or an unparsable
// payload never matches.
func metadataMatches(metadata string, preds map[string]string) bool {
	if len(preds) == 0 {
		return true
	}
	if metadata == "" {
		return false
	}
	var doc map[string]json.RawMessage
	if err := json.Unmarshal([]byte(metadata), &doc); err != nil {
		return false
	}
	for key, want := range preds {
		raw, ok := doc[key]
		if !ok {
			return false
		}
		got, ok := scalarString(raw)
		if !ok || got != want {
			return false
		}
	}
	return true
}

func scalarString(raw json.RawMessage) (string, bool) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, true
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		return strconv.FormatBool(b), true
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String(), true
	}
	return "", false
}
