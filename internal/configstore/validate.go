package configstore

import (
	"encoding/json"
	"fmt"
)

// MaxDocumentBytes caps the size of an analyzer configuration document.
const MaxDocumentBytes = 256 * 1024

// Validate is the pure, side-effect-free structural check applied to a
// document before it can be proposed. The document shape beyond this is
// owned by the analyzer.
func Validate(document json.RawMessage) []string {
	var issues []string

	if len(document) == 0 {
		return []string{"document is empty"}
	}
	if len(document) > MaxDocumentBytes {
		issues = append(issues, fmt.Sprintf("document exceeds %d bytes", MaxDocumentBytes))
	}

	var parsed any
	if err := json.Unmarshal(document, &parsed); err != nil {
		return append(issues, fmt.Sprintf("document is not valid JSON: %v", err))
	}

	obj, ok := parsed.(map[string]any)
	if !ok {
		return append(issues, "document must be a JSON object")
	}
	if len(obj) == 0 {
		issues = append(issues, "document has no fields")
	}
	for key := range obj {
		if key == "" {
			issues = append(issues, "document contains an empty key")
		}
	}

	return issues
}
