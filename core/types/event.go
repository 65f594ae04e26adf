package types

// Event is a structured record of a state change, keyed by a stable type
// string with string-valued attributes for external indexers.
type Event struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}
