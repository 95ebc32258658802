package api

// Error represents an API error response body. Handlers build these
// locally per subpackage; the shared type documents the wire shape and
// lets tests decode any endpoint's error uniformly.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

func (e *Error) Error() string {
	return e.Message
}
