package core

// Response is the body every protocol operation reports to callers.
type Response struct {
	Success bool   `json:"success"`
	Reason  string `json:"reason"`
	Result  any    `json:"result"`
}

// Envelope builds a Response from an operation's result and error.
// A nil result is reported as an empty object so bodies are never empty.
func Envelope(result any, err error) Response {
	if result == nil {
		result = map[string]any{}
	}
	return Response{
		Success: err == nil,
		Reason:  ReasonFor(err),
		Result:  result,
	}
}
