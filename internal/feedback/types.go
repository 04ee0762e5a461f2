package feedback

// Request is the body of a feedback submission. Punteggio is the binary
// rating carried over from the original client contract: 1 approves the
// answer, 0 rejects it.
type Request struct {
	MessageID   string `json:"message_id"`
	TraceID     string `json:"trace_id"`
	UserID      string `json:"user_id"`
	Rating      *int   `json:"punteggio"`
	Problem     string `json:"feedback_problem"`
	Description string `json:"feedback_description"`
}

// Valid reports whether the request passes input validation. A missing
// rating is indistinguishable from a bad one; both are rejected.
func (r Request) Valid() bool {
	if r.MessageID == "" || r.TraceID == "" || r.UserID == "" {
		return false
	}
	return r.Rating != nil && (*r.Rating == 0 || *r.Rating == 1)
}
