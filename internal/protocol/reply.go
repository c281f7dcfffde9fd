package protocol

// Reply is the single answer to a request: either a JSON response payload
// or a binary frame.
type Reply struct {
	Payload any

	// Frame, when non-nil, makes the reply a binary frame carrying Data.
	// Payload is ignored in that case.
	Frame *FrameHeader
	Data  []byte
}

// JSONReply answers with a text response carrying v.
func JSONReply(v any) Reply {
	return Reply{Payload: v}
}

// ErrorReply answers with {"error": code}.
func ErrorReply(code string) Reply {
	return Reply{Payload: ErrorPayload{Error: code}}
}

// SuccessReply answers with {"success": true}.
func SuccessReply() Reply {
	return Reply{Payload: SuccessPayload{Success: true}}
}

// FrameReply answers with one binary frame.
func FrameReply(h FrameHeader, data []byte) Reply {
	return Reply{Frame: &h, Data: data}
}

// ErrorCode returns the error code of an error reply, or "".
func (r Reply) ErrorCode() string {
	if r.Frame != nil {
		return ""
	}
	if e, ok := r.Payload.(ErrorPayload); ok {
		return e.Error
	}
	return ""
}
