package alert

import "encoding/json"

// State is the terminal state of one Build call.
type State int

const (
	StateNoCandidates State = iota
	StateUnchanged
	StateNoClassifiable
	StateEmit
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateNoCandidates:
		return "no_candidates"
	case StateUnchanged:
		return "unchanged"
	case StateNoClassifiable:
		return "no_classifiable"
	case StateEmit:
		return "emit"
	case StateFailed:
		return "failed"
	default:
		return "invalid"
	}
}

// Response is the only externally visible artifact of the pipeline.
//
// Wire shapes:
//
//	empty:     {"hasMessages":false,"count":0,"fingerprint":"","alertText":""}
//	unchanged: {"hasMessages":true,"unchanged":true,"count":N,"fingerprint":"…"}
//	emit:      {"hasMessages":true,"count":N,"fingerprint":"…","alertText":"…"}
//	failure:   {"hasMessages":false,"count":0,"error":"…"}
type Response struct {
	HasMessages bool
	Count       int
	Fingerprint string
	Unchanged   bool
	AlertText   string
	Error       string

	// State is not serialized.
	State State
}

// EmptyResponse is returned when nothing is (or nothing classifiable is) unread.
func EmptyResponse() Response {
	return Response{State: StateNoCandidates}
}

// FailureResponse is the safe fallback the transport emits instead of a fault.
func FailureResponse(err error) Response {
	msg := "internal error"
	if err != nil {
		msg = err.Error()
	}
	return Response{Error: msg, State: StateFailed}
}

type wireFull struct {
	HasMessages bool   `json:"hasMessages"`
	Count       int    `json:"count"`
	Fingerprint string `json:"fingerprint"`
	AlertText   string `json:"alertText"`
}

type wireUnchanged struct {
	HasMessages bool   `json:"hasMessages"`
	Unchanged   bool   `json:"unchanged"`
	Count       int    `json:"count"`
	Fingerprint string `json:"fingerprint"`
}

type wireFailure struct {
	HasMessages bool   `json:"hasMessages"`
	Count       int    `json:"count"`
	Error       string `json:"error"`
}

func (r Response) MarshalJSON() ([]byte, error) {
	switch {
	case r.Error != "":
		return json.Marshal(wireFailure{HasMessages: false, Count: 0, Error: r.Error})
	case r.Unchanged:
		return json.Marshal(wireUnchanged{
			HasMessages: r.HasMessages,
			Unchanged:   true,
			Count:       r.Count,
			Fingerprint: r.Fingerprint,
		})
	default:
		return json.Marshal(wireFull{
			HasMessages: r.HasMessages,
			Count:       r.Count,
			Fingerprint: r.Fingerprint,
			AlertText:   r.AlertText,
		})
	}
}

func (r *Response) UnmarshalJSON(b []byte) error {
	var w struct {
		HasMessages bool   `json:"hasMessages"`
		Count       int    `json:"count"`
		Fingerprint string `json:"fingerprint"`
		Unchanged   bool   `json:"unchanged"`
		AlertText   string `json:"alertText"`
		Error       string `json:"error"`
	}
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	*r = Response{
		HasMessages: w.HasMessages,
		Count:       w.Count,
		Fingerprint: w.Fingerprint,
		Unchanged:   w.Unchanged,
		AlertText:   w.AlertText,
		Error:       w.Error,
	}
	switch {
	case w.Error != "":
		r.State = StateFailed
	case w.Unchanged:
		r.State = StateUnchanged
	case w.HasMessages:
		r.State = StateEmit
	default:
		r.State = StateNoCandidates
	}
	return nil
}
