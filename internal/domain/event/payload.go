package event

// Payload is the type-specific body of an event. The set of implementations
// is closed: one per Type.
type Payload interface {
	// Kind is the event type the payload belongs to.
	Kind() Type
	validate() error
}

var (
	_ Payload = (*CommandPayload)(nil)
	_ Payload = (*NotificationPayload)(nil)
	_ Payload = (*QueryPayload)(nil)
	_ Payload = (*ResponsePayload)(nil)
	_ Payload = (*ErrorPayload)(nil)
)

// CommandPayload asks the target to perform an action.
type CommandPayload struct {
	CommandName string         `json:"command_name"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

func (p *CommandPayload) Kind() Type { return Command }

func (p *CommandPayload) validate() error {
	if p == nil {
		return errNilPayload
	}
	if p.CommandName == "" {
		return fieldError("command_name")
	}
	return nil
}

// NotificationPayload announces that something happened.
type NotificationPayload struct {
	Data map[string]any `json:"data,omitempty"`
}

func (p *NotificationPayload) Kind() Type      { return Notification }
func (p *NotificationPayload) validate() error {
	if p == nil {
		return errNilPayload
	}
	return nil
}

// QueryPayload requests data; answered by a Response.
type QueryPayload struct {
	QueryName  string         `json:"query_name"`
	Parameters map[string]any `json:"parameters,omitempty"`
}

func (p *QueryPayload) Kind() Type { return Query }

func (p *QueryPayload) validate() error {
	if p == nil {
		return errNilPayload
	}
	if p.QueryName == "" {
		return fieldError("query_name")
	}
	return nil
}

// ResponsePayload answers the query identified by QueryID.
type ResponsePayload struct {
	QueryID string         `json:"query_id"`
	Data    map[string]any `json:"data,omitempty"`
	Success bool           `json:"success"`
}

func (p *ResponsePayload) Kind() Type { return Response }

func (p *ResponsePayload) validate() error {
	if p == nil {
		return errNilPayload
	}
	if p.QueryID == "" {
		return fieldError("query_id")
	}
	return nil
}

// ErrorPayload reports a failure, optionally caused by SourceEventID.
type ErrorPayload struct {
	Code          string         `json:"error_code"`
	Message       string         `json:"error_message"`
	SourceEventID string         `json:"source_event_id,omitempty"`
	Details       map[string]any `json:"details,omitempty"`
}

func (p *ErrorPayload) Kind() Type { return Error }

func (p *ErrorPayload) validate() error {
	if p == nil {
		return errNilPayload
	}
	if p.Code == "" {
		return fieldError("error_code")
	}
	if p.Message == "" {
		return fieldError("error_message")
	}
	return nil
}

// newPayload returns an empty payload of the kind matching t.
func newPayload(t Type) Payload {
	switch t {
	case Command:
		return &CommandPayload{}
	case Notification:
		return &NotificationPayload{}
	case Query:
		return &QueryPayload{}
	case Response:
		return &ResponsePayload{}
	case Error:
		return &ErrorPayload{}
	}
	return nil
}
