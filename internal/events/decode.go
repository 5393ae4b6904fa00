package events

import (
	"encoding/json"
	"errors"
	"fmt"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// ErrUnknownEvent is returned for event names this client does not handle.
// Servers may add event types; callers should log and skip them.
var ErrUnknownEvent = errors.New("unknown stream event")

// DecodeError reports a payload that failed to parse or validate.
type DecodeError struct {
	Event string
	Raw   []byte
	Err   error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("invalid %s event payload: %v", e.Event, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

var roles = []any{"USER", "MEMBER", "ADMIN"}

func (e MultiPurpose) Validate() error {
	return validation.ValidateStruct(&e,
		validation.Field(&e.Reason,
			validation.Required,
			validation.In(ReasonRoleChange, ReasonDeletedByAdmin, ReasonDefault),
		),
		validation.Field(&e.TargetUserRole, validation.In(roles...)),
		validation.Field(&e.OriginUsername, validation.Length(0, 64)),
	)
}

// Message reasons are open: anything besides messageCreated is routed as
// another mutation, so reasons added by the server still invalidate.
func (e Message) Validate() error {
	return validation.ValidateStruct(&e,
		validation.Field(&e.Reason, validation.Required, validation.Length(1, 64)),
	)
}

// Decode parses and validates the body of the stream event called name.
func Decode(name string, data []byte) (Event, error) {
	switch name {
	case NameMultiPurpose:
		return decodeValidated[MultiPurpose](name, data)
	case NameMessage:
		return decodeValidated[Message](name, data)
	case NameUserList:
		// Arrival is the whole signal; the body is not inspected.
		return UserList{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, name)
	}
}

func decodeValidated[T interface {
	Event
	validation.Validatable
}](name string, data []byte) (Event, error) {
	var payload T
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, &DecodeError{Event: name, Raw: data, Err: err}
	}
	if err := payload.Validate(); err != nil {
		return nil, &DecodeError{Event: name, Raw: data, Err: err}
	}
	return payload, nil
}
