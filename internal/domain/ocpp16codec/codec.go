// Package ocpp16codec encodes and decodes OCPP-1.6J wire frames: JSON
// arrays shaped as CALL / CALLRESULT / CALLERROR envelopes.
package ocpp16codec

import (
	"encoding/json"
	"fmt"

	"github.com/charging-platform/csms/internal/domain/ocpp16"
)

// FrameError is a codec failure, mapped by the session layer to a
// FormationViolation CALLERROR for inbound frames.
type FrameError struct {
	Code    string
	Message string
	Cause   error
}

func (e FrameError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e FrameError) Unwrap() error { return e.Cause }

func formationViolation(msg string, cause error) FrameError {
	return FrameError{Code: "FormationViolation", Message: msg, Cause: cause}
}

// Frame is the decoded shape of an inbound or outbound OCPP-J envelope.
// Exactly one of (Action+Payload), (Payload alone), or (ErrorCode+...) is
// populated, selected by Type.
type Frame struct {
	Type             ocpp16.MessageType
	UID              string
	Action           ocpp16.Action
	Payload          json.RawMessage
	ErrorCode        string
	ErrorDescription string
	ErrorDetails     json.RawMessage
}

// EncodeCall builds a CALL frame: [2, uid, action, payload].
func EncodeCall(uid string, action ocpp16.Action, payload interface{}) ([]byte, error) {
	if uid == "" || len(uid) > 36 {
		return nil, formationViolation("uid must be 1-36 characters", nil)
	}
	return json.Marshal([]interface{}{ocpp16.Call, uid, action, payload})
}

// EncodeCallResult builds a CALLRESULT frame: [3, uid, payload].
func EncodeCallResult(uid string, payload interface{}) ([]byte, error) {
	return json.Marshal([]interface{}{ocpp16.CallResult, uid, payload})
}

// EncodeCallError builds a CALLERROR frame: [4, uid, code, description, details].
func EncodeCallError(uid, code, description string, details interface{}) ([]byte, error) {
	if details == nil {
		details = struct{}{}
	}
	return json.Marshal([]interface{}{ocpp16.CallError, uid, code, description, details})
}

// Decode parses a raw frame off the wire into its component parts,
// validating the outer array shape and message-type integer.
func Decode(data []byte) (Frame, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return Frame{}, formationViolation("frame is not a JSON array", err)
	}
	if len(raw) < 3 {
		return Frame{}, formationViolation("frame array too short", nil)
	}

	var msgType int
	if err := json.Unmarshal(raw[0], &msgType); err != nil {
		return Frame{}, formationViolation("message type is not an integer", err)
	}

	var uid string
	if err := json.Unmarshal(raw[1], &uid); err != nil {
		return Frame{}, formationViolation("uid is not a string", err)
	}
	if uid == "" || len(uid) > 36 {
		return Frame{}, formationViolation("uid must be 1-36 characters", nil)
	}

	switch ocpp16.MessageType(msgType) {
	case ocpp16.Call:
		if len(raw) != 4 {
			return Frame{}, formationViolation("CALL must have exactly 4 elements", nil)
		}
		var action string
		if err := json.Unmarshal(raw[2], &action); err != nil {
			return Frame{}, formationViolation("action is not a string", err)
		}
		return Frame{Type: ocpp16.Call, UID: uid, Action: ocpp16.Action(action), Payload: raw[3]}, nil

	case ocpp16.CallResult:
		if len(raw) != 3 {
			return Frame{}, formationViolation("CALLRESULT must have exactly 3 elements", nil)
		}
		return Frame{Type: ocpp16.CallResult, UID: uid, Payload: raw[2]}, nil

	case ocpp16.CallError:
		if len(raw) < 4 || len(raw) > 5 {
			return Frame{}, formationViolation("CALLERROR must have 4 or 5 elements", nil)
		}
		var code, desc string
		if err := json.Unmarshal(raw[2], &code); err != nil {
			return Frame{}, formationViolation("errorCode is not a string", err)
		}
		if err := json.Unmarshal(raw[3], &desc); err != nil {
			return Frame{}, formationViolation("errorDescription is not a string", err)
		}
		f := Frame{Type: ocpp16.CallError, UID: uid, ErrorCode: code, ErrorDescription: desc}
		if len(raw) == 5 {
			f.ErrorDetails = raw[4]
		}
		return f, nil

	default:
		return Frame{}, formationViolation(fmt.Sprintf("unknown message type %d", msgType), nil)
	}
}

// DecodePayload unmarshals a frame's payload into target, wrapping
// unmarshal failures as a FrameError.
func DecodePayload(payload json.RawMessage, target interface{}) error {
	if len(payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(payload, target); err != nil {
		return formationViolation("payload does not match expected shape", err)
	}
	return nil
}
