// Package ocpperr carries the error taxonomy of spec §7: domain errors
// are typed values mapped at the session boundary to OCPP-J CALLERROR
// codes, following the teacher's validation.ValidationError /
// router.RouterError pattern.
package ocpperr

// Code is an OCPP-J CALLERROR code, the subset named in spec §6.2.
type Code string

const (
	NotImplemented              Code = "NotImplemented"
	NotSupported                Code = "NotSupported"
	InternalError               Code = "InternalError"
	ProtocolError               Code = "ProtocolError"
	SecurityError               Code = "SecurityError"
	FormationViolation           Code = "FormationViolation"
	PropertyConstraintViolation Code = "PropertyConstraintViolation"
	OccurenceConstraintViolation Code = "OccurenceConstraintViolation"
	TypeConstraintViolation     Code = "TypeConstraintViolation"
	GenericError                Code = "GenericError"
)

// Error is a domain error carrying its CALLERROR mapping, message, and
// optional structured details.
type Error struct {
	Code    Code
	Message string
	Details interface{}
}

func (e *Error) Error() string { return string(e.Code) + ": " + e.Message }

func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

func Newf(code Code, details interface{}, message string) *Error {
	return &Error{Code: code, Message: message, Details: details}
}

// ErrChargerNotConnected is a routing error (spec §7): operator-facing
// only, never a protocol frame.
type ErrChargerNotConnected struct{ ChargePointID string }

func (e ErrChargerNotConnected) Error() string {
	return "charger not connected: " + e.ChargePointID
}
