// Package handlers implements spec §4.E, the Inbound Handler Set: pure
// functions from (charger-id, action, payload) to (response payload,
// domain side effects). Grounded on internal/protocol/ocpp16/processor.go's
// handleAction switch, generalized from near-no-op stubs (e.g.
// StartTransaction's stub only computed a transaction id, touching no
// domain state) to the full domain-mutating semantics of spec §4.E.
package handlers

import (
	"encoding/json"
	"time"

	"github.com/charging-platform/csms/internal/domain/charger"
	"github.com/charging-platform/csms/internal/domain/logsink"
	"github.com/charging-platform/csms/internal/domain/ocpp16"
	"github.com/charging-platform/csms/internal/domain/ocpp16codec"
	"github.com/charging-platform/csms/internal/domain/ocpperr"
	"github.com/charging-platform/csms/internal/domain/validation"
	"github.com/charging-platform/csms/internal/storage"
)

// Scheduler is the narrow surface handlers needs from
// internal/domain/scheduler, to avoid an import cycle (the scheduler
// itself calls back out through sessions the handlers don't own).
type Scheduler interface {
	ArmPostTransaction(chargePointID string, transactionID int)
}

// Set is the Inbound Handler Set, implementing session.Handler.
type Set struct {
	store     storage.Store
	logs      *logsink.Sink
	scheduler Scheduler
	validator *validation.Validator
}

func New(store storage.Store, logs *logsink.Sink, scheduler Scheduler) *Set {
	return &Set{
		store:     store,
		logs:      logs,
		scheduler: scheduler,
		validator: validation.NewValidator(),
	}
}

// HandleCall satisfies session.Handler.
func (s *Set) HandleCall(chargePointID string, action ocpp16.Action, payload json.RawMessage) (interface{}, error) {
	switch action {
	case ocpp16.ActionBootNotification:
		return s.bootNotification(chargePointID, payload)
	case ocpp16.ActionHeartbeat:
		return s.heartbeat(chargePointID, payload)
	case ocpp16.ActionStatusNotification:
		return s.statusNotification(chargePointID, payload)
	case ocpp16.ActionAuthorize:
		return s.authorize(chargePointID, payload)
	case ocpp16.ActionStartTransaction:
		return s.startTransaction(chargePointID, payload)
	case ocpp16.ActionStopTransaction:
		return s.stopTransaction(chargePointID, payload)
	case ocpp16.ActionMeterValues:
		return s.meterValues(chargePointID, payload)
	case ocpp16.ActionDataTransfer:
		return s.dataTransfer(chargePointID, payload)
	case ocpp16.ActionFirmwareStatusNotification:
		return s.firmwareStatusNotification(chargePointID, payload)
	case ocpp16.ActionDiagnosticsStatusNotification:
		return s.diagnosticsStatusNotification(chargePointID, payload)
	default:
		return nil, ocpperr.New(ocpperr.NotImplemented, "no inbound handler for action "+string(action))
	}
}

func (s *Set) decode(payload json.RawMessage, target interface{}) error {
	if err := ocpp16codec.DecodePayload(payload, target); err != nil {
		return err
	}
	if err := s.validator.ValidateStruct(target); err != nil {
		return ocpperr.Newf(ocpperr.PropertyConstraintViolation, nil, err.Error())
	}
	return nil
}

func (s *Set) log(chargePointID, message string) {
	s.logs.Append(chargePointID, message)
}

// bootNotification ensures the aggregate exists and never alters
// availability status (spec §4.E).
func (s *Set) bootNotification(chargePointID string, payload json.RawMessage) (interface{}, error) {
	var req ocpp16.BootNotificationRequest
	if err := s.decode(payload, &req); err != nil {
		return nil, err
	}

	s.store.ApplyChargerMutation(chargePointID, func(c *charger.Charger) {
		c.Vendor = req.ChargePointVendor
		c.Model = req.ChargePointModel
		if req.FirmwareVersion != nil {
			c.FirmwareVersion = *req.FirmwareVersion
		}
		c.LastHeartbeat = time.Now()
	})

	s.log(chargePointID, logsink.PrefixSuccess+" BootNotification accepted: "+req.ChargePointVendor+" "+req.ChargePointModel)

	return ocpp16.BootNotificationResponse{
		Status:      ocpp16.RegistrationStatusAccepted,
		CurrentTime: ocpp16.DateTime{Time: time.Now().UTC()},
		Interval:    30,
	}, nil
}

func (s *Set) heartbeat(chargePointID string, payload json.RawMessage) (interface{}, error) {
	s.store.ApplyChargerMutation(chargePointID, func(c *charger.Charger) {
		c.LastHeartbeat = time.Now()
	})
	return ocpp16.HeartbeatResponse{CurrentTime: ocpp16.DateTime{Time: time.Now().UTC()}}, nil
}

// statusNotification accepts any OCPP status string and updates both
// the connector and the aggregate status (spec §4.E, §9 "later, richer
// variant" — status is never set anywhere except here).
func (s *Set) statusNotification(chargePointID string, payload json.RawMessage) (interface{}, error) {
	var req ocpp16.StatusNotificationRequest
	if err := s.decode(payload, &req); err != nil {
		return nil, err
	}

	s.store.ApplyChargerMutation(chargePointID, func(c *charger.Charger) {
		conn := c.Connector(req.ConnectorId)
		conn.Status = string(req.Status)
		conn.ErrorCode = string(req.ErrorCode)
		if req.Info != nil {
			conn.Info = *req.Info
		}
		if req.VendorId != nil {
			conn.VendorID = *req.VendorId
		}
		if req.VendorErrorCode != nil {
			conn.VendorErrorCode = *req.VendorErrorCode
		}
		conn.UpdatedAt = time.Now()
		c.Status = string(req.Status)
	})

	s.log(chargePointID, "StatusNotification connector "+itoa(req.ConnectorId)+": "+string(req.Status))
	return ocpp16.StatusNotificationResponse{}, nil
}

// authorize never implicitly creates id-tags: unknown tags are Invalid.
func (s *Set) authorize(chargePointID string, payload json.RawMessage) (interface{}, error) {
	var req ocpp16.AuthorizeRequest
	if err := s.decode(payload, &req); err != nil {
		return nil, err
	}

	status := ocpp16.AuthorizationStatusInvalid
	tag, ok := s.store.GetIdTag(req.IdTag)
	if ok && tag.Status == string(ocpp16.AuthorizationStatusAccepted) {
		status = ocpp16.AuthorizationStatusAccepted
	}

	s.log(chargePointID, "Authorize "+req.IdTag+": "+string(status))
	return ocpp16.AuthorizeResponse{IdTagInfo: ocpp16.IdTagInfo{Status: status}}, nil
}

// startTransaction is accepted at the protocol level even when
// current_transaction is already set (spec §4.E): out-of-band policy
// rejection is an operator UI concern, not this handler's.
func (s *Set) startTransaction(chargePointID string, payload json.RawMessage) (interface{}, error) {
	var req ocpp16.StartTransactionRequest
	if err := s.decode(payload, &req); err != nil {
		return nil, err
	}

	var txID int
	now := time.Now()
	updated := s.store.ApplyChargerMutation(chargePointID, func(c *charger.Charger) {
		txID = c.NextTransactionID(now)
		conn := c.Connector(req.ConnectorId)
		conn.TransactionID = &txID
		conn.IdTag = req.IdTag
		start := req.Timestamp.Time
		conn.StartTimestamp = &start
		conn.UpdatedAt = now
		c.CurrentTransaction = &txID
	})
	_ = updated

	s.log(chargePointID, logsink.PrefixSuccess+" StartTransaction "+itoa(txID)+" on connector "+itoa(req.ConnectorId)+" by "+req.IdTag)

	if s.scheduler != nil {
		// Armed after the mutation completes and before the response
		// is returned to the session for writing. The scheduler does
		// not observe that write: its jobs fire after a fixed delay
		// (500ms by default) counted from this call, and only that
		// delay places them after the CALLRESULT on the wire.
		s.scheduler.ArmPostTransaction(chargePointID, txID)
	}

	return ocpp16.StartTransactionResponse{
		IdTagInfo:     ocpp16.IdTagInfo{Status: ocpp16.AuthorizationStatusAccepted},
		TransactionId: txID,
	}, nil
}

// stopTransaction never sends CALLERROR even on a transaction-id
// mismatch; it simply clears nothing (spec §4.E).
func (s *Set) stopTransaction(chargePointID string, payload json.RawMessage) (interface{}, error) {
	var req ocpp16.StopTransactionRequest
	if err := s.decode(payload, &req); err != nil {
		return nil, err
	}

	s.store.ApplyChargerMutation(chargePointID, func(c *charger.Charger) {
		if c.CurrentTransaction == nil || *c.CurrentTransaction != req.TransactionId {
			return
		}
		for _, conn := range c.Connectors {
			if conn.TransactionID != nil && *conn.TransactionID == req.TransactionId {
				conn.TransactionID = nil
				conn.IdTag = ""
				conn.StartTimestamp = nil
				conn.UpdatedAt = time.Now()
			}
		}
		c.CurrentTransaction = nil
	})

	s.log(chargePointID, "StopTransaction "+itoa(req.TransactionId)+" meterStop="+itoa(req.MeterStop))
	return ocpp16.StopTransactionResponse{}, nil
}

func (s *Set) meterValues(chargePointID string, payload json.RawMessage) (interface{}, error) {
	var req ocpp16.MeterValuesRequest
	if err := s.decode(payload, &req); err != nil {
		return nil, err
	}

	var latest int64
	for _, mv := range req.MeterValue {
		for _, sv := range mv.SampledValue {
			if n, ok := parseInt64(sv.Value); ok {
				latest = n
			}
		}
	}

	s.store.ApplyChargerMutation(chargePointID, func(c *charger.Charger) {
		if latest != 0 {
			c.MeterValue = latest
		}
	})

	s.log(chargePointID, "MeterValues connector "+itoa(req.ConnectorId)+": "+itoa(len(req.MeterValue))+" samples")
	return ocpp16.MeterValuesResponse{}, nil
}

// dataTransfer accepts always and records the inbound data field
// regardless of whether it is a string (compliant) or a JSON object (an
// OCPP 1.6 violation, accepted for audit per spec §4.E).
func (s *Set) dataTransfer(chargePointID string, payload json.RawMessage) (interface{}, error) {
	var req ocpp16.DataTransferRequest
	if err := ocpp16codec.DecodePayload(payload, &req); err != nil {
		return nil, err
	}

	_, isObject := req.Data.(map[string]interface{})

	s.store.ApplyChargerMutation(chargePointID, func(c *charger.Charger) {
		c.DataTransfers = append(c.DataTransfers, charger.DataTransferRecord{
			VendorID:          req.VendorId,
			MessageID:         derefStr(req.MessageId),
			Data:              req.Data,
			IsObjectViolation: isObject,
			ReceivedAt:        time.Now(),
		})
	})

	if isObject {
		s.log(chargePointID, logsink.PrefixWarning+" DataTransfer from "+req.VendorId+" carried object-shaped data (spec violation), accepted")
	} else {
		s.log(chargePointID, "DataTransfer from "+req.VendorId)
	}

	return ocpp16.DataTransferResponse{Status: ocpp16.DataTransferStatusAccepted}, nil
}

func (s *Set) firmwareStatusNotification(chargePointID string, payload json.RawMessage) (interface{}, error) {
	var req ocpp16.FirmwareStatusNotificationRequest
	if err := s.decode(payload, &req); err != nil {
		return nil, err
	}
	s.store.ApplyChargerMutation(chargePointID, func(c *charger.Charger) {
		c.FirmwareStatus = string(req.Status)
	})
	s.log(chargePointID, "FirmwareStatusNotification: "+string(req.Status))
	return ocpp16.FirmwareStatusNotificationResponse{}, nil
}

func (s *Set) diagnosticsStatusNotification(chargePointID string, payload json.RawMessage) (interface{}, error) {
	var req ocpp16.DiagnosticsStatusNotificationRequest
	if err := s.decode(payload, &req); err != nil {
		return nil, err
	}
	s.store.ApplyChargerMutation(chargePointID, func(c *charger.Charger) {
		c.DiagnosticsStatus = string(req.Status)
	})
	s.log(chargePointID, "DiagnosticsStatusNotification: "+string(req.Status))
	return ocpp16.DiagnosticsStatusNotificationResponse{}, nil
}
