// Package commands implements spec §4.F, the Outbound Command API: one
// typed function per CSMS-initiated OCPP action. Grounded on the
// teacher's cmd/gateway/main.go Kafka commandHandler closure, which took
// an operator-issued command and fired it at a charge point without
// correlating a reply; here every function instead drives the
// correlated request/response semantics of internal/domain/session's
// Session.Call, returning the charge point's actual answer to the
// caller synchronously.
package commands

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/charging-platform/csms/internal/domain/charger"
	"github.com/charging-platform/csms/internal/domain/ocpp16"
	"github.com/charging-platform/csms/internal/domain/ocpperr"
	"github.com/charging-platform/csms/internal/domain/registry"
	"github.com/charging-platform/csms/internal/domain/session"
	"github.com/charging-platform/csms/internal/logger"
	"github.com/charging-platform/csms/internal/storage"
)

const defaultTimeout = 30 * time.Second

// API is the Outbound Command API, bound to a live registry and the
// domain store facade it mutates on Accepted replies (e.g. local auth
// list version, reservations).
type API struct {
	registry *registry.Registry
	store    storage.Store
	logger   *logger.Logger
}

func New(reg *registry.Registry, store storage.Store, log *logger.Logger) *API {
	if log == nil {
		log, _ = logger.New(logger.DefaultConfig())
	}
	return &API{registry: reg, store: store, logger: log}
}

func (a *API) call(chargePointID string, action ocpp16.Action, payload interface{}) (session.Result, error) {
	sess := a.registry.Get(chargePointID)
	if sess == nil {
		return session.Result{}, ocpperr.ErrChargerNotConnected{ChargePointID: chargePointID}
	}
	return sess.Call(action, payload, defaultTimeout)
}

// RemoteStart sends RemoteStartTransaction.
func (a *API) RemoteStart(chargePointID string, connectorID *int, idTag string, profile *ocpp16.ChargingProfile) (ocpp16.RemoteStartTransactionResponse, error) {
	var out ocpp16.RemoteStartTransactionResponse
	result, err := a.call(chargePointID, ocpp16.ActionRemoteStartTransaction, ocpp16.RemoteStartTransactionRequest{
		ConnectorId:     connectorID,
		IdTag:           idTag,
		ChargingProfile: profile,
	})
	if err != nil {
		return out, err
	}
	return out, decodeResult(result, &out)
}

// RemoteStop sends RemoteStopTransaction.
func (a *API) RemoteStop(chargePointID string, transactionID int) (ocpp16.RemoteStopTransactionResponse, error) {
	var out ocpp16.RemoteStopTransactionResponse
	result, err := a.call(chargePointID, ocpp16.ActionRemoteStopTransaction, ocpp16.RemoteStopTransactionRequest{
		TransactionId: transactionID,
	})
	if err != nil {
		return out, err
	}
	return out, decodeResult(result, &out)
}

// Reset sends Reset.
func (a *API) Reset(chargePointID string, resetType ocpp16.ResetType) (ocpp16.ResetResponse, error) {
	var out ocpp16.ResetResponse
	result, err := a.call(chargePointID, ocpp16.ActionReset, ocpp16.ResetRequest{Type: resetType})
	if err != nil {
		return out, err
	}
	return out, decodeResult(result, &out)
}

// UnlockConnector sends UnlockConnector.
func (a *API) UnlockConnector(chargePointID string, connectorID int) (ocpp16.UnlockConnectorResponse, error) {
	var out ocpp16.UnlockConnectorResponse
	result, err := a.call(chargePointID, ocpp16.ActionUnlockConnector, ocpp16.UnlockConnectorRequest{ConnectorId: connectorID})
	if err != nil {
		return out, err
	}
	return out, decodeResult(result, &out)
}

// GetConfiguration sends GetConfiguration.
func (a *API) GetConfiguration(chargePointID string, keys []string) (ocpp16.GetConfigurationResponse, error) {
	var out ocpp16.GetConfigurationResponse
	result, err := a.call(chargePointID, ocpp16.ActionGetConfiguration, ocpp16.GetConfigurationRequest{Key: keys})
	if err != nil {
		return out, err
	}
	return out, decodeResult(result, &out)
}

// ChangeConfiguration sends ChangeConfiguration.
func (a *API) ChangeConfiguration(chargePointID, key, value string) (ocpp16.ChangeConfigurationResponse, error) {
	var out ocpp16.ChangeConfigurationResponse
	result, err := a.call(chargePointID, ocpp16.ActionChangeConfiguration, ocpp16.ChangeConfigurationRequest{Key: key, Value: value})
	if err != nil {
		return out, err
	}
	return out, decodeResult(result, &out)
}

// ClearCache sends ClearCache.
func (a *API) ClearCache(chargePointID string) (ocpp16.ClearCacheResponse, error) {
	var out ocpp16.ClearCacheResponse
	result, err := a.call(chargePointID, ocpp16.ActionClearCache, ocpp16.ClearCacheRequest{})
	if err != nil {
		return out, err
	}
	return out, decodeResult(result, &out)
}

// ChangeAvailability sends ChangeAvailability.
func (a *API) ChangeAvailability(chargePointID string, connectorID int, availType ocpp16.AvailabilityType) (ocpp16.ChangeAvailabilityResponse, error) {
	var out ocpp16.ChangeAvailabilityResponse
	result, err := a.call(chargePointID, ocpp16.ActionChangeAvailability, ocpp16.ChangeAvailabilityRequest{
		ConnectorId: connectorID,
		Type:        availType,
	})
	if err != nil {
		return out, err
	}
	return out, decodeResult(result, &out)
}

// TriggerMessage sends TriggerMessage.
func (a *API) TriggerMessage(chargePointID string, trigger ocpp16.MessageTrigger, connectorID *int) (ocpp16.TriggerMessageResponse, error) {
	var out ocpp16.TriggerMessageResponse
	result, err := a.call(chargePointID, ocpp16.ActionTriggerMessage, ocpp16.TriggerMessageRequest{
		RequestedMessage: trigger,
		ConnectorId:      connectorID,
	})
	if err != nil {
		return out, err
	}
	return out, decodeResult(result, &out)
}

// DataTransfer sends a raw DataTransfer, used for operator-issued
// vendor messages outside the post-transaction scheduler.
func (a *API) DataTransfer(chargePointID, vendorID string, messageID *string, data interface{}) (ocpp16.DataTransferResponse, error) {
	var out ocpp16.DataTransferResponse
	result, err := a.call(chargePointID, ocpp16.ActionDataTransfer, ocpp16.DataTransferRequest{
		VendorId:  vendorID,
		MessageId: messageID,
		Data:      data,
	})
	if err != nil {
		return out, err
	}
	return out, decodeResult(result, &out)
}

// SendTemplatedDataTransfer loads a saved data-transfer template by id
// and issues it as a DataTransfer, sparing the operator from repeating a
// vendor's VendorId/MessageId/Data by hand each time (spec §5
// Supplemented Features: data-transfer templates).
func (a *API) SendTemplatedDataTransfer(chargePointID string, templateID int) (ocpp16.DataTransferResponse, error) {
	tpl, ok := a.store.GetDataTransferTemplate(templateID)
	if !ok {
		return ocpp16.DataTransferResponse{}, ocpperr.New(ocpperr.GenericError, fmt.Sprintf("no data-transfer template with id %d", templateID))
	}
	var data interface{}
	if tpl.Data != nil {
		data = *tpl.Data
	}
	return a.DataTransfer(chargePointID, tpl.VendorID, tpl.MessageID, data)
}

// GetVendorSettings returns the charger's current Jio_BP/MSIL/CZ
// post-transaction parameters (spec §5 Supplemented Features: vendor
// settings CRUD, feeding the Post-Transaction Scheduler).
func (a *API) GetVendorSettings(chargePointID string) (charger.VendorSettings, bool) {
	return a.store.GetVendorSettings(chargePointID)
}

// SetVendorSettings replaces the charger's vendor settings. This is a
// façade write, not an OCPP protocol call: it takes effect on the next
// StartTransaction the scheduler arms.
func (a *API) SetVendorSettings(chargePointID string, settings charger.VendorSettings) charger.VendorSettings {
	return a.store.SetVendorSettings(chargePointID, settings)
}

// SendLocalList sends SendLocalList. It takes the next local auth list
// version from the store before sending, whatever the reply, and on
// Accepted mirrors each entry's id-tag status into the domain store
// facade, per spec §5 supplemented features.
func (a *API) SendLocalList(chargePointID string, updateType ocpp16.UpdateType, entries []ocpp16.AuthorizationData) (ocpp16.SendLocalListResponse, error) {
	var out ocpp16.SendLocalListResponse
	version := a.store.NextLocalAuthListVersion()

	result, err := a.call(chargePointID, ocpp16.ActionSendLocalList, ocpp16.SendLocalListRequest{
		ListVersion:            version,
		LocalAuthorizationList: entries,
		UpdateType:             updateType,
	})
	if err != nil {
		return out, err
	}
	if err := decodeResult(result, &out); err != nil {
		return out, err
	}

	if out.Status == ocpp16.UpdateStatusAccepted {
		for _, e := range entries {
			status := "Accepted"
			var parent *string
			if e.IdTagInfo != nil {
				status = string(e.IdTagInfo.Status)
			}
			a.store.UpsertIdTag(e.IdTag, status, nil, parent)
		}
	}
	return out, nil
}

// GetLocalListVersion sends GetLocalListVersion.
func (a *API) GetLocalListVersion(chargePointID string) (ocpp16.GetLocalListVersionResponse, error) {
	var out ocpp16.GetLocalListVersionResponse
	result, err := a.call(chargePointID, ocpp16.ActionGetLocalListVersion, ocpp16.GetLocalListVersionRequest{})
	if err != nil {
		return out, err
	}
	return out, decodeResult(result, &out)
}

// ClearLocalList is SendLocalList(version=0, Full, empty list), the
// Open Question decision spec §7 records for "how is the full list
// cleared".
func (a *API) ClearLocalList(chargePointID string) (ocpp16.SendLocalListResponse, error) {
	var out ocpp16.SendLocalListResponse
	result, err := a.call(chargePointID, ocpp16.ActionSendLocalList, ocpp16.SendLocalListRequest{
		ListVersion: 0,
		UpdateType:  ocpp16.UpdateTypeFull,
	})
	if err != nil {
		return out, err
	}
	return out, decodeResult(result, &out)
}

// ReserveNow sends ReserveNow, recording the reservation in the domain
// store facade on Accepted.
func (a *API) ReserveNow(chargePointID string, req ocpp16.ReserveNowRequest) (ocpp16.ReserveNowResponse, error) {
	var out ocpp16.ReserveNowResponse
	result, err := a.call(chargePointID, ocpp16.ActionReserveNow, req)
	if err != nil {
		return out, err
	}
	if err := decodeResult(result, &out); err != nil {
		return out, err
	}
	if out.Status == ocpp16.ReservationStatusAccepted {
		a.store.ApplyChargerMutation(chargePointID, func(c *charger.Charger) {
			c.Reservations[req.ReservationId] = &charger.Reservation{
				ID:          req.ReservationId,
				ConnectorID: req.ConnectorId,
				IdTag:       req.IdTag,
				ParentIdTag: req.ParentIdTag,
				Expiry:      req.ExpiryDate.Time,
				CreatedAt:   time.Now(),
			}
		})
	}
	return out, nil
}

// CancelReservation sends CancelReservation, removing the reservation
// from the domain store facade on Accepted.
func (a *API) CancelReservation(chargePointID string, reservationID int) (ocpp16.CancelReservationResponse, error) {
	var out ocpp16.CancelReservationResponse
	result, err := a.call(chargePointID, ocpp16.ActionCancelReservation, ocpp16.CancelReservationRequest{ReservationId: reservationID})
	if err != nil {
		return out, err
	}
	if err := decodeResult(result, &out); err != nil {
		return out, err
	}
	if out.Status == ocpp16.CancelReservationStatusAccepted {
		a.store.ApplyChargerMutation(chargePointID, func(c *charger.Charger) {
			delete(c.Reservations, reservationID)
		})
	}
	return out, nil
}

// SetChargingProfile sends SetChargingProfile, recording the profile in
// the domain store facade on Accepted.
func (a *API) SetChargingProfile(chargePointID string, connectorID int, profile ocpp16.ChargingProfile) (ocpp16.SetChargingProfileResponse, error) {
	var out ocpp16.SetChargingProfileResponse
	result, err := a.call(chargePointID, ocpp16.ActionSetChargingProfile, ocpp16.SetChargingProfileRequest{
		ConnectorId:        connectorID,
		CsChargingProfiles: profile,
	})
	if err != nil {
		return out, err
	}
	if err := decodeResult(result, &out); err != nil {
		return out, err
	}
	if out.Status == ocpp16.ChargingProfileStatusAccepted {
		a.store.ApplyChargerMutation(chargePointID, func(c *charger.Charger) {
			byProfile, ok := c.ChargingProfiles[connectorID]
			if !ok {
				byProfile = make(map[int]*charger.ChargingProfile)
				c.ChargingProfiles[connectorID] = byProfile
			}
			byProfile[profile.ChargingProfileId] = &charger.ChargingProfile{
				ConnectorID: connectorID,
				ProfileID:   profile.ChargingProfileId,
				Purpose:     string(profile.ChargingProfilePurpose),
				StackLevel:  profile.StackLevel,
				Raw:         profile,
			}
		})
	}
	return out, nil
}

// ClearChargingProfile sends ClearChargingProfile. On Accepted it
// applies the same conjunctive filter to the domain store facade (an
// empty filter clears every stored profile).
func (a *API) ClearChargingProfile(chargePointID string, req ocpp16.ClearChargingProfileRequest) (ocpp16.ClearChargingProfileResponse, error) {
	var out ocpp16.ClearChargingProfileResponse
	result, err := a.call(chargePointID, ocpp16.ActionClearChargingProfile, req)
	if err != nil {
		return out, err
	}
	if err := decodeResult(result, &out); err != nil {
		return out, err
	}
	if out.Status == ocpp16.ClearChargingProfileStatusAccepted {
		a.store.ApplyChargerMutation(chargePointID, func(c *charger.Charger) {
			clearChargingProfiles(c, req)
		})
	}
	return out, nil
}

func clearChargingProfiles(c *charger.Charger, req ocpp16.ClearChargingProfileRequest) {
	for connID, byProfile := range c.ChargingProfiles {
		if req.ConnectorId != nil && *req.ConnectorId != connID {
			continue
		}
		for profID, p := range byProfile {
			if req.Id != nil && *req.Id != profID {
				continue
			}
			if req.ChargingProfilePurpose != nil && string(*req.ChargingProfilePurpose) != p.Purpose {
				continue
			}
			if req.StackLevel != nil && *req.StackLevel != p.StackLevel {
				continue
			}
			delete(byProfile, profID)
		}
	}
}

// GetCompositeSchedule sends GetCompositeSchedule.
func (a *API) GetCompositeSchedule(chargePointID string, req ocpp16.GetCompositeScheduleRequest) (ocpp16.GetCompositeScheduleResponse, error) {
	var out ocpp16.GetCompositeScheduleResponse
	result, err := a.call(chargePointID, ocpp16.ActionGetCompositeSchedule, req)
	if err != nil {
		return out, err
	}
	return out, decodeResult(result, &out)
}

// UpdateFirmware sends UpdateFirmware.
func (a *API) UpdateFirmware(chargePointID string, req ocpp16.UpdateFirmwareRequest) error {
	_, err := a.call(chargePointID, ocpp16.ActionUpdateFirmware, req)
	return err
}

// GetDiagnostics sends GetDiagnostics.
func (a *API) GetDiagnostics(chargePointID string, req ocpp16.GetDiagnosticsRequest) (ocpp16.GetDiagnosticsResponse, error) {
	var out ocpp16.GetDiagnosticsResponse
	result, err := a.call(chargePointID, ocpp16.ActionGetDiagnostics, req)
	if err != nil {
		return out, err
	}
	return out, decodeResult(result, &out)
}

// SendRaw bypasses the typed API entirely, writing the given bytes
// straight to the session's socket with no waiter (spec §4.F
// raw-bypass), for operator tooling that needs to send a malformed or
// not-yet-modeled frame.
func (a *API) SendRaw(chargePointID string, data []byte) error {
	if !json.Valid(data) {
		a.logger.Warnf("SendRaw to %s: payload is not valid JSON, sending anyway", chargePointID)
	}
	sess := a.registry.Get(chargePointID)
	if sess == nil {
		return ocpperr.ErrChargerNotConnected{ChargePointID: chargePointID}
	}
	return sess.SendRaw(data)
}

func decodeResult(result session.Result, target interface{}) error {
	if result.IsCallError() {
		return ocpperr.Newf(ocpperr.Code(result.ErrorCode), result.Details, result.ErrorDesc)
	}
	if len(result.Payload) == 0 {
		return nil
	}
	return json.Unmarshal(result.Payload, target)
}
