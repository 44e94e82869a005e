package commands

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/charging-platform/csms/internal/domain/charger"
	"github.com/charging-platform/csms/internal/domain/ocpp16"
	"github.com/charging-platform/csms/internal/domain/ocpp16codec"
	"github.com/charging-platform/csms/internal/domain/registry"
	"github.com/charging-platform/csms/internal/domain/session"
	"github.com/charging-platform/csms/internal/storage"
)

type noHandler struct{}

func (noHandler) HandleCall(chargePointID string, action ocpp16.Action, payload json.RawMessage) (interface{}, error) {
	return nil, nil
}

// scriptedTransport answers every outbound CALL with a fixed payload (or
// a CALLERROR if errorCode is set), regardless of action, so each API
// method's round trip completes without a real socket.
type scriptedTransport struct {
	inbound   chan []byte
	response  interface{}
	errorCode string
}

func newScriptedTransport() *scriptedTransport {
	return &scriptedTransport{inbound: make(chan []byte, 4)}
}

func (t *scriptedTransport) ReadMessage() (int, []byte, error) {
	data, ok := <-t.inbound
	if !ok {
		return 0, nil, errClosed{}
	}
	return 1, data, nil
}

func (t *scriptedTransport) WriteMessage(messageType int, data []byte) error {
	frame, err := ocpp16codec.Decode(data)
	if err != nil {
		// A frame that is not OCPP-J is delivered but gets no scripted reply.
		return nil
	}
	var reply []byte
	if t.errorCode != "" {
		reply, _ = ocpp16codec.EncodeCallError(frame.UID, t.errorCode, "rejected", nil)
	} else {
		reply, _ = ocpp16codec.EncodeCallResult(frame.UID, t.response)
	}
	t.inbound <- reply
	return nil
}

func (t *scriptedTransport) Close() error {
	close(t.inbound)
	return nil
}

type errClosed struct{}

func (errClosed) Error() string { return "transport closed" }

func newAPI(t *testing.T, response interface{}, errorCode string) (*API, *storage.MemoryStore) {
	t.Helper()
	reg := registry.New(nil)
	store := storage.NewMemoryStore()

	tr := newScriptedTransport()
	tr.response = response
	tr.errorCode = errorCode
	s := session.New("CP001", "ocpp1.6", tr, noHandler{}, nil, nil, nil, session.DefaultConfig())
	go s.Run()
	reg.Bind("CP001", s)

	return New(reg, store, nil), store
}

func TestRemoteStart(t *testing.T) {
	api, _ := newAPI(t, ocpp16.RemoteStartTransactionResponse{Status: ocpp16.RemoteStartStopStatusAccepted}, "")
	out, err := api.RemoteStart("CP001", nil, "tag-1", nil)
	require.NoError(t, err)
	assert.Equal(t, ocpp16.RemoteStartStopStatusAccepted, out.Status)
}

func TestReset(t *testing.T) {
	api, _ := newAPI(t, ocpp16.ResetResponse{Status: ocpp16.ResetStatusAccepted}, "")
	out, err := api.Reset("CP001", ocpp16.ResetTypeSoft)
	require.NoError(t, err)
	assert.Equal(t, ocpp16.ResetStatusAccepted, out.Status)
}

func TestChargerNotConnected(t *testing.T) {
	reg := registry.New(nil)
	store := storage.NewMemoryStore()
	api := New(reg, store, nil)

	_, err := api.Reset("unknown-cp", ocpp16.ResetTypeHard)
	require.Error(t, err)
}

func TestCallError_Propagates(t *testing.T) {
	api, _ := newAPI(t, nil, "NotSupported")
	_, err := api.GetLocalListVersion("CP001")
	require.Error(t, err)
}

func TestSendLocalList_AcceptedMirrorsIdTags(t *testing.T) {
	api, store := newAPI(t, ocpp16.SendLocalListResponse{Status: ocpp16.UpdateStatusAccepted}, "")

	status := ocpp16.AuthorizationStatusAccepted
	out, err := api.SendLocalList("CP001", ocpp16.UpdateTypeFull, []ocpp16.AuthorizationData{
		{IdTag: "tag-1", IdTagInfo: &ocpp16.IdTagInfo{Status: status}},
	})
	require.NoError(t, err)
	assert.Equal(t, ocpp16.UpdateStatusAccepted, out.Status)

	tag, ok := store.GetIdTag("tag-1")
	require.True(t, ok)
	assert.Equal(t, "Accepted", tag.Status)
}

func TestSendLocalList_RejectedDoesNotMirror(t *testing.T) {
	api, store := newAPI(t, ocpp16.SendLocalListResponse{Status: ocpp16.UpdateStatusFailed}, "")

	status := ocpp16.AuthorizationStatusAccepted
	_, err := api.SendLocalList("CP001", ocpp16.UpdateTypeFull, []ocpp16.AuthorizationData{
		{IdTag: "tag-1", IdTagInfo: &ocpp16.IdTagInfo{Status: status}},
	})
	require.NoError(t, err)

	_, ok := store.GetIdTag("tag-1")
	assert.False(t, ok)
}

func TestClearLocalList_IsFullUpdateWithEmptyList(t *testing.T) {
	api, _ := newAPI(t, ocpp16.SendLocalListResponse{Status: ocpp16.UpdateStatusAccepted}, "")
	out, err := api.ClearLocalList("CP001")
	require.NoError(t, err)
	assert.Equal(t, ocpp16.UpdateStatusAccepted, out.Status)
}

func TestReserveNow_AcceptedRecordsReservation(t *testing.T) {
	api, store := newAPI(t, ocpp16.ReserveNowResponse{Status: ocpp16.ReservationStatusAccepted}, "")
	store.UpsertCharger("CP001")

	req := ocpp16.ReserveNowRequest{
		ConnectorId:   1,
		ExpiryDate:    ocpp16.DateTime{Time: time.Now().Add(time.Hour)},
		IdTag:         "tag-1",
		ReservationId: 42,
	}
	out, err := api.ReserveNow("CP001", req)
	require.NoError(t, err)
	assert.Equal(t, ocpp16.ReservationStatusAccepted, out.Status)

	c, ok := store.GetCharger("CP001")
	require.True(t, ok)
	assert.Contains(t, c.Reservations, 42)
}

func TestCancelReservation_AcceptedRemovesReservation(t *testing.T) {
	api, store := newAPI(t, ocpp16.CancelReservationResponse{Status: ocpp16.CancelReservationStatusAccepted}, "")
	store.UpsertCharger("CP001")
	store.ApplyChargerMutation("CP001", func(c *charger.Charger) {
		c.Reservations[42] = &charger.Reservation{ID: 42}
	})

	_, err := api.CancelReservation("CP001", 42)
	require.NoError(t, err)

	c, _ := store.GetCharger("CP001")
	assert.NotContains(t, c.Reservations, 42)
}

func TestSetChargingProfile_AcceptedRecordsProfile(t *testing.T) {
	api, store := newAPI(t, ocpp16.SetChargingProfileResponse{Status: ocpp16.ChargingProfileStatusAccepted}, "")
	store.UpsertCharger("CP001")

	profile := ocpp16.ChargingProfile{ChargingProfileId: 7, StackLevel: 1, ChargingProfilePurpose: ocpp16.ChargingProfilePurposeTxProfile}
	_, err := api.SetChargingProfile("CP001", 1, profile)
	require.NoError(t, err)

	c, _ := store.GetCharger("CP001")
	require.Contains(t, c.ChargingProfiles, 1)
	assert.Contains(t, c.ChargingProfiles[1], 7)
}

func TestClearChargingProfile_FiltersByConnector(t *testing.T) {
	api, store := newAPI(t, ocpp16.ClearChargingProfileResponse{Status: ocpp16.ClearChargingProfileStatusAccepted}, "")
	store.UpsertCharger("CP001")
	store.ApplyChargerMutation("CP001", func(c *charger.Charger) {
		c.ChargingProfiles[1] = map[int]*charger.ChargingProfile{7: {ConnectorID: 1, ProfileID: 7}}
		c.ChargingProfiles[2] = map[int]*charger.ChargingProfile{8: {ConnectorID: 2, ProfileID: 8}}
	})

	connID := 1
	_, err := api.ClearChargingProfile("CP001", ocpp16.ClearChargingProfileRequest{ConnectorId: &connID})
	require.NoError(t, err)

	c, _ := store.GetCharger("CP001")
	assert.Empty(t, c.ChargingProfiles[1])
	assert.Contains(t, c.ChargingProfiles[2], 8)
}

func TestSendRaw_ChargerNotConnected(t *testing.T) {
	reg := registry.New(nil)
	store := storage.NewMemoryStore()
	api := New(reg, store, nil)

	err := api.SendRaw("unknown-cp", []byte("raw"))
	require.Error(t, err)
}

func TestSendRaw_Delivered(t *testing.T) {
	api, _ := newAPI(t, nil, "")
	err := api.SendRaw("CP001", []byte(`[2,"x","Heartbeat",{}]`))
	assert.NoError(t, err)
}

func TestSendRaw_InvalidJSONStillDelivers(t *testing.T) {
	api, _ := newAPI(t, nil, "")
	err := api.SendRaw("CP001", []byte(`not-json`))
	assert.NoError(t, err)
}

func TestSendTemplatedDataTransfer_LoadsTemplateAndSends(t *testing.T) {
	api, store := newAPI(t, ocpp16.DataTransferResponse{Status: ocpp16.DataTransferStatusAccepted}, "")

	msgID := "AutoStop"
	data := `{"stop_energy_value":1000}`
	store.SaveDataTransferTemplate(&storage.DataTransferTemplate{
		ID: 1, Name: "msil-autostop", VendorID: "MSIL", MessageID: &msgID, Data: &data,
	})

	out, err := api.SendTemplatedDataTransfer("CP001", 1)
	require.NoError(t, err)
	assert.Equal(t, ocpp16.DataTransferStatusAccepted, out.Status)
}

func TestSendTemplatedDataTransfer_UnknownTemplateFails(t *testing.T) {
	api, _ := newAPI(t, ocpp16.DataTransferResponse{Status: ocpp16.DataTransferStatusAccepted}, "")

	_, err := api.SendTemplatedDataTransfer("CP001", 999)
	require.Error(t, err)
}

func TestVendorSettings_SetThenGetRoundTrips(t *testing.T) {
	reg := registry.New(nil)
	store := storage.NewMemoryStore()
	api := New(reg, store, nil)

	settings := charger.VendorSettings{
		CZ: &charger.CZSettings{AutoStopEnabled: true, StopEnergyValue: 2000},
	}
	api.SetVendorSettings("CP001", settings)

	got, ok := api.GetVendorSettings("CP001")
	require.True(t, ok)
	require.NotNil(t, got.CZ)
	assert.Equal(t, 2000, got.CZ.StopEnergyValue)
}
