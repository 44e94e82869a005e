package handlers

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/charging-platform/csms/internal/domain/charger"
	"github.com/charging-platform/csms/internal/domain/logsink"
	"github.com/charging-platform/csms/internal/domain/ocpp16"
	"github.com/charging-platform/csms/internal/storage"
)

type fakeScheduler struct {
	armed []int
}

func (f *fakeScheduler) ArmPostTransaction(chargePointID string, transactionID int) {
	f.armed = append(f.armed, transactionID)
}

func newTestSet(sched Scheduler) (*Set, *storage.MemoryStore) {
	store := storage.NewMemoryStore()
	return New(store, logsink.New(100), sched), store
}

func marshal(t *testing.T, v interface{}) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return data
}

func TestHandleCall_UnknownAction(t *testing.T) {
	set, _ := newTestSet(nil)
	_, err := set.HandleCall("CP001", ocpp16.Action("NotAnAction"), nil)
	assert.Error(t, err)
}

func TestBootNotification(t *testing.T) {
	set, store := newTestSet(nil)
	payload := marshal(t, ocpp16.BootNotificationRequest{
		ChargePointVendor: "Acme", ChargePointModel: "X1",
	})

	resp, err := set.HandleCall("CP001", ocpp16.ActionBootNotification, payload)
	require.NoError(t, err)

	boot := resp.(ocpp16.BootNotificationResponse)
	assert.Equal(t, ocpp16.RegistrationStatusAccepted, boot.Status)

	c, ok := store.GetCharger("CP001")
	require.True(t, ok)
	assert.Equal(t, "Acme", c.Vendor)
	assert.Equal(t, "X1", c.Model)
}

func TestHeartbeat_UpdatesLastHeartbeat(t *testing.T) {
	set, store := newTestSet(nil)
	store.UpsertCharger("CP001")

	_, err := set.HandleCall("CP001", ocpp16.ActionHeartbeat, nil)
	require.NoError(t, err)

	c, _ := store.GetCharger("CP001")
	assert.WithinDuration(t, time.Now(), c.LastHeartbeat, time.Second)
}

func TestStatusNotification_UpdatesConnectorAndAggregate(t *testing.T) {
	set, store := newTestSet(nil)
	store.UpsertCharger("CP001")

	payload := marshal(t, ocpp16.StatusNotificationRequest{
		ConnectorId: 1,
		ErrorCode:   ocpp16.ChargePointErrorCodeNoError,
		Status:      ocpp16.ChargePointStatusAvailable,
	})

	_, err := set.HandleCall("CP001", ocpp16.ActionStatusNotification, payload)
	require.NoError(t, err)

	c, _ := store.GetCharger("CP001")
	assert.Equal(t, string(ocpp16.ChargePointStatusAvailable), c.Status)
	assert.Equal(t, string(ocpp16.ChargePointStatusAvailable), c.Connectors[1].Status)
}

func TestAuthorize_UnknownTagIsInvalid(t *testing.T) {
	set, _ := newTestSet(nil)
	payload := marshal(t, ocpp16.AuthorizeRequest{IdTag: "unknown-tag"})

	resp, err := set.HandleCall("CP001", ocpp16.ActionAuthorize, payload)
	require.NoError(t, err)
	assert.Equal(t, ocpp16.AuthorizationStatusInvalid, resp.(ocpp16.AuthorizeResponse).IdTagInfo.Status)
}

func TestAuthorize_AcceptedTag(t *testing.T) {
	set, store := newTestSet(nil)
	store.UpsertIdTag("tag-1", "Accepted", nil, nil)

	payload := marshal(t, ocpp16.AuthorizeRequest{IdTag: "tag-1"})
	resp, err := set.HandleCall("CP001", ocpp16.ActionAuthorize, payload)
	require.NoError(t, err)
	assert.Equal(t, ocpp16.AuthorizationStatusAccepted, resp.(ocpp16.AuthorizeResponse).IdTagInfo.Status)
}

func TestStartTransaction_ArmsScheduler(t *testing.T) {
	sched := &fakeScheduler{}
	set, store := newTestSet(sched)
	store.UpsertCharger("CP001")

	payload := marshal(t, ocpp16.StartTransactionRequest{
		ConnectorId: 1, IdTag: "tag-1", MeterStart: 1,
		Timestamp: ocpp16.DateTime{Time: time.Now()},
	})

	resp, err := set.HandleCall("CP001", ocpp16.ActionStartTransaction, payload)
	require.NoError(t, err)

	start := resp.(ocpp16.StartTransactionResponse)
	assert.Equal(t, ocpp16.AuthorizationStatusAccepted, start.IdTagInfo.Status)
	require.Len(t, sched.armed, 1)
	assert.Equal(t, start.TransactionId, sched.armed[0])

	c, _ := store.GetCharger("CP001")
	require.NotNil(t, c.CurrentTransaction)
	assert.Equal(t, start.TransactionId, *c.CurrentTransaction)
}

func TestStopTransaction_ClearsCurrentTransaction(t *testing.T) {
	set, store := newTestSet(nil)
	store.UpsertCharger("CP001")
	store.ApplyChargerMutation("CP001", func(c *charger.Charger) {
		txID := 99
		c.CurrentTransaction = &txID
		conn := c.Connector(1)
		conn.TransactionID = &txID
	})

	payload := marshal(t, ocpp16.StopTransactionRequest{
		TransactionId: 99, MeterStop: 100, Timestamp: ocpp16.DateTime{Time: time.Now()},
	})
	_, err := set.HandleCall("CP001", ocpp16.ActionStopTransaction, payload)
	require.NoError(t, err)

	c, _ := store.GetCharger("CP001")
	assert.Nil(t, c.CurrentTransaction)
	assert.Nil(t, c.Connectors[1].TransactionID)
}

func TestStopTransaction_MismatchedIDIsNoop(t *testing.T) {
	set, store := newTestSet(nil)
	store.UpsertCharger("CP001")
	store.ApplyChargerMutation("CP001", func(c *charger.Charger) {
		txID := 1
		c.CurrentTransaction = &txID
	})

	payload := marshal(t, ocpp16.StopTransactionRequest{
		TransactionId: 999, MeterStop: 1, Timestamp: ocpp16.DateTime{Time: time.Now()},
	})
	_, err := set.HandleCall("CP001", ocpp16.ActionStopTransaction, payload)
	require.NoError(t, err)

	c, _ := store.GetCharger("CP001")
	require.NotNil(t, c.CurrentTransaction)
	assert.Equal(t, 1, *c.CurrentTransaction)
}

func TestMeterValues_RecordsLatestSample(t *testing.T) {
	set, store := newTestSet(nil)
	store.UpsertCharger("CP001")

	payload := marshal(t, ocpp16.MeterValuesRequest{
		ConnectorId: 1,
		MeterValue: []ocpp16.MeterValue{
			{Timestamp: ocpp16.DateTime{Time: time.Now()}, SampledValue: []ocpp16.SampledValue{{Value: "42"}}},
		},
	})
	_, err := set.HandleCall("CP001", ocpp16.ActionMeterValues, payload)
	require.NoError(t, err)

	c, _ := store.GetCharger("CP001")
	assert.EqualValues(t, 42, c.MeterValue)
}

func TestDataTransfer_RecordsStringPayload(t *testing.T) {
	set, store := newTestSet(nil)
	store.UpsertCharger("CP001")

	payload := marshal(t, ocpp16.DataTransferRequest{VendorId: "Test_Server", Data: "hello"})
	resp, err := set.HandleCall("CP001", ocpp16.ActionDataTransfer, payload)
	require.NoError(t, err)
	assert.Equal(t, ocpp16.DataTransferStatusAccepted, resp.(ocpp16.DataTransferResponse).Status)

	c, _ := store.GetCharger("CP001")
	require.Len(t, c.DataTransfers, 1)
	assert.False(t, c.DataTransfers[0].IsObjectViolation)
}

func TestDataTransfer_RecordsObjectViolation(t *testing.T) {
	set, store := newTestSet(nil)
	store.UpsertCharger("CP001")

	payload := marshal(t, ocpp16.DataTransferRequest{VendorId: "MSIL", Data: map[string]interface{}{"a": 1}})
	_, err := set.HandleCall("CP001", ocpp16.ActionDataTransfer, payload)
	require.NoError(t, err)

	c, _ := store.GetCharger("CP001")
	require.Len(t, c.DataTransfers, 1)
	assert.True(t, c.DataTransfers[0].IsObjectViolation)
}

func TestFirmwareStatusNotification(t *testing.T) {
	set, store := newTestSet(nil)
	payload := marshal(t, ocpp16.FirmwareStatusNotificationRequest{Status: ocpp16.FirmwareStatusInstalled})
	_, err := set.HandleCall("CP001", ocpp16.ActionFirmwareStatusNotification, payload)
	assert.NoError(t, err)

	c, ok := store.GetCharger("CP001")
	require.True(t, ok)
	assert.Equal(t, string(ocpp16.FirmwareStatusInstalled), c.FirmwareStatus)
}

func TestDiagnosticsStatusNotification(t *testing.T) {
	set, store := newTestSet(nil)
	payload := marshal(t, ocpp16.DiagnosticsStatusNotificationRequest{Status: ocpp16.DiagnosticsStatusUploaded})
	_, err := set.HandleCall("CP001", ocpp16.ActionDiagnosticsStatusNotification, payload)
	assert.NoError(t, err)

	c, ok := store.GetCharger("CP001")
	require.True(t, ok)
	assert.Equal(t, string(ocpp16.DiagnosticsStatusUploaded), c.DiagnosticsStatus)
}

func TestDecode_InvalidPayloadReturnsPropertyConstraintViolation(t *testing.T) {
	set, _ := newTestSet(nil)
	_, err := set.HandleCall("CP001", ocpp16.ActionAuthorize, json.RawMessage(`{}`))
	assert.Error(t, err)
}
