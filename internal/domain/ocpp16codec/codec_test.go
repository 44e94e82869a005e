package ocpp16codec

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/charging-platform/csms/internal/domain/ocpp16"
)

func TestEncodeCall(t *testing.T) {
	data, err := EncodeCall("abc-123", ocpp16.ActionHeartbeat, struct{}{})
	require.NoError(t, err)
	assert.JSONEq(t, `[2,"abc-123","Heartbeat",{}]`, string(data))
}

func TestEncodeCall_RejectsBadUID(t *testing.T) {
	_, err := EncodeCall("", ocpp16.ActionHeartbeat, struct{}{})
	assert.Error(t, err)

	long := make([]byte, 37)
	for i := range long {
		long[i] = 'a'
	}
	_, err = EncodeCall(string(long), ocpp16.ActionHeartbeat, struct{}{})
	assert.Error(t, err)
}

func TestEncodeCallResult(t *testing.T) {
	data, err := EncodeCallResult("abc-123", map[string]string{"status": "Accepted"})
	require.NoError(t, err)
	assert.JSONEq(t, `[3,"abc-123",{"status":"Accepted"}]`, string(data))
}

func TestEncodeCallError(t *testing.T) {
	data, err := EncodeCallError("abc-123", "NotSupported", "unsupported action", nil)
	require.NoError(t, err)
	assert.JSONEq(t, `[4,"abc-123","NotSupported","unsupported action",{}]`, string(data))
}

func TestDecode_Call(t *testing.T) {
	frame, err := Decode([]byte(`[2,"abc-123","Heartbeat",{}]`))
	require.NoError(t, err)
	assert.Equal(t, ocpp16.Call, frame.Type)
	assert.Equal(t, "abc-123", frame.UID)
	assert.Equal(t, ocpp16.ActionHeartbeat, frame.Action)
}

func TestDecode_CallResult(t *testing.T) {
	frame, err := Decode([]byte(`[3,"abc-123",{"currentTime":"2024-01-01T00:00:00Z"}]`))
	require.NoError(t, err)
	assert.Equal(t, ocpp16.CallResult, frame.Type)
	assert.Equal(t, "abc-123", frame.UID)
}

func TestDecode_CallError(t *testing.T) {
	frame, err := Decode([]byte(`[4,"abc-123","NotSupported","unsupported",{"foo":"bar"}]`))
	require.NoError(t, err)
	assert.Equal(t, ocpp16.CallError, frame.Type)
	assert.Equal(t, "NotSupported", frame.ErrorCode)
	assert.Equal(t, "unsupported", frame.ErrorDescription)
	assert.Equal(t, json.RawMessage(`{"foo":"bar"}`), frame.ErrorDetails)
}

func TestDecode_CallErrorWithoutDetails(t *testing.T) {
	frame, err := Decode([]byte(`[4,"abc-123","NotSupported","unsupported"]`))
	require.NoError(t, err)
	assert.Nil(t, frame.ErrorDetails)
}

func TestDecode_Rejects(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"not an array", `{"foo":"bar"}`},
		{"too short", `[2,"abc"]`},
		{"non-integer type", `["x","abc-123","Heartbeat",{}]`},
		{"empty uid", `[2,"","Heartbeat",{}]`},
		{"uid too long", `[2,"aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa","Heartbeat",{}]`},
		{"call wrong arity", `[2,"abc-123","Heartbeat"]`},
		{"callresult wrong arity", `[3,"abc-123"]`},
		{"callerror too short", `[4,"abc-123","NotSupported"]`},
		{"unknown message type", `[9,"abc-123"]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.data))
			assert.Error(t, err)
			var fe FrameError
			assert.ErrorAs(t, err, &fe)
		})
	}
}

func TestDecodePayload(t *testing.T) {
	var out struct {
		Status string `json:"status"`
	}
	err := DecodePayload(json.RawMessage(`{"status":"Accepted"}`), &out)
	require.NoError(t, err)
	assert.Equal(t, "Accepted", out.Status)
}

func TestDecodePayload_Empty(t *testing.T) {
	var out struct{}
	err := DecodePayload(nil, &out)
	assert.NoError(t, err)
}

func TestDecodePayload_Malformed(t *testing.T) {
	var out struct {
		Status string `json:"status"`
	}
	err := DecodePayload(json.RawMessage(`not json`), &out)
	assert.Error(t, err)
}
