package ocpperr

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNew(t *testing.T) {
	err := New(NotSupported, "unsupported action")
	assert.Equal(t, NotSupported, err.Code)
	assert.Equal(t, "unsupported action", err.Message)
	assert.Nil(t, err.Details)
	assert.Equal(t, "NotSupported: unsupported action", err.Error())
}

func TestNewf_CarriesDetails(t *testing.T) {
	details := map[string]string{"field": "idTag"}
	err := Newf(PropertyConstraintViolation, details, "invalid idTag")
	assert.Equal(t, PropertyConstraintViolation, err.Code)
	assert.Equal(t, "invalid idTag", err.Message)
	assert.Equal(t, details, err.Details)
}

func TestError_SatisfiesErrorInterface(t *testing.T) {
	var err error = New(InternalError, "boom")
	assert.EqualError(t, err, "InternalError: boom")
}

func TestErrChargerNotConnected(t *testing.T) {
	err := ErrChargerNotConnected{ChargePointID: "CP001"}
	assert.Equal(t, "charger not connected: CP001", err.Error())
}
