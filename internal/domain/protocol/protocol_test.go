package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/charging-platform/csms/internal/domain/connection"
)

func TestNormalizeVersion_KnownSpellings(t *testing.T) {
	assert.Equal(t, OCPP_VERSION_1_6, NormalizeVersion("1.6"))
	assert.Equal(t, OCPP_VERSION_1_6, NormalizeVersion("ocpp1.6"))
	assert.Equal(t, OCPP_VERSION_1_6, NormalizeVersion("OCPP1.6"))
}

func TestNormalizeVersion_Unknown(t *testing.T) {
	assert.Equal(t, "", NormalizeVersion("ocpp2.0"))
	assert.Equal(t, "", NormalizeVersion(""))
}

func TestIsVersionSupported(t *testing.T) {
	assert.True(t, IsVersionSupported("1.6"))
	assert.True(t, IsVersionSupported("ocpp1.6"))
	assert.False(t, IsVersionSupported("ocpp2.0.1"))
}

func TestGetDefaultVersion(t *testing.T) {
	assert.Equal(t, OCPP_VERSION_1_6, GetDefaultVersion())
}

func TestGetSupportedVersions_ReturnsIndependentCopy(t *testing.T) {
	versions := GetSupportedVersions()
	versions[0] = "tampered"
	assert.Equal(t, OCPP_VERSION_1_6, SupportedVersions[0])
}

func TestToConnectionProtocolVersion(t *testing.T) {
	assert.Equal(t, connection.ProtocolVersionOCPP16, ToConnectionProtocolVersion("ocpp1.6"))
}
