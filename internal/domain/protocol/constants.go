// Package protocol carries the OCPP-J subprotocol vocabulary the
// WebSocket upgrade path negotiates against. Trimmed from the teacher's
// multi-version table (1.6/2.0/2.0.1) to OCPP 1.6 only — 2.0/2.0.1 are
// an explicit Non-goal — while keeping its normalize/validate idiom. The
// upgrade path checks a negotiated subprotocol with IsVersionSupported;
// a client that offers no subprotocol the upgrader recognizes is
// accepted without one and handled as 1.6.
package protocol

import "github.com/charging-platform/csms/internal/domain/connection"

const (
	OCPP_VERSION_1_6 = "ocpp1.6"
	DEFAULT_VERSION  = OCPP_VERSION_1_6
)

var SupportedVersions = []string{OCPP_VERSION_1_6}

// VersionMapping handles the spellings a client's Sec-WebSocket-Protocol
// offer may use for 1.6.
var VersionMapping = map[string]string{
	"1.6":     OCPP_VERSION_1_6,
	"ocpp1.6": OCPP_VERSION_1_6,
	"OCPP1.6": OCPP_VERSION_1_6,
}

// NormalizeVersion maps a raw subprotocol string to its canonical form,
// or "" if unrecognized.
func NormalizeVersion(version string) string {
	if normalized, exists := VersionMapping[version]; exists {
		return normalized
	}
	return ""
}

// IsVersionSupported reports whether version (in any of its spellings)
// is one this gateway negotiates.
func IsVersionSupported(version string) bool {
	return NormalizeVersion(version) == OCPP_VERSION_1_6
}

// GetDefaultVersion returns the one subprotocol this gateway offers.
func GetDefaultVersion() string {
	return DEFAULT_VERSION
}

// GetSupportedVersions returns a copy of the supported-version list, for
// callers building a websocket.Upgrader's Subprotocols slice.
func GetSupportedVersions() []string {
	result := make([]string, len(SupportedVersions))
	copy(result, SupportedVersions)
	return result
}

// ToConnectionProtocolVersion maps a negotiated subprotocol string to
// the connection.Connection metadata's enum. HandleConnection only
// reaches this after IsVersionSupported already rejected anything else,
// so unrecognized input here can only mean the client skipped
// negotiation entirely.
func ToConnectionProtocolVersion(version string) connection.ProtocolVersion {
	return connection.ProtocolVersionOCPP16
}
