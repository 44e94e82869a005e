// Package storage implements spec §4.G, the Domain Store Façade: a
// narrow, synchronous interface hiding whether persistence is in memory,
// file-backed, or an external database. Grounded on the teacher's
// ConnectionStorage/RedisStorage pair (interface.go, redis_storage.go);
// the in-memory implementation here (memory.go) is the new record of
// truth for the charger aggregate, id-tag table, and data-transfer
// templates the teacher's gateway never modeled, while RedisStorage is
// kept as the cross-process connection-ownership + local_auth_list
// counter mirror it already was.
package storage

import (
	"time"

	"github.com/charging-platform/csms/internal/domain/charger"
)

// IdTag is one entry of the global id-tag table (spec §3).
type IdTag struct {
	Tag         string
	Status      string // AuthorizationStatus vocabulary
	Expiry      *time.Time
	ParentIdTag *string
}

// DataTransferTemplate is one entry of the global data-transfer template
// table (spec §3), keyed by integer id.
type DataTransferTemplate struct {
	ID        int
	Name      string
	VendorID  string
	MessageID *string
	Data      *string
}

// Store is the Domain Store Façade spec §4.G names. Serializable
// isolation per charger is required only at the granularity of a single
// ApplyChargerMutation call; callers MUST NOT hold a mutation across a
// socket await (spec §5).
type Store interface {
	// GetCharger returns a read-only snapshot, or false if none exists.
	GetCharger(id string) (*charger.Charger, bool)

	// UpsertCharger ensures the aggregate exists (creating it empty if
	// not) and returns a snapshot.
	UpsertCharger(id string) *charger.Charger

	// ApplyChargerMutation serializes writers per charger id: fn
	// observes and may mutate the live aggregate under that charger's
	// lock, and the façade returns a snapshot taken immediately after fn
	// returns.
	ApplyChargerMutation(id string, fn func(c *charger.Charger)) *charger.Charger

	// DeleteCharger removes the aggregate entirely; per spec §3 this
	// only ever happens via explicit operator action.
	DeleteCharger(id string)

	EnumerateChargers() []*charger.Charger

	GetIdTag(tag string) (*IdTag, bool)
	UpsertIdTag(tag string, status string, expiry *time.Time, parentIdTag *string) *IdTag
	DeleteIdTag(tag string)
	ListIdTags() []*IdTag

	GetDataTransferTemplates() []*DataTransferTemplate
	// GetDataTransferTemplate returns one template by id, or false if
	// none is saved under it, for commands.SendTemplatedDataTransfer.
	GetDataTransferTemplate(id int) (*DataTransferTemplate, bool)
	SaveDataTransferTemplate(tpl *DataTransferTemplate) *DataTransferTemplate
	DeleteDataTransferTemplate(id int)

	// GetVendorSettings returns the charger's current Jio_BP/MSIL/CZ
	// post-transaction parameters, or false if the charger doesn't
	// exist yet (spec §5 Supplemented Features: vendor settings CRUD).
	GetVendorSettings(chargePointID string) (charger.VendorSettings, bool)

	// SetVendorSettings replaces the charger's vendor settings,
	// creating the aggregate if it doesn't exist yet, feeding the
	// Post-Transaction Scheduler's next ArmPostTransaction call.
	SetVendorSettings(chargePointID string, settings charger.VendorSettings) charger.VendorSettings

	// NextLocalAuthListVersion increments the global counter exactly
	// once per call, per spec §6.5 and testable property 5.
	NextLocalAuthListVersion() int
}
