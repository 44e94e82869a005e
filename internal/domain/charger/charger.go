// Package charger defines the per-charger aggregate of spec §3: connector
// statuses, active transactions, reservations, charging-profile store,
// and vendor settings. Grounded on the teacher's
// internal/business/chargepoint/manager.go ChargePoint/Connector/
// Transaction structs, but deliberately NOT carrying their per-struct
// sync.Mutex fields: per the spec's Design Notes, a charger aggregate is
// "a single value holder per charger mutated only through the façade;
// readers obtain immutable snapshots" — serialization is the façade's
// apply_charger_mutation responsibility (internal/storage), not the
// aggregate's own.
package charger

import "time"

// Charger is the mutable aggregate for one charge point, keyed by
// charge_point_id in the façade. Every field is plain data; locking lives
// one layer up.
type Charger struct {
	ID                string
	Status            string // OCPP ChargePointStatus vocabulary; any reported string is accepted verbatim (spec §4.E StatusNotification)
	Vendor            string
	Model             string
	FirmwareVersion   string
	FirmwareStatus    string // last reported FirmwareStatusNotification status
	DiagnosticsStatus string // last reported DiagnosticsStatusNotification status
	LastHeartbeat     time.Time
	MeterValue        int64
	CurrentTransaction *int

	Connectors       map[int]*Connector
	Reservations     map[int]*Reservation
	ChargingProfiles map[int]map[int]*ChargingProfile // connector id -> profile id -> record
	VendorSettings   VendorSettings
	DataTransfers    []DataTransferRecord

	LastTransactionSeq int64 // monotonic tiebreaker for same-second transaction ids
}

// New creates an empty aggregate, as produced on first inbound
// BootNotification or first accepted connection attempt (spec §3
// Lifecycles).
func New(id string) *Charger {
	return &Charger{
		ID:               id,
		Connectors:       make(map[int]*Connector),
		Reservations:     make(map[int]*Reservation),
		ChargingProfiles: make(map[int]map[int]*ChargingProfile),
	}
}

// Connector is one connector's status and current-transaction linkage,
// carried in connector_status[c] per spec §3.
type Connector struct {
	ID              int
	Status          string
	ErrorCode       string
	Info            string
	VendorID        string
	VendorErrorCode string
	TransactionID   *int
	IdTag           string
	StartTimestamp  *time.Time
	UpdatedAt       time.Time
}

// Reservation is one entry in reservations[r] per spec §3.
type Reservation struct {
	ID          int
	ConnectorID int
	IdTag       string
	ParentIdTag *string
	Expiry      time.Time
	CreatedAt   time.Time
}

// ChargingProfile mirrors a pushed OCPP ChargingProfile plus the
// connector id it was pushed against, so ClearChargingProfile's filters
// can be applied (spec §4.F).
type ChargingProfile struct {
	ConnectorID int
	ProfileID   int
	Purpose     string
	StackLevel  int
	Raw         interface{} // the ocpp16.ChargingProfile payload, kept opaque here to avoid an import cycle with ocpp16
}

// VendorSettings is the tagged union over {Jio_BP, MSIL, CZ} driving the
// Post-Transaction Scheduler (spec §4.H). A nil pointer means that
// vendor's profile is not configured for this charger.
type VendorSettings struct {
	JioBP *JioBPSettings
	MSIL  *MSILSettings
	CZ    *CZSettings
}

// JioBPSettings carries the Jio_BP auto-stop parameters, grounded on
// original_source/backend/ocpp_handler.py's stop_energy_enabled /
// stop_energy_value (default 10) / stop_time_enabled / stop_time_value
// (default 10).
type JioBPSettings struct {
	StopEnergyEnabled bool
	StopEnergyValue   int
	StopTimeEnabled   bool
	StopTimeValue     int
}

// MSILSettings carries the MSIL auto-stop parameter (default value
// 1000), whose scheduler job intentionally violates OCPP 1.6 by sending
// an object-shaped data field.
type MSILSettings struct {
	AutoStopEnabled bool
	StopEnergyValue int
}

// CZSettings carries the CZ auto-stop parameter (default value 2000), a
// compliant string-shaped data field with the same logical payload as MSIL.
type CZSettings struct {
	AutoStopEnabled bool
	StopEnergyValue int
}

// DataTransferRecord is one inbound vendor frame retained for audit
// (spec §4.E DataTransfer).
type DataTransferRecord struct {
	VendorID          string
	MessageID         string
	Data              interface{}
	IsObjectViolation bool // true when the inbound data field was a JSON object, an OCPP 1.6 spec violation accepted for audit
	ReceivedAt        time.Time
}

// Snapshot returns a deep copy suitable for a reader that must not
// observe further mutation (Design Notes: "readers obtain immutable
// snapshots").
func (c *Charger) Snapshot() *Charger {
	cp := *c
	cp.Connectors = make(map[int]*Connector, len(c.Connectors))
	for id, conn := range c.Connectors {
		connCopy := *conn
		cp.Connectors[id] = &connCopy
	}
	cp.Reservations = make(map[int]*Reservation, len(c.Reservations))
	for id, r := range c.Reservations {
		rCopy := *r
		cp.Reservations[id] = &rCopy
	}
	cp.ChargingProfiles = make(map[int]map[int]*ChargingProfile, len(c.ChargingProfiles))
	for connID, profiles := range c.ChargingProfiles {
		inner := make(map[int]*ChargingProfile, len(profiles))
		for pid, p := range profiles {
			pCopy := *p
			inner[pid] = &pCopy
		}
		cp.ChargingProfiles[connID] = inner
	}
	cp.DataTransfers = append([]DataTransferRecord(nil), c.DataTransfers...)
	return &cp
}

// Connector returns the connector state, creating it on first reference
// (e.g. the first StatusNotification for a new connector index).
func (c *Charger) Connector(id int) *Connector {
	conn, ok := c.Connectors[id]
	if !ok {
		conn = &Connector{ID: id}
		c.Connectors[id] = conn
	}
	return conn
}

// NextTransactionID implements the Open-Question decision: server-chosen
// positive integer, unique within the charger's lifetime, computed as
// floor(unix-seconds) with an in-process monotonic tiebreaker for
// same-second collisions — grounded on the teacher's own
// int(time.Now().Unix()) in business/chargepoint/manager.go, per
// spec.md §9's allowance that true collision-freedom is not required.
func (c *Charger) NextTransactionID(now time.Time) int {
	candidate := now.Unix()
	if candidate <= c.LastTransactionSeq {
		candidate = c.LastTransactionSeq + 1
	}
	c.LastTransactionSeq = candidate
	return int(candidate)
}

// PruneExpiredReservations removes reservations whose expiry has
// passed, per spec §3 "expired entries lazily pruned on read".
func (c *Charger) PruneExpiredReservations(now time.Time) {
	for id, r := range c.Reservations {
		if !r.Expiry.After(now) {
			delete(c.Reservations, id)
		}
	}
}
