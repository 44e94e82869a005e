// Package scheduler implements spec §4.H, the Post-Transaction
// Scheduler: vendor-specific deferred DataTransfer jobs fired a fixed
// delay after StartTransaction is handled. Grounded on
// original_source/backend/ocpp_handler.py's
// _send_jio_bp_data_transfer_delayed / MSIL / CZ equivalents (the exact
// 500ms delay and vendor constants), expressed as independent
// time.AfterFunc jobs, each run on its own timer goroutine; there is no
// worker pool.
package scheduler

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/charging-platform/csms/internal/domain/logsink"
	"github.com/charging-platform/csms/internal/domain/ocpp16"
	"github.com/charging-platform/csms/internal/domain/registry"
	"github.com/charging-platform/csms/internal/logger"
	"github.com/charging-platform/csms/internal/storage"
)

const defaultDelay = 500 * time.Millisecond

// vendorTestServer is the vendor-id the Jio_BP profile sends under,
// grounded on original_source's vendor_id "Test_Server".
const vendorTestServer = "Test_Server"

// Metrics is the narrow surface the scheduler needs from internal/metrics.
type Metrics interface {
	IncJobsFired(vendor string)
}

// Config carries the scheduler's one tunable: the fixed post-start
// delay, defaulting to the 500ms the original source hard-codes.
type Config struct {
	Delay time.Duration
}

func DefaultConfig() Config {
	return Config{Delay: defaultDelay}
}

// Scheduler arms independent vendor jobs on a successful StartTransaction.
type Scheduler struct {
	registry *registry.Registry
	store    storage.Store
	logs     *logsink.Sink
	metrics  Metrics
	logger   *logger.Logger
	delay    time.Duration
}

func New(reg *registry.Registry, store storage.Store, logs *logsink.Sink, metrics Metrics, log *logger.Logger, cfg Config) *Scheduler {
	if log == nil {
		log, _ = logger.New(logger.DefaultConfig())
	}
	if metrics == nil {
		metrics = noopMetrics{}
	}
	delay := cfg.Delay
	if delay <= 0 {
		delay = defaultDelay
	}
	return &Scheduler{registry: reg, store: store, logs: logs, metrics: metrics, logger: log, delay: delay}
}

// ArmPostTransaction inspects the charger's vendor settings and schedules
// zero or more independent deferred DataTransfer jobs. Called from the
// StartTransaction handler after its domain mutation but before the
// handler returns — the jobs themselves only fire after the fixed delay,
// which is always long enough for the CALLRESULT to have been written to
// the wire first (spec testable property 8).
func (s *Scheduler) ArmPostTransaction(chargePointID string, transactionID int) {
	c, ok := s.store.GetCharger(chargePointID)
	if !ok {
		return
	}
	vs := c.VendorSettings

	if vs.JioBP != nil {
		if vs.JioBP.StopEnergyEnabled {
			s.scheduleJioBP(chargePointID, transactionID, "Stop_Energy", vs.JioBP.StopEnergyValue)
		}
		if vs.JioBP.StopTimeEnabled {
			s.scheduleJioBP(chargePointID, transactionID, "Stop_Time", vs.JioBP.StopTimeValue)
		}
	}
	if vs.MSIL != nil && vs.MSIL.AutoStopEnabled {
		s.scheduleMSIL(chargePointID, transactionID, vs.MSIL.StopEnergyValue)
	}
	if vs.CZ != nil && vs.CZ.AutoStopEnabled {
		s.scheduleCZ(chargePointID, transactionID, vs.CZ.StopEnergyValue)
	}
}

func (s *Scheduler) scheduleJioBP(chargePointID string, transactionID int, messageID string, value int) {
	time.AfterFunc(s.delay, func() {
		data := fmt.Sprintf("%d_%d", transactionID, value)
		s.fire(chargePointID, "Jio_BP", vendorTestServer, messageID, data)
	})
}

// scheduleMSIL intentionally violates OCPP 1.6 (data must be a string)
// by sending an object-shaped data field, per the customer-requested
// interop deviation spec §4.H preserves.
func (s *Scheduler) scheduleMSIL(chargePointID string, transactionID int, value int) {
	time.AfterFunc(s.delay, func() {
		obj := map[string]interface{}{
			"transactionId": transactionID,
			"parameter":     "Stop_Energy",
			"value":         value,
		}
		s.fireObjectViolation(chargePointID, "MSIL", "MSIL", "AutoStop", obj)
	})
}

// scheduleCZ sends the same logical payload as MSIL but compliant: data
// is a JSON-encoded string.
func (s *Scheduler) scheduleCZ(chargePointID string, transactionID int, value int) {
	time.AfterFunc(s.delay, func() {
		obj := map[string]interface{}{
			"transactionId": transactionID,
			"parameter":     "Stop_Energy",
			"value":         value,
		}
		encoded, err := json.Marshal(obj)
		if err != nil {
			s.logger.Errorf("scheduler: CZ payload marshal failed for %s: %v", chargePointID, err)
			return
		}
		s.fire(chargePointID, "CZ", "CZ", "AutoStop", string(encoded))
	})
}

func (s *Scheduler) fire(chargePointID, vendorLabel, vendorID, messageID string, data interface{}) {
	sess := s.registry.Get(chargePointID)
	if sess == nil {
		s.logs.Append(chargePointID, logsink.PrefixWarning+" "+vendorLabel+" scheduler job skipped: charger not connected")
		return
	}

	req := ocpp16.DataTransferRequest{VendorId: vendorID, MessageId: &messageID, Data: data}
	result, err := sess.Call(ocpp16.ActionDataTransfer, req, 10*time.Second)
	s.metrics.IncJobsFired(vendorLabel)
	if err != nil {
		s.logs.Append(chargePointID, logsink.PrefixError+" "+vendorLabel+" scheduler job failed: "+err.Error())
		return
	}
	if result.IsCallError() {
		s.logs.Append(chargePointID, logsink.PrefixWarning+" "+vendorLabel+" scheduler job rejected: "+result.ErrorCode)
		return
	}
	s.logs.Append(chargePointID, logsink.PrefixSuccess+" "+vendorLabel+" "+messageID+" delivered")
}

// fireObjectViolation is identical to fire except it accepts a
// TypeConstraintViolation CALLERROR as success, logging the deviation
// each time it happens (spec §4.H, testable via scenario S6).
func (s *Scheduler) fireObjectViolation(chargePointID, vendorLabel, vendorID, messageID string, data interface{}) {
	sess := s.registry.Get(chargePointID)
	if sess == nil {
		s.logs.Append(chargePointID, logsink.PrefixWarning+" "+vendorLabel+" scheduler job skipped: charger not connected")
		return
	}

	req := ocpp16.DataTransferRequest{VendorId: vendorID, MessageId: &messageID, Data: data}
	result, err := sess.Call(ocpp16.ActionDataTransfer, req, 10*time.Second)
	s.metrics.IncJobsFired(vendorLabel)
	if err != nil {
		s.logs.Append(chargePointID, logsink.PrefixError+" "+vendorLabel+" scheduler job failed: "+err.Error())
		return
	}
	if result.IsCallError() {
		if result.ErrorCode == "TypeConstraintViolation" {
			s.logs.Append(chargePointID, logsink.PrefixWarning+" "+vendorLabel+" object-data deviation acknowledged via TypeConstraintViolation, treated as accepted")
			return
		}
		s.logs.Append(chargePointID, logsink.PrefixWarning+" "+vendorLabel+" scheduler job rejected: "+result.ErrorCode)
		return
	}
	s.logs.Append(chargePointID, logsink.PrefixSuccess+" "+vendorLabel+" "+messageID+" delivered")
}

type noopMetrics struct{}

func (noopMetrics) IncJobsFired(string) {}
