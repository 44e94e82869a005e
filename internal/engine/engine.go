// Package engine is the top-level wiring point of the charging-station
// management system: it constructs the Connection Registry, the Domain
// Store Facade, the Per-Charger Log Sink, the Inbound Handler Set, the
// Post-Transaction Scheduler, the Outbound Command API and the
// WebSocket transport, and ties their lifecycles together behind
// Start/Stop. Grounded on internal/transport/router/router.go's
// lifecycle idiom (Start/Stop, a stats struct updated under one mutex,
// one goroutine per concern), generalized away from that router's
// Kafka event-forwarding role: this engine forwards registry connect/
// disconnect transitions into the domain-event audit trail instead,
// and turns consumed operator Commands into calls against the Outbound
// Command API rather than a raw dispatcher.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/charging-platform/csms/internal/config"
	"github.com/charging-platform/csms/internal/domain/charger"
	"github.com/charging-platform/csms/internal/domain/commands"
	"github.com/charging-platform/csms/internal/domain/handlers"
	"github.com/charging-platform/csms/internal/domain/logsink"
	"github.com/charging-platform/csms/internal/domain/ocpp16"
	"github.com/charging-platform/csms/internal/domain/ocpperr"
	"github.com/charging-platform/csms/internal/domain/registry"
	"github.com/charging-platform/csms/internal/domain/scheduler"
	"github.com/charging-platform/csms/internal/domain/session"
	"github.com/charging-platform/csms/internal/domain/events"
	"github.com/charging-platform/csms/internal/logger"
	"github.com/charging-platform/csms/internal/message"
	"github.com/charging-platform/csms/internal/metrics"
	"github.com/charging-platform/csms/internal/storage"
	"github.com/charging-platform/csms/internal/transport/websocket"
)

// Stats mirrors router.RouterStats's shape, trimmed to what an engine
// with no per-message retry loop still needs to report.
type Stats struct {
	CommandsReceived int64
	CommandsFailed   int64
	LastResetTime    time.Time
}

// Engine owns every domain package's lifetime for one running process.
type Engine struct {
	Registry *registry.Registry
	Store    storage.Store
	Logs     *logsink.Sink
	Handlers *handlers.Set
	Scheduler *scheduler.Scheduler
	Commands *commands.API
	WS       *websocket.Manager

	producer message.EventProducer

	mutex sync.RWMutex
	stats Stats

	logger *logger.Logger
}

// New wires every component from cfg. producer may be nil, in which
// case connect/disconnect transitions and command outcomes are logged
// only, never published — useful for tests and for the debug-config
// CLI that never dials Kafka.
func New(cfg *config.Config, store storage.Store, producer message.EventProducer, log *logger.Logger) *Engine {
	if log == nil {
		log, _ = logger.New(logger.DefaultConfig())
	}

	reg := registry.New(log)
	logs := logsink.New(cfg.LogSink.CapacityPerCharger)
	sched := scheduler.New(reg, store, logs, metrics.SchedulerMetrics{}, log, scheduler.Config{Delay: cfg.Vendor.PostTransactionDelay})
	handlerSet := handlers.New(store, logs, sched)
	cmdAPI := commands.New(reg, store, log)

	wsCfg := &websocket.Config{
		Host:              cfg.Server.Host,
		Port:              cfg.Server.Port,
		Path:              cfg.Server.WebSocketPath,
		ReadBufferSize:    cfg.WebSocket.ReadBufferSize,
		WriteBufferSize:   cfg.WebSocket.WriteBufferSize,
		HandshakeTimeout:  cfg.WebSocket.HandshakeTimeout,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		MaxMessageSize:    cfg.WebSocket.MaxMessageSize,
		EnableCompression: cfg.WebSocket.EnableCompression,
		MaxConnections:    cfg.Server.MaxConnections,
		IdleTimeout:       cfg.WebSocket.IdleTimeout,
		CleanupInterval:   cfg.WebSocket.CleanupInterval,
		CheckOrigin:       cfg.WebSocket.CheckOrigin,
		AllowedOrigins:    cfg.WebSocket.AllowedOrigins,
	}
	sessionCfg := session.Config{
		DefaultCallTimeout: cfg.OCPP.MessageTimeout,
		WriteTimeout:       cfg.Server.WriteTimeout,
	}
	wsManager := websocket.NewManager(wsCfg, reg, handlerSet, metrics.SessionMetrics{}, log)
	wsManager.SetSessionConfig(sessionCfg)

	e := &Engine{
		Registry:  reg,
		Store:     store,
		Logs:      logs,
		Handlers:  handlerSet,
		Scheduler: sched,
		Commands:  cmdAPI,
		WS:        wsManager,
		producer:  producer,
		stats:     Stats{LastResetTime: time.Now()},
		logger:    log,
	}

	reg.Subscribe(e.onRegistryEvent)

	return e
}

// Start launches the WebSocket transport. The caller is responsible for
// starting the Kafka consumer with e.HandleCommand as its handler.
func (e *Engine) Start() error {
	return e.WS.Start()
}

// Shutdown stops accepting new connections and closes every live
// session, then closes the event producer if one was supplied.
func (e *Engine) Shutdown(ctx context.Context) error {
	if err := e.WS.Shutdown(ctx); err != nil {
		return err
	}
	if e.producer != nil {
		return e.producer.Close()
	}
	return nil
}

// Stats returns a snapshot of the command-ingress counters.
func (e *Engine) Stats() Stats {
	e.mutex.RLock()
	defer e.mutex.RUnlock()
	return e.stats
}

// onRegistryEvent mirrors registry connect/disconnect transitions into
// the domain-event audit trail (spec §3's "every ... action is
// recorded"), in place of the teacher's Kafka-bound upstream forwarding
// of raw OCPP traffic.
func (e *Engine) onRegistryEvent(ev registry.Event) {
	if e.producer == nil {
		return
	}

	var evt events.Event
	switch ev.Type {
	case registry.EventConnected:
		evt = &events.ChargePointConnectedEvent{
			BaseEvent:       events.NewBaseEvent(events.EventTypeChargePointConnected, ev.ChargePointID, events.EventSeverityInfo, events.Metadata{Source: "csms"}),
			ChargePointInfo: events.ChargePointInfo{ID: ev.ChargePointID, LastSeen: time.Now().UTC()},
		}
	case registry.EventDisconnected:
		evt = &events.ChargePointDisconnectedEvent{
			BaseEvent: events.NewBaseEvent(events.EventTypeChargePointDisconnected, ev.ChargePointID, events.EventSeverityInfo, events.Metadata{Source: "csms"}),
			Reason:    string(ev.Reason),
		}
	default:
		return
	}

	if err := e.producer.PublishEvent(evt); err != nil {
		e.logger.Warnf("failed to publish %s event for %s: %v", ev.Type, ev.ChargePointID, err)
	}
}

// HandleCommand satisfies message.CommandHandler: it decodes one
// operator command and drives the matching Outbound Command API call,
// publishing the outcome as a RemoteCommandExecuted/Failed event.
func (e *Engine) HandleCommand(cmd *message.Command) {
	e.mutex.Lock()
	e.stats.CommandsReceived++
	e.mutex.Unlock()

	if err := e.dispatch(cmd); err != nil {
		e.mutex.Lock()
		e.stats.CommandsFailed++
		e.mutex.Unlock()
		e.logger.Warnf("command %s for %s failed: %v", cmd.Action, cmd.ChargePointID, err)
		e.publishCommandOutcome(cmd, false, err)
		return
	}
	e.publishCommandOutcome(cmd, true, nil)
}

func (e *Engine) publishCommandOutcome(cmd *message.Command, success bool, cause error) {
	if e.producer == nil {
		return
	}
	status := events.CommandStatusCompleted
	severity := events.EventSeverityInfo
	var errMsg *string
	if !success {
		status = events.CommandStatusFailed
		severity = events.EventSeverityError
		msg := cause.Error()
		errMsg = &msg
	}
	now := time.Now().UTC()
	evt := &events.RemoteCommandExecutedEvent{
		BaseEvent: events.NewBaseEvent(events.EventTypeRemoteCommandExecuted, cmd.ChargePointID, severity, events.Metadata{Source: "csms"}),
		Command: events.RemoteCommand{
			ChargePointID: cmd.ChargePointID,
			Status:        status,
			CreatedAt:     now,
			CompletedAt:   &now,
			ErrorMessage:  errMsg,
		},
	}
	if err := e.producer.PublishEvent(evt); err != nil {
		e.logger.Warnf("failed to publish command outcome for %s: %v", cmd.ChargePointID, err)
	}
}

// dispatch maps a Command's action string onto the matching typed
// commands.API call, decoding Payload into that action's request type.
// A few actions are operator-only façade writes with no OCPP protocol
// counterpart (spec §5 Supplemented Features) and are handled before the
// ocpp16.Action switch below.
func (e *Engine) dispatch(cmd *message.Command) error {
	switch cmd.Action {
	case "SetVendorSettings":
		var req charger.VendorSettings
		if err := json.Unmarshal(cmd.Payload, &req); err != nil {
			return err
		}
		e.Commands.SetVendorSettings(cmd.ChargePointID, req)
		return nil

	case "SendTemplatedDataTransfer":
		var req struct {
			TemplateID int `json:"templateId"`
		}
		if err := json.Unmarshal(cmd.Payload, &req); err != nil {
			return err
		}
		_, err := e.Commands.SendTemplatedDataTransfer(cmd.ChargePointID, req.TemplateID)
		return err
	}

	switch ocpp16.Action(cmd.Action) {
	case ocpp16.ActionRemoteStartTransaction:
		var req ocpp16.RemoteStartTransactionRequest
		if err := json.Unmarshal(cmd.Payload, &req); err != nil {
			return err
		}
		_, err := e.Commands.RemoteStart(cmd.ChargePointID, req.ConnectorId, req.IdTag, req.ChargingProfile)
		return err

	case ocpp16.ActionRemoteStopTransaction:
		var req ocpp16.RemoteStopTransactionRequest
		if err := json.Unmarshal(cmd.Payload, &req); err != nil {
			return err
		}
		_, err := e.Commands.RemoteStop(cmd.ChargePointID, req.TransactionId)
		return err

	case ocpp16.ActionReset:
		var req ocpp16.ResetRequest
		if err := json.Unmarshal(cmd.Payload, &req); err != nil {
			return err
		}
		_, err := e.Commands.Reset(cmd.ChargePointID, req.Type)
		return err

	case ocpp16.ActionUnlockConnector:
		var req ocpp16.UnlockConnectorRequest
		if err := json.Unmarshal(cmd.Payload, &req); err != nil {
			return err
		}
		_, err := e.Commands.UnlockConnector(cmd.ChargePointID, req.ConnectorId)
		return err

	case ocpp16.ActionGetConfiguration:
		var req ocpp16.GetConfigurationRequest
		if err := json.Unmarshal(cmd.Payload, &req); err != nil {
			return err
		}
		_, err := e.Commands.GetConfiguration(cmd.ChargePointID, req.Key)
		return err

	case ocpp16.ActionChangeConfiguration:
		var req ocpp16.ChangeConfigurationRequest
		if err := json.Unmarshal(cmd.Payload, &req); err != nil {
			return err
		}
		_, err := e.Commands.ChangeConfiguration(cmd.ChargePointID, req.Key, req.Value)
		return err

	case ocpp16.ActionClearCache:
		_, err := e.Commands.ClearCache(cmd.ChargePointID)
		return err

	case ocpp16.ActionChangeAvailability:
		var req ocpp16.ChangeAvailabilityRequest
		if err := json.Unmarshal(cmd.Payload, &req); err != nil {
			return err
		}
		_, err := e.Commands.ChangeAvailability(cmd.ChargePointID, req.ConnectorId, req.Type)
		return err

	case ocpp16.ActionTriggerMessage:
		var req ocpp16.TriggerMessageRequest
		if err := json.Unmarshal(cmd.Payload, &req); err != nil {
			return err
		}
		_, err := e.Commands.TriggerMessage(cmd.ChargePointID, req.RequestedMessage, req.ConnectorId)
		return err

	case ocpp16.ActionDataTransfer:
		var req ocpp16.DataTransferRequest
		if err := json.Unmarshal(cmd.Payload, &req); err != nil {
			return err
		}
		_, err := e.Commands.DataTransfer(cmd.ChargePointID, req.VendorId, req.MessageId, req.Data)
		return err

	case ocpp16.ActionSendLocalList:
		var req ocpp16.SendLocalListRequest
		if err := json.Unmarshal(cmd.Payload, &req); err != nil {
			return err
		}
		_, err := e.Commands.SendLocalList(cmd.ChargePointID, req.UpdateType, req.LocalAuthorizationList)
		return err

	case ocpp16.ActionGetLocalListVersion:
		_, err := e.Commands.GetLocalListVersion(cmd.ChargePointID)
		return err

	case ocpp16.ActionReserveNow:
		var req ocpp16.ReserveNowRequest
		if err := json.Unmarshal(cmd.Payload, &req); err != nil {
			return err
		}
		_, err := e.Commands.ReserveNow(cmd.ChargePointID, req)
		return err

	case ocpp16.ActionCancelReservation:
		var req ocpp16.CancelReservationRequest
		if err := json.Unmarshal(cmd.Payload, &req); err != nil {
			return err
		}
		_, err := e.Commands.CancelReservation(cmd.ChargePointID, req.ReservationId)
		return err

	case ocpp16.ActionSetChargingProfile:
		var req ocpp16.SetChargingProfileRequest
		if err := json.Unmarshal(cmd.Payload, &req); err != nil {
			return err
		}
		_, err := e.Commands.SetChargingProfile(cmd.ChargePointID, req.ConnectorId, req.CsChargingProfiles)
		return err

	case ocpp16.ActionClearChargingProfile:
		var req ocpp16.ClearChargingProfileRequest
		if err := json.Unmarshal(cmd.Payload, &req); err != nil {
			return err
		}
		_, err := e.Commands.ClearChargingProfile(cmd.ChargePointID, req)
		return err

	case ocpp16.ActionGetCompositeSchedule:
		var req ocpp16.GetCompositeScheduleRequest
		if err := json.Unmarshal(cmd.Payload, &req); err != nil {
			return err
		}
		_, err := e.Commands.GetCompositeSchedule(cmd.ChargePointID, req)
		return err

	case ocpp16.ActionUpdateFirmware:
		var req ocpp16.UpdateFirmwareRequest
		if err := json.Unmarshal(cmd.Payload, &req); err != nil {
			return err
		}
		return e.Commands.UpdateFirmware(cmd.ChargePointID, req)

	case ocpp16.ActionGetDiagnostics:
		var req ocpp16.GetDiagnosticsRequest
		if err := json.Unmarshal(cmd.Payload, &req); err != nil {
			return err
		}
		_, err := e.Commands.GetDiagnostics(cmd.ChargePointID, req)
		return err

	default:
		return ocpperr.New(ocpperr.NotSupported, fmt.Sprintf("unsupported operator command action %q", cmd.Action))
	}
}
