package message

import "encoding/json"

// Command is one operator-issued instruction consumed off the
// downstream Kafka topic (spec §4.F "Outbound Command API" driven by
// an operator rather than a charge point). ChargePointID selects the
// bound session, Action names one of the ocpp16.Action constants, and
// Payload is the action-specific request body, left undecoded until
// the dispatcher knows which typed commands.API method to call.
type Command struct {
	ChargePointID string          `json:"charge_point_id"`
	Action        string          `json:"action"`
	Payload       json.RawMessage `json:"payload"`
}

// CommandHandler processes one Command consumed from Kafka. KafkaConsumer
// calls it for every message on its topic, already unmarshalled.
type CommandHandler func(cmd *Command)
