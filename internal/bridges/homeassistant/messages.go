package homeassistant

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// CommandMessage is the JSON form of a number write on {prefix}/{object_id}/set.
// A bare number is accepted as well.
type CommandMessage struct {
	// ID is echoed in the ack. Generated when empty.
	ID    string   `json:"id,omitempty"`
	Value *float64 `json:"value"`
}

// parseCommand accepts "42", "42.5" or {"value": 42, "id": "..."}.
func parseCommand(payload []byte) (CommandMessage, error) {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 {
		return CommandMessage{}, fmt.Errorf("empty payload")
	}

	var cmd CommandMessage
	if trimmed[0] == '{' {
		if err := json.Unmarshal(trimmed, &cmd); err != nil {
			return CommandMessage{}, fmt.Errorf("decode command: %w", err)
		}
		if cmd.Value == nil {
			return CommandMessage{}, fmt.Errorf("command has no value")
		}
	} else {
		v, err := strconv.ParseFloat(string(trimmed), 64)
		if err != nil {
			return CommandMessage{}, fmt.Errorf("parse value %q: %w", trimmed, err)
		}
		cmd.Value = &v
	}

	if cmd.ID == "" {
		cmd.ID = uuid.NewString()
	}
	return cmd, nil
}

// AckStatus is the outcome of a command.
type AckStatus string

const (
	AckAccepted AckStatus = "accepted"
	AckFailed   AckStatus = "failed"
)

// Error codes carried in failed acks.
const (
	ErrCodeInvalidPayload = "INVALID_PAYLOAD"
	ErrCodeInvalidValue   = "INVALID_VALUE"
	ErrCodeNotWritable    = "NOT_WRITABLE"
	ErrCodeNotConfigured  = "NOT_CONFIGURED"
	ErrCodeUpstream       = "UPSTREAM_ERROR"
	ErrCodeBridgeError    = "BRIDGE_ERROR"
)

// AckMessage is published on {prefix}/{object_id}/ack after every command.
type AckMessage struct {
	CommandID string    `json:"command_id"`
	Timestamp time.Time `json:"timestamp"`
	UniqueID  string    `json:"unique_id,omitempty"`
	Value     *float64  `json:"value,omitempty"`
	Status    AckStatus `json:"status"`
	Error     *AckError `json:"error,omitempty"`
}

// AckError describes a failed command.
type AckError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func newAck(cmd CommandMessage, uniqueID string) AckMessage {
	return AckMessage{
		CommandID: cmd.ID,
		Timestamp: time.Now().UTC(),
		UniqueID:  uniqueID,
		Value:     cmd.Value,
		Status:    AckAccepted,
	}
}

func newAckError(cmd CommandMessage, uniqueID, code, message string) AckMessage {
	ack := newAck(cmd, uniqueID)
	ack.Status = AckFailed
	ack.Error = &AckError{Code: code, Message: message}
	return ack
}

// HealthStatus is the bridge's overall status.
type HealthStatus string

const (
	HealthStarting  HealthStatus = "starting"
	HealthHealthy   HealthStatus = "healthy"
	HealthDegraded  HealthStatus = "degraded"
	HealthUnhealthy HealthStatus = "unhealthy"
	HealthStopping  HealthStatus = "stopping"
)

// HealthMessage is published retained on {prefix}/bridge/health.
type HealthMessage struct {
	Status        HealthStatus `json:"status"`
	Timestamp     time.Time    `json:"timestamp"`
	Version       string       `json:"version,omitempty"`
	UptimeSeconds int64        `json:"uptime_seconds"`
	Reason        string       `json:"reason,omitempty"`
	Entities      int          `json:"entities"`
	Unavailable   int          `json:"unavailable"`
	OSMHost       string       `json:"osm_host,omitempty"`
}
