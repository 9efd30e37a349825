package mqtt

import (
	"strings"

	"github.com/nerrad567/osm-bridge/internal/infrastructure/config"
)

// Bridge status payloads. These are the values Home Assistant expects on an
// availability topic by default.
const (
	PayloadOnline  = "online"
	PayloadOffline = "offline"
)

// Topics builds the Home Assistant topic layout for one bridge instance.
//
//	discovery:    {discovery_prefix}/{component}/{node_id}/{object_id}/config
//	state:        {prefix}/{object_id}/state
//	availability: {prefix}/{object_id}/availability
//	command:      {prefix}/{object_id}/set
//	ack:          {prefix}/{object_id}/ack
//	bridge:       {prefix}/bridge/status, {prefix}/bridge/health
type Topics struct {
	DiscoveryPrefix string
	NodeID          string
	Prefix          string
}

// NewTopics builds Topics from the homeassistant config section.
func NewTopics(cfg config.HomeAssistantConfig) Topics {
	return Topics{
		DiscoveryPrefix: strings.Trim(cfg.DiscoveryPrefix, "/"),
		NodeID:          ObjectID(cfg.NodeID),
		Prefix:          strings.Trim(cfg.TopicPrefix, "/"),
	}
}

// Discovery returns the retained config topic for an entity.
func (t Topics) Discovery(component, objectID string) string {
	return t.DiscoveryPrefix + "/" + component + "/" + t.NodeID + "/" + objectID + "/config"
}

func (t Topics) State(objectID string) string {
	return t.Prefix + "/" + objectID + "/state"
}

func (t Topics) Availability(objectID string) string {
	return t.Prefix + "/" + objectID + "/availability"
}

func (t Topics) Command(objectID string) string {
	return t.Prefix + "/" + objectID + "/set"
}

func (t Topics) Ack(objectID string) string {
	return t.Prefix + "/" + objectID + "/ack"
}

// AllCommands is the wildcard subscription covering every command topic.
func (t Topics) AllCommands() string {
	return t.Prefix + "/+/set"
}

// BridgeStatus carries online/offline and is the LWT topic.
func (t Topics) BridgeStatus() string {
	return t.Prefix + "/bridge/status"
}

// BridgeHealth carries the periodic JSON health message.
func (t Topics) BridgeHealth() string {
	return t.Prefix + "/bridge/health"
}

// ParseCommand extracts the object ID from a command topic.
func (t Topics) ParseCommand(topic string) (string, bool) {
	rest, ok := strings.CutPrefix(topic, t.Prefix+"/")
	if !ok {
		return "", false
	}
	objectID, ok := strings.CutSuffix(rest, "/set")
	if !ok || objectID == "" || strings.Contains(objectID, "/") {
		return "", false
	}
	return objectID, true
}

// ObjectID makes a unique ID safe for use as a single topic level.
// Letters are lowercased; anything outside [a-z0-9_-] becomes '_'.
func ObjectID(uniqueID string) string {
	var b strings.Builder
	b.Grow(len(uniqueID))
	for _, r := range strings.ToLower(uniqueID) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}
