package homeassistant

import (
	"github.com/nerrad567/osm-bridge/internal/entity"
	"github.com/nerrad567/osm-bridge/internal/infrastructure/mqtt"
)

// Binary sensor payloads, matching entity.State rendering.
const (
	payloadOn  = "ON"
	payloadOff = "OFF"
)

// DiscoveryConfig is the retained MQTT discovery document for one entity.
type DiscoveryConfig struct {
	UniqueID         string         `json:"unique_id"`
	ObjectID         string         `json:"object_id"`
	Name             string         `json:"name"`
	StateTopic       string         `json:"state_topic"`
	Availability     []Availability `json:"availability"`
	AvailabilityMode string         `json:"availability_mode"`
	Device           Device         `json:"device"`

	DeviceClass       string `json:"device_class,omitempty"`
	UnitOfMeasurement string `json:"unit_of_measurement,omitempty"`
	StateClass        string `json:"state_class,omitempty"`

	PayloadOn  string `json:"payload_on,omitempty"`
	PayloadOff string `json:"payload_off,omitempty"`

	CommandTopic string   `json:"command_topic,omitempty"`
	Min          *float64 `json:"min,omitempty"`
	Max          *float64 `json:"max,omitempty"`
	Step         *float64 `json:"step,omitempty"`
	Mode         string   `json:"mode,omitempty"`
}

// Availability is one entry of the discovery availability list.
type Availability struct {
	Topic string `json:"topic"`
}

// Device groups entities in the Home Assistant device registry.
type Device struct {
	Identifiers  []string `json:"identifiers"`
	Name         string   `json:"name"`
	Manufacturer string   `json:"manufacturer"`
	SWVersion    string   `json:"sw_version,omitempty"`
}

// deviceIdentifier namespaces a device identifier under entity.Domain.
func deviceIdentifier(d entity.DeviceInfo) string {
	return entity.Domain + "_" + d.Identifier
}

// buildDiscovery renders the discovery document for e.
func buildDiscovery(e entity.Entity, topics mqtt.Topics, version string) DiscoveryConfig {
	objectID := mqtt.ObjectID(e.UniqueID())
	meta := e.Meta()
	dev := e.Device()

	cfg := DiscoveryConfig{
		UniqueID:   e.UniqueID(),
		ObjectID:   objectID,
		Name:       e.Name(),
		StateTopic: topics.State(objectID),
		Availability: []Availability{
			{Topic: topics.BridgeStatus()},
			{Topic: topics.Availability(objectID)},
		},
		AvailabilityMode: "all",
		Device: Device{
			Identifiers:  []string{deviceIdentifier(dev)},
			Name:         dev.Name,
			Manufacturer: entity.Manufacturer,
			SWVersion:    version,
		},
		DeviceClass:       meta.DeviceClass,
		UnitOfMeasurement: meta.Unit,
		StateClass:        meta.StateClass,
	}

	switch e.Kind() {
	case entity.KindBinarySensor:
		cfg.PayloadOn = payloadOn
		cfg.PayloadOff = payloadOff
	case entity.KindNumber:
		minV, maxV, step := meta.Min, meta.Max, meta.Step
		cfg.CommandTopic = topics.Command(objectID)
		cfg.Min = &minV
		cfg.Max = &maxV
		cfg.Step = &step
		cfg.Mode = "box"
	}

	return cfg
}
