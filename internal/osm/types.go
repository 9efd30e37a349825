package osm

import (
	"encoding/json"
	"fmt"
)

// Device identifies one controllable device known to OSM.
type Device struct {
	Name string `json:"name"`
}

// DeviceState is a full snapshot of one device.
type DeviceState struct {
	Name                string  `json:"name"`
	Consumption         float64 `json:"consumption"`
	Powered             bool    `json:"powered"`
	Enabled             bool    `json:"enabled"`
	MaxConsumption      float64 `json:"max_consumption"`
	ExpectedConsumption float64 `json:"expected_consumption"`
	Cooldown            int     `json:"cooldown"` // seconds
}

// CoreState is a full snapshot of the system-wide state.
type CoreState struct {
	Surplus       float64 `json:"surplus"`
	GridMargin    float64 `json:"grid_margin"`
	SurplusMargin float64 `json:"surplus_margin"`
	IdlePower     float64 `json:"idle_power"`
}

// Device setter fields.
const (
	FieldMaxConsumption      = "max_consumption"
	FieldExpectedConsumption = "expected_consumption"
	FieldCooldown            = "cooldown"
)

// Core setter fields.
const (
	FieldGridMargin    = "grid_margin"
	FieldSurplusMargin = "surplus_margin"
	FieldIdlePower     = "idle_power"
)

// wireDevice mirrors DeviceState with pointers so missing fields can be detected.
type wireDevice struct {
	Name                *string  `json:"name"`
	Consumption         *float64 `json:"consumption"`
	Powered             *bool    `json:"powered"`
	Enabled             *bool    `json:"enabled"`
	MaxConsumption      *float64 `json:"max_consumption"`
	ExpectedConsumption *float64 `json:"expected_consumption"`
	Cooldown            *int     `json:"cooldown"`
}

type wireCore struct {
	Surplus       *float64 `json:"surplus"`
	GridMargin    *float64 `json:"grid_margin"`
	SurplusMargin *float64 `json:"surplus_margin"`
	IdlePower     *float64 `json:"idle_power"`
}

type setValue struct {
	Value any `json:"value"`
}

func decodeDevice(data []byte, name string) (DeviceState, error) {
	var w wireDevice
	if err := json.Unmarshal(data, &w); err != nil {
		return DeviceState{}, err
	}
	if err := missing(map[string]bool{
		"consumption":          w.Consumption == nil,
		"powered":              w.Powered == nil,
		"enabled":              w.Enabled == nil,
		"max_consumption":      w.MaxConsumption == nil,
		"expected_consumption": w.ExpectedConsumption == nil,
		"cooldown":             w.Cooldown == nil,
	}); err != nil {
		return DeviceState{}, err
	}

	s := DeviceState{
		Name:                name,
		Consumption:         *w.Consumption,
		Powered:             *w.Powered,
		Enabled:             *w.Enabled,
		MaxConsumption:      *w.MaxConsumption,
		ExpectedConsumption: *w.ExpectedConsumption,
		Cooldown:            *w.Cooldown,
	}
	if w.Name != nil && *w.Name != "" {
		s.Name = *w.Name
	}
	return s, nil
}

func decodeCore(data []byte) (CoreState, error) {
	var w wireCore
	if err := json.Unmarshal(data, &w); err != nil {
		return CoreState{}, err
	}
	if err := missing(map[string]bool{
		"surplus":        w.Surplus == nil,
		"grid_margin":    w.GridMargin == nil,
		"surplus_margin": w.SurplusMargin == nil,
		"idle_power":     w.IdlePower == nil,
	}); err != nil {
		return CoreState{}, err
	}

	return CoreState{
		Surplus:       *w.Surplus,
		GridMargin:    *w.GridMargin,
		SurplusMargin: *w.SurplusMargin,
		IdlePower:     *w.IdlePower,
	}, nil
}

// missing returns an error naming the first absent field in a stable order.
func missing(fields map[string]bool) error {
	order := []string{
		"consumption", "powered", "enabled", "max_consumption", "expected_consumption", "cooldown",
		"surplus", "grid_margin", "surplus_margin", "idle_power",
	}
	for _, f := range order {
		if fields[f] {
			return fmt.Errorf("missing field %q", f)
		}
	}
	return nil
}
