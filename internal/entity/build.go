package entity

import (
	"context"

	"github.com/nerrad567/osm-bridge/internal/mirror"
)

// CoreDeviceID identifies the Home Assistant device holding core entities.
const CoreDeviceID = "core"

// ForDevice builds the six adapters for one device mirror.
func ForDevice(d *mirror.Device, opts ...Option) []Entity {
	o := buildOptions(opts)
	info := DeviceInfo{Identifier: d.Name(), Name: d.Name()}

	mk := func(suffix, name string, kind Kind, meta Meta, read func() (string, bool)) field {
		return field{
			uid:           d.Name() + "_" + suffix,
			name:          name,
			kind:          kind,
			device:        info,
			meta:          meta,
			src:           d,
			read:          read,
			readyInterval: o.readyInterval,
		}
	}

	consumption := mk("consumption", "Consumption", KindSensor, measurementMeta(),
		func() (string, bool) { return formatFloat(d.Consumption()) })
	powered := mk("powered", "Power State", KindBinarySensor, Meta{DeviceClass: "power"},
		func() (string, bool) { return formatBool(d.Powered()) })
	enabled := mk("enabled", "Enabled", KindBinarySensor, Meta{},
		func() (string, bool) { return formatBool(d.Enabled()) })

	maxConsumption := &number{
		field: mk("max_consumption", "Max Consumption", KindNumber, numberMeta("power", "W"),
			func() (string, bool) { return formatFloat(d.MaxConsumption()) }),
		set: d.SetMaxConsumption,
	}
	expected := &number{
		field: mk("expected_consumption", "Expected Consumption", KindNumber, numberMeta("power", "W"),
			func() (string, bool) { return formatFloat(d.ExpectedConsumption()) }),
		set: d.SetExpectedConsumption,
	}
	cooldown := &number{
		field: mk("cooldown", "Cooldown", KindNumber, numberMeta("duration", "s"),
			func() (string, bool) { return formatInt(d.Cooldown()) }),
		integer: true,
		set: func(ctx context.Context, v float64) error {
			return d.SetCooldown(ctx, int(v))
		},
	}

	return []Entity{&consumption, &powered, &enabled, maxConsumption, expected, cooldown}
}

// ForCore builds the four adapters for the core mirror.
func ForCore(c *mirror.Core, opts ...Option) []Entity {
	o := buildOptions(opts)
	info := DeviceInfo{Identifier: CoreDeviceID, Name: "Core"}

	mk := func(uid, name string, kind Kind, meta Meta, read func() (string, bool)) field {
		return field{
			uid:           uid,
			name:          name,
			kind:          kind,
			device:        info,
			meta:          meta,
			src:           c,
			read:          read,
			readyInterval: o.readyInterval,
		}
	}

	surplus := mk("surplus", "Surplus", KindSensor, measurementMeta(),
		func() (string, bool) { return formatFloat(c.Surplus()) })

	return []Entity{
		&surplus,
		&number{
			field: mk("grid_margin", "Grid Margin", KindNumber, numberMeta("power", "W"),
				func() (string, bool) { return formatFloat(c.GridMargin()) }),
			set: c.SetGridMargin,
		},
		&number{
			field: mk("surplus_margin", "Surplus Margin", KindNumber, numberMeta("power", "W"),
				func() (string, bool) { return formatFloat(c.SurplusMargin()) }),
			set: c.SetSurplusMargin,
		},
		&number{
			field: mk("idle_power", "Idle Power", KindNumber, numberMeta("power", "W"),
				func() (string, bool) { return formatFloat(c.IdlePower()) }),
			set: c.SetIdlePower,
		},
	}
}
