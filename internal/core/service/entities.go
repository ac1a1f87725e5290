package service

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/berfenger/lynx2mqtt/internal/core/domain"
	"github.com/berfenger/lynx2mqtt/pkg/lynx"
)

// Lynx meta keys with bridge meaning.
const (
	META_KEY_NAME           = "name"
	META_KEY_TOPIC_READ     = "topic_read"
	META_KEY_TOPIC_WRITE    = "topic_write"
	META_KEY_DEVICE_ID      = "device_id"
	META_KEY_UNIT           = "unit"
	META_KEY_UNIT_ALT       = "unit_of_measurement"
	META_KEY_ICON           = "icon"
	META_KEY_STATE_ALARM    = "state_alarm"
	META_KEY_STATE_NO_ALARM = "state_no_alarm"
	META_KEY_STATE_ON       = "state_on"
	META_KEY_STATE_OFF      = "state_off"
	META_KEY_HA_DISABLED    = "ha.disabled"
	META_KEY_HA_HIDDEN      = "ha.hidden"
	META_KEY_ZWAVE_TYPE     = "zwave.type"
)

const (
	DEFAULT_SWITCH_ON_VALUE  float64 = 255
	DEFAULT_SWITCH_OFF_VALUE float64 = 0
)

// IsTruthy interprets the loose boolean convention used in meta values.
func IsTruthy(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

// IsExposed reports whether a function should surface in HA at all:
// not opted out via meta and readable through a status topic.
func IsExposed(fn lynx.Function) bool {
	if v, ok := fn.Meta.Get(META_KEY_HA_DISABLED); ok && IsTruthy(v) {
		return false
	}
	if v, ok := fn.Meta.Get(META_KEY_HA_HIDDEN); ok && IsTruthy(v) {
		return false
	}
	return fn.Meta.GetOr(META_KEY_TOPIC_READ, "") != ""
}

// IsSwitchFunction: explicit switch types, or anything with a write topic.
func IsSwitchFunction(fn lynx.Function) bool {
	if fn.Type == "switch" || strings.HasSuffix(fn.Type, "_switch") {
		return true
	}
	return fn.Meta.Has(META_KEY_TOPIC_WRITE)
}

// IsBinaryFunction: alarm types and alarm-style metadata. A switch is never
// a binary sensor even when it carries alarm states.
func IsBinaryFunction(fn lynx.Function) bool {
	if strings.Contains(fn.Type, "switch") {
		return false
	}
	if strings.HasPrefix(fn.Type, "alarm_") {
		return true
	}
	return fn.Meta.Has(META_KEY_STATE_ALARM) && fn.Meta.Has(META_KEY_STATE_NO_ALARM)
}

// ParseDeviceID extracts the assigned device id, 0 when absent or garbage.
func ParseDeviceID(fn lynx.Function) int64 {
	id, ok := fn.Meta.Int64(META_KEY_DEVICE_ID)
	if !ok || id <= 0 {
		return 0
	}
	return id
}

// GuessSensorCharacteristics derives HA sensor traits from the function
// type and meta. Meta wins over heuristics for unit and icon.
func GuessSensorCharacteristics(fn lynx.Function) (deviceClass, unit, stateClass, icon string) {
	unit = fn.Meta.GetOr(META_KEY_UNIT, fn.Meta.GetOr(META_KEY_UNIT_ALT, ""))
	icon = fn.Meta.GetOr(META_KEY_ICON, "")
	lowerType := strings.ToLower(fn.Type)
	lowerUnit := strings.ToLower(unit)

	switch {
	case strings.Contains(lowerType, "temperature") || lowerUnit == "°c" || lowerUnit == "c":
		deviceClass = domain.DEVICE_CLASS_TEMPERATURE
		stateClass = domain.STATE_CLASS_MEASUREMENT
		if unit == "" {
			unit = "°C"
		}
	case strings.Contains(lowerType, "humidity") || lowerUnit == "%rh":
		deviceClass = domain.DEVICE_CLASS_HUMIDITY
		stateClass = domain.STATE_CLASS_MEASUREMENT
		if unit == "" {
			unit = "%"
		}
	case strings.Contains(lowerType, "power") || lowerUnit == "w" || strings.Contains(lowerUnit, "watt"):
		deviceClass = domain.DEVICE_CLASS_POWER
		stateClass = domain.STATE_CLASS_MEASUREMENT
		if unit == "" {
			unit = "W"
		}
	case strings.Contains(lowerType, "energy") || lowerUnit == "kwh" || lowerUnit == "wh":
		deviceClass = domain.DEVICE_CLASS_ENERGY
		stateClass = domain.STATE_CLASS_TOTAL_INCREASING
		if unit == "" {
			unit = "kWh"
		}
	case strings.Contains(lowerType, "voltage") || lowerUnit == "v":
		deviceClass = domain.DEVICE_CLASS_VOLTAGE
		stateClass = domain.STATE_CLASS_MEASUREMENT
	case strings.Contains(lowerType, "current") || lowerUnit == "a":
		deviceClass = domain.DEVICE_CLASS_CURRENT
		stateClass = domain.STATE_CLASS_MEASUREMENT
	case strings.Contains(lowerType, "illuminance") || lowerUnit == "lx" || lowerUnit == "lux":
		deviceClass = domain.DEVICE_CLASS_ILLUMINANCE
		stateClass = domain.STATE_CLASS_MEASUREMENT
	default:
		if unit != "" {
			stateClass = domain.STATE_CLASS_MEASUREMENT
		}
	}
	return deviceClass, unit, stateClass, icon
}

// GuessBinaryDeviceClass maps alarm types to HA binary sensor classes.
func GuessBinaryDeviceClass(fn lynx.Function) string {
	hints := strings.ToLower(fn.Type + " " + fn.Meta.GetOr(META_KEY_ZWAVE_TYPE, ""))
	switch {
	case strings.Contains(hints, "smoke") || strings.Contains(hints, "fire"):
		return domain.DEVICE_CLASS_SMOKE
	case strings.Contains(hints, "water") || strings.Contains(hints, "flood") || strings.Contains(hints, "leak"):
		return domain.DEVICE_CLASS_MOISTURE
	case strings.Contains(hints, "power"):
		return domain.DEVICE_CLASS_POWER
	case strings.HasPrefix(fn.Type, "alarm_"):
		return domain.DEVICE_CLASS_PROBLEM
	default:
		return ""
	}
}

// ResolveWriteTopic picks the topic switch commands publish to. A meta
// topic_write already carrying a client id prefix (starts with a digit and
// contains a slash) is used as-is; otherwise it is prefixed. Without
// topic_write the convention is set/ + the read topic.
func ResolveWriteTopic(fn lynx.Function, prefix string) string {
	topicWrite := fn.Meta.GetOr(META_KEY_TOPIC_WRITE, "")
	if topicWrite != "" {
		if startsWithDigit(topicWrite) && strings.Contains(topicWrite, "/") {
			return topicWrite
		}
		return fmt.Sprintf("%s/%s", prefix, topicWrite)
	}
	topicRead := fn.Meta.GetOr(META_KEY_TOPIC_READ, "")
	return fmt.Sprintf("%s/set/%s", prefix, topicRead)
}

// ComputeOnOffValues returns the values written for on/off commands,
// overridable per function via meta.
func ComputeOnOffValues(fn lynx.Function) (on float64, off float64) {
	on = DEFAULT_SWITCH_ON_VALUE
	off = DEFAULT_SWITCH_OFF_VALUE
	if v, ok := fn.Meta.Float64(META_KEY_STATE_ON); ok {
		on = v
	}
	if v, ok := fn.Meta.Float64(META_KEY_STATE_OFF); ok {
		off = v
	}
	return on, off
}

func startsWithDigit(s string) bool {
	return len(s) > 0 && s[0] >= '0' && s[0] <= '9'
}

// EntityMapper classifies snapshot functions into HA entities.
type EntityMapper struct {
	InstallationID   int64
	WriteTopicPrefix string
	Logger           *zap.Logger
}

// Map builds the entity set for the given functions. devices provides HA
// device names for assigned functions; unassigned ones group under the
// installation fallback device.
func (m *EntityMapper) Map(functions []lynx.Function, devices []lynx.Device, bridge domain.Device) *domain.EntitySet {
	deviceNames := make(map[int64]lynx.Device, len(devices))
	for _, dev := range devices {
		deviceNames[dev.ID] = dev
	}

	set := &domain.EntitySet{}
	for _, fn := range functions {
		if !IsExposed(fn) {
			continue
		}
		haDevice := m.haDevice(fn, deviceNames, bridge)
		switch {
		case IsSwitchFunction(fn):
			set.Switches = append(set.Switches, m.mapSwitch(fn, haDevice))
		case IsBinaryFunction(fn):
			set.BinarySensors = append(set.BinarySensors, m.mapBinarySensor(fn, haDevice))
		default:
			set.Sensors = append(set.Sensors, m.mapSensor(fn, haDevice))
		}
	}
	return set
}

func (m *EntityMapper) haDevice(fn lynx.Function, devices map[int64]lynx.Device, bridge domain.Device) domain.Device {
	deviceID := ParseDeviceID(fn)
	if deviceID > 0 {
		name := fmt.Sprintf("Device %d", deviceID)
		if dev, ok := devices[deviceID]; ok {
			name = dev.Name()
		}
		return domain.Device{
			Id:           fmt.Sprintf("device_%d", deviceID),
			Name:         name,
			Manufacturer: "IoT Open",
			Model:        "Lynx",
			ViaDevice:    bridge.Id,
		}
	}
	return domain.Device{
		Id:           fmt.Sprintf("installation_%d", m.InstallationID),
		Name:         fmt.Sprintf("Installation %d", m.InstallationID),
		Manufacturer: "IoT Open",
		Model:        "Lynx",
		ViaDevice:    bridge.Id,
	}
}

func (m *EntityMapper) mapSensor(fn lynx.Function, haDevice domain.Device) domain.SensorEntity {
	deviceClass, unit, stateClass, icon := GuessSensorCharacteristics(fn)
	return domain.SensorEntity{
		GenericSensor: domain.GenericSensor{
			Device:            haDevice,
			Id:                entityId(fn.ID),
			Name:              fn.Name(),
			UniqueId:          m.uniqueId(fn.ID, ""),
			UnitOfMeasurement: unit,
			StateClass:        stateClass,
			DeviceClass:       deviceClass,
			Icon:              icon,
		},
		FunctionID: fn.ID,
		TopicRead:  fn.Meta.GetOr(META_KEY_TOPIC_READ, ""),
	}
}

func (m *EntityMapper) mapBinarySensor(fn lynx.Function, haDevice domain.Device) domain.BinarySensorEntity {
	entity := domain.BinarySensorEntity{
		GenericBinarySensor: domain.GenericBinarySensor{
			Device:      haDevice,
			Id:          entityId(fn.ID),
			Name:        fn.Name(),
			UniqueId:    m.uniqueId(fn.ID, "_binary"),
			DeviceClass: GuessBinaryDeviceClass(fn),
			Icon:        fn.Meta.GetOr(META_KEY_ICON, ""),
		},
		FunctionID: fn.ID,
		TopicRead:  fn.Meta.GetOr(META_KEY_TOPIC_READ, ""),
	}
	if v, ok := fn.Meta.Int64(META_KEY_STATE_ALARM); ok {
		entity.AlarmValue = &v
	}
	if v, ok := fn.Meta.Int64(META_KEY_STATE_NO_ALARM); ok {
		entity.NoAlarmValue = &v
	}
	return entity
}

func (m *EntityMapper) mapSwitch(fn lynx.Function, haDevice domain.Device) domain.SwitchEntity {
	on, off := ComputeOnOffValues(fn)
	return domain.SwitchEntity{
		GenericSwitch: domain.GenericSwitch{
			Device:   haDevice,
			Id:       entityId(fn.ID),
			Name:     fn.Name(),
			UniqueId: m.uniqueId(fn.ID, "_switch"),
			Icon:     fn.Meta.GetOr(META_KEY_ICON, ""),
		},
		FunctionID: fn.ID,
		TopicRead:  fn.Meta.GetOr(META_KEY_TOPIC_READ, ""),
		TopicWrite: ResolveWriteTopic(fn, m.WriteTopicPrefix),
		OnValue:    on,
		OffValue:   off,
	}
}

func (m *EntityMapper) uniqueId(functionID int64, suffix string) string {
	return fmt.Sprintf("iotopen_%d_func_%d%s", m.InstallationID, functionID, suffix)
}

func entityId(functionID int64) string {
	return fmt.Sprintf("func_%d", functionID)
}
