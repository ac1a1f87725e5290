package domain

const (
	STATE_CLASS_MEASUREMENT      = "measurement"
	STATE_CLASS_TOTAL_INCREASING = "total_increasing"

	DEVICE_CLASS_TEMPERATURE  = "temperature"
	DEVICE_CLASS_HUMIDITY     = "humidity"
	DEVICE_CLASS_POWER        = "power"
	DEVICE_CLASS_ENERGY       = "energy"
	DEVICE_CLASS_VOLTAGE      = "voltage"
	DEVICE_CLASS_CURRENT      = "current"
	DEVICE_CLASS_ILLUMINANCE  = "illuminance"
	DEVICE_CLASS_TIMESTAMP    = "timestamp"
	DEVICE_CLASS_CONNECTIVITY = "connectivity"
	DEVICE_CLASS_PROBLEM      = "problem"
	DEVICE_CLASS_SMOKE        = "smoke"
	DEVICE_CLASS_MOISTURE     = "moisture"

	ENTITY_CLASS_DIAGNOSTIC = "diagnostic"
	ENTITY_CLASS_CONFIG     = "config"

	COMPONENT_SENSOR        = "sensor"
	COMPONENT_BINARY_SENSOR = "binary_sensor"
	COMPONENT_SWITCH        = "switch"
)

type Device struct {
	Id           string
	Name         string
	Version      string
	Model        string
	Manufacturer string
	ViaDevice    string
}

type GenericSensor struct {
	Device            Device
	Id                string
	Name              string
	UniqueId          string
	UnitOfMeasurement string
	StateClass        string // measurement, total_increasing
	DeviceClass       string // temperature, power, energy, ...
	EntityCategory    string // diagnostic, config, nil
	EnabledByDefault  *bool
	Icon              string
}

type GenericBinarySensor struct {
	Device           Device
	Id               string
	Name             string
	UniqueId         string
	DeviceClass      string // problem, smoke, moisture, ...
	EntityCategory   string
	EnabledByDefault *bool
	Icon             string
}

type GenericSwitch struct {
	Device   Device
	Id       string
	Name     string
	UniqueId string
	Icon     string
}

// EntitySet is the classified entity view of one snapshot. Runtime fields
// (topics, on/off values) ride along with the discovery component.
type EntitySet struct {
	Sensors       []SensorEntity
	BinarySensors []BinarySensorEntity
	Switches      []SwitchEntity
}

type SensorEntity struct {
	GenericSensor
	FunctionID int64
	TopicRead  string
}

type BinarySensorEntity struct {
	GenericBinarySensor
	FunctionID int64
	TopicRead  string
	// AlarmValue/NoAlarmValue are the configured int comparands; nil means
	// "any non-zero value is on".
	AlarmValue   *int64
	NoAlarmValue *int64
}

type SwitchEntity struct {
	GenericSwitch
	FunctionID int64
	TopicRead  string
	TopicWrite string
	OnValue    float64
	OffValue   float64
}

// On maps a raw sample to the reported switch state.
func (s SwitchEntity) On(value float64) bool {
	switch value {
	case s.OnValue:
		return true
	case s.OffValue:
		return false
	default:
		return value != 0
	}
}

// On maps a raw sample to the binary sensor state.
func (b BinarySensorEntity) On(value float64) bool {
	intValue := int64(value)
	if b.AlarmValue != nil && intValue == *b.AlarmValue {
		return true
	}
	if b.NoAlarmValue != nil && intValue == *b.NoAlarmValue {
		return false
	}
	return value != 0
}

func (e EntitySet) IsEmpty() bool {
	return len(e.Sensors) == 0 && len(e.BinarySensors) == 0 && len(e.Switches) == 0
}

// SwitchByID returns the switch entity for a function id, or nil.
func (e *EntitySet) SwitchByID(functionID int64) *SwitchEntity {
	if e == nil {
		return nil
	}
	for i := range e.Switches {
		if e.Switches[i].FunctionID == functionID {
			return &e.Switches[i]
		}
	}
	return nil
}

// SwitchByEntityId returns the switch entity for an MQTT entity id, or nil.
func (e *EntitySet) SwitchByEntityId(id string) *SwitchEntity {
	if e == nil {
		return nil
	}
	for i := range e.Switches {
		if e.Switches[i].Id == id {
			return &e.Switches[i]
		}
	}
	return nil
}

// DiscoveryRef addresses one published discovery config.
type DiscoveryRef struct {
	Component string
	NodeId    string
	ObjectId  string
}
