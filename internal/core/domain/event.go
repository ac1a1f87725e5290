package domain

import "fmt"

type SensorUpdateEventMixIn struct {
	Id string
}

type SensorUpdateEvent interface {
	SensorUpdateEvent() string
	SensorId() string
}

func (e SensorUpdateEventMixIn) SensorUpdateEvent() string {
	return fmt.Sprintf("%T", e)
}

func (e SensorUpdateEventMixIn) SensorId() string {
	return e.Id
}

type FloatSensorUpdateEvent struct {
	SensorUpdateEventMixIn
	Value float64
}

type BinarySensorUpdateEvent struct {
	SensorUpdateEventMixIn
	Value bool
}

type SwitchSensorUpdateEvent struct {
	SensorUpdateEventMixIn
	Value bool
}

type TextSensorUpdateEvent struct {
	SensorUpdateEventMixIn
	Value string
}

// BridgeStateUpdateEvent reflects the bridge process itself (MQTT side).
type BridgeStateUpdateEvent struct {
	SensorUpdateEventMixIn
	Value bool
}

// DataSourceStateUpdateEvent reflects Lynx API reachability. Offline flips
// entity availability without clearing retained states.
type DataSourceStateUpdateEvent struct {
	SensorUpdateEventMixIn
	Value bool
}
