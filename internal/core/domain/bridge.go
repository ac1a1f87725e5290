package domain

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"

	"github.com/carlmjohnson/versioninfo"
)

const (
	SENSOR_ID_BRIDGE_STATE     = "bridge"
	SENSOR_ID_DATASOURCE_STATE = "datasource"
	SENSOR_ID_LAST_POLL        = "last_poll"
)

// BridgeDevice identifies the bridge process itself in HA. Installation
// devices hang off it through via_device.
func BridgeDevice(baseTopic string) Device {
	return Device{
		Id:           fmt.Sprintf("lynx2mqtt_bridge_%s", md5HashShort(baseTopic)),
		Manufacturer: "berfenger",
		Model:        "Lynx2MQTT",
		Version:      versioninfo.Short(),
		Name:         fmt.Sprintf("Lynx2MQTT %s", md5HashShort(baseTopic)),
	}
}

// BridgeSensors are the bridge's own diagnostic entities: Lynx reachability
// and the time of the last successful poll.
func BridgeSensors(bridgeDevice Device) ([]GenericSensor, []GenericBinarySensor) {
	sensors := []GenericSensor{
		{
			Device:         bridgeDevice,
			Id:             SENSOR_ID_LAST_POLL,
			Name:           "Last poll",
			DeviceClass:    DEVICE_CLASS_TIMESTAMP,
			EntityCategory: ENTITY_CLASS_DIAGNOSTIC,
			UniqueId:       UniqueId(bridgeDevice.Id, SENSOR_ID_LAST_POLL),
		},
	}
	binarySensors := []GenericBinarySensor{
		{
			Device:         bridgeDevice,
			Id:             SENSOR_ID_BRIDGE_STATE,
			Name:           "Connection state",
			DeviceClass:    DEVICE_CLASS_CONNECTIVITY,
			EntityCategory: ENTITY_CLASS_DIAGNOSTIC,
			UniqueId:       UniqueId(bridgeDevice.Id, SENSOR_ID_BRIDGE_STATE),
		},
		{
			Device:         bridgeDevice,
			Id:             SENSOR_ID_DATASOURCE_STATE,
			Name:           "Lynx connection",
			DeviceClass:    DEVICE_CLASS_CONNECTIVITY,
			EntityCategory: ENTITY_CLASS_DIAGNOSTIC,
			UniqueId:       UniqueId(bridgeDevice.Id, SENSOR_ID_DATASOURCE_STATE),
		},
	}
	return sensors, binarySensors
}

// IdDevice strips a device down to the identifying fields for repeated
// discovery payloads.
func IdDevice(device Device) Device {
	return Device{
		Id:   device.Id,
		Name: device.Name,
	}
}

func UniqueId(baseId, id string) string {
	return fmt.Sprintf("uid_%s_%s", baseId, id)
}

func md5HashShort(text string) string {
	hash := md5.Sum([]byte(text))
	return hex.EncodeToString(hash[:])[0:8]
}
