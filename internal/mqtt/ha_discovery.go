package mqtt

import (
	"fmt"

	"github.com/berfenger/lynx2mqtt/internal/core/domain"
)

type HADiscoveryConfig struct {
	Device            HADiscoveryDevice         `json:"device"`
	StateTopic        string                    `json:"state_topic"`
	CommandTopic      string                    `json:"command_topic,omitempty"`
	StateClass        string                    `json:"state_class,omitempty"`
	DeviceClass       string                    `json:"device_class,omitempty"`
	UnitOfMeasurement string                    `json:"unit_of_measurement,omitempty"`
	AvTopic           string                    `json:"availability_topic,omitempty"`
	Availability      []HADiscoveryAvailability `json:"availability,omitempty"`
	AvailabilityMode  string                    `json:"availability_mode,omitempty"`
	EntityCategory    string                    `json:"entity_category,omitempty"`
	Name              string                    `json:"name"`
	UniqueId          string                    `json:"unique_id"`
	Platform          string                    `json:"platform"`
	EnabledByDefault  *bool                     `json:"enabled_by_default,omitempty"`
	PayloadOn         string                    `json:"payload_on,omitempty"`
	PayloadOff        string                    `json:"payload_off,omitempty"`
	Icon              string                    `json:"icon,omitempty"`
}

type HADiscoveryDevice struct {
	Id           []string `json:"identifiers"`
	Manufacturer string   `json:"manufacturer,omitempty"`
	Version      string   `json:"sw_version,omitempty"`
	Model        string   `json:"model,omitempty"`
	Name         string   `json:"name,omitempty"`
	ViaDevice    string   `json:"via_device,omitempty"`
}

type HADiscoveryAvailability struct {
	Topic string `json:"topic"`
}

func HADiscoverySensorTopic(client *MQTTClient, sensor domain.GenericSensor) string {
	return fmt.Sprintf("%s/sensor/%s/%s/config", client.DiscoveryTopicPrefix(), sensor.Device.Id, sensor.Id)
}

func HADiscoveryBinarySensorTopic(client *MQTTClient, sensor domain.GenericBinarySensor) string {
	return fmt.Sprintf("%s/binary_sensor/%s/%s/config", client.DiscoveryTopicPrefix(), sensor.Device.Id, sensor.Id)
}

func HADiscoverySwitchTopic(client *MQTTClient, _switch domain.GenericSwitch) string {
	return fmt.Sprintf("%s/switch/%s/%s/config", client.DiscoveryTopicPrefix(), _switch.Device.Id, _switch.Id)
}

// HADiscoveryRefTopic rebuilds the config topic of a previously published
// entity, used to unpublish it.
func HADiscoveryRefTopic(client *MQTTClient, ref domain.DiscoveryRef) string {
	return fmt.Sprintf("%s/%s/%s/%s/config", client.DiscoveryTopicPrefix(), ref.Component, ref.NodeId, ref.ObjectId)
}

func GenericSensorToHADiscoveryMessage(client *MQTTClient, sensor domain.GenericSensor, availabilityTopics []string) HADiscoveryConfig {
	dev := device(sensor.Device)
	disConfig := HADiscoveryConfig{
		Device:            dev,
		StateTopic:        client.SensorStateTopic(sensor.Id),
		StateClass:        sensor.StateClass,
		DeviceClass:       sensor.DeviceClass,
		UnitOfMeasurement: sensor.UnitOfMeasurement,
		EntityCategory:    sensor.EntityCategory,
		Name:              sensor.Name,
		UniqueId:          sensor.UniqueId,
		Icon:              sensor.Icon,
		EnabledByDefault:  sensor.EnabledByDefault,
		Platform:          "mqtt",
	}
	applyAvailability(&disConfig, availabilityTopics)
	return disConfig
}

func GenericBinarySensorToHADiscoveryMessage(client *MQTTClient, sensor domain.GenericBinarySensor, availabilityTopics []string) HADiscoveryConfig {
	dev := device(sensor.Device)
	topic := client.BinarySensorStateTopic(sensor.Id)
	payloadOn := MQTT_PAYLOAD_ON
	payloadOff := MQTT_PAYLOAD_OFF
	switch sensor.Id {
	case domain.SENSOR_ID_BRIDGE_STATE:
		topic = client.BridgeStateTopic()
		payloadOn = MQTT_PAYLOAD_ONLINE
		payloadOff = MQTT_PAYLOAD_OFFLINE
	case domain.SENSOR_ID_DATASOURCE_STATE:
		topic = client.DataSourceStateTopic()
		payloadOn = MQTT_PAYLOAD_ONLINE
		payloadOff = MQTT_PAYLOAD_OFFLINE
	}
	disConfig := HADiscoveryConfig{
		Device:           dev,
		StateTopic:       topic,
		DeviceClass:      sensor.DeviceClass,
		EntityCategory:   sensor.EntityCategory,
		Name:             sensor.Name,
		UniqueId:         sensor.UniqueId,
		Icon:             sensor.Icon,
		EnabledByDefault: sensor.EnabledByDefault,
		Platform:         "mqtt",
		PayloadOn:        payloadOn,
		PayloadOff:       payloadOff,
	}
	applyAvailability(&disConfig, availabilityTopics)
	return disConfig
}

func GenericSwitchToHADiscoveryMessage(client *MQTTClient, _switch domain.GenericSwitch, availabilityTopics []string) HADiscoveryConfig {
	dev := device(_switch.Device)
	disConfig := HADiscoveryConfig{
		Device:       dev,
		StateTopic:   client.SwitchStateTopic(_switch.Id),
		CommandTopic: client.SwitchCommandTopic(_switch.Id),
		Name:         _switch.Name,
		UniqueId:     _switch.UniqueId,
		Icon:         _switch.Icon,
		Platform:     "mqtt",
		PayloadOn:    MQTT_PAYLOAD_ON,
		PayloadOff:   MQTT_PAYLOAD_OFF,
	}
	applyAvailability(&disConfig, availabilityTopics)
	return disConfig
}

// applyAvailability uses the single topic form when possible and the list
// form with mode "all" when the entity depends on several topics.
func applyAvailability(disConfig *HADiscoveryConfig, topics []string) {
	switch len(topics) {
	case 0:
	case 1:
		disConfig.AvTopic = topics[0]
	default:
		for _, topic := range topics {
			disConfig.Availability = append(disConfig.Availability, HADiscoveryAvailability{Topic: topic})
		}
		disConfig.AvailabilityMode = "all"
	}
}

func device(d domain.Device) HADiscoveryDevice {
	return HADiscoveryDevice{
		Id:           []string{d.Id},
		Manufacturer: d.Manufacturer,
		Version:      d.Version,
		Model:        d.Model,
		Name:         d.Name,
		ViaDevice:    d.ViaDevice,
	}
}
