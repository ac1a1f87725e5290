package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/berfenger/lynx2mqtt/internal/core/domain"
	"github.com/berfenger/lynx2mqtt/pkg/lynx"
)

func TestExposureFilters(t *testing.T) {

	require := require.New(t)

	require.True(IsExposed(fn(1, "temperature", m{"topic_read": "obj/temp"})))
	require.False(IsExposed(fn(2, "temperature", m{})), "no topic_read means not readable")

	for _, truthy := range []string{"1", "true", "TRUE", "yes", "on"} {
		require.False(IsExposed(fn(3, "temperature", m{"topic_read": "obj/temp", "ha.disabled": truthy})),
			"ha.disabled=%s must hide function", truthy)
	}
	require.True(IsExposed(fn(4, "temperature", m{"topic_read": "obj/temp", "ha.disabled": "0"})))
	require.False(IsExposed(fn(5, "temperature", m{"topic_read": "obj/temp", "ha.hidden": "true"})))
}

func TestClassification(t *testing.T) {

	require := require.New(t)

	require.True(IsSwitchFunction(fn(1, "switch", m{"topic_read": "obj/sw"})))
	require.True(IsSwitchFunction(fn(2, "relay_switch", m{"topic_read": "obj/sw"})))
	require.True(IsSwitchFunction(fn(3, "output", m{"topic_read": "obj/sw", "topic_write": "set/obj/sw"})))
	require.False(IsSwitchFunction(fn(4, "temperature", m{"topic_read": "obj/temp"})))

	require.True(IsBinaryFunction(fn(5, "alarm_water", m{"topic_read": "obj/leak"})))
	require.True(IsBinaryFunction(fn(6, "leak", m{"topic_read": "obj/leak", "state_alarm": "1", "state_no_alarm": "0"})))
	require.False(IsBinaryFunction(fn(7, "leak", m{"topic_read": "obj/leak", "state_alarm": "1"})),
		"both alarm states required")
	// a switch with alarm states stays a switch
	require.False(IsBinaryFunction(fn(8, "alarm_switch", m{"topic_read": "obj/sw", "state_alarm": "1", "state_no_alarm": "0"})))
}

func TestSensorCharacteristics(t *testing.T) {

	cases := []struct {
		name        string
		fn          lynx.Function
		deviceClass string
		unit        string
		stateClass  string
	}{
		{"temperature by type", fn(1, "temperature", m{}), domain.DEVICE_CLASS_TEMPERATURE, "°C", domain.STATE_CLASS_MEASUREMENT},
		{"temperature keeps meta unit", fn(2, "temperature", m{"unit": "°F"}), domain.DEVICE_CLASS_TEMPERATURE, "°F", domain.STATE_CLASS_MEASUREMENT},
		{"humidity", fn(3, "humidity", m{}), domain.DEVICE_CLASS_HUMIDITY, "%", domain.STATE_CLASS_MEASUREMENT},
		{"power by unit", fn(4, "generic", m{"unit": "W"}), domain.DEVICE_CLASS_POWER, "W", domain.STATE_CLASS_MEASUREMENT},
		{"energy is total increasing", fn(5, "energy", m{"unit": "kWh"}), domain.DEVICE_CLASS_ENERGY, "kWh", domain.STATE_CLASS_TOTAL_INCREASING},
		{"energy by unit alias", fn(6, "generic", m{"unit_of_measurement": "Wh"}), domain.DEVICE_CLASS_ENERGY, "Wh", domain.STATE_CLASS_TOTAL_INCREASING},
		{"unknown with unit is still a measurement", fn(7, "generic", m{"unit": "ppm"}), "", "ppm", domain.STATE_CLASS_MEASUREMENT},
		{"unknown without unit", fn(8, "generic", m{}), "", "", ""},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			deviceClass, unit, stateClass, _ := GuessSensorCharacteristics(c.fn)
			assert.Equal(t, c.deviceClass, deviceClass)
			assert.Equal(t, c.unit, unit)
			assert.Equal(t, c.stateClass, stateClass)
		})
	}

	_, _, _, icon := GuessSensorCharacteristics(fn(9, "generic", m{"icon": "mdi:gauge"}))
	assert.Equal(t, "mdi:gauge", icon)
}

func TestBinaryDeviceClass(t *testing.T) {

	assert.Equal(t, domain.DEVICE_CLASS_SMOKE, GuessBinaryDeviceClass(fn(1, "alarm_smoke", m{})))
	assert.Equal(t, domain.DEVICE_CLASS_MOISTURE, GuessBinaryDeviceClass(fn(2, "alarm_water", m{})))
	assert.Equal(t, domain.DEVICE_CLASS_MOISTURE, GuessBinaryDeviceClass(fn(3, "alarm", m{"zwave.type": "flood"})))
	assert.Equal(t, domain.DEVICE_CLASS_POWER, GuessBinaryDeviceClass(fn(4, "alarm_power", m{})))
	assert.Equal(t, domain.DEVICE_CLASS_PROBLEM, GuessBinaryDeviceClass(fn(5, "alarm_generic", m{})))
	assert.Equal(t, "", GuessBinaryDeviceClass(fn(6, "contact", m{})))
}

func TestWriteTopicResolution(t *testing.T) {

	require := require.New(t)

	// topic_write already carrying a client id prefix is kept as-is
	require.Equal("2086/set/obj/sw", ResolveWriteTopic(fn(1, "switch", m{"topic_read": "obj/sw", "topic_write": "2086/set/obj/sw"}), "2086"))
	// bare topic_write gets prefixed
	require.Equal("2086/set/obj/sw", ResolveWriteTopic(fn(2, "switch", m{"topic_read": "obj/sw", "topic_write": "set/obj/sw"}), "2086"))
	// no topic_write falls back to set/ + topic_read
	require.Equal("2086/set/obj/sw", ResolveWriteTopic(fn(3, "switch", m{"topic_read": "obj/sw"}), "2086"))
	// digit-leading without slash is not a prefixed topic
	require.Equal("2086/55aa", ResolveWriteTopic(fn(4, "switch", m{"topic_read": "obj/sw", "topic_write": "55aa"}), "2086"))
}

func TestOnOffValues(t *testing.T) {

	on, off := ComputeOnOffValues(fn(1, "switch", m{}))
	assert.EqualValues(t, 255, on)
	assert.EqualValues(t, 0, off)

	on, off = ComputeOnOffValues(fn(2, "switch", m{"state_on": "1", "state_off": "-1"}))
	assert.EqualValues(t, 1, on)
	assert.EqualValues(t, -1, off)
}

func TestMapGroupsByDevice(t *testing.T) {

	require := require.New(t)

	functions := []lynx.Function{
		fn(1001, "temperature", m{"name": "Office Temp", "topic_read": "obj/temp", "device_id": "77"}),
		fn(1002, "switch", m{"name": "Pump", "topic_read": "obj/sw"}),
		fn(1003, "alarm_water", m{"name": "Leak", "topic_read": "obj/leak", "device_id": "99"}),
	}
	devices := []lynx.Device{dev(77, "Basement Node")}

	set := mapper().Map(functions, devices, bridge)
	require.Len(set.Sensors, 1)
	require.Len(set.Switches, 1)
	require.Len(set.BinarySensors, 1)

	temp := set.Sensors[0]
	require.Equal("device_77", temp.Device.Id)
	require.Equal("Basement Node", temp.Device.Name)
	require.Equal("IoT Open", temp.Device.Manufacturer)
	require.Equal("Lynx", temp.Device.Model)
	require.Equal(bridge.Id, temp.Device.ViaDevice)

	// unassigned function groups under the installation
	pump := set.Switches[0]
	require.Equal("installation_42", pump.Device.Id)
	require.Equal("Installation 42", pump.Device.Name)

	// assigned to an unknown device keeps the grouping with a placeholder name
	leak := set.BinarySensors[0]
	require.Equal("device_99", leak.Device.Id)
	require.Equal("Device 99", leak.Device.Name)
}

func TestMapIdentities(t *testing.T) {

	require := require.New(t)

	functions := []lynx.Function{
		fn(1001, "temperature", m{"topic_read": "obj/temp"}),
		fn(1002, "switch", m{"topic_read": "obj/sw"}),
		fn(1003, "alarm_water", m{"topic_read": "obj/leak"}),
	}
	set := mapper().Map(functions, nil, bridge)

	require.Equal("func_1001", set.Sensors[0].Id)
	require.Equal("iotopen_42_func_1001", set.Sensors[0].UniqueId)
	require.Equal("iotopen_42_func_1002_switch", set.Switches[0].UniqueId)
	require.Equal("iotopen_42_func_1003_binary", set.BinarySensors[0].UniqueId)
}

func TestMapSwitchEntity(t *testing.T) {

	require := require.New(t)

	set := mapper().Map([]lynx.Function{
		fn(1002, "switch", m{"name": "Pump", "topic_read": "obj/sw", "state_on": "100"}),
	}, nil, bridge)
	require.Len(set.Switches, 1)

	sw := set.Switches[0]
	require.Equal("obj/sw", sw.TopicRead)
	require.Equal("2086/set/obj/sw", sw.TopicWrite)
	require.EqualValues(100, sw.OnValue)
	require.EqualValues(0, sw.OffValue)
	require.True(sw.On(100))
	require.False(sw.On(0))
}

func TestMapBinaryEntity(t *testing.T) {

	require := require.New(t)

	set := mapper().Map([]lynx.Function{
		fn(1003, "alarm_water", m{"topic_read": "obj/leak", "state_alarm": "1", "state_no_alarm": "0"}),
	}, nil, bridge)
	require.Len(set.BinarySensors, 1)

	leak := set.BinarySensors[0]
	require.Equal(domain.DEVICE_CLASS_MOISTURE, leak.DeviceClass)
	require.NotNil(leak.AlarmValue)
	require.NotNil(leak.NoAlarmValue)
	require.True(leak.On(1))
	require.False(leak.On(0))
}

func fn(id int64, funcType string, meta map[string]string) lynx.Function {
	return lynx.Function{
		ID:             id,
		InstallationID: 42,
		Type:           funcType,
		Meta:           lynx.Meta(meta),
	}
}

func dev(id int64, name string) lynx.Device {
	return lynx.Device{
		ID:             id,
		InstallationID: 42,
		Type:           "node",
		Meta:           lynx.Meta{"name": name},
	}
}

func mapper() *EntityMapper {
	return &EntityMapper{
		InstallationID:   42,
		WriteTopicPrefix: "2086",
		Logger:           zap.Must(zap.NewDevelopment()),
	}
}

type m = map[string]string

var bridge = domain.Device{Id: "lynx2mqtt_bridge_test"}
