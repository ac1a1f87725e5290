package events

import (
	"time"

	. "github.com/berfenger/lynx2mqtt/internal/core/domain"
)

// LastPollUpdateEvent reports when the latest poll cycle completed.
func LastPollUpdateEvent(takenAt time.Time) any {
	return TextSensorUpdateEvent{
		SensorUpdateEventMixIn: SensorUpdateEventMixIn{
			Id: SENSOR_ID_LAST_POLL,
		},
		Value: takenAt.UTC().Format(time.RFC3339),
	}
}

// DataSourceStateUpdateEvents flips Lynx API availability. Retained entity
// states stay untouched, only availability follows this event.
func DataSourceStateUpdateEvents(online bool) []any {
	var events []any
	events = append(events, DataSourceStateUpdateEvent{
		SensorUpdateEventMixIn: SensorUpdateEventMixIn{
			Id: SENSOR_ID_DATASOURCE_STATE,
		},
		Value: online,
	})
	return events
}

// SwitchStateUpdateEvent echoes a switch command optimistically, before the
// next poll confirms it.
func SwitchStateUpdateEvent(id string, on bool) any {
	return SwitchSensorUpdateEvent{
		SensorUpdateEventMixIn: SensorUpdateEventMixIn{
			Id: id,
		},
		Value: on,
	}
}

// SensorUpdateEventsToAny widens typed update events for the event stream.
func SensorUpdateEventsToAny(events []SensorUpdateEvent) []any {
	out := make([]any, 0, len(events))
	for _, event := range events {
		out = append(out, event)
	}
	return out
}
