package service

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/berfenger/lynx2mqtt/internal/core/domain"
	"github.com/berfenger/lynx2mqtt/pkg/lynx"
)

// BuildSnapshot assembles the authoritative view of an installation from a
// function list and the latest known status per topic. Only exposed
// functions are included. When multiple statuses report the same topic, the
// newest sample wins.
func BuildSnapshot(installationID int64, functions []lynx.Function, statuses []lynx.Status, takenAt time.Time) *domain.Snapshot {
	byTopic := statusesByTopic(statuses)
	snapshot := &domain.Snapshot{
		InstallationID: installationID,
		TakenAt:        takenAt,
		Functions:      make(map[int64]domain.FunctionState, len(functions)),
	}
	for _, fn := range functions {
		if !IsExposed(fn) {
			continue
		}
		state := domain.FunctionState{
			FunctionID:     fn.ID,
			InstallationID: fn.InstallationID,
			Type:           fn.Type,
			Name:           fn.Name(),
			TopicRead:      fn.Meta.GetOr(META_KEY_TOPIC_READ, ""),
			DeviceID:       ParseDeviceID(fn),
			Meta:           fn.Meta.Copy(),
		}
		if status, ok := byTopic[state.TopicRead]; ok {
			state.Value = status.Value
			state.Msg = status.Msg
			state.Timestamp = status.Timestamp
		}
		snapshot.Functions[fn.ID] = state
	}
	return snapshot
}

func statusesByTopic(statuses []lynx.Status) map[string]lynx.Status {
	byTopic := make(map[string]lynx.Status, len(statuses))
	for _, status := range statuses {
		if current, ok := byTopic[status.Topic]; ok && current.Timestamp >= status.Timestamp {
			continue
		}
		byTopic[status.Topic] = status
	}
	return byTopic
}

// DiffEvents computes the state update events to publish after a poll.
// An entity produces an event when its function has a sample that is new
// or changed since the previous snapshot. With a nil previous snapshot every
// sampled entity produces an event.
func DiffEvents(prev, next *domain.Snapshot, entities *domain.EntitySet) []domain.SensorUpdateEvent {
	if next == nil || entities == nil {
		return nil
	}
	var events []domain.SensorUpdateEvent
	for _, entity := range entities.Sensors {
		if state, ok := changedState(prev, next, entity.FunctionID); ok {
			events = append(events, domain.FloatSensorUpdateEvent{
				SensorUpdateEventMixIn: domain.SensorUpdateEventMixIn{Id: entity.Id},
				Value:                  state.Value,
			})
		}
	}
	for _, entity := range entities.BinarySensors {
		if state, ok := changedState(prev, next, entity.FunctionID); ok {
			events = append(events, domain.BinarySensorUpdateEvent{
				SensorUpdateEventMixIn: domain.SensorUpdateEventMixIn{Id: entity.Id},
				Value:                  entity.On(state.Value),
			})
		}
	}
	for _, entity := range entities.Switches {
		if state, ok := changedState(prev, next, entity.FunctionID); ok {
			events = append(events, domain.SwitchSensorUpdateEvent{
				SensorUpdateEventMixIn: domain.SensorUpdateEventMixIn{Id: entity.Id},
				Value:                  entity.On(state.Value),
			})
		}
	}
	return events
}

func changedState(prev, next *domain.Snapshot, functionID int64) (domain.FunctionState, bool) {
	state, ok := next.Get(functionID)
	if !ok || !state.HasSample() {
		return domain.FunctionState{}, false
	}
	if prev == nil {
		return state, true
	}
	previous, ok := prev.Get(functionID)
	if !ok || !previous.HasSample() {
		return state, true
	}
	if previous.Value == state.Value && previous.Timestamp == state.Timestamp {
		return domain.FunctionState{}, false
	}
	return state, true
}

// EntitiesEqual reports whether two entity sets describe the same HA
// topology, including names and characteristics that affect discovery.
func EntitiesEqual(a, b *domain.EntitySet) bool {
	return entitySetSignature(a) == entitySetSignature(b)
}

// RemovedEntities lists discovery configs present in prev but gone from
// next. These must be unpublished so HA drops the stale entities.
func RemovedEntities(prev, next *domain.EntitySet) []domain.DiscoveryRef {
	var removed []domain.DiscoveryRef
	refKey := func(ref domain.DiscoveryRef) string {
		return ref.NodeId + "/" + ref.ObjectId
	}
	collect := func(prevRefs, nextRefs []domain.DiscoveryRef) {
		known := make(map[string]struct{}, len(nextRefs))
		for _, ref := range nextRefs {
			known[refKey(ref)] = struct{}{}
		}
		for _, ref := range prevRefs {
			if _, ok := known[refKey(ref)]; !ok {
				removed = append(removed, ref)
			}
		}
	}
	collect(discoveryRefs(prev, domain.COMPONENT_SENSOR), discoveryRefs(next, domain.COMPONENT_SENSOR))
	collect(discoveryRefs(prev, domain.COMPONENT_BINARY_SENSOR), discoveryRefs(next, domain.COMPONENT_BINARY_SENSOR))
	collect(discoveryRefs(prev, domain.COMPONENT_SWITCH), discoveryRefs(next, domain.COMPONENT_SWITCH))
	return removed
}

func discoveryRefs(set *domain.EntitySet, component string) []domain.DiscoveryRef {
	if set == nil {
		return nil
	}
	var refs []domain.DiscoveryRef
	switch component {
	case domain.COMPONENT_SENSOR:
		for _, entity := range set.Sensors {
			refs = append(refs, domain.DiscoveryRef{Component: component, NodeId: entity.Device.Id, ObjectId: entity.Id})
		}
	case domain.COMPONENT_BINARY_SENSOR:
		for _, entity := range set.BinarySensors {
			refs = append(refs, domain.DiscoveryRef{Component: component, NodeId: entity.Device.Id, ObjectId: entity.Id})
		}
	case domain.COMPONENT_SWITCH:
		for _, entity := range set.Switches {
			refs = append(refs, domain.DiscoveryRef{Component: component, NodeId: entity.Device.Id, ObjectId: entity.Id})
		}
	}
	return refs
}

func entitySetSignature(set *domain.EntitySet) string {
	if set == nil {
		return ""
	}
	lines := make([]string, 0, len(set.Sensors)+len(set.BinarySensors)+len(set.Switches))
	for _, e := range set.Sensors {
		lines = append(lines, fmt.Sprintf("sensor|%s|%s|%s|%s|%s|%s|%s",
			e.UniqueId, e.Name, e.Device.Id, e.Device.Name, e.DeviceClass, e.UnitOfMeasurement, e.Icon))
	}
	for _, e := range set.BinarySensors {
		lines = append(lines, fmt.Sprintf("binary_sensor|%s|%s|%s|%s|%s|%s",
			e.UniqueId, e.Name, e.Device.Id, e.Device.Name, e.DeviceClass, e.Icon))
	}
	for _, e := range set.Switches {
		lines = append(lines, fmt.Sprintf("switch|%s|%s|%s|%s|%s|%s",
			e.UniqueId, e.Name, e.Device.Id, e.Device.Name, e.TopicWrite, e.Icon))
	}
	sort.Strings(lines)
	return strings.Join(lines, "\n")
}
