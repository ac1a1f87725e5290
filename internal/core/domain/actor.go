package domain

import (
	"github.com/asynkron/protoactor-go/actor"

	"github.com/berfenger/lynx2mqtt/pkg/lynx"
)

const (
	ACTOR_ID_MASTER       = "master"
	ACTOR_ID_LYNX         = "lynx"
	ACTOR_ID_POLLER       = "poller"
	ACTOR_ID_MQTT         = "mqtt"
	ACTOR_ID_HA_DISCOVERY = "hadiscovery"
	ACTOR_ID_HISTORY      = "history"
)

type ActorRef actor.PID

type ActorRequestMixIn struct {
	ReplyToRef *ActorRef
}

type ActorRequest interface {
	ReplyTo() *ActorRef
}

func (r ActorRequestMixIn) ReplyTo() *ActorRef {
	return r.ReplyToRef
}

type ActorResponseMixIn struct {
	ResponseError error
}

func (r ActorResponseMixIn) GetResponseError() error {
	return r.ResponseError
}

func (r ActorResponseMixIn) HasResponseError() bool {
	return r.ResponseError != nil
}

type ActorResponse interface {
	GetResponseError() error
	HasResponseError() bool
}

// lynx actor: read side

type ListFunctionsRequest struct {
	ActorRequestMixIn
	InstallationID int64
}

type ListFunctionsResponse struct {
	ActorResponseMixIn
	Functions []lynx.Function
}

type ListDevicesRequest struct {
	ActorRequestMixIn
	InstallationID int64
}

type ListDevicesResponse struct {
	ActorResponseMixIn
	Devices []lynx.Device
}

type GetStatusRequest struct {
	ActorRequestMixIn
	InstallationID int64
	Topics         []string
}

type GetStatusResponse struct {
	ActorResponseMixIn
	Statuses []lynx.Status
}

// lynx actor: management side

type CreateDeviceRequest struct {
	ActorRequestMixIn
	InstallationID int64
	Type           string
	Name           string
	Meta           lynx.Meta
}

type CreateDeviceResponse struct {
	ActorResponseMixIn
	Device *lynx.Device
}

type DeleteDeviceRequest struct {
	ActorRequestMixIn
	InstallationID int64
	DeviceID       int64
}

type DeleteDeviceResponse struct {
	ActorResponseMixIn
}

type CreateFunctionRequest struct {
	ActorRequestMixIn
	InstallationID int64
	Type           string
	Name           string
	TopicRead      string
	DeviceID       int64
	Meta           lynx.Meta
}

type CreateFunctionResponse struct {
	ActorResponseMixIn
	Function *lynx.Function
}

type DeleteFunctionRequest struct {
	ActorRequestMixIn
	InstallationID int64
	FunctionID     int64
}

type DeleteFunctionResponse struct {
	ActorResponseMixIn
}

type AssignFunctionRequest struct {
	ActorRequestMixIn
	InstallationID int64
	FunctionID     int64
	DeviceID       int64
}

type AssignFunctionResponse struct {
	ActorResponseMixIn
	Meta *lynx.MetaValue
}

type SetFunctionMetaRequest struct {
	ActorRequestMixIn
	InstallationID int64
	FunctionID     int64
	Key            string
	Value          string
	Protected      bool
	Silent         bool
}

type SetFunctionMetaResponse struct {
	ActorResponseMixIn
	Meta *lynx.MetaValue
}

type SetDeviceMetaRequest struct {
	ActorRequestMixIn
	InstallationID int64
	DeviceID       int64
	Key            string
	Value          string
	Protected      bool
	Silent         bool
}

type SetDeviceMetaResponse struct {
	ActorResponseMixIn
	Meta *lynx.MetaValue
}

// PublishWriteRequest pushes a raw value to a Lynx write topic over the
// installation broker.
type PublishWriteRequest struct {
	ActorRequestMixIn
	Topic string
	Value float64
}

type PublishWriteResponse struct {
	ActorResponseMixIn
}

// poller

type PollNowRequest struct {
	ActorRequestMixIn
}

type PollNowResponse struct {
	ActorResponseMixIn
}

type GetSnapshotRequest struct {
	ActorRequestMixIn
}

type GetSnapshotResponse struct {
	ActorResponseMixIn
	Snapshot *Snapshot
}

// hadiscovery

type RefreshDiscoveryRequest struct {
	ActorRequestMixIn
	Entities *EntitySet
}

type RefreshDiscoveryResponse struct {
	ActorResponseMixIn
}

// history

type StoreSnapshotRequest struct {
	ActorRequestMixIn
	Snapshot *Snapshot
}

type StoreSnapshotResponse struct {
	ActorResponseMixIn
}

// mqtt actor

type PublishMessageRequest struct {
	ActorRequestMixIn
	Topic   string
	Payload string
	Retain  bool
}

type PublishMessageResponse struct {
	ActorResponseMixIn
}

type PublishSensorUpdateRequest struct {
	ActorRequestMixIn
	Retain bool
	Event  SensorUpdateEvent
}

type PublishSensorUpdateResponse struct {
	ActorResponseMixIn
}

type PublishDiscoveryRequest struct {
	ActorRequestMixIn
	Sensors       []GenericSensor
	BinarySensors []GenericBinarySensor
	Switches      []GenericSwitch
	// Removed unpublishes discovery configs of entities that left the
	// installation.
	Removed []DiscoveryRef
}

type PublishDiscoveryResponse struct {
	ActorResponseMixIn
}

// health

type ActorHealthRequest struct {
	ActorRequestMixIn
}

type ActorHealthResponse struct {
	ActorResponseMixIn
	Id      string
	Healthy bool
	State   string
}
