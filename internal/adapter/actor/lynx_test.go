package actor

import (
	"testing"
	"time"

	"github.com/berfenger/lynx2mqtt/internal/core/domain"
	"github.com/berfenger/lynx2mqtt/internal/util/actorutil"
	"github.com/berfenger/lynx2mqtt/pkg/lynx"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func spawnLynxActorForTest(client lynx.Client, publisher lynx.CommandPublisher) (*actor.ActorSystem, *actor.RootContext, *actor.PID) {
	logger := zap.Must(zap.NewDevelopment())

	as := actorutil.NewActorSystemWithZapLogger(logger)
	context := as.Root

	props := actor.PropsFromProducer(func() actor.Actor {
		return NewLynxActor(client, publisher, 42, 2*time.Second, logger)
	})
	pid := context.Spawn(props)
	return as, context, pid
}

func TestLynxActorReads(t *testing.T) {

	assert := assert.New(t)

	client := lynx.CreateTestClient(42)
	as, context, pid := spawnLynxActorForTest(client, nil)

	time.Sleep(1 * time.Second)

	result, err := context.RequestFuture(pid, domain.ListFunctionsRequest{}, 5*time.Second).Result()
	if err != nil {
		t.Error(err)
		return
	}
	fnResp := result.(domain.ListFunctionsResponse)
	assert.False(fnResp.HasResponseError())
	assert.Len(fnResp.Functions, 3, "canned installation has 3 functions")

	result, err = context.RequestFuture(pid, domain.ListDevicesRequest{}, 5*time.Second).Result()
	if err != nil {
		t.Error(err)
		return
	}
	devResp := result.(domain.ListDevicesResponse)
	assert.False(devResp.HasResponseError())
	assert.Len(devResp.Devices, 1, "canned installation has 1 device")

	result, err = context.RequestFuture(pid, domain.GetStatusRequest{
		Topics: []string{"obj/temp/office", "obj/switch/pump"},
	}, 5*time.Second).Result()
	if err != nil {
		t.Error(err)
		return
	}
	stResp := result.(domain.GetStatusResponse)
	assert.False(stResp.HasResponseError())
	assert.Len(stResp.Statuses, 2)

	context.Stop(pid)

	as.Shutdown()
}

func TestLynxActorManagement(t *testing.T) {

	assert := assert.New(t)

	client := lynx.CreateTestClient(42)
	as, context, pid := spawnLynxActorForTest(client, nil)

	time.Sleep(1 * time.Second)

	// create a device, name lands in meta
	result, err := context.RequestFuture(pid, domain.CreateDeviceRequest{
		Type: "sensor_node",
		Name: "Garage Node",
	}, 5*time.Second).Result()
	if err != nil {
		t.Error(err)
		return
	}
	createDevResp := result.(domain.CreateDeviceResponse)
	assert.False(createDevResp.HasResponseError())
	assert.NotNil(createDevResp.Device)
	assert.Equal("Garage Node", createDevResp.Device.Meta["name"])

	// create a function assigned to the new device
	result, err = context.RequestFuture(pid, domain.CreateFunctionRequest{
		Type:      "temperature",
		Name:      "Garage Temp",
		TopicRead: "obj/temp/garage",
		DeviceID:  createDevResp.Device.ID,
	}, 5*time.Second).Result()
	if err != nil {
		t.Error(err)
		return
	}
	createFnResp := result.(domain.CreateFunctionResponse)
	assert.False(createFnResp.HasResponseError())
	assert.NotNil(createFnResp.Function)
	assert.Equal("obj/temp/garage", createFnResp.Function.Meta["topic_read"])

	// assign an existing function to the device
	result, err = context.RequestFuture(pid, domain.AssignFunctionRequest{
		FunctionID: 1001,
		DeviceID:   createDevResp.Device.ID,
	}, 5*time.Second).Result()
	if err != nil {
		t.Error(err)
		return
	}
	assignResp := result.(domain.AssignFunctionResponse)
	assert.False(assignResp.HasResponseError())

	// set meta on a function
	result, err = context.RequestFuture(pid, domain.SetFunctionMetaRequest{
		FunctionID: 1001,
		Key:        "unit",
		Value:      "K",
	}, 5*time.Second).Result()
	if err != nil {
		t.Error(err)
		return
	}
	metaResp := result.(domain.SetFunctionMetaResponse)
	assert.False(metaResp.HasResponseError())
	assert.Equal("K", metaResp.Meta.Value)

	// delete a function
	result, err = context.RequestFuture(pid, domain.DeleteFunctionRequest{
		FunctionID: 1002,
	}, 5*time.Second).Result()
	if err != nil {
		t.Error(err)
		return
	}
	delResp := result.(domain.DeleteFunctionResponse)
	assert.False(delResp.HasResponseError())
	assert.Contains(client.Deleted, "function/1002")

	// meta on a missing function maps to not found
	result, err = context.RequestFuture(pid, domain.SetFunctionMetaRequest{
		FunctionID: 555555,
		Key:        "unit",
		Value:      "K",
	}, 5*time.Second).Result()
	if err != nil {
		t.Error(err)
		return
	}
	missingResp := result.(domain.SetFunctionMetaResponse)
	assert.True(missingResp.HasResponseError())
	assert.True(lynx.IsNotFound(missingResp.GetResponseError()), "missing function should map to not found")

	context.Stop(pid)

	as.Shutdown()
}

func TestLynxActorPublishWrite(t *testing.T) {

	assert := assert.New(t)

	client := lynx.CreateTestClient(42)
	publisher := lynx.CreateTestCommandPublisher("2086")
	as, context, pid := spawnLynxActorForTest(client, publisher)

	time.Sleep(1 * time.Second)

	result, err := context.RequestFuture(pid, domain.PublishWriteRequest{
		Topic: "2086/set/obj/switch/pump",
		Value: 255,
	}, 5*time.Second).Result()
	if err != nil {
		t.Error(err)
		return
	}
	resp := result.(domain.PublishWriteResponse)
	assert.False(resp.HasResponseError())

	published := publisher.PublishedValues()
	assert.Len(published, 1)
	assert.Equal("2086/set/obj/switch/pump", published[0].Topic)
	assert.Equal(float64(255), published[0].Value)

	context.Stop(pid)

	as.Shutdown()
}

func TestLynxActorPublishWriteWithoutPublisher(t *testing.T) {

	assert := assert.New(t)

	client := lynx.CreateTestClient(42)
	as, context, pid := spawnLynxActorForTest(client, nil)

	time.Sleep(1 * time.Second)

	result, err := context.RequestFuture(pid, domain.PublishWriteRequest{
		Topic: "2086/set/obj/switch/pump",
		Value: 255,
	}, 5*time.Second).Result()
	if err != nil {
		t.Error(err)
		return
	}
	resp := result.(domain.PublishWriteResponse)
	assert.True(resp.HasResponseError(), "write without a publisher should fail")

	context.Stop(pid)

	as.Shutdown()
}

func TestLynxActorStopsOnAuthError(t *testing.T) {

	client := lynx.CreateTestClient(42)
	client.FailWith = &lynx.APIError{StatusCode: 401, Method: "GET", Path: "/api/v2/functionx/42"}

	as, context, pid := spawnLynxActorForTest(client, nil)

	time.Sleep(1 * time.Second)

	// the actor stopped itself, requests go nowhere
	_, err := context.RequestFuture(pid, domain.ListFunctionsRequest{}, 1*time.Second).Result()
	assert.Error(t, err, "actor should be stopped after an auth error")

	as.Shutdown()
}
