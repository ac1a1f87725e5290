package actor

import (
	"errors"
	"sync"
	"testing"
	"time"

	adactor "github.com/berfenger/lynx2mqtt/internal/adapter/actor"
	"github.com/berfenger/lynx2mqtt/internal/core/domain"
	"github.com/berfenger/lynx2mqtt/internal/util"
	"github.com/berfenger/lynx2mqtt/internal/util/actorutil"
	"github.com/berfenger/lynx2mqtt/pkg/lynx"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

// eventCollector records everything published on the event stream.
type eventCollector struct {
	mu     sync.Mutex
	events []any
}

func (c *eventCollector) collect(value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, value)
}

func (c *eventCollector) all() []any {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]any, len(c.events))
	copy(out, c.events)
	return out
}

func (c *eventCollector) lastDataSourceState() (bool, bool) {
	var value, found bool
	for _, ev := range c.all() {
		if e, ok := ev.(domain.DataSourceStateUpdateEvent); ok {
			value = e.Value
			found = true
		}
	}
	return value, found
}

func (c *eventCollector) floatEvents(id string) []domain.FloatSensorUpdateEvent {
	var out []domain.FloatSensorUpdateEvent
	for _, ev := range c.all() {
		if e, ok := ev.(domain.FloatSensorUpdateEvent); ok && e.Id == id {
			out = append(out, e)
		}
	}
	return out
}

func (c *eventCollector) switchEvents(id string) []domain.SwitchSensorUpdateEvent {
	var out []domain.SwitchSensorUpdateEvent
	for _, ev := range c.all() {
		if e, ok := ev.(domain.SwitchSensorUpdateEvent); ok && e.Id == id {
			out = append(out, e)
		}
	}
	return out
}

// discoveryProbe stands in for the discovery actor and counts refreshes.
type discoveryProbe struct {
	mu       sync.Mutex
	requests []domain.RefreshDiscoveryRequest
}

func (p *discoveryProbe) Receive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.RefreshDiscoveryRequest:
		p.mu.Lock()
		p.requests = append(p.requests, msg)
		p.mu.Unlock()
	}
}

func (p *discoveryProbe) all() []domain.RefreshDiscoveryRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]domain.RefreshDiscoveryRequest, len(p.requests))
	copy(out, p.requests)
	return out
}

type pollerTestRig struct {
	as        *actor.ActorSystem
	context   *actor.RootContext
	client    *lynx.TestClient
	publisher *lynx.TestCommandPublisher
	collector *eventCollector
	discovery *discoveryProbe
	lynxPID   *actor.PID
	pollerPID *actor.PID
}

func startPollerRig(withDiscovery bool) *pollerTestRig {
	logger := zap.Must(zap.NewDevelopment())

	as := actorutil.NewActorSystemWithZapLogger(logger)
	context := as.Root

	cfg := util.LoadTestConfig()
	// cycles are driven manually through PollNowRequest
	cfg.PollerConfig.PollIntervalMillis = 0

	client := lynx.CreateTestClient(cfg.Lynx.InstallationID)
	publisher := lynx.CreateTestCommandPublisher("2086")

	es := &eventstream.EventStream{}
	collector := &eventCollector{}
	es.Subscribe(collector.collect)

	lynxProps := actor.PropsFromProducer(func() actor.Actor {
		return adactor.NewLynxActor(client, publisher, cfg.Lynx.InstallationID, 2*time.Second, logger)
	})
	lynxPID := context.Spawn(lynxProps)

	rig := &pollerTestRig{
		as:        as,
		context:   context,
		client:    client,
		publisher: publisher,
		collector: collector,
		lynxPID:   lynxPID,
	}

	var discoveryPID *actor.PID
	if withDiscovery {
		rig.discovery = &discoveryProbe{}
		discoveryPID = context.Spawn(actor.PropsFromProducer(func() actor.Actor {
			return rig.discovery
		}))
	}

	pollerProps := actor.PropsFromProducer(func() actor.Actor {
		return NewPollerActor(&cfg, lynxPID, discoveryPID, nil, es, logger)
	})
	rig.pollerPID = context.Spawn(pollerProps)

	return rig
}

func (rig *pollerTestRig) pollNow(t *testing.T) domain.PollNowResponse {
	res, err := rig.context.RequestFuture(rig.pollerPID, domain.PollNowRequest{}, 5*time.Second).Result()
	if err != nil {
		t.Fatal(err)
	}
	resp, ok := res.(domain.PollNowResponse)
	if !ok {
		t.Fatalf("unexpected response type %T", res)
	}
	return resp
}

func (rig *pollerTestRig) snapshot(t *testing.T) *domain.Snapshot {
	res, err := rig.context.RequestFuture(rig.pollerPID, domain.GetSnapshotRequest{}, 5*time.Second).Result()
	if err != nil {
		t.Fatal(err)
	}
	return res.(domain.GetSnapshotResponse).Snapshot
}

func TestPollerActorFirstCycle(t *testing.T) {

	assert := assert.New(t)

	rig := startPollerRig(false)
	defer rig.as.Shutdown()

	// the start tick runs the first cycle
	time.Sleep(2 * time.Second)

	snapshot := rig.snapshot(t)
	assert.NotNil(snapshot)
	assert.Equal(3, snapshot.Len())

	office, ok := snapshot.Get(1001)
	assert.True(ok)
	assert.Equal(21.5, office.Value)
	assert.Equal("obj/temp/office", office.TopicRead)

	leak, ok := snapshot.Get(1003)
	assert.True(ok)
	assert.Equal(int64(77), leak.DeviceID)

	online, found := rig.collector.lastDataSourceState()
	assert.True(found, "first cycle resolves availability")
	assert.True(online)

	floats := rig.collector.floatEvents("func_1001")
	assert.Len(floats, 1)
	assert.Equal(21.5, floats[0].Value)

	switches := rig.collector.switchEvents("func_1002")
	assert.Len(switches, 1)
	assert.True(switches[0].Value, "raw 255 reads as on")
}

func TestPollerActorDiffOnlyPublishesChanges(t *testing.T) {

	assert := assert.New(t)

	rig := startPollerRig(false)
	defer rig.as.Shutdown()

	time.Sleep(2 * time.Second)

	// unchanged cycle adds no update events
	resp := rig.pollNow(t)
	assert.False(resp.HasResponseError())
	assert.Len(rig.collector.floatEvents("func_1001"), 1)

	// changed sample produces exactly one more event
	rig.client.SetStatus("obj/temp/office", 22.25, 1700000100)
	resp = rig.pollNow(t)
	assert.False(resp.HasResponseError())

	floats := rig.collector.floatEvents("func_1001")
	assert.Len(floats, 2)
	assert.Equal(22.25, floats[1].Value)

	snapshot := rig.snapshot(t)
	office, _ := snapshot.Get(1001)
	assert.Equal(22.25, office.Value)
}

func TestPollerActorFailedCycleKeepsSnapshot(t *testing.T) {

	assert := assert.New(t)

	rig := startPollerRig(false)
	defer rig.as.Shutdown()

	time.Sleep(2 * time.Second)

	rig.client.SetFailWith(errors.New("dial tcp: connection refused"))

	resp := rig.pollNow(t)
	assert.True(resp.HasResponseError(), "failed cycle reports the error")

	// the last good snapshot survives the outage
	snapshot := rig.snapshot(t)
	assert.NotNil(snapshot)
	assert.Equal(3, snapshot.Len())

	online, found := rig.collector.lastDataSourceState()
	assert.True(found)
	assert.False(online, "failed cycle flips the datasource offline")

	// recovery flips it back
	rig.client.SetFailWith(nil)
	resp = rig.pollNow(t)
	assert.False(resp.HasResponseError())

	online, _ = rig.collector.lastDataSourceState()
	assert.True(online)
}

func TestPollerActorSwitchCommand(t *testing.T) {

	assert := assert.New(t)

	rig := startPollerRig(false)
	defer rig.as.Shutdown()

	time.Sleep(2 * time.Second)

	res, err := rig.context.RequestFuture(rig.pollerPID, domain.SwitchSetRequest{
		EntityId: "func_1002",
		On:       false,
	}, 5*time.Second).Result()
	if err != nil {
		t.Fatal(err)
	}
	resp := res.(domain.SwitchSetResponse)
	assert.False(resp.HasResponseError())
	assert.True(resp.Changed)

	published := rig.publisher.PublishedValues()
	assert.Len(published, 1)
	assert.Equal("2086/set/obj/switch/pump", published[0].Topic)
	assert.Equal(float64(0), published[0].Value)

	// optimistic state update until the next poll confirms
	switches := rig.collector.switchEvents("func_1002")
	assert.True(len(switches) >= 2)
	assert.False(switches[len(switches)-1].Value)

	// unknown entities are rejected without touching the broker
	res, err = rig.context.RequestFuture(rig.pollerPID, domain.SwitchSetRequest{
		EntityId: "func_404",
		On:       true,
	}, 5*time.Second).Result()
	if err != nil {
		t.Fatal(err)
	}
	resp = res.(domain.SwitchSetResponse)
	assert.True(resp.HasResponseError())
	assert.False(resp.Changed)
	assert.Len(rig.publisher.PublishedValues(), 1)
}

func TestPollerActorDiscoveryRefreshOnTopologyChange(t *testing.T) {

	assert := assert.New(t)

	rig := startPollerRig(true)
	defer rig.as.Shutdown()

	time.Sleep(2 * time.Second)

	// first cycle publishes the initial topology
	assert.Len(rig.discovery.all(), 1)

	// steady state cycles do not republish discovery
	rig.pollNow(t)
	time.Sleep(200 * time.Millisecond)
	assert.Len(rig.discovery.all(), 1)

	// a new function changes the topology
	res, err := rig.context.RequestFuture(rig.lynxPID, domain.CreateFunctionRequest{
		Type:      "humidity",
		Name:      "Office Humidity",
		TopicRead: "obj/humidity/office",
	}, 5*time.Second).Result()
	if err != nil {
		t.Fatal(err)
	}
	assert.False(res.(domain.CreateFunctionResponse).HasResponseError())

	rig.pollNow(t)
	time.Sleep(200 * time.Millisecond)

	refreshes := rig.discovery.all()
	assert.Len(refreshes, 2)
	assert.Equal(2, len(refreshes[1].Entities.Sensors), "new sensor joins the set")
}
