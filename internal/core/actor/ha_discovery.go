package actor

import (
	"errors"
	"fmt"
	"time"

	"github.com/berfenger/lynx2mqtt/internal/config"
	"github.com/berfenger/lynx2mqtt/internal/core/domain"
	"github.com/berfenger/lynx2mqtt/internal/core/service"
	"github.com/berfenger/lynx2mqtt/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
	"go.uber.org/zap"
)

const (
	HADISCOVERY_ACTOR_ID = "hadiscovery"
)

// HADiscoveryActor publishes Home Assistant MQTT discovery configs. The
// bridge's own entities go out once on start, installation entities whenever
// the poller reports a changed topology. Configs of entities that left the
// installation are unpublished.
type HADiscoveryActor struct {
	config       *config.Config
	behavior     actor.Behavior
	stash        *actorutil.Stash
	mqttActor    *actor.PID
	bridgeDevice domain.Device
	lastEntities *domain.EntitySet

	logger *zap.Logger
}

func NewHADiscoveryActor(config *config.Config, mqttActor *actor.PID, logger *zap.Logger) *HADiscoveryActor {
	act := &HADiscoveryActor{
		config:       config,
		mqttActor:    mqttActor,
		behavior:     actor.NewBehavior(),
		stash:        &actorutil.Stash{},
		bridgeDevice: domain.BridgeDevice(config.MQTT.BaseTopic),
		logger:       actorutil.ActorLogger(domain.ACTOR_ID_HA_DISCOVERY, logger),
	}
	act.behavior.Become(act.StartingReceive)
	return act
}

func (state *HADiscoveryActor) Receive(context actor.Context) {
	state.behavior.Receive(context)
}

func (state *HADiscoveryActor) StartingReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.logger.Debug("hadiscovery@starting started")

		// discovery only makes sense once the MQTT actor can publish
		actorutil.PipeToSelfWithRecover(ctx, ctx.RequestFuture(state.mqttActor, domain.ActorHealthRequest{}, 2*time.Second), func(err error) any {
			return domain.ActorHealthResponse{
				Id:      domain.ACTOR_ID_MQTT,
				Healthy: false,
			}
		})
		state.behavior.Become(state.WaitingHealthyReceive)
	case *actor.Restarting:
	default:
		state.logger.Debug("hadiscovery@starting: stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *HADiscoveryActor) WaitingHealthyReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.ActorHealthResponse:
		state.logger.Debug("hadiscovery@healthcheck ActorHealthResponse", zap.String("sender", msg.Id), zap.Bool("healthy", msg.Healthy))
		if !msg.Healthy {
			panic(errors.New("MQTT Actor is not healthy"))
		}
		// the bridge device exists even before the first poll resolves
		sensors, binarySensors := domain.BridgeSensors(state.bridgeDevice)
		ctx.Send(state.mqttActor, domain.PublishDiscoveryRequest{
			Sensors:       sensors,
			BinarySensors: binarySensors,
		})
		state.behavior.Become(state.DefaultReceive)
		state.stash.UnstashAll(ctx)
	default:
		state.logger.Debug("hadiscovery@healthcheck: stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *HADiscoveryActor) DefaultReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.ActorHealthRequest:
		state.logger.Debug("hadiscovery@default: ActorHealthRequest")
		ctx.Respond(domain.ActorHealthResponse{
			Id:      domain.ACTOR_ID_HA_DISCOVERY,
			Healthy: true,
			State:   "idle",
		})
	case domain.RefreshDiscoveryRequest:
		state.logger.Debug("hadiscovery@default: RefreshDiscoveryRequest")
		state.publishEntities(ctx, msg.Entities)
		if ctx.Sender() != nil {
			actorutil.ForRequest(msg).Respond(ctx, domain.RefreshDiscoveryResponse{})
		}
	default:
		state.logger.Debug("hadiscovery@default: default recv", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

// publishEntities sends the full discovery payload for the current entity
// set. The first config of each HA device carries the full device block,
// repeats shrink to the identifying fields.
func (state *HADiscoveryActor) publishEntities(ctx actor.Context, entities *domain.EntitySet) {
	if entities == nil {
		return
	}

	var sensors []domain.GenericSensor
	var binarySensors []domain.GenericBinarySensor
	var switches []domain.GenericSwitch

	seenDevices := map[string]bool{}
	fullDevice := func(device domain.Device) domain.Device {
		if seenDevices[device.Id] {
			return domain.IdDevice(device)
		}
		seenDevices[device.Id] = true
		return device
	}

	bridgeSensors, bridgeBinarySensors := domain.BridgeSensors(state.bridgeDevice)
	for i := range bridgeSensors {
		bridgeSensors[i].Device = fullDevice(bridgeSensors[i].Device)
		sensors = append(sensors, bridgeSensors[i])
	}
	for i := range bridgeBinarySensors {
		bridgeBinarySensors[i].Device = fullDevice(bridgeBinarySensors[i].Device)
		binarySensors = append(binarySensors, bridgeBinarySensors[i])
	}

	for _, entity := range entities.Sensors {
		entity.GenericSensor.Device = fullDevice(entity.GenericSensor.Device)
		sensors = append(sensors, entity.GenericSensor)
	}
	for _, entity := range entities.BinarySensors {
		entity.GenericBinarySensor.Device = fullDevice(entity.GenericBinarySensor.Device)
		binarySensors = append(binarySensors, entity.GenericBinarySensor)
	}
	for _, entity := range entities.Switches {
		entity.GenericSwitch.Device = fullDevice(entity.GenericSwitch.Device)
		switches = append(switches, entity.GenericSwitch)
	}

	removed := service.RemovedEntities(state.lastEntities, entities)

	state.logger.Info("hadiscovery@default publishing discovery",
		zap.Int("sensors", len(sensors)),
		zap.Int("binarySensors", len(binarySensors)),
		zap.Int("switches", len(switches)),
		zap.Int("removed", len(removed)))

	ctx.Send(state.mqttActor, domain.PublishDiscoveryRequest{
		Sensors:       sensors,
		BinarySensors: binarySensors,
		Switches:      switches,
		Removed:       removed,
	})
	state.lastEntities = entities
}
