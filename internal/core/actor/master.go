package actor

import (
	"errors"
	"fmt"
	"log"
	"time"

	adactor "github.com/berfenger/lynx2mqtt/internal/adapter/actor"
	"github.com/berfenger/lynx2mqtt/internal/config"
	"github.com/berfenger/lynx2mqtt/internal/core/domain"
	"github.com/berfenger/lynx2mqtt/internal/core/port"
	. "github.com/berfenger/lynx2mqtt/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"go.uber.org/zap"
)

type MQTTActorProvider func(*eventstream.EventStream) *adactor.MQTTActor

type LynxActorProvider func() *adactor.LynxActor

type HistoryWriterProvider func() port.HistoryWriter

// MasterOfPuppetsActor supervises the actor tree and routes requests from
// the management API and the HA command topics to the right child.
type MasterOfPuppetsActor struct {
	config   config.Config
	behavior actor.Behavior
	stash    *Stash

	currentHealthCheck    healthCheckResult
	eventStream           *eventstream.EventStream
	lynxActor             *actor.PID
	mqttActor             *actor.PID
	pollerActor           *actor.PID
	discoveryActor        *actor.PID
	historyActor          *actor.PID
	lynxActorProvider     LynxActorProvider
	mqttActorProvider     MQTTActorProvider
	historyWriterProvider HistoryWriterProvider
	logger                *zap.Logger
}

type healthCheckResult struct {
	lynxActorHealthy   bool
	mqttActorHealthy   bool
	pollerActorHealthy bool
	checksReceived     int
	respondTo          *actor.PID
}

func NewMasterOfPuppetsActor(config config.Config, lynxActorProvider LynxActorProvider, mqttActorProvider MQTTActorProvider,
	historyWriterProvider HistoryWriterProvider, logger *zap.Logger) *MasterOfPuppetsActor {
	act := &MasterOfPuppetsActor{
		config:                config,
		behavior:              actor.NewBehavior(),
		stash:                 &Stash{},
		logger:                ActorLogger("master", logger),
		eventStream:           &eventstream.EventStream{},
		lynxActorProvider:     lynxActorProvider,
		mqttActorProvider:     mqttActorProvider,
		historyWriterProvider: historyWriterProvider,
	}
	act.behavior.Become(act.StartingReceive)
	return act
}

func (state *MasterOfPuppetsActor) Receive(context actor.Context) {
	state.behavior.Receive(context)
}

func (state *MasterOfPuppetsActor) StartingReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.logger.Debug("master@starting started")

		state.currentHealthCheck = healthCheckResult{}
		state.currentHealthCheck.reset()

		// start Lynx child
		lynxActorPID, err := state.startLynxActor(ctx)
		if err != nil {
			panic(err)
		}
		state.lynxActor = lynxActorPID

		// start MQTT child
		mqttActorPID, err := state.startMQTTActor(ctx)
		if err != nil {
			panic(err)
		}
		state.mqttActor = mqttActorPID

		// start HA Discovery
		if state.config.MQTT.HADiscoveryEnable {
			haDiscoveryActorPID, err := state.startHADiscoveryActor(ctx)
			if err != nil {
				panic(err)
			}
			state.discoveryActor = haDiscoveryActorPID
		}

		// start History child
		if state.config.HistoryConfig.Enabled && state.historyWriterProvider != nil {
			historyActorPID, err := state.startHistoryActor(ctx)
			if err != nil {
				panic(err)
			}
			state.historyActor = historyActorPID
		}

		// start Poller child
		pollerActorPID, err := state.startPollerActor(ctx)
		if err != nil {
			panic(err)
		}
		state.pollerActor = pollerActorPID

		state.behavior.Become(state.DefaultReceive)
		state.stash.UnstashAll(ctx)
	default:
		state.logger.Debug("master@starting stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *MasterOfPuppetsActor) DefaultReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.ActorHealthRequest:
		state.logger.Debug("master@default ActorHealthRequest")
		state.currentHealthCheck.reset()
		state.currentHealthCheck.respondTo = ctx.Sender()
		// Lynx Actor Request
		PipeToSelfWithRecover(ctx, ctx.RequestFuture(state.lynxActor, domain.ActorHealthRequest{}, 500*time.Millisecond), func(err error) any {
			return domain.ActorHealthResponse{
				Id:      domain.ACTOR_ID_LYNX,
				Healthy: false,
			}
		})
		// MQTT Actor Request
		PipeToSelfWithRecover(ctx, ctx.RequestFuture(state.mqttActor, domain.ActorHealthRequest{}, 500*time.Millisecond), func(err error) any {
			return domain.ActorHealthResponse{
				Id:      domain.ACTOR_ID_MQTT,
				Healthy: false,
			}
		})
		// Poller Actor Request
		PipeToSelfWithRecover(ctx, ctx.RequestFuture(state.pollerActor, domain.ActorHealthRequest{}, 500*time.Millisecond), func(err error) any {
			return domain.ActorHealthResponse{
				Id:      domain.ACTOR_ID_POLLER,
				Healthy: false,
			}
		})

		ctx.SetReceiveTimeout(1 * time.Second)

		state.behavior.BecomeStacked(state.HealthCheckReceive)
	case adactor.ParsedCommand:
		// redirect parsedCommand to actor
		state.logger.Debug("master@default parsedCommand", zap.Any("command", msg.Command))
		if msg.Command != nil {
			cmd, err := ParsedMQTTCommandToCommand(*msg.Command)
			if err == nil && cmd != nil {
				switch pcmd := cmd.(type) {
				case domain.SwitchSetRequest:
					ctx.Send(state.pollerActor, pcmd)
				}
			}
		}
	case domain.PollNowRequest:
		state.logger.Debug("master@default PollNowRequest")
		state.forward(ctx, state.pollerActor)
	case domain.GetSnapshotRequest:
		state.logger.Debug("master@default GetSnapshotRequest")
		state.forward(ctx, state.pollerActor)
	case domain.CreateDeviceRequest:
		state.forwardToLynx(ctx, msg)
	case domain.DeleteDeviceRequest:
		state.forwardToLynx(ctx, msg)
	case domain.CreateFunctionRequest:
		state.forwardToLynx(ctx, msg)
	case domain.DeleteFunctionRequest:
		state.forwardToLynx(ctx, msg)
	case domain.AssignFunctionRequest:
		state.forwardToLynx(ctx, msg)
	case domain.SetFunctionMetaRequest:
		state.forwardToLynx(ctx, msg)
	case domain.SetDeviceMetaRequest:
		state.forwardToLynx(ctx, msg)
	case domain.ListFunctionsRequest:
		state.forwardToLynx(ctx, msg)
	case domain.ListDevicesRequest:
		state.forwardToLynx(ctx, msg)
	case *actor.Terminated:
		// if some actor fails on boot, terminate
		if msg.Who.Id == fmt.Sprintf("%s/%s", domain.ACTOR_ID_MASTER, domain.ACTOR_ID_LYNX) {
			state.logger.Error("master@default lynx error")
			panic(errors.New("lynx terminated"))
		}
	default:
		state.logger.Debug("master@default stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *MasterOfPuppetsActor) HealthCheckReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.ReceiveTimeout:
		// if some actor does not respond to healthCheck, assume not healthy
		state.currentHealthCheck.respond(ctx)
		state.behavior.UnbecomeStacked()
		state.stash.UnstashAll(ctx)
	case domain.ActorHealthResponse:
		state.logger.Debug("master@healthcheck ActorHealthResponse", zap.String("sender", msg.Id), zap.Bool("healthy", msg.Healthy))
		state.currentHealthCheck.checksReceived++
		if msg.Healthy {
			if msg.Id == domain.ACTOR_ID_LYNX {
				state.currentHealthCheck.lynxActorHealthy = true
			} else if msg.Id == domain.ACTOR_ID_MQTT {
				state.currentHealthCheck.mqttActorHealthy = true
			} else if msg.Id == domain.ACTOR_ID_POLLER {
				state.currentHealthCheck.pollerActorHealthy = true
			}
		}
		if state.currentHealthCheck.allReceived() {

			state.currentHealthCheck.respond(ctx)

			state.behavior.UnbecomeStacked()
			state.stash.UnstashAll(ctx)
		} else {
			ctx.SetReceiveTimeout(1 * time.Second)
		}
	default:
		state.logger.Debug("master@healthcheck stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

// forwardToLynx hands a management request to the lynx actor keeping the
// original requester as sender, so the response skips the master.
func (state *MasterOfPuppetsActor) forwardToLynx(ctx actor.Context, msg any) {
	state.logger.Debug("master@default forward to lynx", zap.String("type", fmt.Sprintf("%T", msg)))
	state.forward(ctx, state.lynxActor)
}

func (state *MasterOfPuppetsActor) forward(ctx actor.Context, target *actor.PID) {
	if ctx.Sender() != nil {
		ctx.RequestWithCustomSender(target, ctx.Message(), ctx.Sender())
	} else {
		ctx.Send(target, ctx.Message())
	}
}

func (state *MasterOfPuppetsActor) startLynxActor(ctx actor.Context) (*actor.PID, error) {

	supervisor := actor.NewExponentialBackoffStrategy(10*time.Second, 1*time.Second)

	lynxProps := actor.PropsFromProducer(func() actor.Actor {
		return state.lynxActorProvider()
	}, actor.WithSupervisor(supervisor))
	lynxActorPID, err := ctx.SpawnNamed(lynxProps, domain.ACTOR_ID_LYNX)
	if err != nil {
		return nil, err
	}

	return lynxActorPID, nil
}

func (state *MasterOfPuppetsActor) startMQTTActor(ctx actor.Context) (*actor.PID, error) {

	supervisor := actor.NewExponentialBackoffStrategy(10*time.Second, 1*time.Second)

	mqttProps := actor.PropsFromProducer(func() actor.Actor {
		return state.mqttActorProvider(state.eventStream)
	}, actor.WithSupervisor(supervisor))
	mqttActorPID, err := ctx.SpawnNamed(mqttProps, domain.ACTOR_ID_MQTT)
	if err != nil {
		return nil, err
	}

	return mqttActorPID, nil
}

func (state *MasterOfPuppetsActor) startHADiscoveryActor(ctx actor.Context) (*actor.PID, error) {

	decider := func(reason interface{}) actor.Directive {
		log.Printf("handling failure for child. reason: %v", reason)
		return actor.RestartDirective
	}
	supervisor := actor.NewOneForOneStrategy(1, 10*time.Second, decider)

	haDiscProps := actor.PropsFromProducer(func() actor.Actor {
		return NewHADiscoveryActor(&state.config, state.mqttActor, state.logger)
	}, actor.WithSupervisor(supervisor))
	haDiscPID, err := ctx.SpawnNamed(haDiscProps, HADISCOVERY_ACTOR_ID)
	if err != nil {
		return nil, err
	}

	return haDiscPID, nil
}

func (state *MasterOfPuppetsActor) startHistoryActor(ctx actor.Context) (*actor.PID, error) {

	decider := func(reason interface{}) actor.Directive {
		log.Printf("handling failure for child. reason: %v", reason)
		return actor.RestartDirective
	}
	supervisor := actor.NewOneForOneStrategy(1, 10*time.Second, decider)

	historyProps := actor.PropsFromProducer(func() actor.Actor {
		return NewHistoryActor(state.historyWriterProvider(), state.logger)
	}, actor.WithSupervisor(supervisor))
	historyActorPID, err := ctx.SpawnNamed(historyProps, domain.ACTOR_ID_HISTORY)
	if err != nil {
		return nil, err
	}

	return historyActorPID, nil
}

func (state *MasterOfPuppetsActor) startPollerActor(ctx actor.Context) (*actor.PID, error) {

	decider := func(reason interface{}) actor.Directive {
		log.Printf("handling failure for child. reason: %v", reason)
		return actor.RestartDirective
	}
	supervisor := actor.NewAllForOneStrategy(1, 10*time.Second, decider)

	pollerProps := actor.PropsFromProducer(func() actor.Actor {
		return NewPollerActor(&state.config, state.lynxActor, state.discoveryActor, state.historyActor, state.eventStream, state.logger)
	}, actor.WithSupervisor(supervisor))
	pollerActorPID, err := ctx.SpawnNamed(pollerProps, domain.ACTOR_ID_POLLER)
	if err != nil {
		return nil, err
	}

	return pollerActorPID, nil
}

func (state *healthCheckResult) reset() {
	state.lynxActorHealthy = false
	state.mqttActorHealthy = false
	state.pollerActorHealthy = false
	state.checksReceived = 0
}

func (state *healthCheckResult) allReceived() bool {
	return state.checksReceived == 3
}

func (state *healthCheckResult) allHealthy() bool {
	return state.lynxActorHealthy && state.mqttActorHealthy && state.pollerActorHealthy
}

func (state *healthCheckResult) respond(ctx actor.Context) {
	resp := domain.ActorHealthResponse{
		Id:      "master",
		Healthy: state.allHealthy(),
	}
	if state.respondTo != nil {
		ctx.Send(state.respondTo, resp)
	}
}
