package actor

import (
	"fmt"
	"time"

	"github.com/berfenger/lynx2mqtt/internal/config"
	"github.com/berfenger/lynx2mqtt/internal/core/domain"
	"github.com/berfenger/lynx2mqtt/internal/core/events"
	"github.com/berfenger/lynx2mqtt/internal/core/service"
	"github.com/berfenger/lynx2mqtt/internal/metrics"
	. "github.com/berfenger/lynx2mqtt/internal/util/actorutil"
	"github.com/berfenger/lynx2mqtt/pkg/lynx"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/asynkron/protoactor-go/scheduler"
	"go.uber.org/zap"
)

// PollerActor drives the bridge: on every tick it pulls functions, devices
// and status from the lynx actor, folds them into an immutable snapshot and
// publishes update events for whatever changed. A failed cycle only flips
// the datasource availability, the last good snapshot stays in place.
type PollerActor struct {
	behavior  actor.Behavior
	stash     *Stash
	scheduler *scheduler.TimerScheduler

	lynxActor      *actor.PID
	discoveryActor *actor.PID
	historyActor   *actor.PID
	config         *config.Config
	eventStream    *eventstream.EventStream
	mapper         *service.EntityMapper
	bridgeDevice   domain.Device
	requestTimeout time.Duration

	online    bool
	hasPolled bool
	snapshot  *domain.Snapshot
	entities  *domain.EntitySet

	cycle        *pollCycle
	pendingWrite *pendingSwitchWrite

	logger *zap.Logger
}

type pollerTick struct {
}

// pollCycle accumulates one list->status round trip.
type pollCycle struct {
	startedAt time.Time
	functions []lynx.Function
	devices   []lynx.Device
	replyTo   *actor.PID
}

type pendingSwitchWrite struct {
	entity  domain.SwitchEntity
	on      bool
	replyTo *actor.PID
}

func NewPollerActor(config *config.Config, lynxActor *actor.PID, discoveryActor *actor.PID, historyActor *actor.PID,
	eventStream *eventstream.EventStream, logger *zap.Logger) *PollerActor {
	writeTopicPrefix := lynx.TopicPrefixFromUsername(config.Lynx.MQTTUsername)
	if writeTopicPrefix == "" {
		writeTopicPrefix = config.Lynx.WriteTopicPrefixFallback()
	}
	actorLogger := ActorLogger(domain.ACTOR_ID_POLLER, logger)
	act := &PollerActor{
		config:         config,
		lynxActor:      lynxActor,
		discoveryActor: discoveryActor,
		historyActor:   historyActor,
		behavior:       actor.NewBehavior(),
		stash:          &Stash{},
		eventStream:    eventStream,
		bridgeDevice:   domain.BridgeDevice(config.MQTT.BaseTopic),
		requestTimeout: time.Duration(config.Lynx.TimeoutMillis)*time.Millisecond + 5*time.Second,
		mapper: &service.EntityMapper{
			InstallationID:   config.Lynx.InstallationID,
			WriteTopicPrefix: writeTopicPrefix,
			Logger:           actorLogger,
		},
		logger: actorLogger,
	}
	act.behavior.Become(act.StartingReceive)
	return act
}

func (state *PollerActor) Receive(context actor.Context) {
	state.behavior.Receive(context)
}

func (state *PollerActor) StartingReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.logger.Debug("poller@starting started")

		state.scheduler = scheduler.NewTimerScheduler(ctx)
		// first cycle right away, the timer takes over afterwards
		ctx.Send(ctx.Self(), pollerTick{})

		state.behavior.Become(state.DefaultReceive)
		state.stash.UnstashAll(ctx)
	case *actor.Restarting:
	default:
		state.logger.Debug("poller@starting: stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *PollerActor) DefaultReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.ActorHealthRequest:
		state.logger.Debug("poller@default: ActorHealthRequest")
		ctx.Respond(domain.ActorHealthResponse{
			Id:      domain.ACTOR_ID_POLLER,
			Healthy: true,
			State:   "idle",
		})
	case pollerTick:
		state.logger.Debug("poller@default tick")
		// schedule next tick before the cycle so a slow cycle cannot stall
		// the cadence
		if state.config.PollerConfig.PollIntervalMillis > 0 {
			state.scheduler.RequestOnce(time.Duration(state.config.PollerConfig.PollIntervalMillis)*time.Millisecond,
				ctx.Self(), pollerTick{})
		}
		state.startCycle(ctx, nil)
	case domain.PollNowRequest:
		state.logger.Debug("poller@default: PollNowRequest")
		state.startCycle(ctx, ForRequest(msg).ReplyTo(ctx))
	case domain.GetSnapshotRequest:
		state.logger.Debug("poller@default: GetSnapshotRequest")
		ForRequest(msg).Respond(ctx, domain.GetSnapshotResponse{
			Snapshot: state.snapshot,
		})
	case domain.SwitchSetRequest:
		state.logger.Debug("poller@default: SwitchSetRequest", zap.String("entityId", msg.EntityId), zap.Bool("on", msg.On))
		state.handleSwitchSet(ctx, msg)
	default:
		state.logger.Debug("poller@default: stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

// startCycle kicks off the function listing and parks the actor in the
// polling state until the cycle resolves either way.
func (state *PollerActor) startCycle(ctx actor.Context, replyTo *actor.PID) {
	state.cycle = &pollCycle{
		startedAt: time.Now(),
		replyTo:   replyTo,
	}
	PipeToSelfWithRecover(ctx, ctx.RequestFuture(state.lynxActor, domain.ListFunctionsRequest{}, state.requestTimeout), func(err error) any {
		return domain.ListFunctionsResponse{
			ActorResponseMixIn: domain.ActorResponseMixIn{
				ResponseError: err,
			},
		}
	})
	state.behavior.BecomeStacked(state.PollingReceive)
}

func (state *PollerActor) PollingReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.ListFunctionsResponse:
		if msg.HasResponseError() {
			state.failCycle(ctx, msg.GetResponseError())
			return
		}
		state.logger.Debug("poller@polling ListFunctionsResponse", zap.Int("functions", len(msg.Functions)))
		state.cycle.functions = msg.Functions
		PipeToSelfWithRecover(ctx, ctx.RequestFuture(state.lynxActor, domain.ListDevicesRequest{}, state.requestTimeout), func(err error) any {
			return domain.ListDevicesResponse{
				ActorResponseMixIn: domain.ActorResponseMixIn{
					ResponseError: err,
				},
			}
		})
	case domain.ListDevicesResponse:
		if msg.HasResponseError() {
			// device names only group entities, a cycle can live without them
			state.logger.Warn("poller@polling ListDevicesResponse error, continuing without device names",
				zap.Error(msg.GetResponseError()))
		} else {
			state.logger.Debug("poller@polling ListDevicesResponse", zap.Int("devices", len(msg.Devices)))
			state.cycle.devices = msg.Devices
		}
		topics := exposedReadTopics(state.cycle.functions)
		PipeToSelfWithRecover(ctx, ctx.RequestFuture(state.lynxActor, domain.GetStatusRequest{Topics: topics}, state.requestTimeout), func(err error) any {
			return domain.GetStatusResponse{
				ActorResponseMixIn: domain.ActorResponseMixIn{
					ResponseError: err,
				},
			}
		})
	case domain.GetStatusResponse:
		if msg.HasResponseError() {
			state.failCycle(ctx, msg.GetResponseError())
			return
		}
		state.logger.Debug("poller@polling GetStatusResponse", zap.Int("statuses", len(msg.Statuses)))
		state.completeCycle(ctx, msg.Statuses)
	default:
		state.logger.Debug("poller@polling: stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

// completeCycle folds the cycle into a new snapshot, publishes the diff and
// hands the result to discovery and history.
func (state *PollerActor) completeCycle(ctx actor.Context, statuses []lynx.Status) {
	cycle := state.cycle
	takenAt := time.Now()

	snapshot := service.BuildSnapshot(state.config.Lynx.InstallationID, cycle.functions, statuses, takenAt)
	entities := state.mapper.Map(cycle.functions, cycle.devices, state.bridgeDevice)

	if !service.EntitiesEqual(state.entities, entities) {
		state.logger.Info("poller@polling entity topology changed, refreshing discovery",
			zap.Int("sensors", len(entities.Sensors)),
			zap.Int("binarySensors", len(entities.BinarySensors)),
			zap.Int("switches", len(entities.Switches)))
		if state.discoveryActor != nil {
			ctx.Send(state.discoveryActor, domain.RefreshDiscoveryRequest{Entities: entities})
		}
	}

	for _, ev := range events.SensorUpdateEventsToAny(service.DiffEvents(state.snapshot, snapshot, entities)) {
		state.eventStream.Publish(ev)
	}
	state.eventStream.Publish(events.LastPollUpdateEvent(takenAt))
	state.setOnline(true)

	if state.historyActor != nil {
		ctx.Send(state.historyActor, domain.StoreSnapshotRequest{Snapshot: snapshot})
	}

	state.snapshot = snapshot
	state.entities = entities
	metrics.ObservePollCycle(metrics.ResultSuccess, time.Since(cycle.startedAt))
	state.finishCycle(ctx, nil)
}

// failCycle keeps the previous snapshot and retained states untouched and
// only marks the datasource offline until a cycle succeeds again.
func (state *PollerActor) failCycle(ctx actor.Context, err error) {
	if state.online || !state.hasPolled {
		state.logger.Error("poller@polling cycle failed, marking datasource offline", zap.Error(err))
	} else {
		state.logger.Debug("poller@polling cycle failed", zap.Error(err))
	}
	state.setOnline(false)
	metrics.ObservePollCycle(metrics.ResultError, time.Since(state.cycle.startedAt))
	state.finishCycle(ctx, err)
}

func (state *PollerActor) finishCycle(ctx actor.Context, err error) {
	if state.cycle.replyTo != nil {
		ctx.Send(state.cycle.replyTo, domain.PollNowResponse{
			ActorResponseMixIn: domain.ActorResponseMixIn{
				ResponseError: err,
			},
		})
	}
	state.cycle = nil
	state.behavior.UnbecomeStacked()
	state.stash.UnstashAll(ctx)
}

// setOnline publishes availability transitions, including the very first
// resolution after startup.
func (state *PollerActor) setOnline(online bool) {
	if state.hasPolled && state.online == online {
		return
	}
	state.online = online
	state.hasPolled = true
	for _, ev := range events.DataSourceStateUpdateEvents(online) {
		state.eventStream.Publish(ev)
	}
}

// handleSwitchSet resolves an HA switch command against the current entity
// set and forwards the raw value to the installation broker.
func (state *PollerActor) handleSwitchSet(ctx actor.Context, msg domain.SwitchSetRequest) {
	replyTo := ForRequest(msg).ReplyTo(ctx)
	sw := state.entities.SwitchByEntityId(msg.EntityId)
	if sw == nil {
		state.logger.Warn("poller@default switch command for unknown entity", zap.String("entityId", msg.EntityId))
		if replyTo != nil {
			ctx.Send(replyTo, domain.SwitchSetResponse{
				EntityCommandResponseMixIn: domain.EntityCommandResponseMixIn{
					ActorResponse: domain.ActorResponseMixIn{
						ResponseError: fmt.Errorf("unknown switch entity %s", msg.EntityId),
					},
				},
			})
		}
		return
	}
	value := sw.OffValue
	if msg.On {
		value = sw.OnValue
	}
	state.pendingWrite = &pendingSwitchWrite{
		entity:  *sw,
		on:      msg.On,
		replyTo: replyTo,
	}
	PipeToSelfWithRecover(ctx, ctx.RequestFuture(state.lynxActor, domain.PublishWriteRequest{
		Topic: sw.TopicWrite,
		Value: value,
	}, state.requestTimeout), func(err error) any {
		return domain.PublishWriteResponse{
			ActorResponseMixIn: domain.ActorResponseMixIn{
				ResponseError: err,
			},
		}
	})
	state.behavior.BecomeStacked(state.WaitingWriteReceive)
}

func (state *PollerActor) WaitingWriteReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.PublishWriteResponse:
		pending := state.pendingWrite
		state.pendingWrite = nil
		if msg.HasResponseError() {
			state.logger.Error("poller@waitingWrite write failed", zap.String("entityId", pending.entity.Id),
				zap.Error(msg.GetResponseError()))
		} else {
			state.logger.Debug("poller@waitingWrite write ok", zap.String("entityId", pending.entity.Id),
				zap.Bool("on", pending.on))
			// optimistic state until the next poll confirms it
			state.eventStream.Publish(events.SwitchStateUpdateEvent(pending.entity.Id, pending.on))
		}
		if pending.replyTo != nil {
			ctx.Send(pending.replyTo, domain.SwitchSetResponse{
				EntityCommandResponseMixIn: domain.EntityCommandResponseMixIn{
					ActorResponse: domain.ActorResponseMixIn{
						ResponseError: msg.GetResponseError(),
					},
				},
				Changed: !msg.HasResponseError(),
			})
		}
		state.behavior.UnbecomeStacked()
		state.stash.UnstashAll(ctx)
	default:
		state.logger.Debug("poller@waitingWrite: stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

// exposedReadTopics collects the status topics worth fetching. Functions the
// mapper would drop are not polled either.
func exposedReadTopics(functions []lynx.Function) []string {
	var topics []string
	seen := map[string]bool{}
	for _, fn := range functions {
		if !service.IsExposed(fn) {
			continue
		}
		topic := fn.Meta.GetOr(service.META_KEY_TOPIC_READ, "")
		if topic == "" || seen[topic] {
			continue
		}
		seen[topic] = true
		topics = append(topics, topic)
	}
	return topics
}
