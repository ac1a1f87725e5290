package actor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/berfenger/lynx2mqtt/internal/core/domain"
	"github.com/berfenger/lynx2mqtt/internal/core/port"
	. "github.com/berfenger/lynx2mqtt/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/scheduler"
	"go.uber.org/zap"
)

const (
	HISTORY_RECONNECT_INTERVAL = 30 * time.Second
	HISTORY_CONNECT_TIMEOUT    = 15 * time.Second
)

// HistoryActor streams snapshots into the history sink. The sink is best
// effort: while degraded, snapshots are dropped and a reconnect is retried
// in the background without disturbing the rest of the bridge.
type HistoryActor struct {
	ActorWithStates
	scheduler *scheduler.TimerScheduler
	stash     *Stash
	writer    port.HistoryWriter

	logger *zap.Logger
}

type historyConnectResult struct {
	err error
}

type historyReconnectTick struct {
}

func NewHistoryActor(writer port.HistoryWriter, logger *zap.Logger) *HistoryActor {
	act := &HistoryActor{
		writer: writer,
		stash:  &Stash{},
		logger: ActorLogger(domain.ACTOR_ID_HISTORY, logger),
		ActorWithStates: ActorWithStates{
			Behavior: actor.NewBehavior(),
		},
	}
	act.Become(HistStartingState{
		actor: act,
	})
	return act
}

func (state *HistoryActor) Receive(context actor.Context) {
	state.Behavior.Receive(context)
}

func (state *HistoryActor) startConnect(ctx actor.Context) {
	writer := state.writer
	NewBackgroundTask(ctx, func() (*historyConnectResult, error) {
		if err := writer.Connect(context.Background()); err != nil {
			return &historyConnectResult{err: err}, nil
		}
		return &historyConnectResult{}, nil
	}).Recover(func(err error) historyConnectResult {
		return historyConnectResult{err: err}
	}).WithTimeout(HISTORY_CONNECT_TIMEOUT).PipeTo(ctx.Self())
}

// Starting state

type HistStartingState struct {
	ActorState
	actor *HistoryActor
}

func (state HistStartingState) Name() string {
	return "starting"
}

func (state HistStartingState) Receive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.actor.logger.Debug("history@starting started")
		state.actor.scheduler = scheduler.NewTimerScheduler(ctx)
		state.actor.startConnect(ctx)
		state.actor.Become(HistConnectingState{
			actor: state.actor,
		})
	case *actor.Restarting:
		state.actor.writer.Close()
	default:
		state.actor.logger.Debug("history@starting: stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.actor.stash.Stash(ctx, msg)
	}
}

// Connecting state

type HistConnectingState struct {
	ActorState
	actor *HistoryActor
}

func (state HistConnectingState) Name() string {
	return "connecting"
}

func (state HistConnectingState) Receive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case historyConnectResult:
		if msg.err != nil {
			state.actor.logger.Warn("history@connecting connect failed, sink degraded", zap.Error(msg.err))
			state.actor.scheduler.RequestOnce(HISTORY_RECONNECT_INTERVAL, ctx.Self(), historyReconnectTick{})
			state.actor.Become(HistDegradedState{
				actor: state.actor,
			})
		} else {
			state.actor.logger.Info("history@connecting sink connected")
			state.actor.Become(HistStreamingState{
				actor: state.actor,
			})
		}
		state.actor.stash.UnstashAll(ctx)
	case domain.ActorHealthRequest:
		ctx.Respond(domain.ActorHealthResponse{
			Id:      domain.ACTOR_ID_HISTORY,
			Healthy: true,
			State:   state.Name(),
		})
	case *actor.Restarting:
		state.actor.writer.Close()
	default:
		state.actor.logger.Debug("history@connecting: stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.actor.stash.Stash(ctx, msg)
	}
}

// Streaming state

type HistStreamingState struct {
	ActorState
	actor *HistoryActor
}

func (state HistStreamingState) Name() string {
	return "streaming"
}

func (state HistStreamingState) Receive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.ActorHealthRequest:
		state.actor.logger.Debug("history@streaming: ActorHealthRequest")
		ctx.Respond(domain.ActorHealthResponse{
			Id:      domain.ACTOR_ID_HISTORY,
			Healthy: true,
			State:   state.Name(),
		})
	case domain.StoreSnapshotRequest:
		state.actor.logger.Debug("history@streaming StoreSnapshotRequest", zap.Int("functions", msg.Snapshot.Len()))
		for _, fn := range msg.Snapshot.Functions {
			if !fn.HasSample() {
				continue
			}
			state.actor.writer.WriteFunctionSample(fn)
		}
		if ctx.Sender() != nil {
			ctx.Respond(domain.StoreSnapshotResponse{})
		}
	case *actor.Stopping:
		state.actor.writer.Flush()
		state.actor.writer.Close()
	case *actor.Restarting:
		state.actor.writer.Close()
	default:
		state.actor.logger.Debug("history@streaming: recv", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

// Degraded state

type HistDegradedState struct {
	ActorState
	actor *HistoryActor
}

func (state HistDegradedState) Name() string {
	return "degraded"
}

func (state HistDegradedState) Receive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.ActorHealthRequest:
		state.actor.logger.Debug("history@degraded: ActorHealthRequest")
		ctx.Respond(domain.ActorHealthResponse{
			Id:      domain.ACTOR_ID_HISTORY,
			Healthy: true,
			State:   state.Name(),
		})
	case domain.StoreSnapshotRequest:
		// dropped, not buffered. history misses a window instead of growing
		// unbounded while the sink is down
		state.actor.logger.Debug("history@degraded dropping snapshot")
		if ctx.Sender() != nil {
			ctx.Respond(domain.StoreSnapshotResponse{
				ActorResponseMixIn: domain.ActorResponseMixIn{
					ResponseError: errors.New("history sink degraded"),
				},
			})
		}
	case historyReconnectTick:
		state.actor.logger.Debug("history@degraded reconnect tick")
		state.actor.startConnect(ctx)
		state.actor.Become(HistConnectingState{
			actor: state.actor,
		})
	case *actor.Stopping:
		state.actor.writer.Close()
	case *actor.Restarting:
		state.actor.writer.Close()
	default:
		state.actor.logger.Debug("history@degraded: recv", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}
