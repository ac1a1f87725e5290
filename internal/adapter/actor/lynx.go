package actor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/berfenger/lynx2mqtt/internal/core/domain"
	"github.com/berfenger/lynx2mqtt/internal/util/actorutil"
	"github.com/berfenger/lynx2mqtt/pkg/lynx"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/reugn/go-quartz/logger"
	"go.uber.org/zap"
)

// LynxActor owns all access to the installation: the REST API for reads and
// management, and the installation broker for switch writes. Requests run as
// background tasks so one slow call cannot wedge the mailbox forever.
type LynxActor struct {
	behavior       actor.Behavior
	stash          *actorutil.Stash
	client         lynx.Client
	publisher      lynx.CommandPublisher
	installationID int64
	taskTimeout    time.Duration
	logger         *zap.Logger
}

type backgroundTaskResult struct {
	message any
	replyTo *actor.PID
}

type brokerConnectResult struct {
	err error
}

func NewLynxActor(client lynx.Client, publisher lynx.CommandPublisher, installationID int64,
	requestTimeout time.Duration, logger *zap.Logger) *LynxActor {
	act := &LynxActor{
		client:         client,
		publisher:      publisher,
		installationID: installationID,
		taskTimeout:    requestTimeout + 2*time.Second,
		behavior:       actor.NewBehavior(),
		stash:          &actorutil.Stash{},
		logger:         actorutil.ActorLogger(domain.ACTOR_ID_LYNX, logger),
	}
	act.behavior.Become(act.StartingReceive)
	return act
}

func (state *LynxActor) Receive(context actor.Context) {
	state.behavior.Receive(context)
}

func (state *LynxActor) StartingReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.logger.Debug("lynx@starting started")
		if err := state.client.ValidateAccess(context.Background(), state.installationID); err != nil {
			if lynx.IsAuthError(err) {
				// a rejected key never heals by retrying, stop for good
				state.logger.Error("lynx@starting invalid_auth", zap.Error(err))
				ctx.Stop(ctx.Self())
				return
			}
			state.logger.Error("lynx@starting cannot_connect", zap.Error(err))
			panic(fmt.Errorf("lynx access check: %w", err))
		}
		if state.publisher != nil {
			// broker connect failures are not fatal, polling still works
			state.publisher.Connect(func(err error) {
				ctx.Send(ctx.Self(), brokerConnectResult{err: err})
			}, 10*time.Second)
		} else {
			state.behavior.Become(state.DefaultReceive)
			state.stash.UnstashAll(ctx)
		}
	case brokerConnectResult:
		if msg.err != nil {
			state.logger.Warn("lynx@starting broker connect failed, switch commands degraded", zap.Error(msg.err))
		} else {
			state.logger.Debug("lynx@starting broker connected")
		}
		state.behavior.Become(state.DefaultReceive)
		state.stash.UnstashAll(ctx)
	case *actor.Restarting:
		state.disconnectPublisher()
	default:
		state.logger.Debug("lynx@starting: stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *LynxActor) DefaultReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.ActorHealthRequest:
		state.logger.Debug("lynx@default: ActorHealthRequest")
		ctx.Respond(domain.ActorHealthResponse{
			Id:      domain.ACTOR_ID_LYNX,
			Healthy: true,
			State:   "idle",
		})
	case domain.ListFunctionsRequest:
		state.logger.Debug("lynx@default: ListFunctionsRequest")
		runLynxTask(state, ctx, msg, state.listFunctions(msg))
	case domain.ListDevicesRequest:
		state.logger.Debug("lynx@default: ListDevicesRequest")
		runLynxTask(state, ctx, msg, state.listDevices(msg))
	case domain.GetStatusRequest:
		state.logger.Debug("lynx@default: GetStatusRequest")
		runLynxTask(state, ctx, msg, state.getStatus(msg))
	case domain.CreateDeviceRequest:
		state.logger.Debug("lynx@default: CreateDeviceRequest")
		runLynxTask(state, ctx, msg, state.createDevice(msg))
	case domain.DeleteDeviceRequest:
		state.logger.Debug("lynx@default: DeleteDeviceRequest")
		runLynxTask(state, ctx, msg, state.deleteDevice(msg))
	case domain.CreateFunctionRequest:
		state.logger.Debug("lynx@default: CreateFunctionRequest")
		runLynxTask(state, ctx, msg, state.createFunction(msg))
	case domain.DeleteFunctionRequest:
		state.logger.Debug("lynx@default: DeleteFunctionRequest")
		runLynxTask(state, ctx, msg, state.deleteFunction(msg))
	case domain.AssignFunctionRequest:
		state.logger.Debug("lynx@default: AssignFunctionRequest")
		runLynxTask(state, ctx, msg, state.assignFunction(msg))
	case domain.SetFunctionMetaRequest:
		state.logger.Debug("lynx@default: SetFunctionMetaRequest")
		runLynxTask(state, ctx, msg, state.setFunctionMeta(msg))
	case domain.SetDeviceMetaRequest:
		state.logger.Debug("lynx@default: SetDeviceMetaRequest")
		runLynxTask(state, ctx, msg, state.setDeviceMeta(msg))
	case domain.PublishWriteRequest:
		state.logger.Debug("lynx@default: PublishWriteRequest", zap.String("topic", msg.Topic))
		runLynxTask(state, ctx, msg, state.publishWrite(msg))
	case *actor.Stopping:
		state.disconnectPublisher()
	default:
		state.logger.Debug("lynx@default default recv", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

func (state *LynxActor) WaitingLynx(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case backgroundTaskResult:
		state.logger.Debug("lynx@waiting backgroundTaskResult", zap.String("type", fmt.Sprintf("%T", msg.message)))
		ctx.Send(msg.replyTo, msg.message)
		state.behavior.UnbecomeStacked()
		state.stash.UnstashAll(ctx)
	case *actor.Stopping:
		state.disconnectPublisher()
	default:
		state.logger.Debug("lynx@waiting stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

// runLynxTask runs one API call off the mailbox and pipes the response back
// to the requester, mapping failures onto the response error field.
func runLynxTask[T any](state *LynxActor, ctx actor.Context, req domain.ActorRequest, fn func() (*T, error)) {
	sender := actorutil.ForRequest(req).ReplyTo(ctx)
	actorutil.MapBackgroundTask(actorutil.NewBackgroundTask(ctx, fn),
		mapTaskResult[T](sender)).Recover(func(err error) backgroundTaskResult {
		return backgroundTaskResult{
			message: errorResponseFor(new(T), err),
			replyTo: sender,
		}
	}).WithTimeout(state.taskTimeout).PipeTo(ctx.Self())
	state.behavior.BecomeStacked(state.WaitingLynx)
}

// errorResponseFor builds the zero response of the task's type carrying err.
func errorResponseFor(zero any, err error) any {
	switch resp := zero.(type) {
	case *domain.ListFunctionsResponse:
		resp.ResponseError = err
		return *resp
	case *domain.ListDevicesResponse:
		resp.ResponseError = err
		return *resp
	case *domain.GetStatusResponse:
		resp.ResponseError = err
		return *resp
	case *domain.CreateDeviceResponse:
		resp.ResponseError = err
		return *resp
	case *domain.DeleteDeviceResponse:
		resp.ResponseError = err
		return *resp
	case *domain.CreateFunctionResponse:
		resp.ResponseError = err
		return *resp
	case *domain.DeleteFunctionResponse:
		resp.ResponseError = err
		return *resp
	case *domain.AssignFunctionResponse:
		resp.ResponseError = err
		return *resp
	case *domain.SetFunctionMetaResponse:
		resp.ResponseError = err
		return *resp
	case *domain.SetDeviceMetaResponse:
		resp.ResponseError = err
		return *resp
	case *domain.PublishWriteResponse:
		resp.ResponseError = err
		return *resp
	default:
		return domain.ActorResponseMixIn{ResponseError: err}
	}
}

func (a *LynxActor) listFunctions(msg domain.ListFunctionsRequest) func() (*domain.ListFunctionsResponse, error) {
	return func() (*domain.ListFunctionsResponse, error) {
		functions, err := a.client.ListFunctions(context.Background(), a.requestInstallation(msg.InstallationID))
		if err != nil {
			logger.Error(err)
			return nil, err
		}
		return &domain.ListFunctionsResponse{Functions: functions}, nil
	}
}

func (a *LynxActor) listDevices(msg domain.ListDevicesRequest) func() (*domain.ListDevicesResponse, error) {
	return func() (*domain.ListDevicesResponse, error) {
		devices, err := a.client.ListDevices(context.Background(), a.requestInstallation(msg.InstallationID))
		if err != nil {
			logger.Error(err)
			return nil, err
		}
		return &domain.ListDevicesResponse{Devices: devices}, nil
	}
}

func (a *LynxActor) getStatus(msg domain.GetStatusRequest) func() (*domain.GetStatusResponse, error) {
	return func() (*domain.GetStatusResponse, error) {
		statuses, err := a.client.Status(context.Background(), a.requestInstallation(msg.InstallationID), msg.Topics)
		if err != nil {
			logger.Error(err)
			return nil, err
		}
		return &domain.GetStatusResponse{Statuses: statuses}, nil
	}
}

func (a *LynxActor) createDevice(msg domain.CreateDeviceRequest) func() (*domain.CreateDeviceResponse, error) {
	return func() (*domain.CreateDeviceResponse, error) {
		meta := msg.Meta.Copy()
		if meta == nil {
			meta = lynx.Meta{}
		}
		if msg.Name != "" {
			meta["name"] = msg.Name
		}
		device, err := a.client.CreateDevice(context.Background(), a.requestInstallation(msg.InstallationID), msg.Type, meta)
		if err != nil {
			logger.Error(err)
			return nil, err
		}
		return &domain.CreateDeviceResponse{Device: device}, nil
	}
}

func (a *LynxActor) deleteDevice(msg domain.DeleteDeviceRequest) func() (*domain.DeleteDeviceResponse, error) {
	return func() (*domain.DeleteDeviceResponse, error) {
		err := a.client.DeleteDevice(context.Background(), a.requestInstallation(msg.InstallationID), msg.DeviceID)
		if err != nil {
			logger.Error(err)
			return nil, err
		}
		return &domain.DeleteDeviceResponse{}, nil
	}
}

func (a *LynxActor) createFunction(msg domain.CreateFunctionRequest) func() (*domain.CreateFunctionResponse, error) {
	return func() (*domain.CreateFunctionResponse, error) {
		meta := msg.Meta.Copy()
		if meta == nil {
			meta = lynx.Meta{}
		}
		if msg.Name != "" {
			meta["name"] = msg.Name
		}
		if msg.TopicRead != "" {
			meta["topic_read"] = msg.TopicRead
		}
		if msg.DeviceID > 0 {
			meta["device_id"] = fmt.Sprintf("%d", msg.DeviceID)
		}
		function, err := a.client.CreateFunction(context.Background(), a.requestInstallation(msg.InstallationID), msg.Type, meta)
		if err != nil {
			logger.Error(err)
			return nil, err
		}
		return &domain.CreateFunctionResponse{Function: function}, nil
	}
}

func (a *LynxActor) deleteFunction(msg domain.DeleteFunctionRequest) func() (*domain.DeleteFunctionResponse, error) {
	return func() (*domain.DeleteFunctionResponse, error) {
		err := a.client.DeleteFunction(context.Background(), a.requestInstallation(msg.InstallationID), msg.FunctionID)
		if err != nil {
			logger.Error(err)
			return nil, err
		}
		return &domain.DeleteFunctionResponse{}, nil
	}
}

// assignFunction stores the device link as function meta, the same
// convention the entity mapper groups by.
func (a *LynxActor) assignFunction(msg domain.AssignFunctionRequest) func() (*domain.AssignFunctionResponse, error) {
	return func() (*domain.AssignFunctionResponse, error) {
		value := lynx.MetaValue{Value: fmt.Sprintf("%d", msg.DeviceID)}
		meta, err := a.client.SetFunctionMeta(context.Background(), a.requestInstallation(msg.InstallationID),
			msg.FunctionID, "device_id", value, false)
		if err != nil {
			logger.Error(err)
			return nil, err
		}
		return &domain.AssignFunctionResponse{Meta: meta}, nil
	}
}

func (a *LynxActor) setFunctionMeta(msg domain.SetFunctionMetaRequest) func() (*domain.SetFunctionMetaResponse, error) {
	return func() (*domain.SetFunctionMetaResponse, error) {
		value := lynx.MetaValue{Value: msg.Value, Protected: msg.Protected}
		meta, err := a.client.SetFunctionMeta(context.Background(), a.requestInstallation(msg.InstallationID),
			msg.FunctionID, msg.Key, value, msg.Silent)
		if err != nil {
			logger.Error(err)
			return nil, err
		}
		return &domain.SetFunctionMetaResponse{Meta: meta}, nil
	}
}

func (a *LynxActor) setDeviceMeta(msg domain.SetDeviceMetaRequest) func() (*domain.SetDeviceMetaResponse, error) {
	return func() (*domain.SetDeviceMetaResponse, error) {
		value := lynx.MetaValue{Value: msg.Value, Protected: msg.Protected}
		meta, err := a.client.SetDeviceMeta(context.Background(), a.requestInstallation(msg.InstallationID),
			msg.DeviceID, msg.Key, value, msg.Silent)
		if err != nil {
			logger.Error(err)
			return nil, err
		}
		return &domain.SetDeviceMetaResponse{Meta: meta}, nil
	}
}

func (a *LynxActor) publishWrite(msg domain.PublishWriteRequest) func() (*domain.PublishWriteResponse, error) {
	return func() (*domain.PublishWriteResponse, error) {
		if a.publisher == nil {
			return nil, errors.New("no command publisher configured")
		}
		errCh := make(chan error, 1)
		a.publisher.PublishValue(msg.Topic, msg.Value, func(err error) {
			errCh <- err
		}, 5*time.Second)
		if err := <-errCh; err != nil {
			logger.Error(err)
			return nil, err
		}
		return &domain.PublishWriteResponse{}, nil
	}
}

// requestInstallation substitutes the configured installation when the
// request leaves it unset.
func (a *LynxActor) requestInstallation(id int64) int64 {
	if id > 0 {
		return id
	}
	return a.installationID
}

func (state *LynxActor) disconnectPublisher() {
	if state.publisher != nil {
		state.publisher.Disconnect(500 * time.Millisecond)
	}
}

func mapTaskResult[T any](sender *actor.PID) func(t *T) *backgroundTaskResult {
	return func(t *T) *backgroundTaskResult {
		return &backgroundTaskResult{
			message: *t,
			replyTo: sender,
		}
	}
}
