package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/berfenger/lynx2mqtt/internal/core/domain"
	"github.com/berfenger/lynx2mqtt/pkg/lynx"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/stretchr/testify/assert"
)

// stubMaster stands in for the master actor so routes can be exercised
// without a Lynx installation behind them.
type stubMaster struct {
	pollRequests atomic.Int32
}

func (s *stubMaster) receive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.ActorHealthRequest:
		ctx.Respond(domain.ActorHealthResponse{Id: "master", Healthy: true})
	case domain.GetSnapshotRequest:
		ctx.Respond(domain.GetSnapshotResponse{
			Snapshot: &domain.Snapshot{
				InstallationID: 42,
				TakenAt:        time.Now(),
				Functions: map[int64]domain.FunctionState{
					1001: {
						FunctionID:     1001,
						InstallationID: 42,
						Type:           "temperature",
						Name:           "Office Temp",
						TopicRead:      "obj/temp/office",
						Value:          21.5,
						Timestamp:      1700000000.5,
					},
				},
			},
		})
	case domain.PollNowRequest:
		s.pollRequests.Add(1)
	case domain.CreateDeviceRequest:
		ctx.Respond(domain.CreateDeviceResponse{
			Device: &lynx.Device{
				ID:             9001,
				InstallationID: 42,
				Type:           msg.Type,
				Meta:           lynx.Meta{"name": msg.Name},
			},
		})
	case domain.DeleteDeviceRequest:
		if msg.DeviceID == 77 {
			ctx.Respond(domain.DeleteDeviceResponse{})
		} else {
			ctx.Respond(domain.DeleteDeviceResponse{
				ActorResponseMixIn: domain.ActorResponseMixIn{
					ResponseError: &lynx.APIError{StatusCode: 404, Method: "DELETE", Path: "/api/v2/devicex/42/9999"},
				},
			})
		}
	case domain.SetFunctionMetaRequest:
		ctx.Respond(domain.SetFunctionMetaResponse{
			Meta: &lynx.MetaValue{Value: msg.Value, Protected: msg.Protected},
		})
	case domain.AssignFunctionRequest:
		ctx.Respond(domain.AssignFunctionResponse{
			Meta: &lynx.MetaValue{Value: "77"},
		})
	}
}

func newTestServer(t *testing.T) (*actor.ActorSystem, *stubMaster, http.Handler) {
	as := actor.NewActorSystem()
	master := &stubMaster{}
	pid, err := as.Root.SpawnNamed(actor.PropsFromFunc(master.receive), "master")
	if err != nil {
		t.Fatal(err)
	}

	srv := &Server{
		port:           8080,
		requestTimeout: 2 * time.Second,
		rootContext:    as.Root,
		masterActor:    pid,
	}
	return as, master, srv.RegisterRoutes()
}

func doRequest(handler http.Handler, method string, target string, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestHealthCheckRoute(t *testing.T) {
	as, _, handler := newTestServer(t)
	defer as.Shutdown()

	rec := doRequest(handler, http.MethodGet, "/healthcheck", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "OK")
}

func TestSnapshotRoute(t *testing.T) {
	as, _, handler := newTestServer(t)
	defer as.Shutdown()

	rec := doRequest(handler, http.MethodGet, "/api/snapshot", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	var resp snapshotResponse
	assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, int64(42), resp.InstallationID)
	if assert.Len(t, resp.Functions, 1) {
		assert.Equal(t, int64(1001), resp.Functions[0].FunctionID)
		assert.Equal(t, 21.5, resp.Functions[0].Value)
	}
}

func TestCreateDeviceRoute(t *testing.T) {
	as, master, handler := newTestServer(t)
	defer as.Shutdown()

	rec := doRequest(handler, http.MethodPost, "/api/device",
		`{"type":"powermeter","name":"Garage Meter"}`)
	assert.Equal(t, http.StatusCreated, rec.Code)

	var dev lynx.Device
	assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &dev))
	assert.Equal(t, "powermeter", dev.Type)
	assert.Equal(t, "Garage Meter", dev.Meta["name"])

	// mutations nudge the poller so HA converges without waiting a tick
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, int32(1), master.pollRequests.Load())
}

func TestCreateDeviceRouteRequiresType(t *testing.T) {
	as, master, handler := newTestServer(t)
	defer as.Shutdown()

	rec := doRequest(handler, http.MethodPost, "/api/device", `{"name":"No Type"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, int32(0), master.pollRequests.Load())
}

func TestDeleteDeviceRoute(t *testing.T) {
	as, _, handler := newTestServer(t)
	defer as.Shutdown()

	rec := doRequest(handler, http.MethodDelete, "/api/device/77", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestDeleteDeviceRouteNotFound(t *testing.T) {
	as, master, handler := newTestServer(t)
	defer as.Shutdown()

	rec := doRequest(handler, http.MethodDelete, "/api/device/9999", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// a rejected mutation must not trigger a poll
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, int32(0), master.pollRequests.Load())
}

func TestDeleteDeviceRouteInvalidID(t *testing.T) {
	as, _, handler := newTestServer(t)
	defer as.Shutdown()

	rec := doRequest(handler, http.MethodDelete, "/api/device/abc", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSetFunctionMetaRoute(t *testing.T) {
	as, _, handler := newTestServer(t)
	defer as.Shutdown()

	rec := doRequest(handler, http.MethodPut, "/api/function/1001/meta/unit",
		`{"value":"°C","protected":true}`)
	assert.Equal(t, http.StatusOK, rec.Code)

	var meta lynx.MetaValue
	assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &meta))
	assert.Equal(t, "°C", meta.Value)
	assert.True(t, meta.Protected)
}

func TestAssignFunctionRoute(t *testing.T) {
	as, _, handler := newTestServer(t)
	defer as.Shutdown()

	rec := doRequest(handler, http.MethodPost, "/api/function/1001/assign",
		`{"device_id":77}`)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAssignFunctionRouteRequiresDeviceID(t *testing.T) {
	as, _, handler := newTestServer(t)
	defer as.Shutdown()

	rec := doRequest(handler, http.MethodPost, "/api/function/1001/assign", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStatusForErrorMapping(t *testing.T) {
	assert.Equal(t, http.StatusUnauthorized, statusForError(&lynx.APIError{StatusCode: 401}))
	assert.Equal(t, http.StatusUnauthorized, statusForError(&lynx.APIError{StatusCode: 403}))
	assert.Equal(t, http.StatusNotFound, statusForError(&lynx.APIError{StatusCode: 404}))
	assert.Equal(t, http.StatusBadRequest, statusForError(&lynx.APIError{StatusCode: 422}))
	assert.Equal(t, http.StatusInternalServerError, statusForError(&lynx.APIError{StatusCode: 500}))
	assert.Equal(t, http.StatusBadGateway, statusForError(assert.AnError))
}
