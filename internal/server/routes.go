package server

import (
	"errors"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/berfenger/lynx2mqtt/internal/core/domain"
	"github.com/berfenger/lynx2mqtt/internal/metrics"
	"github.com/berfenger/lynx2mqtt/pkg/lynx"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var errUnexpectedResponse = errors.New("unexpected actor response")

func (s *Server) RegisterRoutes() http.Handler {
	e := echo.New()
	if s.httpLog {
		e.Use(middleware.Logger())
	}
	e.Use(middleware.Recover())

	e.GET("/healthcheck", s.HealthCheckHandler)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	api := e.Group("/api")
	api.GET("/snapshot", s.SnapshotHandler)
	api.POST("/device", s.CreateDeviceHandler)
	api.DELETE("/device/:id", s.DeleteDeviceHandler)
	api.PUT("/device/:id/meta/:key", s.SetDeviceMetaHandler)
	api.POST("/function", s.CreateFunctionHandler)
	api.DELETE("/function/:id", s.DeleteFunctionHandler)
	api.PUT("/function/:id/meta/:key", s.SetFunctionMetaHandler)
	api.POST("/function/:id/assign", s.AssignFunctionHandler)

	return e
}

// request/response bodies

type createDeviceBody struct {
	InstallationID int64             `json:"installation_id"`
	Type           string            `json:"type"`
	Name           string            `json:"name"`
	Meta           map[string]string `json:"meta"`
}

type createFunctionBody struct {
	InstallationID int64             `json:"installation_id"`
	Type           string            `json:"type"`
	Name           string            `json:"name"`
	TopicRead      string            `json:"topic_read"`
	DeviceID       int64             `json:"device_id"`
	Meta           map[string]string `json:"meta"`
}

type setMetaBody struct {
	InstallationID int64  `json:"installation_id"`
	Value          string `json:"value"`
	Protected      bool   `json:"protected"`
	Silent         bool   `json:"silent"`
}

type assignFunctionBody struct {
	InstallationID int64 `json:"installation_id"`
	DeviceID       int64 `json:"device_id"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type snapshotResponse struct {
	InstallationID int64              `json:"installation_id"`
	TakenAt        time.Time          `json:"taken_at"`
	Functions      []snapshotFunction `json:"functions"`
}

type snapshotFunction struct {
	FunctionID int64   `json:"function_id"`
	Type       string  `json:"type"`
	Name       string  `json:"name"`
	TopicRead  string  `json:"topic_read"`
	DeviceID   int64   `json:"device_id,omitempty"`
	Value      float64 `json:"value"`
	Msg        string  `json:"msg,omitempty"`
	Timestamp  float64 `json:"timestamp"`
}

// handlers

func (s *Server) HealthCheckHandler(c echo.Context) error {
	res, err := s.rootContext.RequestFuture(s.masterActor, domain.ActorHealthRequest{}, 10*time.Second).Result()
	if err != nil {
		return c.String(http.StatusServiceUnavailable, "health_check: FAIL")
	}
	if response, ok := res.(domain.ActorHealthResponse); ok && response.Healthy {
		return c.String(http.StatusOK, "health_check: OK")
	}
	return c.String(http.StatusServiceUnavailable, "health_check: FAIL")
}

func (s *Server) SnapshotHandler(c echo.Context) error {
	res, err := s.ask(domain.GetSnapshotRequest{})
	if err != nil {
		return s.askFailed(c, "snapshot", err)
	}
	resp, ok := res.(domain.GetSnapshotResponse)
	if !ok {
		return s.lynxError(c, "snapshot", errUnexpectedResponse)
	}
	if resp.Snapshot == nil {
		metrics.IncServiceRequest("snapshot", metrics.ResultError)
		return c.JSON(http.StatusServiceUnavailable, errorResponse{Error: "no poll cycle has completed yet"})
	}
	metrics.IncServiceRequest("snapshot", metrics.ResultSuccess)
	return c.JSON(http.StatusOK, snapshotToResponse(resp.Snapshot))
}

func (s *Server) CreateDeviceHandler(c echo.Context) error {
	var body createDeviceBody
	if err := c.Bind(&body); err != nil {
		return s.badRequest(c, "create_device", "invalid request body")
	}
	if body.Type == "" {
		return s.badRequest(c, "create_device", "type is required")
	}
	res, err := s.ask(domain.CreateDeviceRequest{
		InstallationID: body.InstallationID,
		Type:           body.Type,
		Name:           body.Name,
		Meta:           lynx.Meta(body.Meta),
	})
	if err != nil {
		return s.askFailed(c, "create_device", err)
	}
	resp, ok := res.(domain.CreateDeviceResponse)
	if !ok {
		return s.lynxError(c, "create_device", errUnexpectedResponse)
	}
	if resp.HasResponseError() {
		return s.lynxError(c, "create_device", resp.GetResponseError())
	}
	s.triggerPoll()
	metrics.IncServiceRequest("create_device", metrics.ResultSuccess)
	return c.JSON(http.StatusCreated, resp.Device)
}

func (s *Server) DeleteDeviceHandler(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return s.badRequest(c, "delete_device", "invalid device id")
	}
	res, err := s.ask(domain.DeleteDeviceRequest{
		InstallationID: queryInstallation(c),
		DeviceID:       id,
	})
	if err != nil {
		return s.askFailed(c, "delete_device", err)
	}
	resp, ok := res.(domain.DeleteDeviceResponse)
	if !ok {
		return s.lynxError(c, "delete_device", errUnexpectedResponse)
	}
	if resp.HasResponseError() {
		return s.lynxError(c, "delete_device", resp.GetResponseError())
	}
	s.triggerPoll()
	metrics.IncServiceRequest("delete_device", metrics.ResultSuccess)
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) SetDeviceMetaHandler(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return s.badRequest(c, "set_device_meta", "invalid device id")
	}
	var body setMetaBody
	if err := c.Bind(&body); err != nil {
		return s.badRequest(c, "set_device_meta", "invalid request body")
	}
	res, err := s.ask(domain.SetDeviceMetaRequest{
		InstallationID: body.InstallationID,
		DeviceID:       id,
		Key:            c.Param("key"),
		Value:          body.Value,
		Protected:      body.Protected,
		Silent:         body.Silent,
	})
	if err != nil {
		return s.askFailed(c, "set_device_meta", err)
	}
	resp, ok := res.(domain.SetDeviceMetaResponse)
	if !ok {
		return s.lynxError(c, "set_device_meta", errUnexpectedResponse)
	}
	if resp.HasResponseError() {
		return s.lynxError(c, "set_device_meta", resp.GetResponseError())
	}
	s.triggerPoll()
	metrics.IncServiceRequest("set_device_meta", metrics.ResultSuccess)
	return c.JSON(http.StatusOK, resp.Meta)
}

func (s *Server) CreateFunctionHandler(c echo.Context) error {
	var body createFunctionBody
	if err := c.Bind(&body); err != nil {
		return s.badRequest(c, "create_function", "invalid request body")
	}
	if body.Type == "" {
		return s.badRequest(c, "create_function", "type is required")
	}
	if body.TopicRead == "" {
		return s.badRequest(c, "create_function", "topic_read is required")
	}
	res, err := s.ask(domain.CreateFunctionRequest{
		InstallationID: body.InstallationID,
		Type:           body.Type,
		Name:           body.Name,
		TopicRead:      body.TopicRead,
		DeviceID:       body.DeviceID,
		Meta:           lynx.Meta(body.Meta),
	})
	if err != nil {
		return s.askFailed(c, "create_function", err)
	}
	resp, ok := res.(domain.CreateFunctionResponse)
	if !ok {
		return s.lynxError(c, "create_function", errUnexpectedResponse)
	}
	if resp.HasResponseError() {
		return s.lynxError(c, "create_function", resp.GetResponseError())
	}
	s.triggerPoll()
	metrics.IncServiceRequest("create_function", metrics.ResultSuccess)
	return c.JSON(http.StatusCreated, resp.Function)
}

func (s *Server) DeleteFunctionHandler(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return s.badRequest(c, "delete_function", "invalid function id")
	}
	res, err := s.ask(domain.DeleteFunctionRequest{
		InstallationID: queryInstallation(c),
		FunctionID:     id,
	})
	if err != nil {
		return s.askFailed(c, "delete_function", err)
	}
	resp, ok := res.(domain.DeleteFunctionResponse)
	if !ok {
		return s.lynxError(c, "delete_function", errUnexpectedResponse)
	}
	if resp.HasResponseError() {
		return s.lynxError(c, "delete_function", resp.GetResponseError())
	}
	s.triggerPoll()
	metrics.IncServiceRequest("delete_function", metrics.ResultSuccess)
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) SetFunctionMetaHandler(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return s.badRequest(c, "set_function_meta", "invalid function id")
	}
	var body setMetaBody
	if err := c.Bind(&body); err != nil {
		return s.badRequest(c, "set_function_meta", "invalid request body")
	}
	res, err := s.ask(domain.SetFunctionMetaRequest{
		InstallationID: body.InstallationID,
		FunctionID:     id,
		Key:            c.Param("key"),
		Value:          body.Value,
		Protected:      body.Protected,
		Silent:         body.Silent,
	})
	if err != nil {
		return s.askFailed(c, "set_function_meta", err)
	}
	resp, ok := res.(domain.SetFunctionMetaResponse)
	if !ok {
		return s.lynxError(c, "set_function_meta", errUnexpectedResponse)
	}
	if resp.HasResponseError() {
		return s.lynxError(c, "set_function_meta", resp.GetResponseError())
	}
	s.triggerPoll()
	metrics.IncServiceRequest("set_function_meta", metrics.ResultSuccess)
	return c.JSON(http.StatusOK, resp.Meta)
}

func (s *Server) AssignFunctionHandler(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return s.badRequest(c, "assign_function", "invalid function id")
	}
	var body assignFunctionBody
	if err := c.Bind(&body); err != nil {
		return s.badRequest(c, "assign_function", "invalid request body")
	}
	if body.DeviceID <= 0 {
		return s.badRequest(c, "assign_function", "device_id is required")
	}
	res, err := s.ask(domain.AssignFunctionRequest{
		InstallationID: body.InstallationID,
		FunctionID:     id,
		DeviceID:       body.DeviceID,
	})
	if err != nil {
		return s.askFailed(c, "assign_function", err)
	}
	resp, ok := res.(domain.AssignFunctionResponse)
	if !ok {
		return s.lynxError(c, "assign_function", errUnexpectedResponse)
	}
	if resp.HasResponseError() {
		return s.lynxError(c, "assign_function", resp.GetResponseError())
	}
	s.triggerPoll()
	metrics.IncServiceRequest("assign_function", metrics.ResultSuccess)
	return c.JSON(http.StatusOK, resp.Meta)
}

// helpers

func (s *Server) ask(msg any) (any, error) {
	return s.rootContext.RequestFuture(s.masterActor, msg, s.requestTimeout).Result()
}

// triggerPoll nudges the poller after a mutation so Home Assistant converges
// without waiting for the next tick.
func (s *Server) triggerPoll() {
	s.rootContext.Send(s.masterActor, domain.PollNowRequest{})
}

func (s *Server) badRequest(c echo.Context, route string, msg string) error {
	metrics.IncServiceRequest(route, metrics.ResultError)
	return c.JSON(http.StatusBadRequest, errorResponse{Error: msg})
}

// askFailed covers the actor side failing to answer at all.
func (s *Server) askFailed(c echo.Context, route string, err error) error {
	metrics.IncServiceRequest(route, metrics.ResultError)
	return c.JSON(http.StatusServiceUnavailable, errorResponse{Error: err.Error()})
}

func (s *Server) lynxError(c echo.Context, route string, err error) error {
	metrics.IncServiceRequest(route, metrics.ResultError)
	return c.JSON(statusForError(err), errorResponse{Error: err.Error()})
}

// statusForError maps the lynx client error taxonomy onto HTTP statuses.
// Anything that is not an API response counts as Lynx being unreachable.
func statusForError(err error) int {
	var apiErr *lynx.APIError
	switch {
	case lynx.IsAuthError(err):
		return http.StatusUnauthorized
	case lynx.IsNotFound(err):
		return http.StatusNotFound
	case lynx.IsRejected(err):
		return http.StatusBadRequest
	case errors.As(err, &apiErr):
		return http.StatusInternalServerError
	case errors.Is(err, errUnexpectedResponse):
		return http.StatusInternalServerError
	default:
		return http.StatusBadGateway
	}
}

func pathID(c echo.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.New("invalid id")
	}
	return id, nil
}

func queryInstallation(c echo.Context) int64 {
	id, err := strconv.ParseInt(c.QueryParam("installation_id"), 10, 64)
	if err != nil {
		return 0
	}
	return id
}

func snapshotToResponse(snapshot *domain.Snapshot) snapshotResponse {
	functions := make([]snapshotFunction, 0, snapshot.Len())
	for _, fn := range snapshot.Functions {
		functions = append(functions, snapshotFunction{
			FunctionID: fn.FunctionID,
			Type:       fn.Type,
			Name:       fn.Name,
			TopicRead:  fn.TopicRead,
			DeviceID:   fn.DeviceID,
			Value:      fn.Value,
			Msg:        fn.Msg,
			Timestamp:  fn.Timestamp,
		})
	}
	sort.Slice(functions, func(i, j int) bool {
		return functions[i].FunctionID < functions[j].FunctionID
	})
	return snapshotResponse{
		InstallationID: snapshot.InstallationID,
		TakenAt:        snapshot.TakenAt,
		Functions:      functions,
	}
}
