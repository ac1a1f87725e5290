package history

import (
	"context"
	"fmt"
	"strconv"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"go.uber.org/zap"

	"github.com/berfenger/lynx2mqtt/internal/config"
	"github.com/berfenger/lynx2mqtt/internal/core/domain"
	"github.com/berfenger/lynx2mqtt/internal/core/port"
)

const (
	connectTimeout      = 10 * time.Second
	pingTimeout         = 5 * time.Second
	batchSize           = 100
	flushIntervalMillis = 10_000

	measurementFunctionValue = "function_value"
)

// InfluxHistoryWriter stores function samples in InfluxDB v2. Points go
// through the non-blocking write API, so a slow or down server never stalls
// the poll loop.
type InfluxHistoryWriter struct {
	cfg      config.HistoryConfig
	logger   *zap.Logger
	client   influxdb2.Client
	writeAPI api.WriteAPI
}

func NewInfluxHistoryWriter(cfg config.HistoryConfig, logger *zap.Logger) *InfluxHistoryWriter {
	return &InfluxHistoryWriter{
		cfg:    cfg,
		logger: logger.With(zap.String("adapter", "influx")),
	}
}

func (w *InfluxHistoryWriter) Connect(ctx context.Context) error {
	client := influxdb2.NewClientWithOptions(w.cfg.URL, w.cfg.Token,
		influxdb2.DefaultOptions().
			SetBatchSize(batchSize).
			SetFlushInterval(flushIntervalMillis))

	pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	healthy, err := client.Ping(pingCtx)
	if err != nil {
		client.Close()
		return fmt.Errorf("influx ping: %w", err)
	}
	if !healthy {
		client.Close()
		return fmt.Errorf("influx ping: server not healthy")
	}

	w.client = client
	w.writeAPI = client.WriteAPI(w.cfg.Org, w.cfg.Bucket)
	go w.drainWriteErrors(w.writeAPI.Errors())
	return nil
}

// drainWriteErrors logs async write failures. The channel closes with the
// client.
func (w *InfluxHistoryWriter) drainWriteErrors(errors <-chan error) {
	for err := range errors {
		w.logger.Warn("history write error", zap.Error(err))
	}
}

func (w *InfluxHistoryWriter) WriteFunctionSample(state domain.FunctionState) {
	if w.writeAPI == nil || !state.HasSample() {
		return
	}
	fields := map[string]any{
		"value": state.Value,
	}
	if state.Msg != "" {
		fields["msg"] = state.Msg
	}
	point := write.NewPoint(measurementFunctionValue,
		map[string]string{
			"installation_id": strconv.FormatInt(state.InstallationID, 10),
			"function_id":     strconv.FormatInt(state.FunctionID, 10),
			"type":            state.Type,
			"topic":           state.TopicRead,
		},
		fields,
		sampleTime(state.Timestamp))
	w.writeAPI.WritePoint(point)
}

func (w *InfluxHistoryWriter) Flush() {
	if w.writeAPI != nil {
		w.writeAPI.Flush()
	}
}

func (w *InfluxHistoryWriter) HealthCheck(ctx context.Context) error {
	if w.client == nil {
		return fmt.Errorf("influx: not connected")
	}
	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	healthy, err := w.client.Ping(pingCtx)
	if err != nil {
		return fmt.Errorf("influx ping: %w", err)
	}
	if !healthy {
		return fmt.Errorf("influx ping: server not healthy")
	}
	return nil
}

func (w *InfluxHistoryWriter) Close() {
	if w.client == nil {
		return
	}
	w.writeAPI.Flush()
	w.client.Close()
	w.client = nil
	w.writeAPI = nil
}

// sampleTime converts a Lynx epoch-seconds timestamp with fraction.
func sampleTime(timestamp float64) time.Time {
	sec := int64(timestamp)
	nsec := int64((timestamp - float64(sec)) * float64(time.Second))
	return time.Unix(sec, nsec)
}

// ensure interface compliance
var _ port.HistoryWriter = (*InfluxHistoryWriter)(nil)
