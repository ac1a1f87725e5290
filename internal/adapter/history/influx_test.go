package history

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/berfenger/lynx2mqtt/internal/config"
	"github.com/berfenger/lynx2mqtt/internal/core/domain"
)

func TestSampleTime(t *testing.T) {

	ts := sampleTime(1700000000.5)
	assert.EqualValues(t, 1700000000, ts.Unix())
	assert.EqualValues(t, 500*time.Millisecond, time.Duration(ts.Nanosecond()))

	ts = sampleTime(1700000000)
	assert.EqualValues(t, 0, ts.Nanosecond())
}

func TestWriterWithoutConnection(t *testing.T) {

	require := require.New(t)

	w := NewInfluxHistoryWriter(config.HistoryConfig{
		URL:    "http://127.0.0.1:59999",
		Token:  "token",
		Org:    "org",
		Bucket: "bucket",
	}, zap.Must(zap.NewDevelopment()))

	// all operations must be safe before Connect
	w.WriteFunctionSample(domain.FunctionState{
		FunctionID: 1001,
		Value:      21.5,
		Timestamp:  1700000000,
	})
	w.Flush()
	w.Close()

	require.Error(w.HealthCheck(context.Background()))
}

func TestConnectUnreachableServer(t *testing.T) {

	w := NewInfluxHistoryWriter(config.HistoryConfig{
		URL:    "http://127.0.0.1:59999",
		Token:  "token",
		Org:    "org",
		Bucket: "bucket",
	}, zap.Must(zap.NewDevelopment()))

	require.Error(t, w.Connect(context.Background()))
}
