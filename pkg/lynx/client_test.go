package lynx

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestListFunctions(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "key123", r.Header.Get("X-API-Key"))
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/api/v2/functionx/42", r.URL.Path)
		_, _ = w.Write([]byte(`[
			{"id": 1, "installation_id": 42, "type": "temperature", "meta": {"name": "Temp", "topic_read": "obj/temp"}},
			{"id": 2, "installation_id": 42, "type": "switch", "meta": {"topic_read": "obj/sw", "topic_write": "set/obj/sw"}}
		]`))
	}))
	defer server.Close()

	client := testHTTPClient(t, server.URL)

	fns, err := client.ListFunctions(context.Background(), 42)
	assert.NoError(t, err)
	assert.Len(t, fns, 2)
	assert.Equal(t, int64(1), fns[0].ID)
	assert.Equal(t, "Temp", fns[0].Name())
	assert.Equal(t, "Function 2", fns[1].Name())
	assert.Equal(t, "set/obj/sw", fns[1].Meta.GetOr("topic_write", ""))
}

func TestCreateFunction(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v2/functionx/42", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		body, _ := io.ReadAll(r.Body)
		var req map[string]any
		assert.NoError(t, json.Unmarshal(body, &req))
		assert.Equal(t, float64(42), req["installation_id"])
		assert.Equal(t, "temperature", req["type"])
		meta := req["meta"].(map[string]any)
		assert.Equal(t, "obj/temp", meta["topic_read"])

		_, _ = w.Write([]byte(`{"id": 9001, "installation_id": 42, "type": "temperature", "meta": {"topic_read": "obj/temp"}}`))
	}))
	defer server.Close()

	client := testHTTPClient(t, server.URL)

	fn, err := client.CreateFunction(context.Background(), 42, "temperature", Meta{"topic_read": "obj/temp"})
	assert.NoError(t, err)
	assert.Equal(t, int64(9001), fn.ID)
}

func TestSetFunctionMetaSilent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/api/v2/functionx/42/7/meta/device_id", r.URL.Path)
		assert.Equal(t, "true", r.URL.Query().Get("silent"))

		var mv MetaValue
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&mv))
		assert.Equal(t, "77", mv.Value)
		assert.True(t, mv.Protected)

		_ = json.NewEncoder(w).Encode(mv)
	}))
	defer server.Close()

	client := testHTTPClient(t, server.URL)

	out, err := client.SetFunctionMeta(context.Background(), 42, 7, "device_id",
		MetaValue{Value: "77", Protected: true}, true)
	assert.NoError(t, err)
	assert.Equal(t, "77", out.Value)
}

func TestStatusBatchesTopics(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v2/status/42", r.URL.Path)
		assert.Equal(t, "obj/temp,obj/sw", r.URL.Query().Get("topics"))
		_, _ = w.Write([]byte(`[
			{"topic": "obj/temp", "value": 21.5, "timestamp": 1700000000.5},
			{"topic": "obj/sw", "value": 255, "timestamp": 1700000001}
		]`))
	}))
	defer server.Close()

	client := testHTTPClient(t, server.URL)

	statuses, err := client.Status(context.Background(), 42, []string{"obj/temp", "obj/sw"})
	assert.NoError(t, err)
	assert.Len(t, statuses, 2)
	assert.Equal(t, 21.5, statuses[0].Value)
	assert.Equal(t, 1700000000.5, statuses[0].Timestamp)
}

func TestStatusNoTopicsSkipsRequest(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("unexpected request with no topics")
	}))
	defer server.Close()

	client := testHTTPClient(t, server.URL)

	statuses, err := client.Status(context.Background(), 42, nil)
	assert.NoError(t, err)
	assert.Empty(t, statuses)
}

func TestDeleteFunctionToleratesEmptyBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	client := testHTTPClient(t, server.URL)

	assert.NoError(t, client.DeleteFunction(context.Background(), 42, 7))
}

func TestErrorClassification(t *testing.T) {
	status := http.StatusUnauthorized
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"message": "nope"}`))
	}))
	defer server.Close()

	client := testHTTPClient(t, server.URL)

	err := client.ValidateAccess(context.Background(), 42)
	assert.True(t, IsAuthError(err))
	assert.False(t, IsNotFound(err))
	assert.False(t, IsRejected(err))

	status = http.StatusForbidden
	err = client.ValidateAccess(context.Background(), 42)
	assert.True(t, IsAuthError(err))

	status = http.StatusNotFound
	_, err = client.GetFunction(context.Background(), 42, 1)
	assert.True(t, IsNotFound(err))
	assert.False(t, IsAuthError(err))

	status = http.StatusUnprocessableEntity
	_, err = client.CreateFunction(context.Background(), 42, "x", nil)
	assert.True(t, IsRejected(err))
}

func TestTransportErrorIsNotAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close()

	client := testHTTPClient(t, server.URL)

	err := client.ValidateAccess(context.Background(), 42)
	assert.Error(t, err)
	assert.False(t, IsAuthError(err))
	assert.False(t, IsNotFound(err))
	assert.False(t, IsRejected(err))
}

func TestInstrumentRecordsCalls(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[]`))
	}))
	defer server.Close()

	var ops []string
	client, err := CreateHTTPClient(server.URL, "key123", 2*time.Second, nil, []Instrument{{
		RecordTime: func(op string, _ time.Duration, err error) {
			assert.NoError(t, err)
			ops = append(ops, op)
		},
	}})
	assert.NoError(t, err)

	_, err = client.ListFunctions(context.Background(), 42)
	assert.NoError(t, err)
	assert.Equal(t, []string{"ListFunctions"}, ops)
}

func testHTTPClient(t *testing.T, baseURL string) *HTTPClient {
	client, err := CreateHTTPClient(baseURL, "key123", 2*time.Second, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	return client
}
