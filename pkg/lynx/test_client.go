package lynx

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// TestClient is an in-memory Client with a small canned installation and
// mutation recording, for actor and server tests.
type TestClient struct {
	mu sync.Mutex

	Installation Installation
	Functions    []Function
	Devices      []Device
	Statuses     []Status

	// FailWith makes every call return this error when set.
	FailWith error

	Deleted  []string
	MetaSets []TestMetaSet

	nextID int64
}

type TestMetaSet struct {
	Kind   string
	ID     int64
	Key    string
	Value  MetaValue
	Silent bool
}

func CreateTestClient(installationID int64) *TestClient {
	return &TestClient{
		Installation: Installation{
			ID:       installationID,
			ClientID: 2086,
			Name:     "Test Installation",
		},
		Functions: []Function{
			{
				ID:             1001,
				InstallationID: installationID,
				Type:           "temperature",
				Meta: Meta{
					"name":       "Office Temp",
					"topic_read": "obj/temp/office",
					"unit":       "°C",
				},
			},
			{
				ID:             1002,
				InstallationID: installationID,
				Type:           "switch",
				Meta: Meta{
					"name":        "Pump",
					"topic_read":  "obj/switch/pump",
					"topic_write": "set/obj/switch/pump",
				},
			},
			{
				ID:             1003,
				InstallationID: installationID,
				Type:           "alarm_water",
				Meta: Meta{
					"name":           "Basement Leak",
					"topic_read":     "obj/alarm/leak",
					"state_alarm":    "1",
					"state_no_alarm": "0",
					"device_id":      "77",
				},
			},
		},
		Devices: []Device{
			{
				ID:             77,
				InstallationID: installationID,
				Type:           "sensor_node",
				Meta:           Meta{"name": "Basement Node"},
			},
		},
		Statuses: []Status{
			{InstallationID: installationID, Topic: "obj/temp/office", Value: 21.5, Timestamp: 1700000000.5},
			{InstallationID: installationID, Topic: "obj/switch/pump", Value: 255, Timestamp: 1700000001},
			{InstallationID: installationID, Topic: "obj/alarm/leak", Value: 0, Timestamp: 1700000002},
		},
		nextID: 9000,
	}
}

// SetFailWith flips the failure mode while the client is in use.
func (c *TestClient) SetFailWith(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.FailWith = err
}

func (c *TestClient) failErr() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.FailWith
}

func (c *TestClient) ValidateAccess(_ context.Context, _ int64) error {
	return c.failErr()
}

func (c *TestClient) GetInstallation(_ context.Context, installationID int64) (*Installation, error) {
	if err := c.failErr(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	inst := c.Installation
	inst.ID = installationID
	return &inst, nil
}

func (c *TestClient) ListFunctions(_ context.Context, _ int64) ([]Function, error) {
	if err := c.failErr(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Function, len(c.Functions))
	copy(out, c.Functions)
	return out, nil
}

func (c *TestClient) GetFunction(_ context.Context, _ int64, functionID int64) (*Function, error) {
	if err := c.failErr(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, fn := range c.Functions {
		if fn.ID == functionID {
			out := fn
			return &out, nil
		}
	}
	return nil, &APIError{StatusCode: 404, Method: "GET", Path: fmt.Sprintf("/api/v2/functionx/_/%d", functionID)}
}

func (c *TestClient) CreateFunction(_ context.Context, installationID int64, funcType string, meta Meta) (*Function, error) {
	if err := c.failErr(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	fn := Function{
		ID:             c.nextID,
		InstallationID: installationID,
		Type:           funcType,
		Meta:           meta.Copy(),
		Created:        time.Now().Unix(),
	}
	c.Functions = append(c.Functions, fn)
	return &fn, nil
}

func (c *TestClient) UpdateFunction(_ context.Context, fn Function) (*Function, error) {
	if err := c.failErr(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.Functions {
		if c.Functions[i].ID == fn.ID {
			c.Functions[i] = fn
			out := fn
			return &out, nil
		}
	}
	return nil, &APIError{StatusCode: 404, Method: "PUT", Path: fmt.Sprintf("/api/v2/functionx/%d/%d", fn.InstallationID, fn.ID)}
}

func (c *TestClient) DeleteFunction(_ context.Context, _ int64, functionID int64) error {
	if err := c.failErr(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.Functions {
		if c.Functions[i].ID == functionID {
			c.Functions = append(c.Functions[:i], c.Functions[i+1:]...)
			c.Deleted = append(c.Deleted, fmt.Sprintf("function/%d", functionID))
			return nil
		}
	}
	return &APIError{StatusCode: 404, Method: "DELETE", Path: fmt.Sprintf("/api/v2/functionx/_/%d", functionID)}
}

func (c *TestClient) SetFunctionMeta(_ context.Context, _ int64, functionID int64,
	key string, value MetaValue, silent bool) (*MetaValue, error) {

	if err := c.failErr(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.Functions {
		if c.Functions[i].ID == functionID {
			if c.Functions[i].Meta == nil {
				c.Functions[i].Meta = Meta{}
			}
			c.Functions[i].Meta[key] = value.Value
			c.MetaSets = append(c.MetaSets, TestMetaSet{Kind: "function", ID: functionID, Key: key, Value: value, Silent: silent})
			out := value
			return &out, nil
		}
	}
	return nil, &APIError{StatusCode: 404, Method: "PUT", Path: fmt.Sprintf("/api/v2/functionx/_/%d/meta/%s", functionID, key)}
}

func (c *TestClient) ListDevices(_ context.Context, _ int64) ([]Device, error) {
	if err := c.failErr(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Device, len(c.Devices))
	copy(out, c.Devices)
	return out, nil
}

func (c *TestClient) GetDevice(_ context.Context, _ int64, deviceID int64) (*Device, error) {
	if err := c.failErr(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, dev := range c.Devices {
		if dev.ID == deviceID {
			out := dev
			return &out, nil
		}
	}
	return nil, &APIError{StatusCode: 404, Method: "GET", Path: fmt.Sprintf("/api/v2/devicex/_/%d", deviceID)}
}

func (c *TestClient) CreateDevice(_ context.Context, installationID int64, devType string, meta Meta) (*Device, error) {
	if err := c.failErr(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	dev := Device{
		ID:             c.nextID,
		InstallationID: installationID,
		Type:           devType,
		Meta:           meta.Copy(),
		Created:        time.Now().Unix(),
	}
	c.Devices = append(c.Devices, dev)
	return &dev, nil
}

func (c *TestClient) UpdateDevice(_ context.Context, dev Device) (*Device, error) {
	if err := c.failErr(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.Devices {
		if c.Devices[i].ID == dev.ID {
			c.Devices[i] = dev
			out := dev
			return &out, nil
		}
	}
	return nil, &APIError{StatusCode: 404, Method: "PUT", Path: fmt.Sprintf("/api/v2/devicex/%d/%d", dev.InstallationID, dev.ID)}
}

func (c *TestClient) DeleteDevice(_ context.Context, _ int64, deviceID int64) error {
	if err := c.failErr(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.Devices {
		if c.Devices[i].ID == deviceID {
			c.Devices = append(c.Devices[:i], c.Devices[i+1:]...)
			c.Deleted = append(c.Deleted, fmt.Sprintf("device/%d", deviceID))
			return nil
		}
	}
	return &APIError{StatusCode: 404, Method: "DELETE", Path: fmt.Sprintf("/api/v2/devicex/_/%d", deviceID)}
}

func (c *TestClient) SetDeviceMeta(_ context.Context, _ int64, deviceID int64,
	key string, value MetaValue, silent bool) (*MetaValue, error) {

	if err := c.failErr(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.Devices {
		if c.Devices[i].ID == deviceID {
			if c.Devices[i].Meta == nil {
				c.Devices[i].Meta = Meta{}
			}
			c.Devices[i].Meta[key] = value.Value
			c.MetaSets = append(c.MetaSets, TestMetaSet{Kind: "device", ID: deviceID, Key: key, Value: value, Silent: silent})
			out := value
			return &out, nil
		}
	}
	return nil, &APIError{StatusCode: 404, Method: "PUT", Path: fmt.Sprintf("/api/v2/devicex/_/%d/meta/%s", deviceID, key)}
}

func (c *TestClient) Status(_ context.Context, _ int64, topics []string) ([]Status, error) {
	if err := c.failErr(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	wanted := make(map[string]bool, len(topics))
	for _, t := range topics {
		wanted[t] = true
	}
	var out []Status
	for _, st := range c.Statuses {
		if wanted[st.Topic] {
			out = append(out, st)
		}
	}
	return out, nil
}

// SetStatus replaces the canned sample for a topic.
func (c *TestClient) SetStatus(topic string, value float64, timestamp float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.Statuses {
		if c.Statuses[i].Topic == topic {
			c.Statuses[i].Value = value
			c.Statuses[i].Timestamp = timestamp
			return
		}
	}
	c.Statuses = append(c.Statuses, Status{Topic: topic, Value: value, Timestamp: timestamp})
}

// TestCommandPublisher records published values instead of talking to a
// broker.
type TestCommandPublisher struct {
	mu sync.Mutex

	Prefix     string
	ConnectErr error
	PublishErr error
	Published  []TestPublishedValue
}

type TestPublishedValue struct {
	Topic string
	Value float64
}

func CreateTestCommandPublisher(prefix string) *TestCommandPublisher {
	return &TestCommandPublisher{Prefix: prefix}
}

func (p *TestCommandPublisher) TopicPrefix() string {
	return p.Prefix
}

func (p *TestCommandPublisher) Connect(continuation func(error), _ time.Duration) {
	continuation(p.ConnectErr)
}

func (p *TestCommandPublisher) PublishValue(topic string, value float64, continuation func(error), _ time.Duration) {
	p.mu.Lock()
	p.Published = append(p.Published, TestPublishedValue{Topic: topic, Value: value})
	p.mu.Unlock()
	continuation(p.PublishErr)
}

func (p *TestCommandPublisher) Disconnect(_ time.Duration) {
}

func (p *TestCommandPublisher) PublishedValues() []TestPublishedValue {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]TestPublishedValue, len(p.Published))
	copy(out, p.Published)
	return out
}
