package lynx

import (
	"fmt"
	"strconv"
)

// Meta is the free-form key/value bag IoT Open attaches to devices and
// functions. Values are always transported as strings.
type Meta map[string]string

func (m Meta) Get(key string) (string, bool) {
	if m == nil {
		return "", false
	}
	v, ok := m[key]
	return v, ok
}

func (m Meta) GetOr(key string, def string) string {
	if v, ok := m.Get(key); ok && v != "" {
		return v
	}
	return def
}

func (m Meta) Has(key string) bool {
	_, ok := m.Get(key)
	return ok
}

func (m Meta) Int64(key string) (int64, bool) {
	v, ok := m.Get(key)
	if !ok {
		return 0, false
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

func (m Meta) Float64(key string) (float64, bool) {
	v, ok := m.Get(key)
	if !ok {
		return 0, false
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

func (m Meta) Copy() Meta {
	if m == nil {
		return nil
	}
	c := make(Meta, len(m))
	for k, v := range m {
		c[k] = v
	}
	return c
}

type Installation struct {
	ID       int64  `json:"id"`
	ClientID int64  `json:"client_id"`
	Name     string `json:"name"`
	Notes    string `json:"notes,omitempty"`
}

type Device struct {
	ID             int64 `json:"id"`
	InstallationID int64 `json:"installation_id"`
	Type           string `json:"type"`
	Meta           Meta  `json:"meta"`
	ProtectedMeta  Meta  `json:"protected_meta,omitempty"`
	Created        int64 `json:"created,omitempty"`
	Updated        int64 `json:"updated,omitempty"`
}

type Function struct {
	ID             int64 `json:"id"`
	InstallationID int64 `json:"installation_id"`
	Type           string `json:"type"`
	Meta           Meta  `json:"meta"`
	ProtectedMeta  Meta  `json:"protected_meta,omitempty"`
	Created        int64 `json:"created,omitempty"`
	Updated        int64 `json:"updated,omitempty"`
}

// Name returns the meta name or a readable fallback.
func (f Function) Name() string {
	return f.Meta.GetOr("name", fmt.Sprintf("Function %d", f.ID))
}

func (d Device) Name() string {
	return d.Meta.GetOr("name", fmt.Sprintf("Device %d", d.ID))
}

// Status is one sample from the status endpoint. Timestamps are unix
// seconds with a fractional part.
type Status struct {
	ClientID       int64   `json:"client_id"`
	InstallationID int64   `json:"installation_id"`
	Topic          string  `json:"topic"`
	Value          float64 `json:"value"`
	Msg            string  `json:"msg,omitempty"`
	Timestamp      float64 `json:"timestamp"`
}

// MetaValue is the body of the per-key meta endpoints.
type MetaValue struct {
	Value     string `json:"value"`
	Protected bool   `json:"protected"`
}
