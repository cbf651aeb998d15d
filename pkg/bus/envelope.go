package bus

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
)

// PipelineIDKey is the payload field carrying the pipeline identifier.
const PipelineIDKey = "pipeline_id"

var errNotObject = errors.New("payload must be a JSON object")

// Envelope is the JSON object carried by a channel. The bus never inspects
// its fields; stage logic and logging do.
//
// Numbers received from a channel are json.Number, so integers survive the
// round trip exactly.
type Envelope map[string]any

// PipelineID returns the pipeline_id field, or "" when absent.
func (e Envelope) PipelineID() string {
	return e.String(PipelineIDKey)
}

// String returns the field as a string. Non-string values are formatted.
func (e Envelope) String(key string) string {
	v, ok := e[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// Int returns the field as an int64. It reports false when the field is
// absent or not an integral number.
func (e Envelope) Int(key string) (int64, bool) {
	switch v := e[key].(type) {
	case json.Number:
		n, err := v.Int64()
		return n, err == nil
	case int:
		return int64(v), true
	case int64:
		return v, true
	case float64:
		if v != float64(int64(v)) {
			return 0, false
		}
		return int64(v), true
	case string:
		n, err := strconv.ParseInt(v, 10, 64)
		return n, err == nil
	}
	return 0, false
}

// Clone returns a deep copy by way of JSON, matching what a subscriber
// would receive.
func (e Envelope) Clone() (Envelope, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	return decode(data)
}

// ParseEnvelope decodes a JSON object into an Envelope, keeping numbers as
// json.Number.
func ParseEnvelope(data []byte) (Envelope, error) {
	return decode(data)
}

// Unmarshal decodes JSON into dst with numbers kept as json.Number wherever
// dst holds an interface value.
func Unmarshal(data []byte, dst any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if _, err := dec.Token(); err != io.EOF {
		return errors.New("unexpected data after JSON value")
	}
	return nil
}

func encode(env Envelope) ([]byte, error) {
	if env == nil {
		return nil, fmt.Errorf("nil envelope")
	}
	return json.Marshal(env)
}

func decode(data []byte) (Envelope, error) {
	var env Envelope
	if err := Unmarshal(data, &env); err != nil {
		return nil, err
	}
	if env == nil {
		return nil, errNotObject
	}
	return env, nil
}
