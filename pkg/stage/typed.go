package stage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/vnykmshr/pacer/pkg/bus"
)

// Typed adapts a function over concrete payload types to a Func. The input
// envelope is decoded into In through JSON, so absent fields are zero values;
// the result is encoded back into an envelope.
func Typed[In, Out any](fn func(ctx context.Context, in In) (Out, error)) Func {
	return func(ctx context.Context, env bus.Envelope) (bus.Envelope, error) {
		var in In
		if err := convert(env, &in); err != nil {
			return nil, fmt.Errorf("decode input: %w", err)
		}
		out, err := fn(ctx, in)
		if err != nil {
			return nil, err
		}
		var res bus.Envelope
		if err := convert(out, &res); err != nil {
			return nil, fmt.Errorf("encode output: %w", err)
		}
		if res == nil {
			return nil, ErrNoOutput
		}
		return res, nil
	}
}

// Decode converts an envelope into a typed payload.
func Decode[T any](env bus.Envelope) (T, error) {
	var v T
	err := convert(env, &v)
	return v, err
}

// Encode converts a typed payload into an envelope.
func Encode(v any) (bus.Envelope, error) {
	var env bus.Envelope
	if err := convert(v, &env); err != nil {
		return nil, err
	}
	return env, nil
}

func convert(src, dst any) error {
	data, err := json.Marshal(src)
	if err != nil {
		return err
	}
	return bus.Unmarshal(data, dst)
}
