package stage

import (
	"context"
	"errors"
	"testing"

	"github.com/vnykmshr/pacer/internal/testutil"
	"github.com/vnykmshr/pacer/pkg/bus"
)

type event struct {
	Host     string `json:"host"`
	Severity string `json:"severity,omitempty"`
}

type verdict struct {
	Host   string `json:"host"`
	Action string `json:"action"`
}

func TestTyped(t *testing.T) {
	fn := Typed(func(_ context.Context, in event) (verdict, error) {
		action := "monitor"
		if in.Severity == "CRITICAL" {
			action = "isolate"
		}
		return verdict{Host: in.Host, Action: action}, nil
	})

	out, err := fn(context.Background(), bus.Envelope{"host": "db-01", "severity": "CRITICAL", "extra": 1})
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, out.String("host"), "db-01")
	testutil.AssertEqual(t, out.String("action"), "isolate")

	// Missing fields decode as zero values.
	out, err = fn(context.Background(), bus.Envelope{})
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, out.String("action"), "monitor")
}

func TestTypedDecodeError(t *testing.T) {
	fn := Typed(func(_ context.Context, in event) (verdict, error) {
		return verdict{}, nil
	})
	_, err := fn(context.Background(), bus.Envelope{"host": 42})
	testutil.AssertError(t, err)
}

func TestTypedPropagatesError(t *testing.T) {
	boom := errors.New("boom")
	fn := Typed(func(_ context.Context, in event) (verdict, error) {
		return verdict{}, boom
	})
	_, err := fn(context.Background(), bus.Envelope{})
	testutil.AssertEqual(t, errors.Is(err, boom), true)
}

func TestTypedNilPointerOutput(t *testing.T) {
	fn := Typed(func(_ context.Context, in event) (*verdict, error) {
		return nil, nil
	})
	_, err := fn(context.Background(), bus.Envelope{})
	testutil.AssertEqual(t, errors.Is(err, ErrNoOutput), true)
}

func TestDecodeEncode(t *testing.T) {
	ev, err := Decode[event](bus.Envelope{"host": "h", "severity": "LOW"})
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, ev, event{Host: "h", Severity: "LOW"})

	env, err := Encode(ev)
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, env.String("severity"), "LOW")
}

func TestTypedKeepsLargeIntegers(t *testing.T) {
	type counter struct {
		ID    int64 `json:"id"`
		Extra any   `json:"extra"`
	}
	fn := Typed(func(_ context.Context, in counter) (counter, error) {
		return in, nil
	})

	out, err := fn(context.Background(), bus.Envelope{"id": int64(9007199254740993), "extra": int64(9007199254740995)})
	testutil.AssertNoError(t, err)
	id, ok := out.Int("id")
	testutil.AssertEqual(t, ok, true)
	testutil.AssertEqual(t, id, int64(9007199254740993))
	extra, ok := out.Int("extra")
	testutil.AssertEqual(t, ok, true)
	testutil.AssertEqual(t, extra, int64(9007199254740995))
}
