package redisstore

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/goleak"

	"github.com/vnykmshr/pacer/internal/testutil"
	pcerrors "github.com/vnykmshr/pacer/pkg/common/errors"
	"github.com/vnykmshr/pacer/pkg/transport"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newStore(t *testing.T, mode Mode) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	s, err := New(context.Background(), Config{
		URL:       "redis://" + mr.Addr(),
		Mode:      mode,
		KeyPrefix: "test:",
	})
	testutil.AssertNoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s, mr
}

func TestListPushAndPop(t *testing.T) {
	s, mr := newStore(t, List)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		r, err := s.Push(ctx, "threat-raw", []byte(fmt.Sprint(i)))
		testutil.AssertNoError(t, err)
		testutil.AssertEqual(t, r.Delivered(), true)
		testutil.AssertEqual(t, r.Broadcast, false)
	}

	items, err := mr.List("test:threat-raw")
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, len(items), 3)

	n, err := s.Pending(ctx, "threat-raw")
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, n, int64(3))

	sub, err := s.Subscribe(ctx, "threat-raw")
	testutil.AssertNoError(t, err)
	defer sub.Close()

	for i := 1; i <= 3; i++ {
		payload, ok, err := sub.Next(ctx, time.Second)
		testutil.AssertNoError(t, err)
		testutil.AssertEqual(t, ok, true)
		testutil.AssertEqual(t, string(payload), fmt.Sprint(i))
	}
}

func TestListNextNonBlocking(t *testing.T) {
	s, _ := newStore(t, List)
	ctx := context.Background()

	sub, err := s.Subscribe(ctx, "empty")
	testutil.AssertNoError(t, err)
	defer sub.Close()

	_, ok, err := sub.Next(ctx, 0)
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, ok, false)

	_, err = s.Push(ctx, "empty", []byte("x"))
	testutil.AssertNoError(t, err)

	payload, ok, err := sub.Next(ctx, 0)
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, ok, true)
	testutil.AssertEqual(t, string(payload), "x")
}

func TestListBlockingPopWakesOnPush(t *testing.T) {
	s, _ := newStore(t, List)
	ctx := context.Background()

	sub, err := s.Subscribe(ctx, "a")
	testutil.AssertNoError(t, err)
	defer sub.Close()

	go func() {
		time.Sleep(50 * time.Millisecond)
		_, _ = s.Push(context.Background(), "a", []byte("late"))
	}()

	payload, ok, err := sub.Next(ctx, 3*time.Second)
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, ok, true)
	testutil.AssertEqual(t, string(payload), "late")
}

func TestListBlockingPopTimesOut(t *testing.T) {
	s, _ := newStore(t, List)
	ctx := context.Background()

	sub, err := s.Subscribe(ctx, "a")
	testutil.AssertNoError(t, err)
	defer sub.Close()

	start := time.Now()
	_, ok, err := sub.Next(ctx, time.Second)
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, ok, false)
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Errorf("blocking pop took %v", elapsed)
	}
}

func TestListSubSecondWaitHonorsDeadline(t *testing.T) {
	s, _ := newStore(t, List)
	ctx := context.Background()

	sub, err := s.Subscribe(ctx, "a")
	testutil.AssertNoError(t, err)
	defer sub.Close()

	for _, wait := range []time.Duration{150 * time.Millisecond, 1200 * time.Millisecond} {
		start := time.Now()
		_, ok, err := sub.Next(ctx, wait)
		elapsed := time.Since(start)
		testutil.AssertNoError(t, err)
		testutil.AssertEqual(t, ok, false)
		if elapsed < wait || elapsed > wait+250*time.Millisecond {
			t.Errorf("Next(%v) took %v", wait, elapsed)
		}
	}
}

func TestListSubSecondWaitReceives(t *testing.T) {
	s, _ := newStore(t, List)
	ctx := context.Background()

	sub, err := s.Subscribe(ctx, "a")
	testutil.AssertNoError(t, err)
	defer sub.Close()

	_, err = s.Push(ctx, "a", []byte("ready"))
	testutil.AssertNoError(t, err)
	payload, ok, err := sub.Next(ctx, 200*time.Millisecond)
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, ok, true)
	testutil.AssertEqual(t, string(payload), "ready")
}

func TestSplitWait(t *testing.T) {
	tests := []struct {
		in, whole, rest time.Duration
	}{
		{100 * time.Microsecond, 0, time.Millisecond},
		{150 * time.Millisecond, 0, 150 * time.Millisecond},
		{time.Second, time.Second, 0},
		{1500 * time.Millisecond, time.Second, 500 * time.Millisecond},
	}
	for _, tt := range tests {
		whole, rest := splitWait(tt.in)
		if whole != tt.whole || rest != tt.rest {
			t.Errorf("splitWait(%v) = %v, %v; want %v, %v", tt.in, whole, rest, tt.whole, tt.rest)
		}
	}
	testutil.AssertEqual(t, fractionalSeconds(150*time.Millisecond), "0.150")
	testutil.AssertEqual(t, fractionalSeconds(0), "0.001")
}

func TestPubSubNoSubscribersIsFlagged(t *testing.T) {
	s, _ := newStore(t, PubSub)

	r, err := s.Push(context.Background(), "threat-raw", []byte("lost"))
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, r.Broadcast, true)
	testutil.AssertEqual(t, r.Receivers, int64(0))
	testutil.AssertEqual(t, r.Delivered(), false)

	_, err = s.Pending(context.Background(), "threat-raw")
	if !errors.Is(err, errors.ErrUnsupported) {
		t.Errorf("Pending err = %v, want ErrUnsupported", err)
	}
}

func TestPubSubDeliversToLiveSubscriber(t *testing.T) {
	s, _ := newStore(t, PubSub)
	ctx := context.Background()

	sub, err := s.Subscribe(ctx, "threat-raw")
	testutil.AssertNoError(t, err)
	defer sub.Close()

	r, err := s.Push(ctx, "threat-raw", []byte(`{"host":"web-01"}`))
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, r.Receivers, int64(1))

	payload, ok, err := sub.Next(ctx, 2*time.Second)
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, ok, true)
	testutil.AssertEqual(t, string(payload), `{"host":"web-01"}`)

	_, ok, err = sub.Next(ctx, 50*time.Millisecond)
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, ok, false)

	testutil.AssertNoError(t, sub.Close())
	testutil.AssertNoError(t, sub.Close())
	_, _, err = sub.Next(ctx, time.Millisecond)
	if !errors.Is(err, transport.ErrClosed) {
		t.Errorf("err = %v, want ErrClosed", err)
	}
}

func TestExistingClientIsNotClosed(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	s, err := New(context.Background(), Config{Redis: client})
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, s.Name(), "redis")
	testutil.AssertNoError(t, s.Close())

	testutil.AssertNoError(t, client.Ping(context.Background()).Err())
}

func TestUnreachableRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err := New(context.Background(), Config{
		URL:            "redis://" + addr,
		ConnectTimeout: 200 * time.Millisecond,
	})
	testutil.AssertError(t, err)
	if !errors.Is(err, pcerrors.ErrUnavailable) {
		t.Errorf("err = %v, want ErrUnavailable", err)
	}
	var rerr *RedisError
	if !errors.As(err, &rerr) || rerr.Operation != "ping" {
		t.Errorf("err = %v, want RedisError for ping", err)
	}
}

func TestConfigErrors(t *testing.T) {
	tests := []struct {
		name   string
		config Config
	}{
		{"no client or url", Config{}},
		{"bad mode", Config{URL: DefaultURL, Mode: Mode(7)}},
		{"negative timeout", Config{URL: DefaultURL, RedisTimeout: -time.Second}},
		{"bad url", Config{URL: "http://nope"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(context.Background(), tt.config)
			var cerr *ConfigError
			if !errors.As(err, &cerr) {
				t.Errorf("err = %v, want ConfigError", err)
			}
		})
	}
}

func TestModeString(t *testing.T) {
	testutil.AssertEqual(t, List.String(), "list")
	testutil.AssertEqual(t, PubSub.String(), "pubsub")
	testutil.AssertEqual(t, Mode(5).String(), "mode(5)")
}
