package sqlitestore

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/vnykmshr/pacer/internal/testutil"
	pcerrors "github.com/vnykmshr/pacer/pkg/common/errors"
	"github.com/vnykmshr/pacer/pkg/transport"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func openStore(t *testing.T, path string) *Store {
	t.Helper()
	if path == "" {
		path = filepath.Join(t.TempDir(), "queue.db")
	}
	s, err := Open(context.Background(), Config{Path: path, PollInterval: 10 * time.Millisecond})
	testutil.AssertNoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestPushPopFIFO(t *testing.T) {
	s := openStore(t, "")
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		r, err := s.Push(ctx, "threat-raw", []byte(fmt.Sprint(i)))
		testutil.AssertNoError(t, err)
		testutil.AssertEqual(t, r.Delivered(), true)
	}
	_, err := s.Push(ctx, "threat-analyzed", []byte("other"))
	testutil.AssertNoError(t, err)

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

	_, ok, err := sub.Next(ctx, 20*time.Millisecond)
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, ok, false)

	n, err = s.Pending(ctx, "threat-analyzed")
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, n, int64(1))
}

func TestMessagesSurviveReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queue.db")
	ctx := context.Background()

	first, err := Open(ctx, Config{Path: path})
	testutil.AssertNoError(t, err)
	_, err = first.Push(ctx, "a", []byte("durable"))
	testutil.AssertNoError(t, err)
	testutil.AssertNoError(t, first.Close())

	second := openStore(t, path)
	sub, err := second.Subscribe(ctx, "a")
	testutil.AssertNoError(t, err)
	defer sub.Close()

	payload, ok, err := sub.Next(ctx, time.Second)
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, ok, true)
	testutil.AssertEqual(t, string(payload), "durable")
}

func TestWaitingSubscriberWakesOnPush(t *testing.T) {
	s, err := Open(context.Background(), Config{
		Path:         filepath.Join(t.TempDir(), "queue.db"),
		PollInterval: time.Minute,
	})
	testutil.AssertNoError(t, err)
	defer s.Close()

	sub, err := s.Subscribe(context.Background(), "a")
	testutil.AssertNoError(t, err)
	defer sub.Close()

	go func() {
		time.Sleep(20 * time.Millisecond)
		_, _ = s.Push(context.Background(), "a", []byte("late"))
	}()

	start := time.Now()
	payload, ok, err := sub.Next(context.Background(), 10*time.Second)
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, ok, true)
	testutil.AssertEqual(t, string(payload), "late")
	if time.Since(start) > 5*time.Second {
		t.Error("push did not wake the subscriber")
	}
}

func TestCompetingConsumers(t *testing.T) {
	s := openStore(t, "")
	ctx := context.Background()

	const total = 50
	for i := 0; i < total; i++ {
		_, err := s.Push(ctx, "work", []byte(fmt.Sprint(i)))
		testutil.AssertNoError(t, err)
	}

	var (
		mu   sync.Mutex
		seen = make(map[string]int)
		wg   sync.WaitGroup
	)
	for w := 0; w < 3; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sub, err := s.Subscribe(ctx, "work")
			if err != nil {
				t.Error(err)
				return
			}
			defer sub.Close()
			for {
				payload, ok, err := sub.Next(ctx, 50*time.Millisecond)
				if err != nil {
					t.Error(err)
					return
				}
				if !ok {
					return
				}
				mu.Lock()
				seen[string(payload)]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	testutil.AssertEqual(t, len(seen), total)
	for k, v := range seen {
		if v != 1 {
			t.Errorf("message %s delivered %d times", k, v)
		}
	}
}

func TestNextHonorsContext(t *testing.T) {
	s := openStore(t, "")
	sub, err := s.Subscribe(context.Background(), "a")
	testutil.AssertNoError(t, err)
	defer sub.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, ok, err := sub.Next(ctx, time.Minute)
	testutil.AssertEqual(t, ok, false)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want DeadlineExceeded", err)
	}
}

func TestClosedStore(t *testing.T) {
	s, err := Open(context.Background(), Config{Path: filepath.Join(t.TempDir(), "q.db")})
	testutil.AssertNoError(t, err)
	sub, err := s.Subscribe(context.Background(), "a")
	testutil.AssertNoError(t, err)

	testutil.AssertNoError(t, s.Close())
	testutil.AssertNoError(t, s.Close())

	_, err = s.Push(context.Background(), "a", []byte("x"))
	if !errors.Is(err, transport.ErrClosed) {
		t.Errorf("push err = %v, want ErrClosed", err)
	}
	_, _, err = sub.Next(context.Background(), time.Millisecond)
	if !errors.Is(err, transport.ErrClosed) {
		t.Errorf("next err = %v, want ErrClosed", err)
	}
}

func TestOpenRequiresPath(t *testing.T) {
	_, err := Open(context.Background(), Config{})
	if !pcerrors.IsValidationError(err) {
		t.Errorf("err = %v, want ValidationError", err)
	}
}

func TestSchemaMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queue.db")
	s, err := Open(context.Background(), Config{Path: path})
	testutil.AssertNoError(t, err)
	_, err = s.db.Exec("UPDATE schema_version SET version = 99")
	testutil.AssertNoError(t, err)
	testutil.AssertNoError(t, s.Close())

	_, err = Open(context.Background(), Config{Path: path})
	if !errors.Is(err, ErrSchemaMismatch) {
		t.Errorf("err = %v, want ErrSchemaMismatch", err)
	}
}

func TestIsSQLiteBusy(t *testing.T) {
	testutil.AssertEqual(t, isSQLiteBusy(nil), false)
	testutil.AssertEqual(t, isSQLiteBusy(errors.New("database is locked")), true)
	testutil.AssertEqual(t, isSQLiteBusy(errors.New("no such table")), false)
}

func TestRetryOnBusy(t *testing.T) {
	attempts := 0
	err := retryOnBusy(context.Background(), func() error {
		attempts++
		if attempts < 3 {
			return errors.New("SQLITE_BUSY")
		}
		return nil
	})
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, attempts, 3)

	attempts = 0
	err = retryOnBusy(context.Background(), func() error {
		attempts++
		return errors.New("constraint failed")
	})
	testutil.AssertError(t, err)
	testutil.AssertEqual(t, attempts, 1)
	testutil.AssertEqual(t, pcerrors.IsRetryable(err), false)

	attempts = 0
	err = retryOnBusy(context.Background(), func() error {
		attempts++
		return errors.New("database is locked")
	})
	testutil.AssertEqual(t, attempts, busyRetryAttempts)
	testutil.AssertEqual(t, errors.Is(err, pcerrors.ErrUnavailable), true)
	testutil.AssertEqual(t, pcerrors.IsRetryable(err), true)
}

func TestStoreFailuresNameTheOperation(t *testing.T) {
	s := openStore(t, "")
	ctx := context.Background()
	_, err := s.db.Exec("DROP TABLE envelopes")
	testutil.AssertNoError(t, err)

	_, err = s.Push(ctx, "threat-raw", []byte("x"))
	var opErr *pcerrors.OperationError
	if !errors.As(err, &opErr) {
		t.Fatalf("push err = %v, want OperationError", err)
	}
	testutil.AssertEqual(t, opErr.Module, "sqlitestore")
	testutil.AssertEqual(t, opErr.Operation, "push")
	testutil.AssertEqual(t, opErr.Context, "channel threat-raw")
	testutil.AssertEqual(t, pcerrors.IsRetryable(err), false)

	_, err = s.Pending(ctx, "threat-raw")
	if !errors.As(err, &opErr) || opErr.Operation != "pending" {
		t.Errorf("pending err = %v, want pending OperationError", err)
	}
}
