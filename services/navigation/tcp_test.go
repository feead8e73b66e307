package navigation

import (
	"fmt"
	"net"
	"testing"
	"time"

	"go.viam.com/test"
	"go.viam.com/utils/testutils"

	"github.com/armgaze/armgaze/logging"
)

func nextEvent(t *testing.T, events <-chan Event) Event {
	t.Helper()
	select {
	case ev, ok := <-events:
		test.That(t, ok, test.ShouldBeTrue)
		return ev
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for navigation event")
		return Event{}
	}
}

func TestConfigValidate(t *testing.T) {
	cfg := Config{}
	err := cfg.Validate("navigation")
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "address")

	cfg = Config{Address: "no-port"}
	test.That(t, cfg.Validate("navigation"), test.ShouldNotBeNil)

	cfg = Config{Address: "localhost:7272"}
	test.That(t, cfg.Validate("navigation"), test.ShouldBeNil)
}

func TestTCPSource(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	test.That(t, err, test.ShouldBeNil)
	defer listener.Close()

	src := NewTCPSource(Config{Address: listener.Addr().String()}, logging.NewTestLogger(t))
	defer src.Close()

	conn, err := listener.Accept()
	test.That(t, err, test.ShouldBeNil)
	testutils.WaitForAssertion(t, func(tb testing.TB) {
		tb.Helper()
		test.That(tb, src.Connected(), test.ShouldBeTrue)
	})

	for _, line := range []string{
		`{"mode": "go to goal", "status": "Going to Demo"}`,
		`{"mode": "go to goal", "status": "Going to Demo"}`,
		`not json`,
		``,
		`{"mode": "go to goal", "status": "Arrived at Demo"}`,
	} {
		_, err := fmt.Fprintln(conn, line)
		test.That(t, err, test.ShouldBeNil)
	}

	ev := nextEvent(t, src.Events())
	test.That(t, ev.Kind, test.ShouldEqual, GoingToGoal)
	test.That(t, ev.Goal, test.ShouldEqual, "Demo")
	ev = nextEvent(t, src.Events())
	test.That(t, ev.Kind, test.ShouldEqual, GoalReached)

	// the relay drops; the source reconnects and ignores the replayed status
	test.That(t, conn.Close(), test.ShouldBeNil)
	conn, err = listener.Accept()
	test.That(t, err, test.ShouldBeNil)
	defer conn.Close()

	_, err = fmt.Fprintln(conn, `{"mode": "go to goal", "status": "Arrived at Demo"}`)
	test.That(t, err, test.ShouldBeNil)
	_, err = fmt.Fprintln(conn, `{"mode": "Going home", "status": "Failed to get home"}`)
	test.That(t, err, test.ShouldBeNil)

	ev = nextEvent(t, src.Events())
	test.That(t, ev.Kind, test.ShouldEqual, HomeFailed)

	test.That(t, src.Close(), test.ShouldBeNil)
	_, ok := <-src.Events()
	test.That(t, ok, test.ShouldBeFalse)
	test.That(t, src.Connected(), test.ShouldBeFalse)
	test.That(t, src.Close(), test.ShouldBeNil)
}

func TestTCPSourceRetriesUntilRelayIsUp(t *testing.T) {
	orig := InitialReconnectWait
	InitialReconnectWait = 10 * time.Millisecond
	defer func() { InitialReconnectWait = orig }()

	// reserve a port, then free it so the first dials fail
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	test.That(t, err, test.ShouldBeNil)
	addr := listener.Addr().String()
	test.That(t, listener.Close(), test.ShouldBeNil)

	logger, logs := logging.NewObservedTestLogger(t)
	src := NewTCPSource(Config{Address: addr}, logger)
	defer src.Close()

	testutils.WaitForAssertion(t, func(tb testing.TB) {
		tb.Helper()
		test.That(tb, logs.FilterMessage("cannot reach navigation status relay").Len(), test.ShouldBeGreaterThan, 0)
	})

	listener, err = net.Listen("tcp", addr)
	test.That(t, err, test.ShouldBeNil)
	defer listener.Close()
	conn, err := listener.Accept()
	test.That(t, err, test.ShouldBeNil)
	defer conn.Close()

	_, err = fmt.Fprintln(conn, `{"mode": "Going home", "status": "Returned home"}`)
	test.That(t, err, test.ShouldBeNil)
	ev := nextEvent(t, src.Events())
	test.That(t, ev.Kind, test.ShouldEqual, HomeReached)
}
