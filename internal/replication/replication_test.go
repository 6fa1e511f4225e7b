package replication

import (
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"distask/internal/clock"
	"distask/internal/store"
	"distask/internal/task"
	"distask/internal/wire"
)

func testLogger() *logrus.Entry {
	l := logrus.New()
	l.SetLevel(logrus.ErrorLevel)
	return logrus.NewEntry(l)
}

func TestReceiverAppliesSnapshot(t *testing.T) {
	st := store.New()
	clk := clock.New()
	r := NewReceiver("224.1.1.1", 0, time.Second, st, clk, testLogger())

	src := store.New()
	src.AddTask(&task.Task{ID: "t1", Status: task.Pending, LamportTS: 7})
	snap, err := src.Snapshot()
	require.NoError(t, err)

	r.handleDatagram(append([]byte{wire.TagSnapshot}, snap...))

	got, ok := st.GetTaskStatus("t1")
	require.True(t, ok)
	require.Equal(t, task.Pending, got.Status)
	require.Equal(t, int64(7), clk.Time())
}

func TestReceiverMalformedSnapshotLeavesStateUnchanged(t *testing.T) {
	st := store.New()
	st.AddTask(&task.Task{ID: "keep", Status: task.Pending})
	clk := clock.New()
	r := NewReceiver("224.1.1.1", 0, time.Second, st, clk, testLogger())

	r.handleDatagram(append([]byte{wire.TagSnapshot}, []byte("not json")...))

	_, ok := st.GetTaskStatus("keep")
	require.True(t, ok)
}

func TestReceiverHeartbeatUpdatesLastSeen(t *testing.T) {
	st := store.New()
	clk := clock.New()
	r := NewReceiver("224.1.1.1", 0, time.Second, st, clk, testLogger())
	r.lastPrimaryHeartbeat = time.Now().Add(-time.Hour)

	hb, err := json.Marshal(wire.PrimaryHeartbeat{TS: 123.0})
	require.NoError(t, err)
	r.handleDatagram(append([]byte{wire.TagHeartbeat}, hb...))

	require.WithinDuration(t, time.Now(), r.lastPrimaryHeartbeat, time.Second)
}

func TestReceiverUnknownTagIsIgnored(t *testing.T) {
	st := store.New()
	clk := clock.New()
	r := NewReceiver("224.1.1.1", 0, time.Second, st, clk, testLogger())
	before := r.lastPrimaryHeartbeat

	require.NotPanics(t, func() {
		r.handleDatagram(append([]byte{0xFF}, []byte("junk")...))
	})
	require.Equal(t, before, r.lastPrimaryHeartbeat)
}

func TestReceiverEmptyDatagramIsIgnored(t *testing.T) {
	st := store.New()
	clk := clock.New()
	r := NewReceiver("224.1.1.1", 0, time.Second, st, clk, testLogger())

	require.NotPanics(t, func() { r.handleDatagram(nil) })
}

func TestSenderSyncOnceWritesBothDatagrams(t *testing.T) {
	st := store.New()
	st.AddTask(&task.Task{ID: "t1", Status: task.Pending})
	s := NewSender("224.1.1.1", 0, time.Second, st, testLogger())

	pc, err := net.ListenPacket("udp4", "127.0.0.1:0")
	require.NoError(t, err)
	defer pc.Close()
	serverAddr := pc.LocalAddr().(*net.UDPAddr)

	clientConn, err := net.DialUDP("udp4", nil, serverAddr)
	require.NoError(t, err)
	defer clientConn.Close()

	s.syncOnce(clientConn)

	buf := make([]byte, 65507)
	_ = pc.SetReadDeadline(time.Now().Add(time.Second))
	_, _, err = pc.ReadFrom(buf)
	require.NoError(t, err)
	require.Equal(t, wire.TagSnapshot, buf[0])

	_, _, err = pc.ReadFrom(buf)
	require.NoError(t, err)
	require.Equal(t, wire.TagHeartbeat, buf[0])
}

func TestReceiverRunReturnsOnStop(t *testing.T) {
	st := store.New()
	clk := clock.New()
	r := NewReceiver("224.1.1.1", 15007, time.Minute, st, clk, testLogger())

	stop := make(chan struct{})
	done := make(chan struct{})
	var promote bool
	var runErr error
	go func() {
		promote, runErr = r.Run(stop)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	close(stop)

	select {
	case <-done:
		require.NoError(t, runErr)
		require.False(t, promote)
	case <-time.After(2 * time.Second):
		t.Fatal("receiver did not stop")
	}
}
