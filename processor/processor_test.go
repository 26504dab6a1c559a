package processor

import (
	"context"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/FerroO2000/spilink/connector"
	"github.com/FerroO2000/spilink/internal/chunk"
	"github.com/FerroO2000/spilink/internal/message"
	"github.com/FerroO2000/spilink/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testRecord struct {
	topic   string
	payload []byte
}

func (r *testRecord) Destroy()           {}
func (r *testRecord) GetTopic() string   { return r.topic }
func (r *testRecord) GetPayload() []byte { return r.payload }

func newTestMessage(topic, payload string) *msg[*testRecord] {
	m := message.NewMessage(&testRecord{topic: topic, payload: []byte(payload)})
	m.SetReceiveTime(time.Now())
	return m
}

func runStage(ctx context.Context, run func(context.Context)) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		run(ctx)
		close(done)
	}()
	return done
}

func waitDone(t *testing.T, done <-chan struct{}) {
	t.Helper()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		require.FailNow(t, "stage did not stop")
	}
}

func receiveRecord(t *testing.T, outConn *connector.Queue[*msg[*RelayMessage]]) (string, string) {
	t.Helper()

	msgOut, err := outConn.TryReceive(2 * time.Second)
	require.NoError(t, err)
	defer msgOut.Destroy()

	return msgOut.GetEnvelope().GetTopic(), string(msgOut.GetEnvelope().GetPayload())
}

//////////////
//  FILTER  //
//////////////

func Test_TopicFilter(t *testing.T) {
	assert := assert.New(t)

	filter := NewTopicFilter()
	assert.True(filter.Match("anything"))

	filter.SetPrefixes([]string{"sensor/", "ping"})
	assert.True(filter.Match("sensor/temperature"))
	assert.True(filter.Match("ping"))
	assert.False(filter.Match("status"))

	prefixes := filter.Prefixes()
	prefixes[0] = "status"
	assert.False(filter.Match("status"))
}

func Test_TopicFilterStage(t *testing.T) {
	assert := assert.New(t)

	inConn := connector.MustNewQueue[*msg[*testRecord]](4)
	outConn := connector.MustNewQueue[*msg[*testRecord]](4)

	filter := NewTopicFilter("sensor/")
	stage := NewTopicFilterStage(filter, inConn, outConn, NewFilterConfig())
	require.NoError(t, stage.Init(t.Context()))

	done := runStage(t.Context(), stage.Run)

	require.NoError(t, inConn.Write(newTestMessage("sensor/a", "1")))
	require.NoError(t, inConn.Write(newTestMessage("status", "ok")))

	msgOut, err := outConn.TryReceive(time.Second)
	require.NoError(t, err)
	assert.Equal("sensor/a", msgOut.GetEnvelope().GetTopic())

	assert.Eventually(func() bool { return stage.Filtered() == 1 }, time.Second, time.Millisecond)

	// Hot reload of the prefixes
	filter.SetPrefixes([]string{"status"})
	require.NoError(t, inConn.Write(newTestMessage("status", "ok")))

	msgOut, err = outConn.TryReceive(time.Second)
	require.NoError(t, err)
	assert.Equal("status", msgOut.GetEnvelope().GetTopic())

	inConn.Close()
	waitDone(t, done)

	assert.Equal(int64(1), stage.Filtered())

	stage.Close()
	_, err = outConn.TryReceive(0)
	assert.ErrorIs(err, connector.ErrClosed)
}

/////////////
//  RELAY  //
/////////////

func newTestRelay(t *testing.T, peer transport.Peer, line transport.HandshakeLine, cfg *RelayConfig) (
	*RelayStage[*testRecord], *connector.Queue[*msg[*testRecord]], *connector.Queue[*msg[*RelayMessage]],
) {
	t.Helper()

	tr, err := transport.NewLoopback(peer, transport.DefaultLoopbackDepth)
	require.NoError(t, err)

	inConn := connector.MustNewQueue[*msg[*testRecord]](connector.DefaultQueueDepth)
	outConn := connector.MustNewQueue[*msg[*RelayMessage]](8)

	stage := NewRelayStage(inConn, outConn, tr, line, cfg)
	require.NoError(t, stage.Init(t.Context()))

	return stage, inConn, outConn
}

func Test_RelayConfig_Validate(t *testing.T) {
	assert := assert.New(t)

	cfg := NewRelayConfig()
	cfg.PoolSize = 0
	cfg.ChunkLength = 30
	cfg.ReceiveTimeout = 10 * time.Millisecond
	cfg.IdleReceiveTimeout = time.Millisecond
	cfg.GreetingTopic = ""

	stage, _, _ := newTestRelay(t, transport.EchoPeer{}, nil, cfg)
	defer stage.Close()

	assert.Equal(DefaultRelayConfigPoolSize, cfg.PoolSize)
	assert.Equal(DefaultRelayConfigChunkLength, cfg.ChunkLength)
	assert.Equal(cfg.ReceiveTimeout, cfg.IdleReceiveTimeout)
	assert.Equal(DefaultRelayConfigGreetingTopic, cfg.GreetingTopic)
}

func Test_RelayStage_Echo(t *testing.T) {
	assert := assert.New(t)

	line := transport.NewMemoryLine()
	stage, inConn, outConn := newTestRelay(t, transport.EchoPeer{}, line, NewRelayConfig())

	ctx, cancel := context.WithCancel(t.Context())
	done := runStage(ctx, stage.Run)

	// The greeting comes first
	topic, payload := receiveRecord(t, outConn)
	assert.Equal(DefaultRelayConfigGreetingTopic, topic)
	assert.Equal(DefaultRelayConfigGreetingPayload, payload)

	require.NoError(t, inConn.TrySend(newTestMessage("sensor", "42"), time.Second))

	topic, payload = receiveRecord(t, outConn)
	assert.Equal("sensor", topic)
	assert.Equal("42", payload)

	// A record longer than a chunk
	long := string(slices.Repeat([]byte("x"), 70))
	require.NoError(t, inConn.TrySend(newTestMessage("log", long), time.Second))

	topic, payload = receiveRecord(t, outConn)
	assert.Equal("log", topic)
	assert.Equal(long, payload)

	cancel()
	waitDone(t, done)
	stage.Close()

	assert.Equal(int64(3), stage.Relayed())
	assert.Equal(int64(3), stage.Delivered())
	assert.Equal(int64(0), stage.Pending())
	assert.False(line.High())
	assert.GreaterOrEqual(line.Toggles(), int64(6))
}

func Test_RelayStage_StreamPeer(t *testing.T) {
	assert := assert.New(t)

	var (
		mux      sync.Mutex
		received []byte
	)

	peer := transport.NewStreamPeer()
	peer.OnReceive = func(tx []byte) {
		mux.Lock()
		defer mux.Unlock()
		received = append(received, tx...)
	}
	peer.Send(chunk.Encode("status", []byte("ok")))

	stage, _, outConn := newTestRelay(t, peer, nil, NewRelayConfig())

	ctx, cancel := context.WithCancel(t.Context())
	done := runStage(ctx, stage.Run)

	// The greeting transfer carries the peer record back
	topic, payload := receiveRecord(t, outConn)
	assert.Equal("status", topic)
	assert.Equal("ok", payload)

	cancel()
	waitDone(t, done)
	stage.Close()

	mux.Lock()
	defer mux.Unlock()

	assert.Equal(chunk.Encode("ping", []byte("ready")), received[:len("ping,ready")+1])
}

func Test_RelayStage_InputClosed(t *testing.T) {
	assert := assert.New(t)

	cfg := NewRelayConfig()
	cfg.SendGreeting = false

	stage, inConn, outConn := newTestRelay(t, transport.EchoPeer{}, nil, cfg)

	require.NoError(t, inConn.Write(newTestMessage("sensor", "42")))
	inConn.Close()

	// The loop stops once the input is closed and drained
	waitDone(t, runStage(t.Context(), stage.Run))
	stage.Close()

	assert.Equal(int64(1), stage.Relayed())
	assert.Equal(int64(0), stage.Pending())

	topic, payload := receiveRecord(t, outConn)
	assert.Equal("sensor", topic)
	assert.Equal("42", payload)
}

func Test_RelayStage_PoolExhausted(t *testing.T) {
	assert := assert.New(t)

	cfg := NewRelayConfig()
	cfg.SendGreeting = false
	cfg.PoolSize = 1
	cfg.ChunkLength = 4

	stage, inConn, _ := newTestRelay(t, transport.EchoPeer{}, nil, cfg)

	// "sensor,42\x00" needs 3 chunks of 4 bytes
	require.NoError(t, inConn.Write(newTestMessage("sensor", "42")))
	inConn.Close()

	waitDone(t, runStage(t.Context(), stage.Run))
	stage.Close()

	assert.Equal(int64(0), stage.Relayed())
	assert.Equal(int64(1), stage.Failed())
	assert.Equal(int64(0), stage.Pending())
	assert.Equal(int64(0), stage.Delivered())
}

func Test_RelayMessage_GetBytes(t *testing.T) {
	rm := newRelayMessage([]byte("sensor,42"))
	defer rm.Destroy()

	assert.Equal(t, "sensor", rm.GetTopic())
	assert.Equal(t, []byte("sensor,42"), rm.GetBytes())
}
