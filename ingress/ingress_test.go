package ingress

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/FerroO2000/spilink/connector"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestConnector(t *testing.T, depth int) *connector.Queue[*msg[*SubscriptionMessage]] {
	t.Helper()

	q, err := connector.NewQueue[*msg[*SubscriptionMessage]](depth)
	require.NoError(t, err)

	return q
}

func Test_CallbackStage_Dispatch(t *testing.T) {
	assert := assert.New(t)

	outConn := newTestConnector(t, 4)
	stage := NewCallbackStage(outConn, NewCallbackConfig())

	// Not initialized yet
	assert.ErrorIs(stage.Dispatch(t.Context(), DataEvent("sensor", []byte("42"))), ErrNotRunning)

	require.NoError(t, stage.Init(t.Context()))

	assert.NoError(stage.Dispatch(t.Context(), Event{Kind: EventConnected}))
	assert.True(stage.Connected())

	assert.NoError(stage.Dispatch(t.Context(), Event{Kind: EventSubscribed, Topic: "sensor"}))
	assert.NoError(stage.Dispatch(t.Context(), Event{Kind: EventPublished, Topic: "sensor"}))
	assert.NoError(stage.Dispatch(t.Context(), Event{Kind: EventError, Err: errors.New("broker gone")}))

	// Only data events reach the connector
	assert.Equal(0, outConn.Len())

	ts := time.Unix(100, 0)
	ev := DataEvent("sensor", []byte("42"))
	ev.Timestamp = ts
	assert.NoError(stage.Dispatch(t.Context(), ev))

	msgOut, err := outConn.TryReceive(0)
	require.NoError(t, err)

	env := msgOut.GetEnvelope()
	assert.Equal("sensor", env.GetTopic())
	assert.Equal([]byte("42"), env.GetPayload())
	assert.Equal(ts, msgOut.GetTimestamp())
	assert.False(msgOut.GetReceiveTime().IsZero())
	msgOut.Destroy()

	assert.NoError(stage.Dispatch(t.Context(), Event{Kind: EventDisconnected}))
	assert.False(stage.Connected())

	assert.ErrorIs(stage.Dispatch(t.Context(), Event{Kind: EventKind(42)}), ErrUnknownEvent)

	stage.Close()
	assert.ErrorIs(stage.Dispatch(t.Context(), DataEvent("sensor", nil)), ErrNotRunning)
}

func Test_CallbackStage_Drop(t *testing.T) {
	assert := assert.New(t)

	outConn := newTestConnector(t, 1)

	cfg := NewCallbackConfig()
	cfg.EnqueueTimeout = time.Millisecond

	stage := NewCallbackStage(outConn, cfg)
	require.NoError(t, stage.Init(t.Context()))

	assert.NoError(stage.Dispatch(t.Context(), DataEvent("a", []byte("1"))))

	err := stage.Dispatch(t.Context(), DataEvent("b", []byte("2")))
	assert.ErrorIs(err, ErrDropped)
	assert.ErrorIs(err, connector.ErrFull)
	assert.Equal(int64(1), stage.Dropped())

	// The queued record is untouched
	msgOut, err := outConn.TryReceive(0)
	require.NoError(t, err)
	assert.Equal("a", msgOut.GetEnvelope().GetTopic())
}

func Test_DispatchConfig_Validate(t *testing.T) {
	cfg := NewCallbackConfig()
	cfg.EnqueueTimeout = -time.Second

	stage := NewCallbackStage(newTestConnector(t, 1), cfg)
	require.NoError(t, stage.Init(t.Context()))

	assert.Equal(t, DefaultDispatchConfigEnqueueTimeout, cfg.EnqueueTimeout)
}

func Test_EventKind_String(t *testing.T) {
	assert := assert.New(t)

	assert.Equal("connected", EventConnected.String())
	assert.Equal("data", EventData.String())
	assert.Equal("unknown(42)", EventKind(42).String())
}

func Test_TickerStage(t *testing.T) {
	assert := assert.New(t)

	outConn := newTestConnector(t, 8)

	cfg := NewTickerConfig()
	cfg.Interval = 5 * time.Millisecond
	cfg.Topic = "heartbeat"

	stage := NewTickerStage(outConn, cfg)
	require.NoError(t, stage.Init(t.Context()))

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan struct{})
	go func() {
		stage.Run(ctx)
		close(done)
	}()

	for _, expected := range []string{"1", "2"} {
		msgOut, err := outConn.TryReceive(time.Second)
		require.NoError(t, err)

		assert.Equal("heartbeat", msgOut.GetEnvelope().GetTopic())
		assert.Equal(expected, string(msgOut.GetEnvelope().GetPayload()))
	}

	assert.True(stage.Connected())

	cancel()
	<-done

	assert.False(stage.Connected())
}

func Test_UDPStage(t *testing.T) {
	assert := assert.New(t)

	outConn := newTestConnector(t, 4)

	cfg := NewUDPConfig()
	cfg.IPAddr = "127.0.0.1"
	cfg.Port = 0

	stage := NewUDPStage(outConn, cfg)
	require.NoError(t, stage.Init(t.Context()))

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	go stage.Run(ctx)

	conn, err := net.Dial("udp", stage.LocalAddr().String())
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("sensor,42"))
	require.NoError(t, err)

	msgOut, err := outConn.TryReceive(time.Second)
	require.NoError(t, err)

	assert.Equal("sensor", msgOut.GetEnvelope().GetTopic())
	assert.Equal([]byte("42"), msgOut.GetEnvelope().GetPayload())
}

func Test_TCPStage(t *testing.T) {
	assert := assert.New(t)

	outConn := newTestConnector(t, 4)

	cfg := NewTCPConfig()
	cfg.IPAddr = "127.0.0.1"
	cfg.Port = 0

	stage := NewTCPStage(outConn, cfg)
	require.NoError(t, stage.Init(t.Context()))
	defer stage.Close()

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	go stage.Run(ctx)

	conn, err := net.Dial("tcp", stage.LocalAddr().String())
	require.NoError(t, err)
	defer conn.Close()

	// The second record is split across two writes
	_, err = conn.Write([]byte("sensor,42\nstatus,o"))
	require.NoError(t, err)
	_, err = conn.Write([]byte("k\n"))
	require.NoError(t, err)

	for _, expected := range []struct{ topic, payload string }{
		{"sensor", "42"},
		{"status", "ok"},
	} {
		msgOut, err := outConn.TryReceive(time.Second)
		require.NoError(t, err)

		assert.Equal(expected.topic, msgOut.GetEnvelope().GetTopic())
		assert.Equal(expected.payload, string(msgOut.GetEnvelope().GetPayload()))
	}
}

func Test_KafkaConfig(t *testing.T) {
	assert := assert.New(t)

	cfg := NewKafkaConfig("sensors")
	cfg.Brokers = nil
	cfg.MaxBytes = 0

	stage := NewKafkaStage(newTestConnector(t, 1), cfg)
	require.NoError(t, stage.Init(t.Context()))
	defer stage.Close()

	assert.Equal(DefaultKafkaConfigBrokers, cfg.Brokers)
	assert.Equal(cfg.MinBytes, cfg.MaxBytes)

	readerCfg := cfg.readerConfig()
	assert.Equal([]string{"sensors"}, readerCfg.GroupTopics)
	assert.Equal(DefaultKafkaConfigGroupID, readerCfg.GroupID)
}

func Test_RecordTopic(t *testing.T) {
	assert := assert.New(t)

	msg := &kafka.Message{Topic: "sensors", Key: []byte("temperature")}
	assert.Equal("sensors", recordTopic(msg, false))
	assert.Equal("temperature", recordTopic(msg, true))

	msg.Key = nil
	assert.Equal("sensors", recordTopic(msg, true))
}
