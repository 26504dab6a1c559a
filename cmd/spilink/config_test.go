package main

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/FerroO2000/spilink/internal"
	"github.com/FerroO2000/spilink/processor"
	"github.com/FerroO2000/spilink/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testConfigYAML = `
log_level: debug

ingress:
  kind: udp
  queue_depth: 8
  enqueue_timeout: 5ms
  udp:
    ip_addr: 127.0.0.1
    port: 30000

filter:
  prefixes: [sensor/, status]

relay:
  chunk_length: 64
  idle_receive_timeout: 250ms

transport:
  peer: stream
  peer_records: ["status,ok"]

handshake:
  kind: log

egress:
  kind: sink
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "spilink.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

func Test_LoadConfig_Defaults(t *testing.T) {
	assert := assert.New(t)

	cfg, err := LoadConfig("")
	assert.NoError(err)

	assert.Equal(ingressKindTicker, cfg.Ingress.Kind)
	assert.Equal(peerEcho, cfg.Transport.Peer)
	assert.Equal(handshakeNone, cfg.Handshake.Kind)
	assert.Equal(egressKindLog, cfg.Egress.Kind)

	relayCfg := processor.NewRelayConfig()
	assert.Equal(relayCfg, cfg.Relay.stageConfig())
}

func Test_LoadConfig(t *testing.T) {
	assert := assert.New(t)

	cfg, err := LoadConfig(writeConfig(t, testConfigYAML))
	assert.NoError(err)

	level, err := cfg.logLevel()
	assert.NoError(err)
	assert.Equal(slog.LevelDebug, level)

	assert.Equal(ingressKindUDP, cfg.Ingress.Kind)
	assert.Equal(8, cfg.Ingress.QueueDepth)
	assert.Equal(5*time.Millisecond, cfg.Ingress.EnqueueTimeout)
	assert.Equal(AddrConfig{IPAddr: "127.0.0.1", Port: 30000}, cfg.Ingress.UDP)

	assert.Equal([]string{"sensor/", "status"}, cfg.Filter.Prefixes)

	// The missing fields keep their default
	assert.Equal(64, cfg.Relay.ChunkLength)
	assert.Equal(250*time.Millisecond, cfg.Relay.IdleReceiveTimeout)
	assert.Equal(processor.DefaultRelayConfigPoolSize, cfg.Relay.PoolSize)

	assert.Equal(peerStream, cfg.Transport.Peer)
	assert.Equal(transport.DefaultLoopbackDepth, cfg.Transport.Depth)
	assert.Equal([]string{"status,ok"}, cfg.Transport.PeerRecords)

	assert.Equal(handshakeLog, cfg.Handshake.Kind)
	assert.Equal(egressKindSink, cfg.Egress.Kind)
}

func Test_LoadConfig_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"log level", "log_level: loud"},
		{"ingress kind", "ingress: {kind: mqtt}"},
		{"kafka without topics", "ingress: {kind: kafka}"},
		{"peer", "transport: {peer: spi}"},
		{"sysfs without path", "handshake: {kind: sysfs}"},
		{"egress kind", "egress: {kind: file}"},
		{"malformed", "relay: [1, 2"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, tt.content))
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}

	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func Test_Config_RestartRequired(t *testing.T) {
	assert := assert.New(t)

	current := defaultConfig()

	next := defaultConfig()
	next.LogLevel = "debug"
	next.Filter.Prefixes = []string{"sensor/"}
	assert.False(current.restartRequired(next))

	next.Relay.ChunkLength = 64
	assert.True(current.restartRequired(next))
}

func Test_Reloader(t *testing.T) {
	assert := assert.New(t)

	prevLevel := internal.GetLogLevel()
	defer internal.SetLogLevel(prevLevel)

	path := writeConfig(t, "filter: {prefixes: [sensor/]}")
	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	filter := processor.NewTopicFilter(cfg.Filter.Prefixes...)

	r, err := newReloader(path, cfg, filter)
	require.NoError(t, err)
	defer r.watcher.Close()

	// Live settings only
	require.NoError(t, os.WriteFile(path, []byte("log_level: warn\nfilter: {prefixes: [status]}"), 0o600))
	assert.NoError(r.reload())
	assert.Equal([]string{"status"}, filter.Prefixes())
	assert.Equal(slog.LevelWarn, internal.GetLogLevel())

	// The new prefixes are applied even if a restart is required
	require.NoError(t, os.WriteFile(path, []byte("filter: {prefixes: [cmd/]}\nrelay: {chunk_length: 64}"), 0o600))
	assert.ErrorIs(r.reload(), ErrRestartRequired)
	assert.Equal([]string{"cmd/"}, filter.Prefixes())

	// An invalid file is not applied
	require.NoError(t, os.WriteFile(path, []byte("egress: {kind: file}"), 0o600))
	assert.ErrorIs(r.reload(), ErrInvalidConfig)
	assert.Equal([]string{"cmd/"}, filter.Prefixes())
}

func Test_Reloader_Watch(t *testing.T) {
	path := writeConfig(t, "filter: {prefixes: [sensor/]}")
	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	filter := processor.NewTopicFilter(cfg.Filter.Prefixes...)

	r, err := newReloader(path, cfg, filter)
	require.NoError(t, err)

	ctx, cancelCtx := context.WithCancel(t.Context())

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = r.run(ctx)
	}()
	defer func() {
		cancelCtx()
		<-done
	}()

	require.NoError(t, os.WriteFile(path, []byte("filter: {prefixes: [status]}"), 0o600))

	assert.Eventually(t, func() bool {
		prefixes := filter.Prefixes()
		return len(prefixes) == 1 && prefixes[0] == "status"
	}, 2*time.Second, 10*time.Millisecond)
}

func Test_BuildPipeline(t *testing.T) {
	assert := assert.New(t)

	cfg := defaultConfig()
	cfg.Ingress.Ticker.Interval = 10 * time.Millisecond
	cfg.Filter.Prefixes = []string{"ping"}
	cfg.Handshake.Kind = handshakeLog
	cfg.Egress.Kind = egressKindSink

	rp, err := buildPipeline(cfg)
	require.NoError(t, err)

	assert.Equal([]string{"ping"}, rp.filter.Prefixes())

	ctx, cancelCtx := context.WithCancel(t.Context())

	require.NoError(t, rp.Init(ctx))
	rp.Run(ctx)

	time.Sleep(50 * time.Millisecond)

	cancelCtx()
	rp.Close()
	assert.NoError(rp.close())
}

func Test_BuildTransport_Stream(t *testing.T) {
	assert := assert.New(t)

	cfg := &TransportConfig{
		Peer:        peerStream,
		Depth:       transport.DefaultLoopbackDepth,
		PeerRecords: []string{"status,ok"},
	}

	tr, err := buildTransport(cfg)
	require.NoError(t, err)
	defer tr.Close()

	_, err = buildTransport(&TransportConfig{Peer: "spi", Depth: 1})
	assert.Error(err)
}

func Test_BuildHandshake(t *testing.T) {
	assert := assert.New(t)

	line, closeLine, err := buildHandshake(&HandshakeConfig{Kind: handshakeNone})
	assert.NoError(err)
	assert.Nil(line)
	assert.Nil(closeLine)

	line, _, err = buildHandshake(&HandshakeConfig{Kind: handshakeLog})
	assert.NoError(err)
	assert.NoError(line.Set(true))

	_, _, err = buildHandshake(&HandshakeConfig{Kind: handshakeSysfs, Path: filepath.Join(t.TempDir(), "value")})
	assert.Error(err)
}
