package config

import (
	"testing"
	"time"

	"github.com/FerroO2000/spilink/internal"
	"github.com/stretchr/testify/assert"
)

type testConfig struct {
	Depth       int
	ChunkLength int
	Timeout     time.Duration
	Name        string
	Brokers     []string
}

func (c *testConfig) Validate(ac *AnomalyCollector) {
	CheckInRange(ac, "Depth", &c.Depth, 1, 253, 4)
	CheckNotZero(ac, "ChunkLength", &c.ChunkLength, 32)
	CheckMultipleOf(ac, "ChunkLength", &c.ChunkLength, 4, 32)
	CheckNotNegative(ac, "Timeout", &c.Timeout, time.Millisecond)
	CheckNotEmpty(ac, "Name", &c.Name, "relay")
	CheckLen(ac, "Brokers", &c.Brokers, []string{"localhost:9092"})
}

func Test_Checks(t *testing.T) {
	assert := assert.New(t)

	cfg := &testConfig{
		Depth:       300,
		ChunkLength: 30,
		Timeout:     -time.Second,
	}

	ac := NewAnomalyCollector()
	cfg.Validate(ac)

	assert.Equal([]string{"Depth", "ChunkLength", "Timeout", "Name", "Brokers"}, ac.Fields())

	assert.Equal(4, cfg.Depth)
	assert.Equal(32, cfg.ChunkLength)
	assert.Equal(time.Millisecond, cfg.Timeout)
	assert.Equal("relay", cfg.Name)
	assert.Equal([]string{"localhost:9092"}, cfg.Brokers)
}

func Test_Checks_Valid(t *testing.T) {
	cfg := &testConfig{
		Depth:       4,
		ChunkLength: 64,
		Timeout:     time.Second,
		Name:        "relay",
		Brokers:     []string{"broker:9092"},
	}

	ac := NewAnomalyCollector()
	cfg.Validate(ac)

	assert.Empty(t, ac.Fields())
}

func Test_CheckNotLower(t *testing.T) {
	assert := assert.New(t)

	ac := NewAnomalyCollector()

	size := 0
	CheckNotLower(ac, "PoolSize", &size, 1)
	assert.Equal(1, size)

	workers := 5
	CheckNotGreaterThan(ac, "MinWorkers", "MaxWorkers", &workers, 3)
	assert.Equal(3, workers)

	assert.Equal([]string{"PoolSize", "MinWorkers"}, ac.Fields())
}

func Test_Validator(t *testing.T) {
	assert := assert.New(t)

	validator := NewValidator(internal.NewTelemetry("test", "validator"))

	assert.Equal(4, validator.Validate(&testConfig{}))

	// The collector is reset between validations
	assert.Equal(0, validator.Validate(&testConfig{
		Depth:       1,
		ChunkLength: 4,
		Name:        "relay",
		Brokers:     []string{"broker"},
	}))

	assert.Equal(0, validator.Validate(&Empty{}))
}
