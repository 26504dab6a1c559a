package message

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type recordEnvelope struct {
	topic     string
	payload   []byte
	destroyed int
}

func (r *recordEnvelope) Destroy()           { r.destroyed++ }
func (r *recordEnvelope) GetTopic() string   { return r.topic }
func (r *recordEnvelope) GetPayload() []byte { return r.payload }

var _ Topical = (*recordEnvelope)(nil)

func Test_Message(t *testing.T) {
	assert := assert.New(t)

	env := &recordEnvelope{topic: "sensor", payload: []byte("42")}
	msg := NewMessage(env)

	recvTime := time.Now().Add(-time.Second)
	msg.SetReceiveTime(recvTime)
	msg.SetTimestamp(recvTime.Add(time.Millisecond))

	assert.Equal(recvTime, msg.GetReceiveTime())
	assert.GreaterOrEqual(msg.Latency(), time.Second)
	assert.Same(env, msg.GetEnvelope())

	assert.False(msg.IsDropped())
	msg.Drop()
	assert.True(msg.IsDropped())
}

func Test_Message_Clone(t *testing.T) {
	assert := assert.New(t)

	env := &recordEnvelope{topic: "sensor"}
	msg := NewMessage(env)
	msg.SetTimestamp(time.Unix(10, 0))

	clone := msg.Clone()
	assert.Equal(msg.GetTimestamp(), clone.GetTimestamp())
	assert.Same(env, clone.GetEnvelope())

	// The envelope is destroyed only with the last reference
	msg.Destroy()
	assert.Equal(0, env.destroyed)

	clone.Destroy()
	assert.Equal(1, env.destroyed)
}
