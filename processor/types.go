// Package processor contains the processor stages.
// All the processor stages take a message from a previous stage,
// through an input connector, and produce a message for the next stage,
// through an output connector.
package processor

import (
	"github.com/FerroO2000/spilink/connector"
	"github.com/FerroO2000/spilink/internal/config"
	"github.com/FerroO2000/spilink/internal/message"
)

type msgEnv = message.Envelope

type msg[T msgEnv] = message.Message[T]

type msgTop = message.Topical

type msgConn[T msgEnv] = connector.Connector[*msg[T]]

type cfg = config.Config
