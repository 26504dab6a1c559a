// Package egress contains the egress stages.
// Every egress stage delivers the records reassembled by the relay.
package egress

import (
	"github.com/FerroO2000/spilink/connector"
	"github.com/FerroO2000/spilink/internal/config"
	"github.com/FerroO2000/spilink/internal/message"
)

type msgEnv = message.Envelope

type msg[T msgEnv] = message.Message[T]

type msgSer = message.Serializable

type msgTop = message.Topical

type msgConn[T msgEnv] = connector.Connector[*msg[T]]

type cfg = config.Config
