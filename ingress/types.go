// Package ingress contains the ingress stages.
// Every ingress stage turns the events of a subscription source
// into records enqueued towards the relay.
package ingress

import (
	"github.com/FerroO2000/spilink/connector"
	"github.com/FerroO2000/spilink/internal/config"
	"github.com/FerroO2000/spilink/internal/message"
)

type msgEnv = message.Envelope

type msg[T msgEnv] = message.Message[T]

type msgConn[T msgEnv] = connector.Connector[*msg[T]]

type cfg = config.Config

// SubscriptionConnector is the connector fed by the ingress stages.
type SubscriptionConnector = msgConn[*SubscriptionMessage]
