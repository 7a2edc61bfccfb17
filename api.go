// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package simbft

import (
	"go.uber.org/zap"
)

type Logger interface {
	// Log that a fatal error has occurred. The program should likely exit soon
	// after this is called
	Fatal(msg string, fields ...zap.Field)
	// Log that an error has occurred. The program should be able to recover
	// from this error
	Error(msg string, fields ...zap.Field)
	// Log that an event has occurred that may indicate a future error or
	// vulnerability
	Warn(msg string, fields ...zap.Field)
	// Log an event that may be useful for a user to see to measure the progress
	// of the protocol
	Info(msg string, fields ...zap.Field)
	// Log an event that may be useful for understanding the order of the
	// execution of the protocol
	Trace(msg string, fields ...zap.Field)
	// Log an event that may be useful for a programmer to see when debuging the
	// execution of the protocol
	Debug(msg string, fields ...zap.Field)
	// Log extremely detailed events that can be useful for inspecting every
	// aspect of the program
	Verbo(msg string, fields ...zap.Field)
}

// Signer signs protocol messages on behalf of a single node.
type Signer interface {
	Sign(message []byte) ([]byte, error)
}

// SignatureVerifier verifies that a signature over the given message was
// produced by the claimed signer.
type SignatureVerifier interface {
	Verify(message []byte, signature []byte, signer NodeID) error
}

// Recorder consumes the canonical event stream of a node. Events carry only
// logical fields, so two runs with identical seed and configuration produce
// identical streams.
type Recorder interface {
	Record(event Event)
}

// MessageHandler receives messages delivered by the network simulator.
type MessageHandler interface {
	HandleMessage(msg *Message, from NodeID)
}
