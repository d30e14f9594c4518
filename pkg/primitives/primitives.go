// Package primitives offers thin distributed-data-structure wrappers over
// the engine's command interface: every operation becomes a single
// submitted command, named after the primitive and its instance so one
// state machine can host any number of sets/maps/locks without them
// colliding.
//
// These types never touch pkg/raft directly; they only call Submitter.
// Nothing in cmd/raftd implements Submitter: Service.submitCommand takes no
// context and is unexported.
package primitives

import (
	"context"
	"encoding/json"
	"fmt"
)

// Submitter is the seam a primitive drives the engine through.
type Submitter interface {
	SubmitCommand(ctx context.Context, command string, args []byte) ([]byte, error)
}

func encodeArgs(v interface{}) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("cannot encode arguments: %w", err)
	}
	return data, nil
}
