package raft

// StateMachine is opaque to the engine. It receives committed commands
// in log order and, on request, produces and consumes byte-serialized
// snapshots. The engine never inspects the meaning of Command/Args or of
// the snapshot payload.
type StateMachine interface {
	// ApplyCommand executes a committed command. An error is logged and
	// otherwise swallowed by the caller — it never blocks lastApplied from
	// advancing.
	ApplyCommand(command string, args []byte) (result []byte, err error)

	// TakeSnapshot serializes the full state machine state for chunking
	// into a CombinedSnapshot (snapshot.go).
	TakeSnapshot() ([]byte, error)

	// InstallSnapshot replaces the state machine's state with the given
	// payload, as reassembled by snapshot.go when a SnapshotEnd entry is
	// applied.
	InstallSnapshot(payload []byte) error
}
