package raft

import "fmt"

// EntryKind tags the payload carried by an Entry. The source material models
// this as a class hierarchy with runtime type checks; here it is a sum type
// so that dispatch (see apply.go) is a single switch over Kind. The compiler
// does not check that switch for exhaustiveness; apply.go's default branch
// covers any unlisted kind.
type EntryKind int

const (
	EntryCommand EntryKind = iota + 1
	EntryConfiguration
	EntrySnapshotStart
	EntrySnapshotChunk
	EntrySnapshotEnd
	EntryNoOp
)

func (k EntryKind) String() string {
	switch k {
	case EntryCommand:
		return "command"
	case EntryConfiguration:
		return "configuration"
	case EntrySnapshotStart:
		return "snapshotStart"
	case EntrySnapshotChunk:
		return "snapshotChunk"
	case EntrySnapshotEnd:
		return "snapshotEnd"
	case EntryNoOp:
		return "noOp"
	default:
		return "unknown"
	}
}

// Entry is a single, term-stamped log slot. Exactly one of the payload
// fields is meaningful, selected by Kind; the others are zero.
type Entry struct {
	Term Term
	Kind EntryKind

	// EntryCommand
	Command string
	Args    []byte

	// EntryConfiguration
	Members []ServerId

	// EntrySnapshotStart
	SnapshotTerm    Term
	SnapshotMembers []ServerId

	// EntrySnapshotChunk
	Chunk []byte

	// EntrySnapshotEnd
	SnapshotLength int
}

func NewCommandEntry(term Term, command string, args []byte) Entry {
	return Entry{Term: term, Kind: EntryCommand, Command: command, Args: args}
}

func NewConfigurationEntry(term Term, members []ServerId) Entry {
	return Entry{Term: term, Kind: EntryConfiguration, Members: members}
}

func NewSnapshotStartEntry(term Term, members []ServerId) Entry {
	return Entry{
		Term: term, Kind: EntrySnapshotStart,
		SnapshotTerm: term, SnapshotMembers: members,
	}
}

func NewSnapshotChunkEntry(term Term, chunk []byte) Entry {
	return Entry{Term: term, Kind: EntrySnapshotChunk, Chunk: chunk}
}

func NewSnapshotEndEntry(term Term, length int) Entry {
	return Entry{Term: term, Kind: EntrySnapshotEnd, SnapshotLength: length}
}

func NewNoOpEntry(term Term) Entry {
	return Entry{Term: term, Kind: EntryNoOp}
}

func (e Entry) String() string {
	switch e.Kind {
	case EntryCommand:
		return fmt.Sprintf("Command{term: %d, command: %q, %d bytes}",
			e.Term, e.Command, len(e.Args))
	case EntryConfiguration:
		return fmt.Sprintf("Configuration{term: %d, members: %v}",
			e.Term, e.Members)
	case EntrySnapshotStart:
		return fmt.Sprintf("SnapshotStart{term: %d, members: %v}",
			e.Term, e.SnapshotMembers)
	case EntrySnapshotChunk:
		return fmt.Sprintf("SnapshotChunk{term: %d, %d bytes}",
			e.Term, len(e.Chunk))
	case EntrySnapshotEnd:
		return fmt.Sprintf("SnapshotEnd{term: %d, length: %d}",
			e.Term, e.SnapshotLength)
	case EntryNoOp:
		return fmt.Sprintf("NoOp{term: %d}", e.Term)
	default:
		return fmt.Sprintf("Entry{term: %d, kind: %d}", e.Term, e.Kind)
	}
}

// sizeBytes is a rough accounting of the entry's footprint, used by the log
// to track Log.size() for the compaction trigger.
func (e Entry) sizeBytes() int {
	const overhead = 24
	switch e.Kind {
	case EntryCommand:
		return overhead + len(e.Command) + len(e.Args)
	case EntryConfiguration:
		return overhead + len(e.Members)*8
	case EntrySnapshotStart:
		return overhead + len(e.SnapshotMembers)*8
	case EntrySnapshotChunk:
		return overhead + len(e.Chunk)
	default:
		return overhead
	}
}
