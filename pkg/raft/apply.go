package raft

// ApplyNext applies the entry at ctx.LastApplied()+1 to sm, dispatching by
// Entry.Kind. It is the apply-loop's only entry point: lastApplied advances
// either here or in snapshot.go's SnapshotEnd handling, which is dispatched
// from here. Every other place in the engine that wants an entry applied
// routes through this function so that lastApplied only ever moves forward.
//
// Applying out of order is a fatal programmer error rather than a
// swallowed failure: it means the caller broke the apply-loop's own
// contract, not that the network or the state machine misbehaved.
func ApplyNext(ctx *ReplicaContext, sm StateMachine, snapshots *SnapshotPipeline, logger Logger) {
	index := ctx.LastApplied() + 1

	entry, found := ctx.Log.GetEntry(index)
	if !found {
		Panicf("cannot apply index %d: entry not found in log", index)
	}

	switch entry.Kind {
	case EntryCommand:
		result, err := sm.ApplyCommand(entry.Command, entry.Args)
		if err != nil {
			logger.Error("command %q at index %d failed: %v", entry.Command, index, err)
		}
		ctx.AdvanceLastApplied(index)
		ctx.Events.PublishCommandApplied(CommandAppliedEvent{
			Index: index, Command: entry.Command, Result: result, Err: err,
		})

	case EntryConfiguration:
		func() {
			defer func() {
				if r := recover(); r != nil {
					logger.Error("configuration entry at index %d failed: %v", index, r)
				}
			}()
			ctx.Cluster.SetRemoteMembers(entry.Members)
		}()
		ctx.AdvanceLastApplied(index)

	case EntrySnapshotStart, EntrySnapshotChunk:
		// Meaningless in isolation; only SnapshotEnd triggers assembly.
		ctx.AdvanceLastApplied(index)

	case EntrySnapshotEnd:
		snapshots.ApplySnapshotEnd(index)

	case EntryNoOp:
		ctx.AdvanceLastApplied(index)

	default:
		ctx.AdvanceLastApplied(index)
	}
}
