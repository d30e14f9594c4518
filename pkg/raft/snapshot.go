package raft

import (
	"bytes"
	"fmt"

	"golang.org/x/crypto/blake2b"
)

const DefaultSnapshotChunkBytes = 4096

// CombinedSnapshot is a reassembled snapshot: a term, a member set, and a
// contiguous byte buffer.
type CombinedSnapshot struct {
	Term    Term
	Members []ServerId
	Bytes   []byte
}

// SnapshotPipeline builds chunked snapshots from the state machine,
// reassembles them on apply, and drives log compaction. Snapshot
// construction is the one operation allowed to run off the replica's
// single-writer executor: Compact dispatches compact() onto its own
// goroutine and reports completion on doneChan instead of blocking the
// caller, so heartbeats, election timers and other RPCs keep flowing on the
// executor while a snapshot is serialized. Only the log itself (ctx.LogMu)
// is shared with the executor and needs to serialize against it.
type SnapshotPipeline struct {
	ctx *ReplicaContext
	sm  StateMachine
	log Logger

	chunkBytes  int
	maxLogBytes int

	compacting bool
	doneChan   chan error
}

func NewSnapshotPipeline(ctx *ReplicaContext, sm StateMachine, logger Logger, chunkBytes, maxLogBytes int) *SnapshotPipeline {
	if chunkBytes <= 0 {
		chunkBytes = DefaultSnapshotChunkBytes
	}
	return &SnapshotPipeline{
		ctx: ctx, sm: sm, log: logger,
		chunkBytes: chunkBytes, maxLogBytes: maxLogBytes,
		doneChan: make(chan error, 1),
	}
}

// ApplySnapshotEnd handles a SnapshotEnd entry: a backward scan from
// index-1 collecting contiguous SnapshotChunk entries until a SnapshotStart
// is found or a non-snapshot entry terminates the scan.
func (p *SnapshotPipeline) ApplySnapshotEnd(index LogIndex) {
	ctx := p.ctx

	end, found := ctx.Log.GetEntry(index)
	if !found {
		Panicf("cannot apply index %d: entry not found in log", index)
	}

	var reverseChunks []Entry
	var start *Entry

	firstIndex := ctx.Log.FirstIndex()
	for i := index - 1; i >= firstIndex; i-- {
		prev, found := ctx.Log.GetEntry(i)
		if !found {
			break
		}

		if prev.Kind == EntrySnapshotChunk {
			reverseChunks = append(reverseChunks, prev)
			continue
		}

		if prev.Kind == EntrySnapshotStart {
			s := prev
			start = &s
		}

		break
	}

	if start == nil {
		ctx.AdvanceLastApplied(index)
		return
	}

	entries := make([]Entry, 0, len(reverseChunks)+2)
	entries = append(entries, *start)
	for i := len(reverseChunks) - 1; i >= 0; i-- {
		entries = append(entries, reverseChunks[i])
	}
	entries = append(entries, end)

	p.installSnapshot(index, entries)
}

// installSnapshot reassembles and installs the snapshot ending at lastIndex.
func (p *SnapshotPipeline) installSnapshot(lastIndex LogIndex, entries []Entry) {
	ctx := p.ctx

	err := p.installSnapshotErr(lastIndex, entries)
	if err != nil {
		p.log.Error("snapshot install at index %d failed: %v", lastIndex, err)
	}

	// lastApplied advances regardless of failure: a swallowed
	// deserialization or install error must not wedge the log.
	ctx.AdvanceLastApplied(lastIndex)

	ctx.Events.PublishSnapshotInstalled(SnapshotInstalledEvent{
		Index: lastIndex, Term: ctx.CurrentTerm(), Err: err,
	})
}

func (p *SnapshotPipeline) installSnapshotErr(lastIndex LogIndex, entries []Entry) error {
	ctx := p.ctx

	if len(entries) < 2 {
		return fmt.Errorf("malformed snapshot entry set: %d entries", len(entries))
	}

	start := entries[0]
	end := entries[len(entries)-1]
	chunks := entries[1 : len(entries)-1]

	var buf bytes.Buffer
	for _, c := range chunks {
		buf.Write(c.Chunk)
	}
	combined := CombinedSnapshot{
		Term:    start.SnapshotTerm,
		Members: start.SnapshotMembers,
		Bytes:   buf.Bytes(),
	}

	if len(combined.Bytes) != end.SnapshotLength {
		sum := blake2b.Sum256(combined.Bytes)
		p.log.Error("snapshot length mismatch at index %d: got %d bytes "+
			"(checksum %x), expected %d", lastIndex, len(combined.Bytes),
			sum, end.SnapshotLength)
	}

	installErr := p.sm.InstallSnapshot(combined.Bytes)

	// Prefix truncation and membership/term updates happen even when the
	// state machine install failed: a swallowed install error must not
	// leave the log unable to progress.
	ctx.LogMu.Lock()
	err := ctx.Log.RemoveBefore(lastIndex - LogIndex(len(entries)) + 1)
	ctx.LogMu.Unlock()
	if err != nil {
		return fmt.Errorf("cannot truncate prefix: %w", err)
	}

	ctx.Cluster.SetRemoteMembers(combined.Members)

	if combined.Term > ctx.CurrentTerm() {
		if err := ctx.SetTermAndVote(combined.Term, ""); err != nil {
			return fmt.Errorf("cannot persist snapshot term: %w", err)
		}
	}

	return installErr
}

// BuildSnapshotEntries produces [Start, Chunk..., End] from the current
// state machine state.
func (p *SnapshotPipeline) BuildSnapshotEntries() ([]Entry, error) {
	ctx := p.ctx

	payload, err := p.sm.TakeSnapshot()
	if err != nil {
		return nil, fmt.Errorf("cannot take snapshot: %w", err)
	}

	term := ctx.CurrentTerm()
	entries := make([]Entry, 0, len(payload)/p.chunkBytes+2)
	entries = append(entries, NewSnapshotStartEntry(term, ctx.Cluster.Members()))

	for i := 0; i < len(payload); i += p.chunkBytes {
		end := i + p.chunkBytes
		if end > len(payload) {
			end = len(payload)
		}
		chunk := make([]byte, end-i)
		copy(chunk, payload[i:end])
		entries = append(entries, NewSnapshotChunkEntry(term, chunk))
	}

	entries = append(entries, NewSnapshotEndEntry(term, len(payload)))

	return entries, nil
}

// MaybeCompact triggers compaction once the log crosses maxLogBytes.
func (p *SnapshotPipeline) MaybeCompact() {
	if p.ctx.Log.Size() <= p.maxLogBytes {
		return
	}

	p.Compact()
}

// Compact starts compaction on a background goroutine, for operator-
// triggered snapshots (cmd/raftd's /snapshot endpoint) as well as the
// size-triggered path above. It never blocks: the caller's executor learns
// of completion by receiving from DoneChan in its own select loop. A
// compaction already in flight is left to run; Compact is a no-op until it
// reports back on DoneChan.
func (p *SnapshotPipeline) Compact() {
	if p.compacting {
		return
	}
	p.compacting = true

	// lastApplied is captured here, on the executor, rather than read from
	// inside the goroutine below: it is an unsynchronized field on
	// ReplicaContext that the executor keeps advancing while compact() runs.
	lastApplied := p.ctx.LastApplied()

	go func() {
		p.doneChan <- p.compact(lastApplied)
	}()
}

// DoneChan delivers the result of the most recently started compaction. The
// caller's executor must select on it and call Finish with the received
// error to allow a subsequent Compact call to start.
func (p *SnapshotPipeline) DoneChan() <-chan error {
	return p.doneChan
}

// Finish clears the in-flight flag and logs a failed compaction. Call it
// from the executor upon receiving from DoneChan.
func (p *SnapshotPipeline) Finish(err error) {
	p.compacting = false
	if err != nil {
		p.log.Error("compaction failed: %v", err)
	}
}

// compact runs on its own goroutine, off the replica's single-writer
// executor. It only holds ctx.LogMu for the backup/removeBefore/prepend/
// commit window, so concurrent AppendEntries processing on the executor
// blocks for that window and no longer. lastApplied is a value captured by
// the caller rather than read from ctx here, since ctx.LastApplied() keeps
// moving on the executor while this goroutine runs.
func (p *SnapshotPipeline) compact(lastApplied LogIndex) error {
	ctx := p.ctx

	entries, err := p.BuildSnapshotEntries()
	if err != nil {
		return err
	}

	ctx.LogMu.Lock()
	defer ctx.LogMu.Unlock()

	if err := ctx.Log.Backup(); err != nil {
		return fmt.Errorf("cannot stage backup: %w", err)
	}

	if lastApplied-LogIndex(len(entries)) <= 0 {
		return ctx.Log.Commit()
	}

	if err := ctx.Log.RemoveBefore(lastApplied + 1); err != nil {
		ctx.Log.Restore()
		return fmt.Errorf("cannot truncate prefix during compaction: %w", err)
	}

	if err := ctx.Log.PrependEntries(entries); err != nil {
		ctx.Log.Restore()
		return fmt.Errorf("cannot prepend snapshot entries: %w", err)
	}

	return ctx.Log.Commit()
}
