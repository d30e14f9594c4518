package raft

import "errors"

// ErrNoBackup is returned by Log.commit and Log.restore when no backup is
// currently staged.
var ErrNoBackup = errors.New("raft: no log backup staged")

// Log is the abstract ordered store the engine drives. The core never
// inspects how entries are laid out on disk; it only ever calls this
// interface.
//
// For any Log in a valid state, the indices [firstIndex()..lastIndex()]
// are contiguous; an empty log has firstIndex() == lastIndex()+1.
type Log interface {
	// FirstIndex is the index of the oldest retained entry. On an empty log
	// this is one past LastIndex.
	FirstIndex() LogIndex

	// LastIndex is the index of the newest entry, or FirstIndex()-1 when
	// empty.
	LastIndex() LogIndex

	// IsEmpty reports whether the log currently holds no entries.
	IsEmpty() bool

	// GetEntry returns the entry at index, or (Entry{}, false) if index
	// falls outside [FirstIndex(), LastIndex()].
	GetEntry(index LogIndex) (Entry, bool)

	// AppendEntries appends entries after the current LastIndex.
	AppendEntries(entries []Entry) error

	// RemoveAfter truncates the log so that LastIndex() becomes index. A
	// no-op if index >= LastIndex().
	RemoveAfter(index LogIndex) error

	// RemoveBefore drops the prefix so that FirstIndex() becomes index. A
	// no-op if index <= FirstIndex().
	RemoveBefore(index LogIndex) error

	// PrependEntries inserts entries before the current FirstIndex, used to
	// splice a snapshot back in during compaction. The last entry of
	// entries must land at FirstIndex()-1.
	PrependEntries(entries []Entry) error

	// Backup stages a transactional snapshot of the log's current state.
	// Only one backup may be staged at a time.
	Backup() error

	// Commit discards the staged backup, making the mutations performed
	// since Backup permanent.
	Commit() error

	// Restore reverts the log to the state captured by Backup, undoing any
	// mutation performed since.
	Restore() error

	// Size is the log's footprint in bytes, the quantity compared against
	// cfg.maxLogBytes to trigger compaction.
	Size() int

	// Close releases any resources (file handles) held by the log.
	Close() error
}
