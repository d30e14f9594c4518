package raft

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
)

// MemLog is the default Log implementation: an in-memory slice of entries
// mirrored to a single file on disk, with a transactional backup/commit/
// restore triple that log compaction needs around its multi-step prefix
// truncation and prepend.
//
// The encoding of the mirror file is deliberately unadorned (a JSON array):
// nothing about entry layout is a contract outside this file.
type MemLog struct {
	filePath string

	mu      sync.Mutex
	first   LogIndex
	entries []Entry

	backup *logBackup
}

type logBackup struct {
	first   LogIndex
	entries []Entry
}

func NewMemLog(filePath string) *MemLog {
	return &MemLog{
		filePath: filePath,
		first:    1,
	}
}

// Open loads the mirror file if present, or creates an empty one.
func (l *MemLog) Open() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	data, err := os.ReadFile(l.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			l.first = 1
			l.entries = nil
			return l.persistLocked()
		}
		return fmt.Errorf("cannot read %q: %w", l.filePath, err)
	}

	if len(data) == 0 {
		l.first = 1
		l.entries = nil
		return nil
	}

	var snapshot struct {
		First   LogIndex
		Entries []Entry
	}

	if err := json.Unmarshal(data, &snapshot); err != nil {
		return fmt.Errorf("cannot decode log file %q: %w", l.filePath, err)
	}

	l.first = snapshot.First
	if l.first == 0 {
		l.first = 1
	}
	l.entries = snapshot.Entries

	return nil
}

func (l *MemLog) Close() error {
	return nil
}

func (l *MemLog) FirstIndex() LogIndex {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.first
}

func (l *MemLog) LastIndex() LogIndex {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastIndexLocked()
}

func (l *MemLog) lastIndexLocked() LogIndex {
	return l.first + LogIndex(len(l.entries)) - 1
}

func (l *MemLog) IsEmpty() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries) == 0
}

func (l *MemLog) GetEntry(index LogIndex) (Entry, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.entries) == 0 {
		return Entry{}, false
	}

	if index < l.first || index > l.lastIndexLocked() {
		return Entry{}, false
	}

	return l.entries[index-l.first], true
}

func (l *MemLog) AppendEntries(entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.entries = append(l.entries, entries...)
	return l.persistLocked()
}

func (l *MemLog) RemoveAfter(index LogIndex) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.entries) == 0 || index >= l.lastIndexLocked() {
		return nil
	}

	if index < l.first-1 {
		index = l.first - 1
	}

	keep := int(index - l.first + 1)
	if keep < 0 {
		keep = 0
	}

	l.entries = l.entries[:keep]
	return l.persistLocked()
}

func (l *MemLog) RemoveBefore(index LogIndex) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if index <= l.first {
		return nil
	}

	last := l.lastIndexLocked()
	if index > last+1 {
		index = last + 1
	}

	drop := int(index - l.first)
	if drop > len(l.entries) {
		drop = len(l.entries)
	}

	l.entries = l.entries[drop:]
	l.first = index

	return l.persistLocked()
}

func (l *MemLog) PrependEntries(entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.entries = append(append([]Entry{}, entries...), l.entries...)
	l.first = l.first - LogIndex(len(entries))
	if l.first < 1 {
		l.first = 1
	}

	return l.persistLocked()
}

func (l *MemLog) Backup() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.backup != nil {
		return fmt.Errorf("raft: a log backup is already staged")
	}

	entriesCopy := make([]Entry, len(l.entries))
	copy(entriesCopy, l.entries)

	l.backup = &logBackup{first: l.first, entries: entriesCopy}
	return nil
}

func (l *MemLog) Commit() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.backup == nil {
		return ErrNoBackup
	}

	l.backup = nil
	return nil
}

func (l *MemLog) Restore() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.backup == nil {
		return ErrNoBackup
	}

	l.first = l.backup.first
	l.entries = l.backup.entries
	l.backup = nil

	return l.persistLocked()
}

func (l *MemLog) Size() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	total := 0
	for _, e := range l.entries {
		total += e.sizeBytes()
	}
	return total
}

// persistLocked rewrites the mirror file. Callers must hold l.mu.
func (l *MemLog) persistLocked() error {
	if l.filePath == "" {
		return nil
	}

	snapshot := struct {
		First   LogIndex
		Entries []Entry
	}{
		First:   l.first,
		Entries: l.entries,
	}

	data, err := json.Marshal(&snapshot)
	if err != nil {
		return fmt.Errorf("cannot encode log: %w", err)
	}

	tmpPath := l.filePath + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("cannot write %q: %w", tmpPath, err)
	}

	if err := os.Rename(tmpPath, l.filePath); err != nil {
		return fmt.Errorf("cannot rename %q to %q: %w", tmpPath, l.filePath, err)
	}

	return nil
}

var _ Log = (*MemLog)(nil)
