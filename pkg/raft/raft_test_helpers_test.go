package raft

import (
	"path"
	"testing"
)

// testLogger discards everything; useful for tests that only care about
// return values and side effects on state, not log output.
type testLogger struct{}

func (testLogger) Debug(int, string, ...interface{}) {}
func (testLogger) Info(string, ...interface{})       {}
func (testLogger) Error(string, ...interface{})      {}

var _ Logger = testLogger{}

// testStateMachine is a minimal in-memory command log used to assert what
// the apply-loop actually dispatched.
type testStateMachine struct {
	applied  []string
	snapshot []byte
}

func (sm *testStateMachine) ApplyCommand(command string, args []byte) ([]byte, error) {
	sm.applied = append(sm.applied, command)
	return args, nil
}

func (sm *testStateMachine) TakeSnapshot() ([]byte, error) {
	return sm.snapshot, nil
}

func (sm *testStateMachine) InstallSnapshot(payload []byte) error {
	sm.snapshot = payload
	return nil
}

var _ StateMachine = (*testStateMachine)(nil)

// testTransport records every message sent or broadcast instead of putting
// anything on the wire.
type testTransport struct {
	sent      []sentMsg
	broadcast []RPCMsg
}

type sentMsg struct {
	recipient ServerId
	msg       RPCMsg
}

func (t *testTransport) SendMsg(recipient ServerId, msg RPCMsg) {
	t.sent = append(t.sent, sentMsg{recipient: recipient, msg: msg})
}

func (t *testTransport) BroadcastMsg(msg RPCMsg) {
	t.broadcast = append(t.broadcast, msg)
}

var _ RoleTransport = (*testTransport)(nil)

func newTestContext(t *testing.T, id ServerId, servers ServerSet) *ReplicaContext {
	t.Helper()

	dir := t.TempDir()

	store := NewPersistentStore(path.Join(dir, "persistent-state.json"))
	if err := store.Open(); err != nil {
		t.Fatalf("cannot open persistent store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	log := NewMemLog(path.Join(dir, "log.data"))
	if err := log.Open(); err != nil {
		t.Fatalf("cannot open log: %v", err)
	}
	t.Cleanup(func() { log.Close() })

	cluster := NewClusterView(id, servers)

	ctx, err := NewReplicaContext(store, log, cluster)
	if err != nil {
		t.Fatalf("cannot create replica context: %v", err)
	}

	return ctx
}

func testServers() ServerSet {
	return ServerSet{
		"s1": ServerData{LocalAddress: "127.0.0.1:9001", PublicAddress: "127.0.0.1:9001"},
		"s2": ServerData{LocalAddress: "127.0.0.1:9002", PublicAddress: "127.0.0.1:9002"},
		"s3": ServerData{LocalAddress: "127.0.0.1:9003", PublicAddress: "127.0.0.1:9003"},
	}
}
