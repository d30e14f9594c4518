package primitives

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
)

// fakeSubmitter is an in-process stand-in for a deployment's command
// interface, just enough to exercise the command-name and argument-encoding
// contract each primitive builds on top of Submitter.
type fakeSubmitter struct {
	calls []call
	sets  map[string]map[string]bool
	maps  map[string]map[string]string
	locks map[string]string

	failNext bool
}

type call struct {
	command string
	args    []byte
}

func newFakeSubmitter() *fakeSubmitter {
	return &fakeSubmitter{
		sets:  make(map[string]map[string]bool),
		maps:  make(map[string]map[string]string),
		locks: make(map[string]string),
	}
}

func (f *fakeSubmitter) SubmitCommand(ctx context.Context, command string, args []byte) ([]byte, error) {
	f.calls = append(f.calls, call{command: command, args: args})

	if f.failNext {
		f.failNext = false
		return nil, errors.New("submission failed")
	}

	switch command {
	case "set/s/add":
		var elements []string
		json.Unmarshal(args, &elements)
		set := f.sets["s"]
		if set == nil {
			set = make(map[string]bool)
			f.sets["s"] = set
		}
		added := false
		for _, e := range elements {
			if !set[e] {
				set[e] = true
				added = true
			}
		}
		return json.Marshal(added)

	case "set/s/contains":
		var elements []string
		json.Unmarshal(args, &elements)
		return json.Marshal(f.sets["s"][elements[0]])

	case "map/m/put":
		var e mapEntry
		json.Unmarshal(args, &e)
		mp := f.maps["m"]
		if mp == nil {
			mp = make(map[string]string)
			f.maps["m"] = mp
		}
		mp[e.Key] = e.Value
		return nil, nil

	case "map/m/get":
		var key string
		json.Unmarshal(args, &key)
		value, found := f.maps["m"][key]
		if !found {
			return nil, nil
		}
		return json.Marshal(value)

	case "lock/l/tryLock":
		var holder string
		json.Unmarshal(args, &holder)
		if f.locks["l"] == "" {
			f.locks["l"] = holder
			return json.Marshal(true)
		}
		return json.Marshal(f.locks["l"] == holder)

	case "lock/l/unlock":
		var holder string
		json.Unmarshal(args, &holder)
		if f.locks["l"] == holder {
			delete(f.locks, "l")
		}
		return nil, nil
	}

	return nil, nil
}

func TestSetAddAndContains(t *testing.T) {
	sub := newFakeSubmitter()
	s := NewSet("s", sub)

	added, err := s.Add(context.Background(), "a")
	if err != nil {
		t.Fatalf("cannot add: %v", err)
	}
	if !added {
		t.Fatalf("expected the first add to report a change")
	}

	added, err = s.Add(context.Background(), "a")
	if err != nil {
		t.Fatalf("cannot add: %v", err)
	}
	if added {
		t.Fatalf("expected adding an existing element to report no change")
	}

	contains, err := s.Contains(context.Background(), "a")
	if err != nil || !contains {
		t.Fatalf("expected the set to contain %q, err=%v", "a", err)
	}

	if sub.calls[0].command != "set/s/add" {
		t.Fatalf("expected the command name set/s/add, got %q", sub.calls[0].command)
	}
}

func TestSetSubmissionErrorPropagates(t *testing.T) {
	sub := newFakeSubmitter()
	sub.failNext = true
	s := NewSet("s", sub)

	if _, err := s.Add(context.Background(), "a"); err == nil {
		t.Fatalf("expected the submission failure to propagate")
	}
}

func TestMapPutAndGet(t *testing.T) {
	sub := newFakeSubmitter()
	m := NewMap("m", sub)

	if err := m.Put(context.Background(), "k", "v"); err != nil {
		t.Fatalf("cannot put: %v", err)
	}

	value, found, err := m.Get(context.Background(), "k")
	if err != nil || !found || value != "v" {
		t.Fatalf("expected (v, true, nil), got (%q, %v, %v)", value, found, err)
	}

	_, found, err = m.Get(context.Background(), "missing")
	if err != nil || found {
		t.Fatalf("expected a missing key to report found=false, got found=%v err=%v", found, err)
	}
}

func TestLockTryLockContendsBetweenHolders(t *testing.T) {
	sub := newFakeSubmitter()
	l := NewLock("l", sub)

	granted, err := l.TryLock(context.Background(), "holder-1")
	if err != nil || !granted {
		t.Fatalf("expected the first TryLock to be granted, err=%v", err)
	}

	granted, err = l.TryLock(context.Background(), "holder-2")
	if err != nil || granted {
		t.Fatalf("expected a second holder to be denied while the lock is held")
	}

	if err := l.Unlock(context.Background(), "holder-1"); err != nil {
		t.Fatalf("cannot unlock: %v", err)
	}

	granted, err = l.TryLock(context.Background(), "holder-2")
	if err != nil || !granted {
		t.Fatalf("expected the lock to be available after unlock, err=%v", err)
	}
}
