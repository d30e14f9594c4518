package primitives

import (
	"context"
	"fmt"
)

// Lock is a distributed mutual-exclusion lock, following the same
// single-command-per-operation shape as Set and Map. Unlike a local
// sync.Mutex, Lock is a client-side handle: two processes calling TryLock
// on the same name contend through the same submitted command and only one
// of them observes a granted result.
type Lock struct {
	name      string
	submitter Submitter
}

func NewLock(name string, submitter Submitter) *Lock {
	return &Lock{name: name, submitter: submitter}
}

func (l *Lock) command(op string) string {
	return fmt.Sprintf("lock/%s/%s", l.name, op)
}

// TryLock attempts to acquire the lock without blocking, reporting whether
// it was granted.
func (l *Lock) TryLock(ctx context.Context, holder string) (bool, error) {
	args, err := encodeArgs(holder)
	if err != nil {
		return false, err
	}

	result, err := l.submitter.SubmitCommand(ctx, l.command("tryLock"), args)
	if err != nil {
		return false, err
	}

	return decodeBool(result)
}

func (l *Lock) Unlock(ctx context.Context, holder string) error {
	args, err := encodeArgs(holder)
	if err != nil {
		return err
	}

	_, err = l.submitter.SubmitCommand(ctx, l.command("unlock"), args)
	return err
}
