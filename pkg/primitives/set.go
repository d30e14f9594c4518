package primitives

import (
	"context"
	"encoding/json"
	"fmt"
)

// Set is a distributed set of strings, addAll/removeAll/containsAll
// collapsed to single-element convenience methods the way
// DefaultAsyncDistributedSet.add/remove/contains do over their *All
// counterparts.
type Set struct {
	name      string
	submitter Submitter
}

func NewSet(name string, submitter Submitter) *Set {
	return &Set{name: name, submitter: submitter}
}

func (s *Set) command(op string) string {
	return fmt.Sprintf("set/%s/%s", s.name, op)
}

func (s *Set) Add(ctx context.Context, element string) (bool, error) {
	return s.AddAll(ctx, []string{element})
}

func (s *Set) AddAll(ctx context.Context, elements []string) (bool, error) {
	args, err := encodeArgs(elements)
	if err != nil {
		return false, err
	}

	result, err := s.submitter.SubmitCommand(ctx, s.command("add"), args)
	if err != nil {
		return false, err
	}

	return decodeBool(result)
}

func (s *Set) Remove(ctx context.Context, element string) (bool, error) {
	return s.RemoveAll(ctx, []string{element})
}

func (s *Set) RemoveAll(ctx context.Context, elements []string) (bool, error) {
	args, err := encodeArgs(elements)
	if err != nil {
		return false, err
	}

	result, err := s.submitter.SubmitCommand(ctx, s.command("remove"), args)
	if err != nil {
		return false, err
	}

	return decodeBool(result)
}

func (s *Set) Contains(ctx context.Context, element string) (bool, error) {
	args, err := encodeArgs([]string{element})
	if err != nil {
		return false, err
	}

	result, err := s.submitter.SubmitCommand(ctx, s.command("contains"), args)
	if err != nil {
		return false, err
	}

	return decodeBool(result)
}

func (s *Set) Size(ctx context.Context) (int, error) {
	result, err := s.submitter.SubmitCommand(ctx, s.command("size"), nil)
	if err != nil {
		return 0, err
	}

	var size int
	if err := json.Unmarshal(result, &size); err != nil {
		return 0, fmt.Errorf("cannot decode size result: %w", err)
	}
	return size, nil
}

func (s *Set) Clear(ctx context.Context) error {
	_, err := s.submitter.SubmitCommand(ctx, s.command("clear"), nil)
	return err
}

func decodeBool(data []byte) (bool, error) {
	if len(data) == 0 {
		return false, nil
	}

	var v bool
	if err := json.Unmarshal(data, &v); err != nil {
		return false, fmt.Errorf("cannot decode boolean result: %w", err)
	}
	return v, nil
}
