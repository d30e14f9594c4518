package primitives

import (
	"context"
	"encoding/json"
	"fmt"
)

// Map is a distributed string-to-string map, the map-shaped sibling of Set.
type Map struct {
	name      string
	submitter Submitter
}

func NewMap(name string, submitter Submitter) *Map {
	return &Map{name: name, submitter: submitter}
}

func (m *Map) command(op string) string {
	return fmt.Sprintf("map/%s/%s", m.name, op)
}

type mapEntry struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

func (m *Map) Put(ctx context.Context, key, value string) error {
	args, err := encodeArgs(mapEntry{Key: key, Value: value})
	if err != nil {
		return err
	}

	_, err = m.submitter.SubmitCommand(ctx, m.command("put"), args)
	return err
}

func (m *Map) Get(ctx context.Context, key string) (string, bool, error) {
	args, err := encodeArgs(key)
	if err != nil {
		return "", false, err
	}

	result, err := m.submitter.SubmitCommand(ctx, m.command("get"), args)
	if err != nil {
		return "", false, err
	}

	if result == nil {
		return "", false, nil
	}

	var value string
	if err := json.Unmarshal(result, &value); err != nil {
		return "", false, fmt.Errorf("cannot decode value: %w", err)
	}
	return value, true, nil
}

func (m *Map) Remove(ctx context.Context, key string) error {
	args, err := encodeArgs(key)
	if err != nil {
		return err
	}

	_, err = m.submitter.SubmitCommand(ctx, m.command("remove"), args)
	return err
}
