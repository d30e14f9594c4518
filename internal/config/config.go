// Package config holds the schema for the daemon's service configuration:
// cluster membership, data directory, election/heartbeat timeouts and
// compaction knobs. It is decoded from JSON by go-service's DefaultCfg/
// ValidateJSON mechanism, the same way cmd/raftd's ServiceCfg is.
package config

import (
	"time"

	jsonvalidator "github.com/galdor/go-json-validator"
	"github.com/galdor/go-raft/pkg/raft"
)

// RaftCfg is the cluster-facing slice of the daemon's configuration.
type RaftCfg struct {
	Servers       raft.ServerSet `json:"servers"`
	DataDirectory string         `json:"dataDirectory"`

	MinElectionTimeoutMs int `json:"minElectionTimeoutMs"`
	MaxElectionTimeoutMs int `json:"maxElectionTimeoutMs"`
	HeartbeatIntervalMs  int `json:"heartbeatIntervalMs"`

	MaxLogBytes        int `json:"maxLogBytes"`
	SnapshotChunkBytes int `json:"snapshotChunkBytes"`
}

func (cfg *RaftCfg) ValidateJSON(v *jsonvalidator.Validator) {
	v.WithChild("servers", func() {
		for id, server := range cfg.Servers {
			id, server := id, server

			v.WithChild(string(id), func() {
				v.CheckStringNotEmpty("localAddress", string(server.LocalAddress))
				v.CheckStringNotEmpty("publicAddress", string(server.PublicAddress))
			})
		}
	})

	v.CheckStringNotEmpty("dataDirectory", cfg.DataDirectory)
}

// ServerCfg builds the raft.ServerCfg fields this configuration controls.
// Zero millisecond fields are left at zero so raft.NewServer applies its
// own defaults.
func (cfg *RaftCfg) ServerCfg() (min, max, heartbeat time.Duration, maxLogBytes, snapshotChunkBytes int) {
	return time.Duration(cfg.MinElectionTimeoutMs) * time.Millisecond,
		time.Duration(cfg.MaxElectionTimeoutMs) * time.Millisecond,
		time.Duration(cfg.HeartbeatIntervalMs) * time.Millisecond,
		cfg.MaxLogBytes,
		cfg.SnapshotChunkBytes
}
