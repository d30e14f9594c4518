package raft

// ClusterView tracks local member identity, the known remote members, and
// each configured server's addresses. The current leader is tracked by
// ReplicaContext, not here. It is mutated only from
// applied Configuration entries (apply.go) or snapshot installs
// (snapshot.go); nothing else may write to it once the replica has started.
type ClusterView struct {
	localMember ServerId
	servers     ServerSet

	remoteMembers map[ServerId]bool
}

func NewClusterView(localMember ServerId, servers ServerSet) *ClusterView {
	remote := make(map[ServerId]bool, len(servers))
	for id := range servers {
		if id != localMember {
			remote[id] = true
		}
	}

	return &ClusterView{
		localMember:   localMember,
		servers:       servers,
		remoteMembers: remote,
	}
}

func (c *ClusterView) LocalMember() ServerId {
	return c.localMember
}

// IsMember reports whether id is a known member of the cluster (local or
// remote).
func (c *ClusterView) IsMember(id ServerId) bool {
	if id == c.localMember {
		return true
	}
	return c.remoteMembers[id]
}

// RemoteMembers returns a snapshot slice of the currently known remote
// member ids.
func (c *ClusterView) RemoteMembers() []ServerId {
	ids := make([]ServerId, 0, len(c.remoteMembers))
	for id := range c.remoteMembers {
		ids = append(ids, id)
	}
	return ids
}

// Members returns every member id, local included.
func (c *ClusterView) Members() []ServerId {
	ids := make([]ServerId, 0, len(c.remoteMembers)+1)
	ids = append(ids, c.localMember)
	for id := range c.remoteMembers {
		ids = append(ids, id)
	}
	return ids
}

func (c *ClusterView) Quorum() int {
	return (len(c.remoteMembers)+1)/2 + 1
}

func (c *ClusterView) ServerData(id ServerId) (ServerData, bool) {
	data, found := c.servers[id]
	return data, found
}

// SetRemoteMembers replaces the remote-member set, e.g. from an applied
// Configuration entry or a reassembled snapshot. The local member is always
// excluded from the result.
func (c *ClusterView) SetRemoteMembers(members []ServerId) {
	remote := make(map[ServerId]bool, len(members))
	for _, id := range members {
		if id != c.localMember {
			remote[id] = true
		}
	}
	c.remoteMembers = remote
}
