package topology

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Member roles reported by the control plane.
const (
	RoleLeader        = "leader"
	RoleReplica       = "replica"
	RoleSyncStandby   = "sync_standby"
	RoleStandbyLeader = "standby_leader"

	// roleMaster is the leader role name used by older control planes.
	roleMaster = "master"
)

// Member states considered healthy.
const (
	StateRunning   = "running"
	StateStreaming = "streaming"
)

// Member is one entry of the control plane member list.
type Member struct {
	Name     string `json:"name,omitempty"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Role     string `json:"role"`
	State    string `json:"state,omitempty"`
	Lag      Lag    `json:"lag,omitempty"`
	Timeline int64  `json:"timeline,omitempty"`
}

// IsLeader reports whether the member is the write-accepting primary.
func (m Member) IsLeader() bool {
	switch strings.ToLower(m.Role) {
	case RoleLeader, roleMaster, "primary":
		return true
	}

	return false
}

// IsReplica reports whether the member is a read-only standby.
func (m Member) IsReplica() bool {
	switch strings.ToLower(m.Role) {
	case RoleReplica, RoleSyncStandby, RoleStandbyLeader, "quorum_standby":
		return true
	}

	return false
}

// Running reports whether the member state is healthy. An empty state is
// treated as running.
func (m Member) Running() bool {
	switch strings.ToLower(m.State) {
	case "", StateRunning, StateStreaming:
		return true
	}

	return false
}

// Lag is the replication lag in bytes. The control plane may report
// "unknown", which decodes to -1.
type Lag int64

// UnmarshalJSON accepts a number or a string.
func (l *Lag) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*l = 0
		return nil
	}

	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			*l = -1
			return nil
		}
		*l = Lag(n)

		return nil
	}

	var n int64
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*l = Lag(n)

	return nil
}

// memberList is the control plane response envelope.
type memberList struct {
	Members []Member `json:"members"`
}

// ParseMembers decodes a member list. Both {"members": [...]} and a bare
// JSON array are accepted.
func ParseMembers(data []byte) ([]Member, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, errors.New("empty member list document")
	}

	if data[0] == '[' {
		var members []Member
		if err := json.Unmarshal(data, &members); err != nil {
			return nil, fmt.Errorf("decode member list: %w", err)
		}

		return members, nil
	}

	var list memberList
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("decode member list: %w", err)
	}

	return list.Members, nil
}

// EncodeMembers encodes members in the {"members": [...]} form.
func EncodeMembers(members []Member) ([]byte, error) {
	return json.Marshal(memberList{Members: members})
}
