package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/gorilla/mux"
)

// ClusterMember is the JSON shape served by FakeControlPlane.
type ClusterMember struct {
	Name     string `json:"name,omitempty"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Role     string `json:"role"`
	State    string `json:"state,omitempty"`
	Lag      int64  `json:"lag,omitempty"`
	Timeline int64  `json:"timeline,omitempty"`
}

// FakeControlPlane serves GET /cluster like an HA control plane member.
type FakeControlPlane struct {
	Server *httptest.Server

	mu       sync.RWMutex
	members  []ClusterMember
	status   int
	bareList bool
	requests atomic.Int64
}

// StartFakeControlPlane starts a control plane server that is shut down when
// the test completes.
//
// Parameters:
//   - t: The testing context
//   - members: The initial member list
//
// Returns:
//   - *FakeControlPlane: The running server
func StartFakeControlPlane(t *testing.T, members ...ClusterMember) *FakeControlPlane {
	t.Helper()

	cp := &FakeControlPlane{
		members: append([]ClusterMember(nil), members...),
		status:  http.StatusOK,
	}

	r := mux.NewRouter()
	r.HandleFunc("/cluster", cp.handleCluster).Methods(http.MethodGet)

	cp.Server = httptest.NewServer(r)
	t.Cleanup(cp.Server.Close)

	return cp
}

// Endpoint returns "host:port" of the server.
func (cp *FakeControlPlane) Endpoint() string {
	return strings.TrimPrefix(cp.Server.URL, "http://")
}

// SetMembers replaces the member list.
func (cp *FakeControlPlane) SetMembers(members ...ClusterMember) {
	cp.mu.Lock()
	defer cp.mu.Unlock()

	cp.members = append([]ClusterMember(nil), members...)
}

// SetStatus makes the server answer with status. Non-200 answers carry no body.
func (cp *FakeControlPlane) SetStatus(status int) {
	cp.mu.Lock()
	defer cp.mu.Unlock()

	cp.status = status
}

// ServeBareList switches between {"members": [...]} and a bare array.
func (cp *FakeControlPlane) ServeBareList(bare bool) {
	cp.mu.Lock()
	defer cp.mu.Unlock()

	cp.bareList = bare
}

// Requests returns the number of /cluster requests served.
func (cp *FakeControlPlane) Requests() int64 {
	return cp.requests.Load()
}

func (cp *FakeControlPlane) handleCluster(w http.ResponseWriter, _ *http.Request) {
	cp.requests.Add(1)

	cp.mu.RLock()
	status := cp.status
	members := cp.members
	bare := cp.bareList
	cp.mu.RUnlock()

	if status != http.StatusOK {
		w.WriteHeader(status)
		return
	}

	w.Header().Set("Content-Type", "application/json")

	var body any = map[string]any{"members": members}
	if bare {
		body = members
	}
	_ = json.NewEncoder(w).Encode(body)
}
