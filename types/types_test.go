package types

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNodeDescriptorIdentity(t *testing.T) {
	a := NodeDescriptor{Host: "10.0.0.1", Port: 5432, Role: RoleCoordinator, Database: "app"}
	b := NodeDescriptor{Host: "10.0.0.1", Port: 5432, Role: RolePrimaryHA, Database: "other"}
	c := NodeDescriptor{Host: "10.0.0.1", Port: 5433, Role: RoleCoordinator}

	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))
	assert.Equal(t, "10.0.0.1:5432", a.Key())
	assert.Equal(t, "coordinator@10.0.0.1:5432", a.String())

	w := NodeDescriptor{Host: "w1", Port: 5432, Role: RoleWorker, ShardID: IntPtr(2)}
	assert.Equal(t, "worker[2]@w1:5432", w.String())
	assert.Equal(t, 2, w.ShardIDOr(-1))
	assert.Equal(t, -1, a.ShardIDOr(-1))
}

func TestNodeRole(t *testing.T) {
	assert.True(t, RoleCoordinator.Valid())
	assert.True(t, RoleReplicaHA.Valid())
	assert.False(t, NodeRole("leader").Valid())

	assert.True(t, RolePrimaryHA.Writable())
	assert.True(t, RoleWorker.Writable())
	assert.False(t, RoleReplica.Writable())
}

func TestClusterTopologyEqual(t *testing.T) {
	p := NodeDescriptor{Host: "p", Port: 5432}
	r1 := NodeDescriptor{Host: "r1", Port: 5432}
	r2 := NodeDescriptor{Host: "r2", Port: 5432}

	base := ClusterTopology{Primary: p, Replicas: []NodeDescriptor{r1, r2}}

	require.True(t, base.Equal(ClusterTopology{Primary: p, Replicas: []NodeDescriptor{r2, r1}}))
	require.False(t, base.Equal(ClusterTopology{Primary: r1, Replicas: []NodeDescriptor{p, r2}}))
	require.False(t, base.Equal(ClusterTopology{Primary: p, Replicas: []NodeDescriptor{r1}}))
	require.False(t, base.Equal(ClusterTopology{Primary: p, Replicas: []NodeDescriptor{r1, r1}}))
}

func TestLayoutWithTopology(t *testing.T) {
	layout := Layout{
		Coordinator: NodeDescriptor{Host: "old", Port: 5432, Role: RolePrimaryHA},
		Workers:     []NodeDescriptor{{Host: "w0", Port: 5432, Role: RoleWorker, ShardID: IntPtr(0)}},
		Replicas:    []NodeDescriptor{{Host: "r-old", Port: 5432}},
	}

	next := layout.WithTopology(ClusterTopology{
		Primary:  NodeDescriptor{Host: "new", Port: 5432, Role: RolePrimaryHA},
		Replicas: []NodeDescriptor{{Host: "old", Port: 5432, Role: RoleReplicaHA}},
	})

	assert.Equal(t, "new", next.Coordinator.Host)
	assert.Len(t, next.Workers, 1)
	assert.Len(t, next.Replicas, 1)
	assert.Equal(t, "old", next.Replicas[0].Host)
	assert.Len(t, next.Nodes(), 3)

	// The original layout is untouched.
	assert.Equal(t, "old", layout.Coordinator.Host)
}

func TestOptionsBuilders(t *testing.T) {
	o := Read().WithShardKey(1001).WithConsistency(ConsistencyPrimary)
	assert.Equal(t, OpRead, o.Operation)
	assert.Equal(t, 1001, o.ShardKey)
	assert.Equal(t, ConsistencyPrimary, o.Consistency)

	assert.Equal(t, "write", Write().Operation.String())
	assert.Equal(t, "ddl", DDL().Operation.String())
}

func TestErrorClasses(t *testing.T) {
	cause := errors.New("boom")

	tests := []struct {
		name  string
		err   Classified
		class ErrorClass
	}{
		{"config", &ConfigurationError{Field: "nodes", Reason: "empty"}, ClassNonTransient},
		{"connect", &ConnectError{Node: "n", Cause: cause}, ClassTransient},
		{"transient", &TransientExecutionError{Node: "n", Cause: cause}, ClassTransient},
		{"non-transient", &NonTransientExecutionError{Node: "n", Cause: cause}, ClassNonTransient},
		{"pool", &PoolError{Node: "n", Cause: ErrPoolExhausted}, ClassTransient},
		{"topology", &TopologyError{Cause: ErrNoPrimary}, ClassNonTransient},
		{"dtx", &DistributedTransactionError{TxID: "x", Phase: PhaseCommit, Cause: cause}, ClassNonTransient},
		{"failover", &FailoverTimeoutError{Primary: "p", Timeout: "1s"}, ClassNonTransient},
		{"exhausted", &RetryExhaustedError{Label: "q", Attempts: 3, Cause: cause}, ClassNonTransient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.class, tt.err.ErrorClass())
			require.NotEmpty(t, tt.err.Error())
		})
	}
}

func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("connection refused")

	connectErr := &ConnectError{Node: "db1:5432", Cause: cause}
	assert.Contains(t, connectErr.Error(), "db1:5432")
	assert.ErrorIs(t, connectErr, cause)

	poolErr := &PoolError{Node: "db1:5432", Cause: ErrPoolExhausted}
	assert.ErrorIs(t, poolErr, ErrPoolExhausted)

	exhausted := &RetryExhaustedError{Label: "insert", Attempts: 3, Cause: connectErr}
	assert.ErrorIs(t, exhausted, ErrRetriesExhausted)
	assert.ErrorIs(t, exhausted, cause)
	assert.Contains(t, exhausted.Error(), "after 3 attempts")

	var ce *ConnectError
	require.ErrorAs(t, exhausted, &ce)
	assert.Equal(t, "db1:5432", ce.Node)

	topoErr := &TopologyError{Endpoints: []string{"a:8008", "b:8008"}, Cause: ErrNoPrimary}
	assert.ErrorIs(t, topoErr, ErrNoPrimary)
	assert.Contains(t, topoErr.Error(), "a:8008, b:8008")
}

func TestDistributedTransactionErrorMessage(t *testing.T) {
	err := &DistributedTransactionError{
		TxID:      "tx1",
		Phase:     PhaseCommit,
		Prepared:  []int{0, 1},
		Committed: []int{0},
		Cause:     errors.New("connection reset"),
	}

	assert.Contains(t, err.Error(), "tx1")
	assert.Contains(t, err.Error(), "commit")
	assert.Contains(t, err.Error(), "prepared=[0 1]")
	assert.Contains(t, err.Error(), "committed=[0]")
}
