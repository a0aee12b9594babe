package testutil

import (
	"testing"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/require"
)

// EmbeddedNATS is a JetStream-enabled NATS server running inside the test
// binary, with one client connection.
type EmbeddedNATS struct {
	// URL is the client URL, for code that dials on its own.
	URL string
	JS  jetstream.JetStream
}

// StartEmbeddedNATS starts an embedded NATS server with JetStream enabled.
//
// The server listens on a random port and keeps its JetStream store in
// t.TempDir(). The connection and server are shut down when the test ends.
func StartEmbeddedNATS(t *testing.T) *EmbeddedNATS {
	t.Helper()

	ns, err := server.NewServer(&server.Options{
		Host:      "127.0.0.1",
		Port:      -1,
		JetStream: true,
		StoreDir:  t.TempDir(),
	})
	require.NoError(t, err, "failed to create NATS server")

	ns.Start()
	if !ns.ReadyForConnections(5 * time.Second) {
		ns.Shutdown()
		t.Fatal("NATS server not ready for connections")
	}

	nc, err := nats.Connect(ns.ClientURL(), nats.Name(t.Name()))
	require.NoError(t, err, "failed to connect to NATS server")

	js, err := jetstream.New(nc)
	require.NoError(t, err, "failed to create JetStream context")

	t.Cleanup(func() {
		nc.Close()
		ns.Shutdown()
	})

	return &EmbeddedNATS{URL: ns.ClientURL(), JS: js}
}

// TopologyBucket creates the KV bucket member lists are published to.
// Only the last few revisions are kept, which is all a watcher needs.
func (n *EmbeddedNATS) TopologyBucket(t *testing.T, bucket string) jetstream.KeyValue {
	t.Helper()

	kv, err := n.JS.CreateKeyValue(t.Context(), jetstream.KeyValueConfig{
		Bucket:      bucket,
		Description: "shardgate HA member lists",
		History:     5,
		Storage:     jetstream.MemoryStorage,
	})
	require.NoError(t, err, "failed to create bucket %q", bucket)

	return kv
}

// StartTopologyKV starts an embedded server and returns a fresh member list
// bucket on it.
func StartTopologyKV(t *testing.T, bucket string) jetstream.KeyValue {
	t.Helper()

	return StartEmbeddedNATS(t).TopologyBucket(t, bucket)
}
