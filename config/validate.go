package config

import (
	"fmt"
	"strconv"

	sqladapter "github.com/arloliu/shardgate/adapter/sql"
	"github.com/arloliu/shardgate/types"
)

// ValidateLayout checks every node of l.
//
// Rules:
//   - the coordinator needs a host and a port in 1..65535
//   - node keys (host:port) are unique across the layout
//   - pool bounds are non-negative and MinConns <= MaxConns when MaxConns is set
//   - roles, TLS modes and session parameter names are known/valid
//   - worker shard ids are non-negative and unique
//
// Returns:
//   - error: *types.ConfigurationError naming the first invalid field
func ValidateLayout(l types.Layout) error {
	seen := make(map[string]string)

	check := func(field string, n types.NodeDescriptor) error {
		if err := validateNode(field, n); err != nil {
			return err
		}
		if prev, ok := seen[n.Key()]; ok {
			return &types.ConfigurationError{Field: field, Reason: "node " + n.Key() + " already configured as " + prev}
		}
		seen[n.Key()] = field

		return nil
	}

	if err := check("coordinator", l.Coordinator); err != nil {
		return err
	}

	shards := make(map[int]int)
	for i, w := range l.Workers {
		field := "workers[" + strconv.Itoa(i) + "]"
		if err := check(field, w); err != nil {
			return err
		}

		id := w.ShardIDOr(i)
		if id < 0 {
			return &types.ConfigurationError{Field: field + ".shard_id", Reason: "must not be negative"}
		}
		if j, ok := shards[id]; ok {
			return &types.ConfigurationError{
				Field:  field + ".shard_id",
				Reason: fmt.Sprintf("shard %d already served by workers[%d]", id, j),
			}
		}
		shards[id] = i
	}

	for i, r := range l.Replicas {
		if err := check("replicas["+strconv.Itoa(i)+"]", r); err != nil {
			return err
		}
	}

	return nil
}

func validateNode(field string, n types.NodeDescriptor) error {
	switch {
	case n.Host == "":
		return &types.ConfigurationError{Field: field + ".host", Reason: "is required"}
	case n.Port <= 0 || n.Port > 65535:
		return &types.ConfigurationError{Field: field + ".port", Reason: "must be in 1..65535, got " + strconv.Itoa(n.Port)}
	case n.MaxConns < 0:
		return &types.ConfigurationError{Field: field + ".max_conns", Reason: "must not be negative"}
	case n.MinConns < 0:
		return &types.ConfigurationError{Field: field + ".min_conns", Reason: "must not be negative"}
	case n.MaxConns > 0 && n.MinConns > n.MaxConns:
		return &types.ConfigurationError{Field: field + ".min_conns", Reason: "exceeds max_conns"}
	case n.Role != "" && !n.Role.Valid():
		return &types.ConfigurationError{Field: field + ".role", Reason: "unknown role " + strconv.Quote(string(n.Role))}
	}

	switch n.TLS.Mode {
	case "", types.TLSDisable, types.TLSPrefer, types.TLSRequire, types.TLSVerifyCA, types.TLSVerifyFull:
	default:
		return &types.ConfigurationError{Field: field + ".tls.mode", Reason: "unknown mode " + strconv.Quote(string(n.TLS.Mode))}
	}

	for name := range n.SessionParams {
		if !sqladapter.ValidParamName(name) {
			return &types.ConfigurationError{Field: field + ".session_params", Reason: "invalid parameter name " + strconv.Quote(name)}
		}
	}

	return nil
}

// ValidateRetry checks a retry policy.
func ValidateRetry(r types.RetryConfig) error {
	switch {
	case r.MaxRetries < 1:
		return &types.ConfigurationError{Field: "retry.max_retries", Reason: "must be at least 1"}
	case r.InitialBackoff < 0:
		return &types.ConfigurationError{Field: "retry.initial_backoff", Reason: "must not be negative"}
	case r.MaxBackoff < r.InitialBackoff:
		return &types.ConfigurationError{Field: "retry.max_backoff", Reason: "must not be below initial_backoff"}
	case r.Multiplier < 1:
		return &types.ConfigurationError{Field: "retry.multiplier", Reason: "must be at least 1"}
	}

	return nil
}
