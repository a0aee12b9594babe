package sql

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/arloliu/shardgate/types"
)

// Transaction directives issued on a Session.
const (
	StmtBegin    = "BEGIN"
	StmtCommit   = "COMMIT"
	StmtRollback = "ROLLBACK"
)

// paramNameRegex matches run-time parameter names such as
// "statement_timeout" or "citus.multi_shard_modify_mode".
var paramNameRegex = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// ValidParamName reports whether name can be used in a SET statement.
func ValidParamName(name string) bool {
	return paramNameRegex.MatchString(name)
}

// SetParam builds "SET <name> = <literal>".
func SetParam(name, value string) (string, error) {
	if !ValidParamName(name) {
		return "", fmt.Errorf("shardgate: invalid session parameter name %q", name)
	}

	return "SET " + name + " = " + pq.QuoteLiteral(value), nil
}

// SessionParamStatements builds the SET statements for params in a stable
// order. Invalid names are skipped; configuration validation rejects them
// before a dialer ever sees them.
func SessionParamStatements(params map[string]string) []string {
	if len(params) == 0 {
		return nil
	}

	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	sort.Strings(names)

	stmts := make([]string, 0, len(names))
	for _, name := range names {
		stmt, err := SetParam(name, params[name])
		if err != nil {
			continue
		}
		stmts = append(stmts, stmt)
	}

	return stmts
}

// PrepareTransaction builds "PREPARE TRANSACTION '<gid>'".
func PrepareTransaction(gid string) string {
	return "PREPARE TRANSACTION " + pq.QuoteLiteral(gid)
}

// CommitPrepared builds "COMMIT PREPARED '<gid>'".
func CommitPrepared(gid string) string {
	return "COMMIT PREPARED " + pq.QuoteLiteral(gid)
}

// RollbackPrepared builds "ROLLBACK PREPARED '<gid>'".
func RollbackPrepared(gid string) string {
	return "ROLLBACK PREPARED " + pq.QuoteLiteral(gid)
}

// PostgresDSN builds a lib/pq key/value connection string for node.
func PostgresDSN(node types.NodeDescriptor, connectTimeout time.Duration) string {
	var b strings.Builder

	add := func(key, value string) {
		if value == "" {
			return
		}
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(key)
		b.WriteByte('=')
		b.WriteString(quoteDSNValue(value))
	}

	add("host", node.Host)
	if node.Port > 0 {
		add("port", strconv.Itoa(node.Port))
	}
	add("dbname", node.Database)
	add("user", node.User)
	add("password", node.Password)

	mode := node.TLS.Mode
	if mode == "" {
		mode = types.TLSDisable
	}
	add("sslmode", string(mode))
	add("sslcert", node.TLS.CertFile)
	add("sslkey", node.TLS.KeyFile)
	add("sslrootcert", node.TLS.RootCert)

	if connectTimeout > 0 {
		secs := int(connectTimeout / time.Second)
		if secs < 1 {
			secs = 1
		}
		add("connect_timeout", strconv.Itoa(secs))
	}

	return b.String()
}

// quoteDSNValue quotes a key/value DSN value when it contains spaces, quotes
// or backslashes.
func quoteDSNValue(v string) string {
	if !strings.ContainsAny(v, " '\\") {
		return v
	}

	r := strings.NewReplacer(`\`, `\\`, `'`, `\'`)

	return "'" + r.Replace(v) + "'"
}
