package retry

import (
	"context"
	"database/sql/driver"
	"errors"
	"io"
	"net"
	"syscall"

	"github.com/lib/pq"

	"github.com/arloliu/shardgate/types"
)

// Classifier decides whether a failure is worth retrying.
type Classifier func(err error) types.ErrorClass

// transientSQLStateClasses are the SQLSTATE classes retried by Classify:
// connection exception, transaction rollback, insufficient resources,
// operator intervention and system error.
var transientSQLStateClasses = map[pq.ErrorClass]struct{}{
	"08": {},
	"40": {},
	"53": {},
	"57": {},
	"58": {},
}

// codeReadOnlyTransaction is raised when a write reaches a demoted primary.
const codeReadOnlyTransaction pq.ErrorCode = "25006"

// Classify returns the class of err. Unknown errors are non-transient.
//
// Order matters: cancellation by the caller wins over everything, then errors
// that carry their own class, then driver and network errors.
func Classify(err error) types.ErrorClass {
	if err == nil {
		return types.ClassNonTransient
	}

	if errors.Is(err, context.Canceled) {
		return types.ClassNonTransient
	}

	var classified types.Classified
	if errors.As(err, &classified) {
		return classified.ErrorClass()
	}

	return classifyCause(err)
}

// classifyCause classifies raw driver, network and context errors.
func classifyCause(err error) types.ErrorClass {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return classifySQLState(pqErr.Code)
	}

	switch {
	case errors.Is(err, driver.ErrBadConn),
		errors.Is(err, io.EOF),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.EPIPE):
		return types.ClassTransient
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return types.ClassTransient
	}

	return types.ClassNonTransient
}

func classifySQLState(code pq.ErrorCode) types.ErrorClass {
	if code == codeReadOnlyTransaction {
		return types.ClassTransient
	}
	if _, ok := transientSQLStateClasses[code.Class()]; ok {
		return types.ClassTransient
	}

	return types.ClassNonTransient
}

// WrapExecution wraps a statement failure on node into
// *types.TransientExecutionError or *types.NonTransientExecutionError.
//
// Errors that already carry a class, and caller cancellation, are returned
// unchanged.
func WrapExecution(node string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return err
	}

	var classified types.Classified
	if errors.As(err, &classified) {
		return err
	}

	if classifyCause(err) == types.ClassTransient {
		return &types.TransientExecutionError{Node: node, Cause: err}
	}

	return &types.NonTransientExecutionError{Node: node, Cause: err}
}

// IsTransient reports whether Classify(err) is ClassTransient.
func IsTransient(err error) bool {
	return Classify(err) == types.ClassTransient
}

// Connection-loss SQLSTATEs outside class 08.
const (
	codeAdminShutdown pq.ErrorCode = "57P01"
	codeCrashShutdown pq.ErrorCode = "57P02"
)

// ConnectionLost reports whether err means the session can no longer be used.
// A cancelled or timed out statement leaves the session usable.
func ConnectionLost(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code.Class() == "08" || pqErr.Code == codeAdminShutdown || pqErr.Code == codeCrashShutdown
	}

	var netErr net.Error
	return errors.As(err, &netErr)
}

// PrimaryLost reports whether a write failure means the node it ran on may no
// longer be the primary: it could not be reached, the connection dropped, or
// it refused the write as read-only.
//
// Busy pools, serialization failures, deadlocks and statement timeouts are
// retried in place and return false.
func PrimaryLost(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}

	var connectErr *types.ConnectError
	if errors.As(err, &connectErr) {
		return true
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == codeReadOnlyTransaction {
		return true
	}

	return ConnectionLost(err)
}
