package catalog

import (
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"syscall"

	"github.com/lib/pq"
)

var (
	// ErrUnavailable wraps any failure caused by losing the connection to
	// the catalog database. Callers treat it as fatal for the whole run.
	ErrUnavailable    = errors.New("catalog unavailable")
	ErrRecordNotFound = errors.New("catalog record not found")
	ErrUnknownField   = errors.New("unknown catalog field")
)

func classify(err error) error {
	if err == nil {
		return nil
	}

	if isConnectivityErr(err) {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	return err
}

func isConnectivityErr(err error) bool {
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) {
		return true
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.EPIPE) {
		return true
	}

	var netErr *net.OpError
	if errors.As(err, &netErr) {
		return true
	}

	// Class 08 is 'connection exception'; 57P01 is an administrator
	// shutdown of the backend.
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code.Class() == "08" || pqErr.Code == "57P01"
	}

	return false
}
