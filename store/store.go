// Package store persists integrator requests and delivery attempts. The
// insertion side is treated as an opaque contract: a call that yields an
// identifier or fails.
package store

import (
	"context"
	"fmt"

	"github.com/pkg/errors"

	"integrator/models"
)

type Store interface {
	// CreateRequest persists req and returns the store-assigned identifier,
	// or nil when the store answered without a usable one.
	CreateRequest(ctx context.Context, req *models.IntegratorRequest) (*string, error)
	LogDeliveryAttempt(ctx context.Context, attempt *models.DeliveryAttempt) error
}

// ErrUnreachable means the store could not be contacted at all.
var ErrUnreachable = errors.New("store unreachable")

// RPCError is a non-2xx answer from the insertion procedure.
type RPCError struct {
	Status int
	Body   string
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc failed: status=%d", e.Status)
}

// InsertError is a failed direct insert.
type InsertError struct {
	Detail string
	cause  error
}

func (e *InsertError) Error() string {
	return "insert failed: " + e.Detail
}

func (e *InsertError) Unwrap() error {
	return e.cause
}
