// Package txn defines the unit-of-work boundary used by domain services.
package txn

import "context"

// Transactor runs fn inside a database transaction carried by ctx. Nested
// calls join the outer transaction.
type Transactor interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Func adapts a function to the Transactor interface.
type Func func(ctx context.Context, fn func(ctx context.Context) error) error

// InTx implements Transactor.
func (f Func) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return f(ctx, fn)
}

// Nop runs fn directly. It backs in-memory repositories in tests.
var Nop Transactor = Func(func(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
})
