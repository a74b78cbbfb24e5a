package txn

import "errors"

var (
	// ErrTransactionOpen is returned by operations that require the
	// controller to be idle, such as applying a remote transaction.
	ErrTransactionOpen = errors.New("a transaction is open")

	// ErrUnknownOperation is returned when decoding an operation whose type
	// is not recognized.
	ErrUnknownOperation = errors.New("unknown operation type")

	// ErrInvalidOperation is returned for structurally invalid operations.
	ErrInvalidOperation = errors.New("invalid operation")
)
