package domain

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidRange      = errors.New("ratelimit: invalid range")
	ErrTransportTimeout  = errors.New("ratelimit: timed out waiting for coordinator")
	ErrUnmatchedResponse = errors.New("ratelimit: response without pending query")
	ErrClosed            = errors.New("ratelimit: evaluator closed")
	ErrOverloaded        = errors.New("ratelimit: too many queries in flight")

	errEmptyRange = errors.New("empty range")
)

// InvalidRangeError é retornado quando uma faixa CIDR configurada é inválida.
type InvalidRangeError struct {
	Range string
	Err   error
}

func (e *InvalidRangeError) Error() string {
	return fmt.Sprintf("ratelimit: invalid range %q: %v", e.Range, e.Err)
}

func (e *InvalidRangeError) Unwrap() error { return e.Err }

func (e *InvalidRangeError) Is(target error) bool { return target == ErrInvalidRange }
