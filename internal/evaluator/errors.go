package evaluator

import "errors"

// ErrInvalidRule is returned on a Result when the rule cannot be evaluated as written
var ErrInvalidRule = errors.New("invalid rule")
