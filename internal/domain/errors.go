package domain

import "errors"

var (
	errInvalidPort    = errors.New("port must be in [1, 65535]")
	errDuplicatePorts = errors.New("primary and secondary ports must differ")
)
