package transfer

import "errors"

var (
	// Descriptor errors
	ErrDescriptorNotFound  = errors.New("transfer not found")
	ErrDuplicateDescriptor = errors.New("transfer already exists")

	// Host errors
	ErrHostNotFound  = errors.New("host not found")
	ErrDuplicateHost = errors.New("host already exists")
	ErrHostInactive  = errors.New("host is inactive therefore connection is refused")
	ErrBadKey        = errors.New("bad host key")

	// Rule errors
	ErrRuleNotFound     = errors.New("rule not found")
	ErrHostNotAllowed   = errors.New("host not allowed by rule")
	ErrModeIncompatible = errors.New("mode incompatible with rule")
)
