package session

import "github.com/marmos91/dittomft/internal/protocol/mft/codes"

// ResultError is the error form of a result code.
type ResultError struct {
	Code codes.ErrorCode
	Msg  string
}

func (e *ResultError) Error() string {
	if e.Msg != "" {
		return e.Msg
	}
	return e.Code.Message()
}
