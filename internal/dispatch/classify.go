package dispatch

import "feedpush/internal/push"

type class int

const (
	classSuccess class = iota
	classRetryable
	classInvalid
	classFailed
)

func classify(r push.Response) class {
	if r.Success {
		return classSuccess
	}
	if r.Error == nil {
		return classFailed
	}
	switch r.Error.Code {
	case push.CodeInternal, push.CodeServerUnavailable, push.CodeUnavailable:
		return classRetryable
	case push.CodeInvalidToken, push.CodeTokenNotRegistered, push.CodeInvalidArgument:
		return classInvalid
	default:
		return classFailed
	}
}
