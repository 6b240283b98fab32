package backend

import (
	"errors"
	"fmt"
)

// Code tags a backend failure. Codes travel to callers as the structured
// prefix of the error string, "CODE|detail".
type Code string

const (
	CodeProfileMissing   Code = "PROFILE_MISSING"
	CodeProfileInvalid   Code = "PROFILE_INVALID"
	CodeProxyTagMissing  Code = "PROFILE_PROXY_TAG_MISSING"
	CodeOutboundsMissing Code = "PROFILE_OUTBOUNDS_MISSING"
	CodeSingboxMissing   Code = "SINGBOX_MISSING"
	CodeImportInvalid    Code = "IMPORT_INVALID"
	CodeImportFailed     Code = "IMPORT_FAILED"
	CodeUnsupportedLink  Code = "IMPORT_UNSUPPORTED"
	CodeStartFailed      Code = "START_FAILED"
	CodeLogError         Code = "LOG_ERROR"
	CodeStateInvalid     Code = "STATE_INVALID"
	CodePathError        Code = "PATH_ERROR"
)

// Error is a typed backend failure.
type Error struct {
	Code   Code
	Detail string
}

// Error renders the wire form "CODE|detail".
func (e *Error) Error() string {
	if e.Detail == "" {
		return string(e.Code)
	}
	return string(e.Code) + "|" + e.Detail
}

// errf builds a typed error with a formatted detail.
func errf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Detail: fmt.Sprintf(format, args...)}
}

// IsCode reports whether err is a backend error carrying the given code.
func IsCode(err error, code Code) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}
