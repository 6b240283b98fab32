package store

import (
	"fmt"
	"strings"
)

// ErrorKind is the small taxonomy backend failures are mapped onto for
// user-facing reporting.
type ErrorKind string

const (
	// KindProfileMissing means no profile file existed; the backend has
	// written a template at the reported path.
	KindProfileMissing ErrorKind = "profile-missing"
	// KindProfileInvalid means the profile failed validation.
	KindProfileInvalid ErrorKind = "profile-invalid"
	// KindProxyTagMissing means no outbound is usable as the proxy target.
	KindProxyTagMissing ErrorKind = "proxy-tag-missing"
	// KindOutboundsMissing means the profile has no outbounds at all.
	KindOutboundsMissing ErrorKind = "outbounds-missing"
	// KindSingboxMissing means the proxy binary was not found.
	KindSingboxMissing ErrorKind = "singbox-missing"
	// KindGeneric covers everything else, including empty error strings.
	KindGeneric ErrorKind = "generic"
)

// genericMessage is the fallback shown when the backend reports nothing
// usable.
const genericMessage = "The proxy backend reported an unexpected error."

// BackendError is a classified backend failure. Detail carries the payload
// after the code separator; Message is ready for display.
type BackendError struct {
	Kind    ErrorKind
	Detail  string
	Message string
}

// Error implements the error interface.
func (e *BackendError) Error() string {
	return e.Message
}

// Classify maps a raw backend error string onto the taxonomy. The structured
// prefix before the first '|' selects the kind; everything after it is the
// detail. Unknown or empty input classifies as generic with a non-empty
// fallback message.
func Classify(raw string) BackendError {
	code := raw
	detail := ""
	if i := strings.IndexByte(raw, '|'); i >= 0 {
		code = raw[:i]
		detail = raw[i+1:]
	}

	switch code {
	case "PROFILE_MISSING":
		return BackendError{
			Kind:    KindProfileMissing,
			Detail:  detail,
			Message: fmt.Sprintf("No profile found. A template was created at %s - edit it and apply again.", detail),
		}
	case "PROFILE_INVALID":
		return BackendError{
			Kind:    KindProfileInvalid,
			Detail:  detail,
			Message: fmt.Sprintf("Profile is invalid: %s", detail),
		}
	case "PROFILE_PROXY_TAG_MISSING":
		return BackendError{
			Kind:    KindProxyTagMissing,
			Detail:  detail,
			Message: "Profile has no outbound usable as the proxy target.",
		}
	case "PROFILE_OUTBOUNDS_MISSING":
		return BackendError{
			Kind:    KindOutboundsMissing,
			Detail:  detail,
			Message: "Profile contains no outbounds. Import a server first.",
		}
	case "SINGBOX_MISSING":
		return BackendError{
			Kind:    KindSingboxMissing,
			Detail:  detail,
			Message: fmt.Sprintf("sing-box binary not found at %s.", detail),
		}
	}

	message := genericMessage
	if strings.TrimSpace(raw) != "" {
		message = raw
	}
	return BackendError{
		Kind:    KindGeneric,
		Detail:  raw,
		Message: message,
	}
}
