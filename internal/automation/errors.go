package automation

import (
	"errors"
	"fmt"
)

// Kind classifies automation failures.
type Kind string

// Failure kinds raised by Authenticate and Publish.
const (
	KindNavigationTimeout       Kind = "NavigationTimeout"
	KindFormFieldNotFound       Kind = "FormFieldNotFound"
	KindSubmitControlNotFound   Kind = "SubmitControlNotFound"
	KindAuthenticationRejected  Kind = "AuthenticationRejected"
	KindSessionExtractionFailed Kind = "SessionExtractionFailed"
	KindProfileFetchFailed      Kind = "ProfileFetchFailed"
	KindInvalidSessionToken     Kind = "InvalidSessionToken"
	KindTitleFieldNotFound      Kind = "TitleFieldNotFound"
	KindEditorNotFound          Kind = "EditorNotFound"
	KindPublishControlNotFound  Kind = "PublishControlNotFound"
	KindPublishURLUnresolved    Kind = "PublishUrlUnresolved"
	KindBrowserFailure          Kind = "BrowserFailure"
)

// Retryable reports whether re-running the same job can plausibly succeed.
// An unparsable session token stays unparsable, everything else may be transient.
func (k Kind) Retryable() bool {
	return k != KindInvalidSessionToken
}

// Artifacts are diagnostics captured from the page when a step fails.
type Artifacts struct {
	Screenshot []byte
	HTML       string
	URL        string
}

// Error is the typed failure returned by the driver.
type Error struct {
	Kind      Kind
	Message   string
	Err       error
	Artifacts *Artifacts
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Message: msg, Err: err}
}

// KindOf extracts the failure kind, or "" when err is not an automation error.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return ""
}

// IsKind reports whether err is an automation error of the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// ArtifactsOf returns diagnostics attached to err, if any.
func ArtifactsOf(err error) *Artifacts {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Artifacts
	}
	return nil
}
