package models

import "fmt"

// Error codes shared by every stage of a run.
const (
	ErrCodeAuth              = "AUTH_FAILED"
	ErrCodeStructure         = "STRUCTURE_CHANGED"
	ErrCodeCaptchaUnresolved = "CAPTCHA_UNRESOLVED"
	ErrCodeItemFetch         = "ITEM_FETCH_FAILED"
	ErrCodeBrowser           = "BROWSER_FAILED"
	ErrCodePaginationLimit   = "PAGINATION_LIMIT"
)

// Sentinels for errors.Is. Matching is done on the code only, so any
// ScrapeError carrying the same code satisfies errors.Is(err, ErrAuth).
var (
	ErrAuth              = &ScrapeError{Code: ErrCodeAuth}
	ErrStructure         = &ScrapeError{Code: ErrCodeStructure}
	ErrCaptchaUnresolved = &ScrapeError{Code: ErrCodeCaptchaUnresolved}
	ErrItemFetch         = &ScrapeError{Code: ErrCodeItemFetch}
	ErrBrowser           = &ScrapeError{Code: ErrCodeBrowser}
	ErrPaginationLimit   = &ScrapeError{Code: ErrCodePaginationLimit}
)

// ScrapeError is the internal error type carrying an error code.
// It supports error wrapping via Unwrap.
type ScrapeError struct {
	Code    string
	Message string
	// URL is set for per-item failures.
	URL string
	Err error
}

func (e *ScrapeError) Error() string {
	msg := e.Code
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.URL != "" {
		msg += " (" + e.URL + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ScrapeError) Unwrap() error {
	return e.Err
}

// Is reports whether target is a ScrapeError with the same code.
func (e *ScrapeError) Is(target error) bool {
	t, ok := target.(*ScrapeError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// NewScrapeError creates a new ScrapeError.
func NewScrapeError(code, message string, err error) *ScrapeError {
	return &ScrapeError{Code: code, Message: message, Err: err}
}

// NewAuthError reports that the login sequence did not reach the expected state.
func NewAuthError(reason, message string, err error) *ScrapeError {
	return &ScrapeError{Code: ErrCodeAuth, Message: fmt.Sprintf("%s: %s", reason, message), Err: err}
}

// NewStructureError reports an expected DOM container that is missing.
func NewStructureError(selector string) *ScrapeError {
	return &ScrapeError{
		Code:    ErrCodeStructure,
		Message: fmt.Sprintf("container %q not found (layout changed or no access)", selector),
	}
}

// NewItemFetchError reports a non-fatal failure for a single profile URL.
func NewItemFetchError(url, message string, err error) *ScrapeError {
	return &ScrapeError{Code: ErrCodeItemFetch, Message: message, URL: url, Err: err}
}
