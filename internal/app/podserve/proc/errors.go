package proc

import "fmt"

// FetchErrorKind classifies download failures for the retry policy.
type FetchErrorKind int

const (
	// FetchTransient for network and other recoverable failures, retried with backoff
	FetchTransient FetchErrorKind = iota
	// FetchUnsupported for URLs the downloader cannot handle, never retried
	FetchUnsupported
	// FetchStorage for local disk failures, operational, not the URL's fault
	FetchStorage
)

func (k FetchErrorKind) String() string {
	switch k {
	case FetchTransient:
		return "transient"
	case FetchUnsupported:
		return "unsupported"
	case FetchStorage:
		return "storage"
	}
	return "unknown"
}

// FetchError wraps a download failure with its classification.
type FetchError struct {
	Kind FetchErrorKind
	URL  string
	Err  error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s (%s): %v", e.URL, e.Kind, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Retryable reports whether another attempt could succeed.
func (e *FetchError) Retryable() bool { return e.Kind == FetchTransient }
