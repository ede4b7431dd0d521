package errors

import (
	"fmt"
	"net/http"
	"strings"
)

// MissingFieldError represents a missing required field.
type MissingFieldError struct {
	Field string
}

func (err MissingFieldError) Error() string {
	return fmt.Sprintf("missing required field: %s", err.Field)
}

// FileNotFound represents when we were unable to access a file
// because the path didn't exist.
type FileNotFound struct {
	Path string
}

func (err FileNotFound) Error() string {
	return fmt.Sprintf("%q does not exist", err.Path)
}

// StatusError is returned when a server responds with a non-200 status.
type StatusError struct {
	URL        string
	StatusCode int
}

func (err StatusError) Error() string {
	return fmt.Sprintf("%s responded with %d %s", err.URL, err.StatusCode,
		http.StatusText(err.StatusCode))
}

// NotFound returns whether the resource is permanently missing upstream.
func (err StatusError) NotFound() bool {
	return err.StatusCode == http.StatusNotFound || err.StatusCode == http.StatusGone
}

// IsNotFound returns whether any error in the chain is a not-found StatusError.
func IsNotFound(err error) bool {
	var statusErr StatusError
	return As(err, &statusErr) && statusErr.NotFound()
}

// ManifestUnreachable is returned when the root manifest couldn't be
// downloaded. StatusCode is zero when the server was never reached.
type ManifestUnreachable struct {
	URL        string
	StatusCode int
	Err        error
}

func (err ManifestUnreachable) Error() string {
	if err.StatusCode != 0 {
		return fmt.Sprintf("manifest %s unavailable: server responded with %d",
			err.URL, err.StatusCode)
	}
	return fmt.Sprintf("manifest %s unreachable: %s", err.URL, err.Err)
}

func (err ManifestUnreachable) Unwrap() error {
	return err.Err
}

// NotFound returns whether the server was reached but had no manifest.
func (err ManifestUnreachable) NotFound() bool {
	return err.StatusCode == http.StatusNotFound || err.StatusCode == http.StatusGone
}

// ManifestInvalid is returned when the manifest was downloaded but can't be
// applied.
type ManifestInvalid struct {
	URL    string
	Reason string
	Err    error
}

func (err ManifestInvalid) Error() string {
	msg := fmt.Sprintf("invalid manifest %s: %s", err.URL, err.Reason)
	if err.Err != nil {
		msg += ": " + err.Err.Error()
	}
	return msg
}

func (err ManifestInvalid) Unwrap() error {
	return err.Err
}

// BundleUnresolvable is returned when none of the candidate locations for a
// bundle could be opened.
type BundleUnresolvable struct {
	Ref   string
	Tried []string
}

func (err BundleUnresolvable) Error() string {
	return fmt.Sprintf("bundle %q could not be resolved (tried %s)",
		err.Ref, strings.Join(err.Tried, ", "))
}

// BundleIndexMissing is returned when a bundle archive has no index document.
type BundleIndexMissing struct {
	Ref string
}

func (err BundleIndexMissing) Error() string {
	return fmt.Sprintf("bundle %q has no index", err.Ref)
}

// BundleInvalid is returned when a bundle archive is corrupt or unsafe to
// extract.
type BundleInvalid struct {
	Ref    string
	Reason string
}

func (err BundleInvalid) Error() string {
	return fmt.Sprintf("bundle %q is invalid: %s", err.Ref, err.Reason)
}

// DescriptorIDMalformed is returned when a composite version id doesn't
// have enough dash-separated tokens.
type DescriptorIDMalformed struct {
	ID string
}

func (err DescriptorIDMalformed) Error() string {
	return fmt.Sprintf("malformed version id %q: expected "+
		"<prefix>-<loader>-<loaderVersion>-<baseVersion>", err.ID)
}

// BaseVersionNotFound is returned when the base platform index doesn't list
// the requested version.
type BaseVersionNotFound struct {
	Version string
}

func (err BaseVersionNotFound) Error() string {
	return fmt.Sprintf("base version %q not found", err.Version)
}
