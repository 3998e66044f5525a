package provider

import (
	"errors"
	"fmt"
)

var (
	// ErrUpstreamBlocked means the index answered with an HTML page or a redirect instead of JSON.
	ErrUpstreamBlocked = errors.New("upstream blocked")
	// ErrUpstreamError covers transport failures, bad statuses and malformed payloads.
	ErrUpstreamError = errors.New("upstream error")
)

// BlockedError describes a blocked response.
type BlockedError struct {
	Provider   string
	StatusCode int
	PageTitle  string
}

func (e *BlockedError) Error() string {
	msg := fmt.Sprintf("%s: %v (status %d)", e.Provider, ErrUpstreamBlocked, e.StatusCode)
	if e.PageTitle != "" {
		msg += fmt.Sprintf(": %q", e.PageTitle)
	}
	return msg
}

func (e *BlockedError) Unwrap() error {
	return ErrUpstreamBlocked
}
