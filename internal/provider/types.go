// Package provider manages the ranked, fallback-capable set of speech
// synthesis backends.
package provider

import (
	"context"
	"fmt"
	"time"
)

// Request contains parameters for one synthesis call.
type Request struct {
	Text  string
	Voice string
}

// Result holds one successful synthesis.
type Result struct {
	Audio    []byte
	MIMEType string
	Provider string
	Cost     float64
	Elapsed  time.Duration
}

// Provider is the contract every synthesis backend implements. Descriptors
// are stateless; rolling metrics live in the Manager.
type Provider interface {
	Name() string
	// Priority breaks cost ties; lower wins.
	Priority() int
	// CostPerChar is the cost per character of input text in the job currency.
	CostPerChar() float64
	// MaxChunkSize is the backend's hard input-length limit in characters.
	MaxChunkSize() int
	// Available reports whether the backend is configured and usable.
	Available() bool
	Synthesize(ctx context.Context, req Request) ([]byte, string, error)
}

// TextTooLongError indicates an upstream chunking defect: text was offered to
// the Manager that exceeds the primary provider's input limit. It never
// triggers fallback.
type TextTooLongError struct {
	Provider string
	Length   int
	Limit    int
}

func (e *TextTooLongError) Error() string {
	return fmt.Sprintf("text of %d chars exceeds %s limit of %d", e.Length, e.Provider, e.Limit)
}

// AllProvidersFailedError is returned when every eligible provider was tried
// and failed, or none was available at all.
type AllProvidersFailedError struct {
	Attempts     int
	LastProvider string
	Err          error
}

func (e *AllProvidersFailedError) Error() string {
	if e.Attempts == 0 {
		return "no synthesis providers available"
	}
	return fmt.Sprintf("all %d synthesis providers failed, last %s: %v", e.Attempts, e.LastProvider, e.Err)
}

func (e *AllProvidersFailedError) Unwrap() error { return e.Err }
