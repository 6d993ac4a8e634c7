package models

import "fmt"

// CounterKind separates code issuance from code validation attempts.
type CounterKind string

const (
	CounterRequest    CounterKind = "request"
	CounterValidation CounterKind = "validation"
)

// RateCounter identifies one fixed-window abuse counter. Subject is a lookup
// hash, never a plaintext identifier.
type RateCounter struct {
	Subject string
	Purpose Purpose
	Channel Channel
	Kind    CounterKind
}

func (c RateCounter) Key() string {
	return fmt.Sprintf("%s:%s:%s:%s", c.Kind, c.Subject, c.Purpose, c.Channel)
}
