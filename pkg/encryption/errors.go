// Copyright 2026 EmberFS Authors
// SPDX-License-Identifier: Apache-2.0

package encryption

import (
	"errors"
	"fmt"
)

// Kind classifies encryption subsystem failures so callers can branch on
// failure class without string matching.
type Kind int

const (
	KindOther Kind = iota
	KindConfig
	KindIo
	KindCloud
)

func (k Kind) String() string {
	switch k {
	case KindConfig:
		return "config error"
	case KindIo:
		return "io error"
	case KindCloud:
		return "cloud error"
	default:
		return "encryption error"
	}
}

// Error is the error type returned across the package API. Op names the
// failed operation for cloud errors ("new AWS KMS", "unwrap data key").
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func configErr(err error) *Error {
	return &Error{Kind: KindConfig, Err: err}
}

func configErrf(format string, args ...any) *Error {
	return &Error{Kind: KindConfig, Err: fmt.Errorf(format, args...)}
}

func ioErr(err error) *Error {
	return &Error{Kind: KindIo, Err: err}
}

func cloudErr(op string, err error) *Error {
	return &Error{Kind: KindCloud, Op: op, Err: err}
}

func otherErr(err error) *Error {
	return &Error{Kind: KindOther, Err: err}
}

func kindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return KindOther, false
}

// IsConfigError reports whether err is classified as a configuration error.
func IsConfigError(err error) bool {
	k, ok := kindOf(err)
	return ok && k == KindConfig
}

// IsIoError reports whether err is classified as a filesystem error.
func IsIoError(err error) bool {
	k, ok := kindOf(err)
	return ok && k == KindIo
}

// IsCloudError reports whether err is classified as a cloud KMS error.
func IsCloudError(err error) bool {
	k, ok := kindOf(err)
	return ok && k == KindCloud
}

// IsOtherError reports whether err is classified as an uncategorized
// encryption error.
func IsOtherError(err error) bool {
	k, ok := kindOf(err)
	return ok && k == KindOther
}
