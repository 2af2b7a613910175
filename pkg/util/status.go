// Package util provides small helpers shared across the digest pipeline,
// chiefly error wrapping in the style of a gRPC status.
package util

import (
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// StatusWrap prepends a message to an error, preserving its gRPC status
// code if it has one, or using codes.Unknown otherwise.
func StatusWrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return StatusWrapWithCode(err, status.Code(err), message)
}

// StatusWrapf is StatusWrap with a format string.
func StatusWrapf(err error, format string, args ...interface{}) error {
	return StatusWrap(err, fmt.Sprintf(format, args...))
}

// StatusWrapWithCode prepends a message to an error and forces the
// resulting error to carry the given gRPC status code.
func StatusWrapWithCode(err error, code codes.Code, message string) error {
	if err == nil {
		return nil
	}
	return status.Errorf(code, "%s: %s", message, status.Convert(err).Message())
}
