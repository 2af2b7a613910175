//go:build tools

// Package tools pins build-time-only tool dependencies so `go mod
// tidy` does not drop them; none of these are imported by runtime
// code.
package tools

import (
	_ "github.com/gordonklaus/ineffassign"
	_ "mvdan.cc/gofumpt"
)
