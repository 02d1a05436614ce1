//go:build tools

// Package tools tracks the code generators run through go generate so they
// stay pinned in go.mod.
package main

import (
	_ "go.uber.org/mock/mockgen"
)
