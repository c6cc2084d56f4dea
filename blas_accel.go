//go:build accelerate

package main

// #cgo LDFLAGS: -framework Accelerate
import "C"
import (
	"gonum.org/v1/gonum/blas/blas64"
	"gonum.org/v1/netlib/blas/netlib"
)

// Building with `-tags accelerate` routes gonum's BLAS calls through
// Apple's Accelerate CBLAS.
func init() {
	blas64.Use(netlib.Implementation{})
}
