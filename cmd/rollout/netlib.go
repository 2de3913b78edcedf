//go:build netlib

package main

import (
	"gonum.org/v1/gonum/blas/blas32"
	"gonum.org/v1/netlib/blas/netlib"
)

// Building with -tags netlib routes the softmax agents' Gemv and Ger calls
// through a cgo BLAS.
func init() {
	blas32.Use(netlib.Implementation{})
}
