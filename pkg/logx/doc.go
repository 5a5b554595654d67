// Package logx is a thin structured-logging layer over zerolog.
//
// It exposes a small Logger value with variadic Field options so call
// sites stay readable and the zerolog dependency does not leak into
// every package. The zero Logger is a safe no-op.
package logx
