package ccd

import "errors"

var(
	// ErrByteOrder means the pixel values look like they were decoded
	// with the wrong byte order. SubtractBackground swaps and retries once.
	ErrByteOrder = errors.New("pixel data looks byte swapped")

	// ErrNoSuchHDU is returned for an HDU index that isn't in the file,
	// or that doesn't hold a 2D image.
	ErrNoSuchHDU = errors.New("no such image HDU")
)
