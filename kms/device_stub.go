//go:build !linux

package kms

import "fmt"

// Open is only implemented on Linux; DRM is a Linux kernel interface.
// Other platforms can still compile the queue logic against a mock Device.
func Open(path string) (Device, error) {
	return nil, fmt.Errorf("kms: device nodes are not supported on this platform")
}
