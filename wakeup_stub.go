//go:build !linux

package modesetting

import "fmt"

// EpollMonitor is only implemented on Linux, like the device nodes it
// watches. Other platforms test the queue with a custom WakeupMonitor.
type EpollMonitor struct{}

func NewEpollMonitor() (*EpollMonitor, error) {
	return nil, fmt.Errorf("modesetting: wakeup monitoring is not supported on this platform")
}

func (m *EpollMonitor) Register(fd int) error   { return fmt.Errorf("modesetting: not supported") }
func (m *EpollMonitor) Unregister(fd int) error { return fmt.Errorf("modesetting: not supported") }
func (m *EpollMonitor) Wait(timeoutMs int) ([]int, error) {
	return nil, fmt.Errorf("modesetting: not supported")
}
func (m *EpollMonitor) Close() error { return nil }
