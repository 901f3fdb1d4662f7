//go:build linux

package kms

import (
	"fmt"
	"os"
	"unsafe"

	"github.com/NeowayLabs/drm"
	"github.com/NeowayLabs/drm/ioctl"
	"golang.org/x/sys/unix"
)

// DRM ioctl request codes. Base and encoding come from the drm/ioctl
// helper; the numbers are the drm.h command slots.
var (
	IoctlWaitVblank = ioctl.NewCode(ioctl.Read|ioctl.Write,
		uint16(unsafe.Sizeof(WaitVblank{})), drm.IOCTLBase, 0x3a)

	IoctlCrtcGetSequence = ioctl.NewCode(ioctl.Read|ioctl.Write,
		uint16(unsafe.Sizeof(CrtcGetSequence{})), drm.IOCTLBase, 0x3b)

	IoctlCrtcQueueSequence = ioctl.NewCode(ioctl.Read|ioctl.Write,
		uint16(unsafe.Sizeof(CrtcQueueSequence{})), drm.IOCTLBase, 0x3c)

	IoctlModeGetProperty = ioctl.NewCode(ioctl.Read|ioctl.Write,
		uint16(unsafe.Sizeof(GetProperty{})), drm.IOCTLBase, 0xaa)

	IoctlModePageFlip = ioctl.NewCode(ioctl.Read|ioctl.Write,
		uint16(unsafe.Sizeof(PageFlipRequest{})), drm.IOCTLBase, 0xb0)

	IoctlModeObjGetProperties = ioctl.NewCode(ioctl.Read|ioctl.Write,
		uint16(unsafe.Sizeof(ObjGetProperties{})), drm.IOCTLBase, 0xb9)

	IoctlModeObjSetProperty = ioctl.NewCode(ioctl.Read|ioctl.Write,
		uint16(unsafe.Sizeof(ObjSetProperty{})), drm.IOCTLBase, 0xba)
)

// cardDevice is the real DRM card node. The fd is opened nonblocking so
// the event pump can drain it to EAGAIN without stalling the server loop.
type cardDevice struct {
	fd   int
	path string
}

// Open opens a DRM device node for submission and event delivery.
func Open(path string) (Device, error) {
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_CLOEXEC|unix.O_NONBLOCK, 0)
	if err != nil {
		return nil, &os.PathError{Op: "open", Path: path, Err: err}
	}
	return &cardDevice{fd: fd, path: path}, nil
}

func (d *cardDevice) FD() int {
	return d.fd
}

func (d *cardDevice) Path() string {
	return d.path
}

func (d *cardDevice) WaitVblank(wv *WaitVblank) error {
	return ioctl.Do(uintptr(d.fd), uintptr(IoctlWaitVblank),
		uintptr(unsafe.Pointer(wv)))
}

func (d *cardDevice) QueueSequence(qs *CrtcQueueSequence) error {
	return ioctl.Do(uintptr(d.fd), uintptr(IoctlCrtcQueueSequence),
		uintptr(unsafe.Pointer(qs)))
}

func (d *cardDevice) GetSequence(gs *CrtcGetSequence) error {
	return ioctl.Do(uintptr(d.fd), uintptr(IoctlCrtcGetSequence),
		uintptr(unsafe.Pointer(gs)))
}

func (d *cardDevice) PageFlip(pf *PageFlipRequest) error {
	return ioctl.Do(uintptr(d.fd), uintptr(IoctlModePageFlip),
		uintptr(unsafe.Pointer(pf)))
}

func (d *cardDevice) SetProperty(sp *ObjSetProperty) error {
	return ioctl.Do(uintptr(d.fd), uintptr(IoctlModeObjSetProperty),
		uintptr(unsafe.Pointer(sp)))
}

// ObjectProperties performs the two-pass OBJ_GETPROPERTIES dance (count,
// then fetch) and resolves each property id to its name.
func (d *cardDevice) ObjectProperties(objID, objType uint32) ([]Property, error) {
	arg := ObjGetProperties{
		ObjID:   objID,
		ObjType: objType,
	}
	if err := ioctl.Do(uintptr(d.fd), uintptr(IoctlModeObjGetProperties),
		uintptr(unsafe.Pointer(&arg))); err != nil {
		return nil, err
	}
	if arg.CountProps == 0 {
		return nil, nil
	}

	ids := make([]uint32, arg.CountProps)
	values := make([]uint64, arg.CountProps)
	arg.PropsPtr = uint64(uintptr(unsafe.Pointer(&ids[0])))
	arg.PropValuesPtr = uint64(uintptr(unsafe.Pointer(&values[0])))
	if err := ioctl.Do(uintptr(d.fd), uintptr(IoctlModeObjGetProperties),
		uintptr(unsafe.Pointer(&arg))); err != nil {
		return nil, err
	}
	// The object may have lost properties between the two calls.
	if int(arg.CountProps) < len(ids) {
		ids = ids[:arg.CountProps]
		values = values[:arg.CountProps]
	}

	props := make([]Property, 0, len(ids))
	for i, id := range ids {
		get := GetProperty{PropID: id}
		if err := ioctl.Do(uintptr(d.fd), uintptr(IoctlModeGetProperty),
			uintptr(unsafe.Pointer(&get))); err != nil {
			return nil, fmt.Errorf("resolve property %d: %w", id, err)
		}
		props = append(props, Property{
			ID:    id,
			Name:  propName(get.Name),
			Value: values[i],
		})
	}
	return props, nil
}

func propName(raw [PropNameLen]byte) string {
	for i, b := range raw {
		if b == 0 {
			return string(raw[:i])
		}
	}
	return string(raw[:])
}

func (d *cardDevice) ReadEvents(buf []byte) (int, error) {
	for {
		n, err := unix.Read(d.fd, buf)
		switch err {
		case nil:
			if n == 0 {
				return 0, ErrNoEvents
			}
			return n, nil
		case unix.EINTR:
			continue
		case unix.EAGAIN:
			return 0, ErrNoEvents
		default:
			return 0, err
		}
	}
}

func (d *cardDevice) Close() error {
	return unix.Close(d.fd)
}
