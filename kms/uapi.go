// Package kms is the kernel mode-setting interface layer. It defines the
// DRM wire structures and ioctl request codes the driver core needs for
// frame-timing waits, page flips and completion-event delivery, and a
// Device interface abstracting the open card node so the queue logic can
// run against a mock in tests.
package kms

import "unsafe"

// Vblank request type bits (drm.h, union drm_wait_vblank request.type)
const (
	VblankAbsolute      uint32 = 0x00000000
	VblankRelative      uint32 = 0x00000001
	VblankHighCrtcMask  uint32 = 0x0000003e
	VblankHighCrtcShift        = 1
	VblankEvent         uint32 = 0x04000000
	VblankNextOnMiss    uint32 = 0x10000000
	VblankSecondary     uint32 = 0x20000000
)

// CRTC_QUEUE_SEQUENCE flags
const (
	SequenceRelative   uint32 = 0x00000001
	SequenceNextOnMiss uint32 = 0x00000002
)

// Event record types delivered on the card fd
const (
	EventTypeVblank       uint32 = 0x01
	EventTypeFlipComplete uint32 = 0x02
	EventTypeCrtcSequence uint32 = 0x03
)

// Page flip flags
const (
	PageFlipFlagEvent uint32 = 0x01
	PageFlipFlagAsync uint32 = 0x02
)

// Object types for the property ioctls
const (
	ObjectCrtc      uint32 = 0xcccccccc
	ObjectConnector uint32 = 0xc0c0c0c0
)

// Property names consulted for variable refresh support
const (
	PropVRREnabled = "VRR_ENABLED"
	PropVRRCapable = "vrr_capable"
)

// WaitVblank overlays union drm_wait_vblank (24 bytes on 64-bit):
//
//	struct drm_wait_vblank_request {
//	  __u32 type;            // absolute/relative/event/pipe bits
//	  __u32 sequence;        // target frame count (32-bit)
//	  unsigned long signal;  // user data echoed back in the event
//	};
//	struct drm_wait_vblank_reply {
//	  __u32 type;
//	  __u32 sequence;        // frame count actually armed / current
//	  long tval_sec;         // overlays request.signal
//	  long tval_usec;
//	};
//
// Signal carries the event user data on submission; the kernel rewrites
// the same bytes as tval_sec on return. TvalUsec is reply-only.
type WaitVblank struct {
	Type     uint32
	Sequence uint32
	Signal   uint64
	TvalUsec int64
}

// Compile-time size check - must match the kernel union on LP64
var _ [24]byte = [unsafe.Sizeof(WaitVblank{})]byte{}

// TvalSec returns the reply seconds field overlaid on Signal.
func (wv *WaitVblank) TvalSec() int64 {
	return int64(wv.Signal)
}

// CrtcGetSequence mirrors struct drm_crtc_get_sequence (24 bytes):
//
//	__u32 crtc_id;     // in
//	__u32 active;      // out: vblank counter running
//	__u64 sequence;    // out: current 64-bit frame count
//	__s64 sequence_ns; // out: timestamp of that frame
type CrtcGetSequence struct {
	CrtcID     uint32
	Active     uint32
	Sequence   uint64
	SequenceNS int64
}

var _ [24]byte = [unsafe.Sizeof(CrtcGetSequence{})]byte{}

// CrtcQueueSequence mirrors struct drm_crtc_queue_sequence (24 bytes):
//
//	__u32 crtc_id;   // in
//	__u32 flags;     // in: DRM_CRTC_SEQUENCE_*
//	__u64 sequence;  // in: target; out: frame actually armed
//	__u64 user_data; // in: echoed in the completion record
type CrtcQueueSequence struct {
	CrtcID   uint32
	Flags    uint32
	Sequence uint64
	UserData uint64
}

var _ [24]byte = [unsafe.Sizeof(CrtcQueueSequence{})]byte{}

// PageFlipRequest mirrors struct drm_mode_crtc_page_flip (24 bytes):
//
//	__u32 crtc_id;
//	__u32 fb_id;
//	__u32 flags;     // DRM_MODE_PAGE_FLIP_*
//	__u32 reserved;  // must be zero
//	__u64 user_data; // echoed in the flip-complete record
type PageFlipRequest struct {
	CrtcID   uint32
	FbID     uint32
	Flags    uint32
	Reserved uint32
	UserData uint64
}

var _ [24]byte = [unsafe.Sizeof(PageFlipRequest{})]byte{}

// ObjSetProperty mirrors struct drm_mode_obj_set_property (24 bytes
// including trailing padding):
//
//	__u64 value;
//	__u32 prop_id;
//	__u32 obj_id;
//	__u32 obj_type;
type ObjSetProperty struct {
	Value    uint64
	PropID   uint32
	ObjID    uint32
	ObjType  uint32
	pad      uint32
}

var _ [24]byte = [unsafe.Sizeof(ObjSetProperty{})]byte{}

// ObjGetProperties mirrors struct drm_mode_obj_get_properties (32 bytes
// including trailing padding):
//
//	__u64 props_ptr;       // out: array of property ids
//	__u64 prop_values_ptr; // out: array of current values
//	__u32 count_props;     // in/out
//	__u32 obj_id;
//	__u32 obj_type;
type ObjGetProperties struct {
	PropsPtr      uint64
	PropValuesPtr uint64
	CountProps    uint32
	ObjID         uint32
	ObjType       uint32
	pad           uint32
}

var _ [32]byte = [unsafe.Sizeof(ObjGetProperties{})]byte{}

// PropNameLen is DRM_PROP_NAME_LEN.
const PropNameLen = 32

// GetProperty mirrors struct drm_mode_get_property (64 bytes). Only the
// name resolution fields are consumed here; the values/enum arrays are
// left unqueried (values_ptr/enum_blob_ptr zero).
type GetProperty struct {
	ValuesPtr      uint64
	EnumBlobPtr    uint64
	PropID         uint32
	Flags          uint32
	Name           [PropNameLen]byte
	CountValues    uint32
	CountEnumBlobs uint32
}

var _ [64]byte = [unsafe.Sizeof(GetProperty{})]byte{}
