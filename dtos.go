package smp

// ErrInfo is the SMP v2 error{group,rc} pair some newer management groups
// use instead of a bare top-level "rc" (§4.5 validation step 5).
type ErrInfo struct {
	Group uint16 `cbor:"group"`
	RC    int    `cbor:"rc"`
}

// rcHolder is satisfied by every response DTO below so the engine can pull
// the return code out generically during validation.
type rcHolder interface {
	returnCode() (rc int, errGroup *uint16, present bool)
}

// baseResponse embeds the two shapes a failed response may use: a bare "rc"
// (legacy) or an "err"{group,rc} object (SMP v2).
type baseResponse struct {
	RC  *int     `cbor:"rc,omitempty"`
	Err *ErrInfo `cbor:"err,omitempty"`
}

func (b baseResponse) returnCode() (rc int, errGroup *uint16, present bool) {
	switch {
	case b.Err != nil:
		return b.Err.RC, &b.Err.Group, true
	case b.RC != nil:
		return *b.RC, nil, *b.RC != 0
	default:
		return 0, nil, false
	}
}

// --- os group (0) ---

type EchoRequest struct {
	D string `cbor:"d"`
}

type EchoResponse struct {
	baseResponse
	R string `cbor:"r"`
}

type ResetRequest struct {
	// SMP defines this as an int; mcumgr accepts it as a bool.
	Force bool `cbor:"force,omitempty"`
}

type ResetResponse struct {
	baseResponse
}

type OSInfoRequest struct {
	Format string `cbor:"format,omitempty"`
}

type OSInfoResponse struct {
	baseResponse
	Output string `cbor:"r"`
}

// --- image group (1) ---

type ImageStateRequest struct{}

type ImageInfo struct {
	Image     *uint32 `cbor:"image,omitempty"`
	Slot      uint32  `cbor:"slot"`
	Version   string  `cbor:"version"`
	Hash      []byte  `cbor:"hash,omitempty"`
	Bootable  *bool   `cbor:"bootable,omitempty"`
	Pending   *bool   `cbor:"pending,omitempty"`
	Confirmed *bool   `cbor:"confirmed,omitempty"`
	Active    *bool   `cbor:"active,omitempty"`
	Permanent *bool   `cbor:"permanent,omitempty"`
	// Offset reports the device's already-received byte offset for a slot
	// holding a partially uploaded image, letting a resumed upload skip
	// straight to where the previous session left off (§4.6 scenario 5).
	Offset *uint32 `cbor:"off,omitempty"`
}

type ImageStateResponse struct {
	baseResponse
	Images      []ImageInfo `cbor:"images"`
	SplitStatus *int        `cbor:"splitStatus,omitempty"`
}

// ImageStateWriteRequest marks a slot for test (Confirm=false) or permanent
// (Confirm=true) per §4.6 step 3/5.
type ImageStateWriteRequest struct {
	Hash    []byte `cbor:"hash,omitempty"`
	Confirm bool   `cbor:"confirm,omitempty"`
}

// FirmwareUploadRequest is the image/upload payload (§4.6 step 2). The
// first chunk (Off==0) carries Len/SHA/Image/Upgrade; later chunks omit
// them.
type FirmwareUploadRequest struct {
	Image   uint32 `cbor:"image,omitempty"`
	Len     uint32 `cbor:"len,omitempty"`
	Off     uint32 `cbor:"off"`
	SHA     []byte `cbor:"sha,omitempty"`
	Data    []byte `cbor:"data"`
	Upgrade bool   `cbor:"upgrade,omitempty"`
}

type FirmwareUploadResponse struct {
	baseResponse
	Off   *uint32 `cbor:"off,omitempty"`
	Match *bool   `cbor:"match,omitempty"`
}

type ImageEraseRequest struct {
	Slot *uint32 `cbor:"slot,omitempty"`
}

type ImageEraseResponse struct {
	baseResponse
}

// --- stat group (2) ---

type StatListRequest struct{}

type StatListResponse struct {
	baseResponse
	Groups []string `cbor:"stat_list"`
}

type StatGroupRequest struct {
	Name string `cbor:"name"`
}

type StatGroupResponse struct {
	baseResponse
	Name   string         `cbor:"name"`
	Fields map[string]int `cbor:"fields"`
}

// --- config/settings group (3) ---

type ConfigReadRequest struct {
	Name string `cbor:"name"`
}

type ConfigReadResponse struct {
	baseResponse
	Val string `cbor:"val"`
}

type ConfigWriteRequest struct {
	Name    string `cbor:"name"`
	Val     string `cbor:"val"`
	Save    bool   `cbor:"save,omitempty"`
}

type ConfigWriteResponse struct {
	baseResponse
}

// --- file group (8) ---

type FileDownloadRequest struct {
	Off  uint32 `cbor:"off"`
	Name string `cbor:"name"`
}

type FileDownloadResponse struct {
	baseResponse
	Off  uint32 `cbor:"off"`
	Data []byte `cbor:"data"`
	Len  *uint32 `cbor:"len,omitempty"`
}

type FileUploadRequest struct {
	Off  uint32 `cbor:"off"`
	Data []byte `cbor:"data"`
	Name string `cbor:"name"`
	Len  uint32 `cbor:"len,omitempty"`
}

type FileUploadResponse struct {
	baseResponse
	Off uint32 `cbor:"off"`
}

// --- shell group (9) ---

type ShellExecRequest struct {
	Argv []string `cbor:"argv"`
}

type ShellExecResponse struct {
	baseResponse
	Output string `cbor:"o"`
	Ret    int    `cbor:"ret"`
}

// --- zephyr group (63) ---

type ZephyrStorageEraseRequest struct{}

type ZephyrStorageEraseResponse struct {
	baseResponse
}
