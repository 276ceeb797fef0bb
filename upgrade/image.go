package upgrade

import (
	"encoding/binary"
	"fmt"
)

// ImageHeaderParser validates an image before upload (§6.2). The full
// MCUboot TLV trailer format is an external collaborator per the original
// scope and is deliberately not reproduced here — only the fixed 32-byte
// header the orchestrator needs to fail fast on an obviously wrong payload.
type ImageHeaderParser interface {
	Parse(image []byte) (ImageHeader, error)
}

// ImageHeader is the subset of the MCUboot image header the orchestrator
// consults.
type ImageHeader struct {
	Version string
	Size    uint32
}

const mcubootMagic = 0x96f3b83d

// DefaultImageHeaderParser reads the fixed 32-byte MCUboot image header: it
// checks the magic and returns the image size and version. The load
// address, header/TLV sizes and flags are not read.
type DefaultImageHeaderParser struct{}

func (DefaultImageHeaderParser) Parse(image []byte) (ImageHeader, error) {
	const headerSize = 32
	if len(image) < headerSize {
		return ImageHeader{}, fmt.Errorf("upgrade: image too small to contain an mcuboot header: %d bytes", len(image))
	}

	magic := binary.LittleEndian.Uint32(image[0:4])
	if magic != mcubootMagic {
		return ImageHeader{}, fmt.Errorf("upgrade: image does not start with the mcuboot magic (got %#08x)", magic)
	}

	imgSize := binary.LittleEndian.Uint32(image[12:16])
	major := image[20]
	minor := image[21]
	revision := binary.LittleEndian.Uint16(image[22:24])
	build := binary.LittleEndian.Uint32(image[24:28])

	return ImageHeader{
		Version: fmt.Sprintf("%d.%d.%d+%d", major, minor, revision, build),
		Size:    imgSize,
	}, nil
}
