// Package crc computes the CRC-16/XMODEM checksum used by the serial
// transport's line framing (§4.2: poly=0x1021, init=0x0000).
package crc

import "github.com/sigurn/crc16"

// xmodemParams matches CRC-16/XMODEM exactly: poly=0x1021, init=0x0000, no
// input/output reflection, no final xor.
var xmodemParams = crc16.Params{
	Poly: 0x1021, Init: 0x0000,
	RefIn: false, RefOut: false,
	XorOut: 0x0000, Check: 0x31c3, Name: "XMODEM",
}

var xmodemTable = crc16.MakeTable(xmodemParams)

// XMODEM returns the CRC-16/XMODEM of data.
func XMODEM(data []byte) uint16 {
	return crc16.Checksum(data, xmodemTable)
}
