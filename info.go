package kpz

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

func decodeHardwareInfo(p []byte) (HardwareInfo, error) {
	if len(p) < infoLen {
		return HardwareInfo{}, fmt.Errorf("hardware info: %w: %d bytes", ErrShortReply, len(p))
	}
	return HardwareInfo{
		SerialNumber:    binary.LittleEndian.Uint32(p[0:]),
		Model:           cString(p[4:12]),
		Type:            binary.LittleEndian.Uint16(p[12:]),
		Firmware:        fmt.Sprintf("%d.%d.%d", p[16], p[15], p[14]),
		Notes:           cString(p[18:66]),
		HardwareVersion: binary.LittleEndian.Uint16(p[78:]),
		ModState:        binary.LittleEndian.Uint16(p[80:]),
		Channels:        binary.LittleEndian.Uint16(p[82:]),
	}, nil
}

// tsgLen is the size of a strain gauge reading: channel, reading, smoothed.
const tsgLen = 6

func decodeStrainGauge(p []byte) (StrainGaugeReading, error) {
	if len(p) < tsgLen {
		return StrainGaugeReading{}, fmt.Errorf("strain gauge reading: %w: %d bytes", ErrShortReply, len(p))
	}
	raw := int16(binary.LittleEndian.Uint16(p[2:]))
	return StrainGaugeReading{
		Channel:  binary.LittleEndian.Uint16(p[0:]),
		Raw:      raw,
		Smoothed: int16(binary.LittleEndian.Uint16(p[4:])),
		Percent:  float64(raw) * 100 / 32767,
	}, nil
}

func cString(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(bytes.TrimSpace(b))
}
