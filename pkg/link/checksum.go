// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package link

// Checksum returns the 8-bit additive checksum of data (sum of all bytes
// modulo 256).
func Checksum(data []byte) byte {
	var sum byte
	for _, b := range data {
		sum += b
	}
	return sum
}

// AppendChecksum returns data with its additive checksum appended.
func AppendChecksum(data []byte) []byte {
	out := make([]byte, 0, len(data)+1)
	out = append(out, data...)
	return append(out, Checksum(data))
}

// VerifyChecksum reports whether the last byte of frame equals the additive
// checksum of the bytes before it. Frames shorter than two bytes never verify.
func VerifyChecksum(frame []byte) bool {
	if len(frame) < 2 {
		return false
	}
	body := frame[:len(frame)-1]
	return Checksum(body) == frame[len(frame)-1]
}
