// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package link

var crcTable = makeCRCTable()

func makeCRCTable() [256]uint16 {
	var table [256]uint16
	for i := range table {
		crc := uint16(i) << 8
		for j := 0; j < 8; j++ {
			if crc&0x8000 != 0 {
				crc = (crc << 1) ^ crcPolynomial
			} else {
				crc <<= 1
			}
		}
		table[i] = crc
	}
	return table
}

// CalculateCRC computes CRC-16/CCITT (polynomial 0x1021, initial value 0,
// no final XOR) over data. The result is transmitted MSB first.
func CalculateCRC(data []byte) uint16 {
	return UpdateCRC(crcInitial, data)
}

// UpdateCRC continues a running CRC over data.
func UpdateCRC(crc uint16, data []byte) uint16 {
	for _, b := range data {
		crc = (crc << 8) ^ crcTable[byte(crc>>8)^b]
	}
	return crc
}
