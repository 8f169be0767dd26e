// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var rawLogCmd = &cobra.Command{
	Use:   "raw_log",
	Short: "Display received bytes without sending anything",
	Long: `Passively print every byte received on the connection with a timestamp.

Nothing is written to the device. Bytes with a known meaning are annotated:
sync replies, write acks and the firmware loader's 'C' ready marker.

Supports both serial and WebSocket connections.`,
	Args: cobra.NoArgs,
	RunE: runRawLog,
}

func init() {
	rootCmd.AddCommand(rawLogCmd)
}

// byteNotes annotates single-byte replies seen on the link
var byteNotes = map[byte]string{
	0x06: "ack",
	0x07: "sync reply / write rejected",
	0x15: "nak",
	0x43: "loader ready ('C')",
}

func runRawLog(cmd *cobra.Command, args []string) error {
	// Open connection (serial or WebSocket)
	conn, connInfo, err := OpenConnection()
	if err != nil {
		return err
	}
	defer conn.Close()

	fmt.Printf("Stimlink - Raw Byte Log\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Press Ctrl+C to exit\n\n")

	buf := make([]byte, 128)
	total := 0

	for {
		n, err := conn.Read(buf)
		if err != nil {
			// For WebSocket connections, a read error usually means
			// the connection is permanently closed - exit gracefully
			if errors.Is(err, ErrConnectionClosed) {
				log.Printf("Connection closed after %d bytes", total)
				return nil
			}
			log.Printf("Read error: %v", err)
			continue
		}
		if n == 0 {
			continue
		}
		total += n
		fmt.Print(formatRawChunk(time.Now(), buf[:n]))
	}
}

// formatRawChunk renders one read as a timestamped hex line
func formatRawChunk(at time.Time, data []byte) string {
	line := fmt.Sprintf("[%s] % X", at.Format("15:04:05.000"), data)
	if len(data) == 1 {
		if note, ok := byteNotes[data[0]]; ok {
			line += "  (" + note + ")"
		}
	}
	var printable strings.Builder
	for _, b := range data {
		if b >= 0x20 && b < 0x7F {
			printable.WriteByte(b)
		} else {
			printable.WriteByte('.')
		}
	}
	return fmt.Sprintf("%-60s |%s|\n", line, printable.String())
}
