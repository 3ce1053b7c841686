package main

import (
	"bytes"
	"flag"
	"fmt"
	"log"
	"os"

	"uwb-engine/binlog"
)

func main() {
	file1 := flag.String("1", "", "Original capture")
	file2 := flag.String("2", "", "Second capture")
	flag.Parse()

	if *file1 == "" || *file2 == "" {
		log.Fatal("Usage: verify_capture -1 <original> -2 <other>")
	}

	frames1, err := readFrames(*file1)
	if err != nil {
		log.Fatalf("Error reading %s: %v", *file1, err)
	}
	frames2, err := readFrames(*file2)
	if err != nil {
		log.Fatalf("Error reading %s: %v", *file2, err)
	}

	fmt.Printf("Original frames: %d\n", len(frames1))
	fmt.Printf("Second frames:   %d\n", len(frames2))

	n := min(len(frames1), len(frames2))
	mismatches := 0
	for i := 0; i < n; i++ {
		if !bytes.Equal(frames1[i], frames2[i]) {
			fmt.Printf("Mismatch at frame %d: len1=%d len2=%d\n", i, len(frames1[i]), len(frames2[i]))
			mismatches++
			if mismatches > 10 {
				fmt.Println("Too many mismatches, stopping.")
				break
			}
		}
	}

	if len(frames1) != len(frames2) {
		fmt.Printf("Count mismatch: %d vs %d\n", len(frames1), len(frames2))
		mismatches++
	}

	if mismatches == 0 {
		fmt.Println("SUCCESS: All frames match.")
	} else {
		fmt.Println("FAILURE: Mismatches found.")
		os.Exit(1)
	}
}

// readFrames returns the received frame payloads, skipping anchor tables
// and host commands.
func readFrames(path string) ([][]byte, error) {
	recs, err := binlog.ReadAll(path)
	if err != nil {
		return nil, err
	}
	var frames [][]byte
	for _, r := range recs {
		if r.Flag == binlog.FlagSerialRx {
			frames = append(frames, r.Data)
		}
	}
	return frames, nil
}
