package network

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"log"

	"github.com/banshee-data/loiter.report/internal/vision/l1meta"
)

// ReplaySummary reports what ReadLines consumed.
type ReplaySummary struct {
	Lines    int
	Rejected int
}

// ReadLines feeds one JSON batch per line of r to handler. Blank lines and
// lines beginning with '#' are skipped. A rejected line is logged and
// counted; reading continues.
func ReadLines(ctx context.Context, r io.Reader, handler PacketHandler) (ReplaySummary, error) {
	var sum ReplaySummary
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), l1meta.MaxBatchBytes+1)

	for sc.Scan() {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 || line[0] == '#' {
			continue
		}
		sum.Lines++
		if err := handler.HandlePacket(line); err != nil {
			sum.Rejected++
			log.Printf("Line %d rejected: %v", sum.Lines, err)
		}
	}
	if err := sc.Err(); err != nil {
		return sum, fmt.Errorf("read lines: %w", err)
	}
	return sum, nil
}
