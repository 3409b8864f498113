package ingest

import (
	"errors"
	"fmt"
	"iter"
	"strings"

	"github.com/prudhvinik1/wearsync/internal/models"
)

const (
	minLineLength = 5
	rowFieldCount = 7
)

var (
	ErrMalformedLine = errors.New("malformed telemetry line")
	errBlankLine     = errors.New("blank line")
)

// Batch is one ingestion call's parsed rows.
type Batch struct {
	// DeviceID comes from the second field of the first non-blank line.
	DeviceID string
	Rows     []models.SensorRow
	// Dropped counts non-blank lines rejected as malformed.
	Dropped int
}

func (b *Batch) Empty() bool {
	return len(b.Rows) == 0
}

// Lines yields one entry per non-blank line of raw: the parsed row, or
// ErrMalformedLine with whatever device field the line carried.
func Lines(raw string) iter.Seq2[models.SensorRow, error] {
	return func(yield func(models.SensorRow, error) bool) {
		for line := range strings.Lines(raw) {
			row, err := parseLine(line)
			if errors.Is(err, errBlankLine) {
				continue
			}
			if !yield(row, err) {
				return
			}
		}
	}
}

// Rows yields the well-formed rows of raw in order. The sequence holds no
// state between iterations, so ranging over it twice yields the same rows.
func Rows(raw string) iter.Seq[models.SensorRow] {
	return func(yield func(models.SensorRow) bool) {
		for row, err := range Lines(raw) {
			if err != nil {
				continue
			}
			if !yield(row) {
				return
			}
		}
	}
}

// ParseBatch parses every line of raw. Every non-blank line with at least
// seven fields is a data row; there is no header.
func ParseBatch(raw string) *Batch {
	batch := &Batch{}
	deviceSeen := false

	for row, err := range Lines(raw) {
		if !deviceSeen {
			batch.DeviceID = row.DeviceID
			deviceSeen = true
		}
		if err != nil {
			batch.Dropped++
			continue
		}
		batch.Rows = append(batch.Rows, row)
	}

	batch.DeviceID = models.DeviceName(batch.DeviceID)
	return batch
}

// parseLine splits a line into its seven columns. Column values are kept as
// sent; only the column count decides whether the line is a row.
func parseLine(line string) (models.SensorRow, error) {
	line = strings.TrimSpace(line)
	if len(line) < minLineLength {
		return models.SensorRow{}, errBlankLine
	}

	cols := strings.Split(line, ",")
	for i := range cols {
		cols[i] = strings.TrimSpace(cols[i])
	}
	if len(cols) < rowFieldCount {
		var partial models.SensorRow
		if len(cols) > 1 {
			partial.DeviceID = cols[1]
		}
		return partial, fmt.Errorf("%w: %d fields", ErrMalformedLine, len(cols))
	}

	return models.SensorRow{
		Timestamp: cols[0],
		DeviceID:  cols[1],
		Status:    cols[2],
		Battery:   cols[3],
		Steps:     cols[4],
		MaxG:      cols[5],
		Fall:      cols[6],
	}, nil
}
