package repository

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"QuantPipe/internal/domain/models"
)

// FilePredictionSink writes the block-structured result file:
//
//	date: 2020-07
//		AAPL	0.123400	0.871000
//
// one block per date, rows in descending score order.
type FilePredictionSink struct {
	f *os.File
	w *bufio.Writer
}

func NewFilePredictionSink(path string) (*FilePredictionSink, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create result file: %w", err)
	}
	return &FilePredictionSink{f: f, w: bufio.NewWriter(f)}, nil
}

func (s *FilePredictionSink) Write(_ context.Context, block *models.PredictionBlock) error {
	return WritePredictionBlock(s.w, block)
}

func (s *FilePredictionSink) Close() error {
	if err := s.w.Flush(); err != nil {
		_ = s.f.Close()
		return err
	}
	return s.f.Close()
}

func WritePredictionBlock(w io.Writer, block *models.PredictionBlock) error {
	if _, err := fmt.Fprintf(w, "date: %s\n", block.Date); err != nil {
		return err
	}
	for _, p := range block.Rows {
		if _, err := fmt.Fprintf(w, "\t%s\t%f\t%f\n", p.Security, p.Gain, p.Score); err != nil {
			return err
		}
	}
	return nil
}

// ReadPredictionFile parses a result file written by FilePredictionSink.
func ReadPredictionFile(path string) ([]models.PredictionBlock, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("read predictions: %w", err)
	}
	defer f.Close()

	blocks, err := ParsePredictions(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return blocks, nil
}

// ParsePredictions reads blocks in file order. Duplicate dates and rows
// out of descending score order are fatal.
func ParsePredictions(r io.Reader) ([]models.PredictionBlock, error) {
	var blocks []models.PredictionBlock
	seen := make(map[string]bool)
	sc := bufio.NewScanner(r)
	line := 0
	for sc.Scan() {
		line++
		text := sc.Text()
		if text == "" {
			continue
		}
		if date, ok := strings.CutPrefix(text, "date: "); ok {
			if seen[date] {
				return nil, fmt.Errorf("line %d: duplicate date %s: %w", line, date, models.ErrAlignment)
			}
			seen[date] = true
			blocks = append(blocks, models.PredictionBlock{Date: date})
			continue
		}
		parts := strings.Split(text, "\t")
		if len(parts) != 4 || parts[0] != "" || len(blocks) == 0 {
			return nil, fmt.Errorf("line %d: malformed prediction row", line)
		}
		gain, err := strconv.ParseFloat(parts[2], 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		score, err := strconv.ParseFloat(parts[3], 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		b := &blocks[len(blocks)-1]
		if n := len(b.Rows); n > 0 && score > b.Rows[n-1].Score {
			return nil, fmt.Errorf("line %d: scores not descending in %s: %w", line, b.Date, models.ErrAlignment)
		}
		b.Rows = append(b.Rows, models.Prediction{Security: parts[1], Gain: gain, Score: score})
	}
	return blocks, sc.Err()
}
