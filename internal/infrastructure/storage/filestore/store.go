package filestore

import (
	"context"
	"encoding/json"
	"fmt"
	"image/jpeg"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"roadwatch/internal/core/domain"
	"roadwatch/pkg/optimize"
	"roadwatch/pkg/utils"
)

const (
	reportPrefix = "detection_results_"
	framePrefix  = "frame_"
	probePrefix  = "connection_test_"
)

// Store writes per-frame reports, frame images and probe reports under one
// directory.
type Store struct {
	basePath    string
	jpegQuality int
}

// frameReport is the on-disk layout of one frame's results.
type frameReport struct {
	Timestamp      string             `json:"timestamp"`
	FrameNumber    uint64             `json:"frame_number"`
	ProcessingTime float64            `json:"processing_time"`
	Results        domain.FrameResult `json:"results"`
}

func New(basePath string, jpegQuality int) (*Store, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	if jpegQuality <= 0 || jpegQuality > 100 {
		jpegQuality = jpeg.DefaultQuality
	}
	return &Store{basePath: basePath, jpegQuality: jpegQuality}, nil
}

func (s *Store) Dir() string {
	return s.basePath
}

// SaveReport writes detection_results_<ts>_<frame>.json.
func (s *Store) SaveReport(ctx context.Context, result domain.FrameResult) error {
	report := frameReport{
		Timestamp:      utils.FormatTimestamp(result.Timestamp),
		FrameNumber:    result.FrameNumber,
		ProcessingTime: result.ProcessingTime.Seconds(),
		Results:        result,
	}
	name := fmt.Sprintf("%s%s_%d.json", reportPrefix, utils.ReportTimestamp(result.Timestamp), result.FrameNumber)
	return s.writeJSON(name, report)
}

// SaveFrame writes frame_<ts>_<frame>.jpg and returns its path.
func (s *Store) SaveFrame(ctx context.Context, result domain.FrameResult, frame domain.Frame) (string, error) {
	if frame.Image == nil {
		return "", domain.ErrEmptyFrame
	}
	name := fmt.Sprintf("%s%s_%d.jpg", framePrefix, utils.ReportTimestamp(result.Timestamp), result.FrameNumber)
	path := filepath.Join(s.basePath, name)

	buf := optimize.FrameBuffers.Get()
	defer optimize.FrameBuffers.Put(buf)
	if err := jpeg.Encode(buf, frame.Image, &jpeg.Options{Quality: s.jpegQuality}); err != nil {
		return "", fmt.Errorf("failed to encode %s: %w", name, err)
	}

	err := s.write(name, func(w io.Writer) error {
		_, err := buf.WriteTo(w)
		return err
	})
	if err != nil {
		return "", err
	}
	return path, nil
}

// SaveProbeReport writes connection_test_<ts>.json and returns its path.
func (s *Store) SaveProbeReport(report domain.ProbeReport) (string, error) {
	name := fmt.Sprintf("%s%s.json", probePrefix, utils.ReportTimestamp(report.TestedAt))
	if err := s.writeJSON(name, report); err != nil {
		return "", err
	}
	return filepath.Join(s.basePath, name), nil
}

// List returns the sorted names of files starting with prefix.
func (s *Store) List(prefix string) ([]string, error) {
	entries, err := os.ReadDir(s.basePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read output directory: %w", err)
	}

	var files []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasPrefix(entry.Name(), prefix) {
			files = append(files, entry.Name())
		}
	}
	sort.Strings(files)
	return files, nil
}

func (s *Store) Close() error {
	return nil
}

func (s *Store) writeJSON(name string, v interface{}) error {
	return s.write(name, func(w io.Writer) error {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	})
}

// write goes through a temp file so readers never see a partial file.
func (s *Store) write(name string, fill func(io.Writer) error) error {
	tmp, err := os.CreateTemp(s.basePath, "."+name+".*")
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", name, err)
	}
	defer os.Remove(tmp.Name())

	if err := fill(tmp); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(s.basePath, name)); err != nil {
		return fmt.Errorf("failed to store %s: %w", name, err)
	}
	return nil
}
