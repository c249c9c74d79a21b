// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package artifacts persists workflow output on the local filesystem: the
// final Markdown report of each job, zstd-compressed snapshots of every
// iteration and a patch for every merge.
//
// Layout:
//
//	{root}/{jobID}/{analysis-type}.md
//	{root}/{jobID}/snapshots/iter-<n>.md.zst
//	{root}/{jobID}/diffs/iter-<n>.patch
package artifacts

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/klauspost/compress/zstd"
	"go.uber.org/zap"
)

var (
	// ErrInvalidName is returned for job IDs or file names that could
	// escape the job directory.
	ErrInvalidName = errors.New("invalid artifact name")
	// ErrNotFound is returned when an artifact does not exist.
	ErrNotFound = errors.New("artifact not found")
)

const (
	snapshotDir    = "snapshots"
	diffDir        = "diffs"
	snapshotSuffix = ".md.zst"
)

// Store writes and serves artifacts under a root directory.
type Store struct {
	root    string
	logger  *zap.Logger
	encoder *zstd.Encoder
	decoder *zstd.Decoder
	now     func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewStore creates the root directory if needed.
func NewStore(root string, opts ...Option) (*Store, error) {
	if root == "" {
		return nil, errors.New("artifact root is required")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve artifact root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create artifact root: %w", err)
	}

	// Encoder and decoder are reusable and safe for concurrent EncodeAll/DecodeAll.
	encoder, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		_ = encoder.Close()
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}

	s := &Store{
		root:    abs,
		logger:  zap.NewNop(),
		encoder: encoder,
		decoder: decoder,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Root returns the absolute root directory.
func (s *Store) Root() string {
	return s.root
}

// Close releases the codecs.
func (s *Store) Close() error {
	s.decoder.Close()
	return s.encoder.Close()
}

// ReportName returns the file name of a job's report for analysisType.
func ReportName(analysisType string) string {
	return slug(analysisType) + ".md"
}

// WriteReport stores the final report and returns its path relative to the
// root ("{jobID}/{slug}.md").
func (s *Store) WriteReport(jobID, analysisType, text string) (string, error) {
	dir, err := s.jobDir(jobID)
	if err != nil {
		return "", err
	}
	name := ReportName(analysisType)
	if err := writeFileAtomic(filepath.Join(dir, name), []byte(text)); err != nil {
		return "", fmt.Errorf("failed to write report: %w", err)
	}

	rel := jobID + "/" + name
	s.logger.Info("Report written",
		zap.String("job_id", jobID),
		zap.String("path", rel),
		zap.Int("bytes", len(text)))
	return rel, nil
}

// Path resolves a relative artifact path returned by WriteReport.
func (s *Store) Path(rel string) (string, error) {
	jobID, file, ok := strings.Cut(filepath.ToSlash(rel), "/")
	if !ok {
		return "", ErrInvalidName
	}
	if err := validName(jobID); err != nil {
		return "", err
	}
	if err := validName(file); err != nil {
		return "", err
	}
	return filepath.Join(s.root, jobID, file), nil
}

// Open opens a file from a job directory. Names with separators or ".."
// are rejected with ErrInvalidName.
func (s *Store) Open(jobID, file string) (*os.File, fs.FileInfo, error) {
	if err := validName(jobID); err != nil {
		return nil, nil, err
	}
	if err := validName(file); err != nil {
		return nil, nil, err
	}

	f, err := os.Open(filepath.Join(s.root, jobID, file))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil, ErrNotFound
		}
		return nil, nil, err
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, nil, err
	}
	if info.IsDir() {
		_ = f.Close()
		return nil, nil, ErrNotFound
	}
	return f, info, nil
}

// SaveSnapshot stores the artifact text of one iteration, zstd-compressed.
func (s *Store) SaveSnapshot(jobID string, iteration int, text string) error {
	dir, err := s.jobDir(jobID, snapshotDir)
	if err != nil {
		return err
	}
	data := s.encoder.EncodeAll([]byte(text), nil)
	path := filepath.Join(dir, snapshotName(iteration))
	if err := writeFileAtomic(path, data); err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}

	s.logger.Debug("Snapshot saved",
		zap.String("job_id", jobID),
		zap.Int("iteration", iteration),
		zap.Int("raw_bytes", len(text)),
		zap.Int("compressed_bytes", len(data)))
	return nil
}

// LoadSnapshot returns the artifact text saved for an iteration.
func (s *Store) LoadSnapshot(jobID string, iteration int) (string, error) {
	if err := validName(jobID); err != nil {
		return "", err
	}
	data, err := os.ReadFile(filepath.Join(s.root, jobID, snapshotDir, snapshotName(iteration)))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", ErrNotFound
		}
		return "", err
	}
	raw, err := s.decoder.DecodeAll(data, nil)
	if err != nil {
		return "", fmt.Errorf("failed to decompress snapshot: %w", err)
	}
	return string(raw), nil
}

// Snapshots lists the saved iterations of a job in ascending order.
func (s *Store) Snapshots(jobID string) ([]int, error) {
	if err := validName(jobID); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(filepath.Join(s.root, jobID, snapshotDir))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	var out []int
	for _, e := range entries {
		name := e.Name()
		if !strings.HasPrefix(name, "iter-") || !strings.HasSuffix(name, snapshotSuffix) {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(name, "iter-"), snapshotSuffix))
		if err != nil {
			continue
		}
		out = append(out, n)
	}
	sort.Ints(out)
	return out, nil
}

// RemoveJob deletes everything stored for a job.
func (s *Store) RemoveJob(jobID string) error {
	if err := validName(jobID); err != nil {
		return err
	}
	return os.RemoveAll(filepath.Join(s.root, jobID))
}

// Sweep removes job directories not modified within olderThan and returns
// the removed job IDs.
func (s *Store) Sweep(olderThan time.Duration) ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("failed to list artifact root: %w", err)
	}

	cutoff := s.now().Add(-olderThan)
	var removed []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		if err := os.RemoveAll(filepath.Join(s.root, e.Name())); err != nil {
			s.logger.Warn("Failed to remove expired artifacts",
				zap.String("job_id", e.Name()),
				zap.Error(err))
			continue
		}
		removed = append(removed, e.Name())
	}

	if len(removed) > 0 {
		s.logger.Info("Expired artifacts removed",
			zap.Int("jobs", len(removed)),
			zap.Duration("older_than", olderThan))
	}
	return removed, nil
}

func (s *Store) jobDir(jobID string, sub ...string) (string, error) {
	if err := validName(jobID); err != nil {
		return "", err
	}
	dir := filepath.Join(append([]string{s.root, jobID}, sub...)...)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create job directory: %w", err)
	}
	return dir, nil
}

func snapshotName(iteration int) string {
	return fmt.Sprintf("iter-%d%s", iteration, snapshotSuffix)
}

// validName accepts a single path element.
func validName(name string) error {
	if name == "" || name == "." || strings.Contains(name, "..") ||
		strings.ContainsAny(name, `/\`) || strings.ContainsRune(name, 0) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

func slug(s string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			dash = false
			continue
		}
		if !dash && b.Len() > 0 {
			b.WriteByte('-')
			dash = true
		}
	}
	out := strings.TrimSuffix(b.String(), "-")
	if out == "" {
		return "report"
	}
	return out
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}
