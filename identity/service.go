// Package identity decides whether a piece of media has already been
// transcribed. Files are identified by content hash, not by path, and every
// transcription outcome is kept as a Content Record.
package identity

import (
	"context"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/teranos/scribe/errors"
	"github.com/teranos/scribe/logger"
)

// OutputSuffix is appended to the input file name, extension included.
const OutputSuffix = ".transcript.json"

// Service is the Content Identity Service.
type Service struct {
	store     RecordStore
	outputDir string
	logger    *zap.SugaredLogger
}

// NewService creates the identity service. outputDir "" places transcripts
// next to their input files.
func NewService(store RecordStore, outputDir string, log *zap.SugaredLogger) *Service {
	return &Service{
		store:     store,
		outputDir: outputDir,
		logger:    logger.OrNop(log).Named("identity"),
	}
}

// Hash returns the content hash of the file at path.
func (s *Service) Hash(path string) (string, error) {
	return Hash(path)
}

// IsAlreadyProcessed is true only for a record that exists and is verified.
func (s *Service) IsAlreadyProcessed(ctx context.Context, path, hash string) (bool, error) {
	rec, err := s.store.Get(ctx, hash)
	if errors.IsNotFoundError(err) {
		return false, nil
	}
	if err != nil {
		return false, errors.WithDetailf(err, "path: %s", path)
	}
	return rec.Verified, nil
}

// ExpectedOutputPath is where the transcript for path is written. The input
// extension is kept, so talk.mp3 and talk.wav never share a transcript. In a
// shared output directory the name also carries a tag of the source folder.
func (s *Service) ExpectedOutputPath(path string) string {
	base := filepath.Base(path)
	if s.outputDir == "" {
		return filepath.Join(filepath.Dir(path), base+OutputSuffix)
	}
	return filepath.Join(s.outputDir, base+"."+DirTag(filepath.Dir(path))+OutputSuffix)
}

// Register records that hash is being worked on. It is idempotent and
// always clears the verified flag.
func (s *Service) Register(ctx context.Context, path, hash, remoteJobID, outputPath string, status RecordStatus) error {
	err := s.store.Upsert(ctx, Record{
		ContentHash: hash,
		FilePath:    path,
		RemoteJobID: remoteJobID,
		OutputPath:  outputPath,
		Status:      status,
		Verified:    false,
	})
	if err != nil {
		return errors.WithDetailf(err, "path: %s", path)
	}
	s.logger.Debugw("Registered content record",
		logger.FieldContentHash, ShortID(hash),
		logger.FieldStatus, status,
		logger.FieldPath, path,
	)
	return nil
}

// UpdateStatus moves an existing record to status.
func (s *Service) UpdateStatus(ctx context.Context, hash, remoteJobID string, status RecordStatus, verified bool) error {
	if err := s.store.UpdateStatus(ctx, hash, remoteJobID, status, verified); err != nil {
		return err
	}
	s.logger.Debugw("Updated content record",
		logger.FieldContentHash, ShortID(hash),
		logger.FieldStatus, status,
		"verified", verified,
	)
	return nil
}

// VerifyOutput checks the transcript at outputPath.
func (s *Service) VerifyOutput(outputPath string) error {
	return VerifyOutput(outputPath)
}

// Lookup returns the record for hash.
func (s *Service) Lookup(ctx context.Context, hash string) (*Record, error) {
	return s.store.Get(ctx, hash)
}

// LookupPath hashes path and returns its record.
func (s *Service) LookupPath(ctx context.Context, path string) (*Record, error) {
	hash, err := Hash(path)
	if err != nil {
		return nil, err
	}
	return s.store.Get(ctx, hash)
}

// List returns up to limit records, newest first.
func (s *Service) List(ctx context.Context, limit int) ([]Record, error) {
	return s.store.List(ctx, limit)
}

// Forget deletes the record for hash so the content is transcribed again next time.
func (s *Service) Forget(ctx context.Context, hash string) error {
	if err := s.store.Delete(ctx, hash); err != nil {
		return err
	}
	s.logger.Infow("Forgot content record", logger.FieldContentHash, ShortID(hash))
	return nil
}
