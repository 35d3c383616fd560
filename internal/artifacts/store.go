// Package artifacts persists calibration records as immutable, versioned,
// content-addressed files. A record is canonically encoded, identified by a
// CIDv1 over the canonical bytes, and signed with Ed25519; augmentation
// produces a new version and never touches an existing file.
package artifacts

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/cloudflare/circl/sign/ed25519"
	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"

	"github.com/certstack/delcert/internal/models"
)

// ErrNoArtifact is returned when no calibration record has been stored yet.
var ErrNoArtifact = errors.New("no calibration artifact")

const filePrefix = "calibration_v"

// Store reads and writes calibration records under one directory.
type Store struct {
	dir    string
	priv   ed25519.PrivateKey
	pub    ed25519.PublicKey
	logger *slog.Logger
}

// NewStore creates the artifact directory if needed. The private key is
// optional: without one, records are stored unsigned and Verify only checks
// the content address.
func NewStore(dir string, priv ed25519.PrivateKey, logger *slog.Logger) (*Store, error) {
	if dir == "" {
		return nil, errors.New("artifact directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create artifact directory: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{dir: dir, priv: priv, logger: logger}
	if priv != nil {
		s.pub = priv.Public().(ed25519.PublicKey)
	}
	return s, nil
}

// Save finalizes and persists a record: the artifact ID and signature are
// derived from the canonical bytes, then the file is written via temp file
// and rename so readers never observe a partial record. Saving over an
// existing version is refused.
func (s *Store) Save(record models.CalibrationRecord) (models.CalibrationRecord, error) {
	if record.Version < 1 {
		return models.CalibrationRecord{}, fmt.Errorf("record version %d, need at least 1", record.Version)
	}
	target := s.path(record.Version)
	if _, err := os.Stat(target); err == nil {
		return models.CalibrationRecord{}, fmt.Errorf("artifact version %d already exists", record.Version)
	}

	finalized, err := s.finalize(record)
	if err != nil {
		return models.CalibrationRecord{}, err
	}
	payload, err := json.MarshalIndent(finalized, "", "  ")
	if err != nil {
		return models.CalibrationRecord{}, fmt.Errorf("encode record: %w", err)
	}

	tmp, err := os.CreateTemp(s.dir, filePrefix+"*.tmp")
	if err != nil {
		return models.CalibrationRecord{}, err
	}
	if _, err := tmp.Write(payload); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return models.CalibrationRecord{}, err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return models.CalibrationRecord{}, err
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		os.Remove(tmp.Name())
		return models.CalibrationRecord{}, err
	}

	s.logger.Info("calibration artifact stored",
		"version", finalized.Version,
		"artifact_id", finalized.ArtifactID,
		"path", target)
	return finalized, nil
}

// Load reads one stored version and verifies it before returning.
func (s *Store) Load(version int) (models.CalibrationRecord, error) {
	payload, err := os.ReadFile(s.path(version))
	if errors.Is(err, os.ErrNotExist) {
		return models.CalibrationRecord{}, ErrNoArtifact
	}
	if err != nil {
		return models.CalibrationRecord{}, err
	}
	var record models.CalibrationRecord
	if err := json.Unmarshal(payload, &record); err != nil {
		return models.CalibrationRecord{}, fmt.Errorf("decode artifact v%d: %w", version, err)
	}
	if err := s.Verify(record); err != nil {
		return models.CalibrationRecord{}, fmt.Errorf("artifact v%d: %w", version, err)
	}
	return record, nil
}

// Latest returns the stored record with the highest version.
func (s *Store) Latest() (models.CalibrationRecord, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return models.CalibrationRecord{}, err
	}
	best := 0
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasPrefix(name, filePrefix) || !strings.HasSuffix(name, ".json") {
			continue
		}
		v, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(name, filePrefix), ".json"))
		if err != nil || v < 1 {
			continue
		}
		if v > best {
			best = v
		}
	}
	if best == 0 {
		return models.CalibrationRecord{}, ErrNoArtifact
	}
	return s.Load(best)
}

// Augment applies a transformation to the latest record and stores the result
// as the next version. The prior file is left untouched; the new record gets
// a fresh artifact ID and signature.
func (s *Store) Augment(transform func(models.CalibrationRecord) models.CalibrationRecord) (models.CalibrationRecord, error) {
	current, err := s.Latest()
	if err != nil {
		return models.CalibrationRecord{}, err
	}
	next := transform(current)
	next.Version = current.Version + 1
	next.ArtifactID = ""
	next.Signature = ""
	return s.Save(next)
}

// Verify re-derives the content address from the canonical bytes and checks
// the signature when one is present.
func (s *Store) Verify(record models.CalibrationRecord) error {
	canon, err := canonicalBytes(record)
	if err != nil {
		return err
	}
	id, err := contentID(canon)
	if err != nil {
		return err
	}
	if record.ArtifactID != id {
		return fmt.Errorf("artifact id mismatch: stored %s, derived %s", record.ArtifactID, id)
	}
	if record.Signature == "" {
		return nil
	}
	if s.pub == nil {
		return errors.New("record is signed but no verification key is configured")
	}
	sig, err := base64.StdEncoding.DecodeString(record.Signature)
	if err != nil {
		return fmt.Errorf("invalid signature encoding: %w", err)
	}
	if len(sig) != ed25519.SignatureSize {
		return errors.New("invalid signature length")
	}
	digest := sha256.Sum256(canon)
	if !ed25519.Verify(s.pub, digest[:], sig) {
		return errors.New("signature did not verify")
	}
	return nil
}

func (s *Store) finalize(record models.CalibrationRecord) (models.CalibrationRecord, error) {
	record.ArtifactID = ""
	record.Signature = ""

	canon, err := canonicalBytes(record)
	if err != nil {
		return models.CalibrationRecord{}, err
	}
	id, err := contentID(canon)
	if err != nil {
		return models.CalibrationRecord{}, err
	}
	record.ArtifactID = id

	if s.priv != nil {
		digest := sha256.Sum256(canon)
		record.Signature = base64.StdEncoding.EncodeToString(ed25519.Sign(s.priv, digest[:]))
	}
	return record, nil
}

func (s *Store) path(version int) string {
	return filepath.Join(s.dir, fmt.Sprintf("%s%d.json", filePrefix, version))
}

// canonicalBytes is the compact JSON encoding of the record with the derived
// fields cleared. Both the content address and the signature cover exactly
// these bytes.
func canonicalBytes(record models.CalibrationRecord) ([]byte, error) {
	record.ArtifactID = ""
	record.Signature = ""
	payload, err := json.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("canonicalize record: %w", err)
	}
	return payload, nil
}

// contentID returns a CIDv1 (raw multicodec, sha2-256 multihash) string.
func contentID(data []byte) (string, error) {
	sum, err := multihash.Sum(data, multihash.SHA2_256, -1)
	if err != nil {
		return "", err
	}
	return cid.NewCidV1(cid.Raw, sum).String(), nil
}

// WriteResultsCSV emits per-input certification outcomes in the evaluation
// CSV layout.
func WriteResultsCSV(w io.Writer, results []models.CertificationResult) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"input_id", "mean_score", "lower_bound", "decision", "radius", "effective_n", "dropped"}); err != nil {
		return err
	}
	for _, r := range results {
		row := []string{
			r.InputID,
			strconv.FormatFloat(r.MeanScore, 'g', -1, 64),
			strconv.FormatFloat(r.LowerBound, 'g', -1, 64),
			string(r.Decision),
			strconv.Itoa(r.Radius),
			strconv.Itoa(r.EffectiveN),
			strconv.Itoa(r.Dropped),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
