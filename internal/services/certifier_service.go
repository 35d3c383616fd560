// Package services wires the estimation, calibration, and certification
// stages into the operations the API exposes.
package services

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/certstack/delcert/internal/artifacts"
	"github.com/certstack/delcert/internal/calibrate"
	"github.com/certstack/delcert/internal/certify"
	"github.com/certstack/delcert/internal/estimator"
	"github.com/certstack/delcert/internal/models"
	"github.com/certstack/delcert/internal/utils"
)

// CertifierService orchestrates the certification pipeline: estimator into
// engine for certification requests, estimator into calibrator into the
// artifact store for calibration jobs.
type CertifierService struct {
	logger     *slog.Logger
	estimator  *estimator.Estimator
	engine     *certify.Engine
	calibrator *calibrate.Calibrator
	store      *artifacts.Store
	partitions int
	latencies  *utils.LatencyTracker
}

// NewCertifierService constructs the service facade.
func NewCertifierService(logger *slog.Logger, est *estimator.Estimator, engine *certify.Engine, calibrator *calibrate.Calibrator, store *artifacts.Store, partitions int) *CertifierService {
	if logger == nil {
		logger = slog.Default()
	}
	if partitions < 1 {
		partitions = 1
	}
	return &CertifierService{
		logger:     logger,
		estimator:  est,
		engine:     engine,
		calibrator: calibrator,
		store:      store,
		partitions: partitions,
		latencies:  utils.NewLatencyTracker(1024),
	}
}

// Certify estimates and certifies a batch of sequences. Every input gets a
// result in input order; an input whose estimation failed outright is
// reported as an abstention carrying the error, never as a batch failure.
func (s *CertifierService) Certify(ctx context.Context, seqs []models.Sequence) ([]models.CertificationResult, error) {
	if s.estimator == nil || s.engine == nil {
		return nil, utils.WrapOp("certify", "pipeline not configured", nil)
	}
	if len(seqs) == 0 {
		return nil, utils.WrapOp("certify", "no input sequences", nil)
	}

	start := time.Now()
	vectors, failures := s.estimator.Run(ctx, seqs, s.partitions)
	decided := s.engine.CertifyAll(ctx, vectors)

	byID := make(map[string]models.CertificationResult, len(decided))
	for _, r := range decided {
		byID[r.InputID] = r
	}

	results := make([]models.CertificationResult, 0, len(seqs))
	for _, seq := range seqs {
		if r, ok := byID[seq.ID]; ok {
			results = append(results, r)
			continue
		}
		err := failures[seq.ID]
		if err == nil {
			err = errors.New("no score vector produced")
		}
		s.logger.Error("estimation failed", slog.String("input", seq.ID), slog.Any("error", err))
		results = append(results, models.CertificationResult{
			InputID:  seq.ID,
			Decision: models.DecisionAbstain,
			Err:      err.Error(),
		})
	}

	duration := time.Since(start)
	s.latencies.Observe(duration)
	if count := s.latencies.Count(); count >= 20 && count%20 == 0 {
		s.logger.Info("certification latency", slog.Duration("p95", s.latencies.Percentile(95)), slog.Int("samples", count))
	}
	return results, nil
}

// Calibrate estimates benign sequences, selects the threshold, and persists
// the record as the next artifact version.
func (s *CertifierService) Calibrate(ctx context.Context, benign []models.Sequence, targetFPR, confidence float64) (models.CalibrationRecord, error) {
	if s.estimator == nil || s.calibrator == nil || s.store == nil {
		return models.CalibrationRecord{}, utils.WrapOp("calibrate", "pipeline not configured", nil)
	}
	if len(benign) == 0 {
		return models.CalibrationRecord{}, utils.WrapOp("calibrate", "no benign sequences", nil)
	}

	vectors, failures := s.estimator.Run(ctx, benign, s.partitions)
	for id, err := range failures {
		s.logger.Warn("benign sample dropped from calibration", slog.String("input", id), slog.Any("error", err))
	}
	if len(vectors) == 0 {
		return models.CalibrationRecord{}, utils.WrapOp("calibrate", "estimation produced no benign vectors", nil)
	}

	record, err := s.calibrator.Calibrate(vectors, targetFPR, confidence)
	if err != nil {
		return models.CalibrationRecord{}, utils.WrapOp("calibrate", "threshold selection failed", err)
	}

	record.Version = s.nextVersion()
	saved, err := s.store.Save(record)
	if err != nil {
		return models.CalibrationRecord{}, utils.WrapOp("calibrate", "persist artifact", err)
	}
	return saved, nil
}

// LatestCalibration returns the current calibration artifact.
func (s *CertifierService) LatestCalibration() (models.CalibrationRecord, error) {
	if s.store == nil {
		return models.CalibrationRecord{}, utils.WrapOp("calibration", "artifact store not configured", nil)
	}
	return s.store.Latest()
}

func (s *CertifierService) nextVersion() int {
	current, err := s.store.Latest()
	if err != nil {
		if !errors.Is(err, artifacts.ErrNoArtifact) {
			s.logger.Warn("could not read latest artifact, starting at version 1", slog.Any("error", err))
		}
		return 1
	}
	return current.Version + 1
}

// ErrNoCalibration reports a missing calibration artifact in API terms.
var ErrNoCalibration = artifacts.ErrNoArtifact
