package artifacts

import (
	"bytes"
	"crypto/rand"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/cloudflare/circl/sign/ed25519"

	"github.com/certstack/delcert/internal/models"
)

func testKey(t *testing.T) ed25519.PrivateKey {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return priv
}

func testRecord(version int) models.CalibrationRecord {
	return models.CalibrationRecord{
		Version:       version,
		ModelID:       "model-a",
		DeletionProb:  0.98,
		TargetFPR:     0.01,
		Threshold:     0.72,
		TargetMet:     true,
		SampleSize:    500,
		Confidence:    0.95,
		FPRUpperBound: 0.018,
		Curve: []models.CurvePoint{
			{Threshold: 0, FPR: 1},
			{Threshold: 0.72, FPR: 0.01},
			{Threshold: 1, FPR: 0},
		},
		CreatedAt: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	s, err := NewStore(t.TempDir(), testKey(t), nil)
	if err != nil {
		t.Fatalf("store: %v", err)
	}

	saved, err := s.Save(testRecord(1))
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if saved.ArtifactID == "" || saved.Signature == "" {
		t.Fatalf("record not finalized: id=%q sig=%q", saved.ArtifactID, saved.Signature)
	}
	if !strings.HasPrefix(saved.ArtifactID, "bafk") {
		t.Fatalf("artifact id %q is not a CIDv1 raw/sha2-256", saved.ArtifactID)
	}

	loaded, err := s.Load(1)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.ArtifactID != saved.ArtifactID || loaded.Threshold != saved.Threshold {
		t.Fatalf("round trip mismatch: %+v vs %+v", loaded, saved)
	}
}

func TestSaveRefusesExistingVersion(t *testing.T) {
	s, err := NewStore(t.TempDir(), testKey(t), nil)
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	if _, err := s.Save(testRecord(1)); err != nil {
		t.Fatalf("first save: %v", err)
	}
	if _, err := s.Save(testRecord(1)); err == nil {
		t.Fatal("second save of version 1 should be refused")
	}
}

func TestVerifyRejectsTampering(t *testing.T) {
	dir := t.TempDir()
	s, err := NewStore(dir, testKey(t), nil)
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	saved, err := s.Save(testRecord(1))
	if err != nil {
		t.Fatalf("save: %v", err)
	}

	tampered := saved
	tampered.Threshold = 0.1
	if err := s.Verify(tampered); err == nil {
		t.Fatal("tampered record should fail verification")
	}

	// Tampering on disk is caught at load time.
	path := filepath.Join(dir, "calibration_v1.json")
	payload, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read artifact: %v", err)
	}
	mangled := bytes.Replace(payload, []byte(`"model-a"`), []byte(`"model-b"`), 1)
	if err := os.WriteFile(path, mangled, 0o644); err != nil {
		t.Fatalf("rewrite artifact: %v", err)
	}
	if _, err := s.Load(1); err == nil {
		t.Fatal("load of a mangled artifact should fail")
	}
}

func TestVerifyRejectsForeignSignature(t *testing.T) {
	dir := t.TempDir()
	signer, err := NewStore(dir, testKey(t), nil)
	if err != nil {
		t.Fatalf("signer store: %v", err)
	}
	saved, err := signer.Save(testRecord(1))
	if err != nil {
		t.Fatalf("save: %v", err)
	}

	other, err := NewStore(t.TempDir(), testKey(t), nil)
	if err != nil {
		t.Fatalf("other store: %v", err)
	}
	if err := other.Verify(saved); err == nil {
		t.Fatal("verification with the wrong key should fail")
	}
}

func TestAugmentCreatesNewVersion(t *testing.T) {
	dir := t.TempDir()
	s, err := NewStore(dir, testKey(t), nil)
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	first, err := s.Save(testRecord(1))
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	firstPayload, err := os.ReadFile(filepath.Join(dir, "calibration_v1.json"))
	if err != nil {
		t.Fatalf("read v1: %v", err)
	}

	second, err := s.Augment(func(r models.CalibrationRecord) models.CalibrationRecord {
		r.FPRUpperBound = 0.02
		return r
	})
	if err != nil {
		t.Fatalf("augment: %v", err)
	}
	if second.Version != 2 {
		t.Fatalf("augmented version %d, want 2", second.Version)
	}
	if second.ArtifactID == first.ArtifactID {
		t.Fatal("augmented record must get a new artifact id")
	}
	if second.FPRUpperBound != 0.02 {
		t.Fatalf("transformation lost: %v", second.FPRUpperBound)
	}

	// The prior version's file is untouched.
	after, err := os.ReadFile(filepath.Join(dir, "calibration_v1.json"))
	if err != nil {
		t.Fatalf("reread v1: %v", err)
	}
	if !bytes.Equal(firstPayload, after) {
		t.Fatal("augment modified the prior artifact file")
	}

	latest, err := s.Latest()
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if latest.Version != 2 {
		t.Fatalf("latest version %d, want 2", latest.Version)
	}
}

func TestLatestWithoutArtifacts(t *testing.T) {
	s, err := NewStore(t.TempDir(), nil, nil)
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	if _, err := s.Latest(); !errors.Is(err, ErrNoArtifact) {
		t.Fatalf("expected ErrNoArtifact, got %v", err)
	}
}

func TestUnsignedStore(t *testing.T) {
	s, err := NewStore(t.TempDir(), nil, nil)
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	saved, err := s.Save(testRecord(1))
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if saved.Signature != "" {
		t.Fatalf("unsigned store produced a signature: %q", saved.Signature)
	}
	if _, err := s.Load(1); err != nil {
		t.Fatalf("load unsigned: %v", err)
	}
}

func TestWriteResultsCSV(t *testing.T) {
	results := []models.CertificationResult{
		{InputID: "a", MeanScore: 0.91, LowerBound: 0.88, Decision: models.DecisionCertified, Radius: 12, EffectiveN: 1000},
		{InputID: "b", MeanScore: 0.4, LowerBound: 0.37, Decision: models.DecisionNotRobust, EffectiveN: 1000, Dropped: 3},
		{InputID: "c", Decision: models.DecisionAbstain, EffectiveN: 12},
	}

	var buf bytes.Buffer
	if err := WriteResultsCSV(&buf, results); err != nil {
		t.Fatalf("write csv: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 4 {
		t.Fatalf("got %d lines, want header plus 3 rows", len(lines))
	}
	if lines[0] != "input_id,mean_score,lower_bound,decision,radius,effective_n,dropped" {
		t.Fatalf("unexpected header %q", lines[0])
	}
	if lines[1] != "a,0.91,0.88,CERTIFIED,12,1000,0" {
		t.Fatalf("unexpected row %q", lines[1])
	}
}
