// Package dataset loads token sequences from a CSV manifest plus per-sample
// binary files, mirroring the layout the PE preprocessing stage emits: one
// raw-byte file per sample and an optional region sidecar describing the
// header size and instruction address ranges.
package dataset

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/certstack/delcert/internal/models"
)

// Entry is one manifest row.
type Entry struct {
	ID       string
	Path     string
	MetaPath string
	Label    int
}

// sidecar is the JSON region description written next to each sample.
type sidecar struct {
	HeaderSize        int      `json:"header_size"`
	InstructionRanges [][2]int `json:"instruction_ranges"`
}

// LoadManifest parses a CSV manifest with header id,path,label and an
// optional metadata_path column. Paths are resolved relative to the manifest
// file.
func LoadManifest(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open manifest: %w", err)
	}
	defer f.Close()

	base := filepath.Dir(path)
	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read manifest header: %w", err)
	}
	cols := make(map[string]int, len(header))
	for i, name := range header {
		cols[name] = i
	}
	for _, required := range []string{"id", "path", "label"} {
		if _, ok := cols[required]; !ok {
			return nil, fmt.Errorf("manifest is missing column %q", required)
		}
	}

	var entries []Entry
	for line := 2; ; line++ {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("manifest line %d: %w", line, err)
		}
		entry, err := parseRow(row, cols, base)
		if err != nil {
			return nil, fmt.Errorf("manifest line %d: %w", line, err)
		}
		entries = append(entries, entry)
	}
	if len(entries) == 0 {
		return nil, errors.New("manifest has no samples")
	}
	return entries, nil
}

func parseRow(row []string, cols map[string]int, base string) (Entry, error) {
	field := func(name string) string {
		idx, ok := cols[name]
		if !ok || idx >= len(row) {
			return ""
		}
		return row[idx]
	}

	entry := Entry{ID: field("id"), Path: field("path"), MetaPath: field("metadata_path")}
	if entry.ID == "" || entry.Path == "" {
		return Entry{}, errors.New("id and path are required")
	}
	label, err := strconv.Atoi(field("label"))
	if err != nil {
		return Entry{}, fmt.Errorf("label %q is not an integer", field("label"))
	}
	entry.Label = label

	if !filepath.IsAbs(entry.Path) {
		entry.Path = filepath.Join(base, entry.Path)
	}
	if entry.MetaPath == "" {
		entry.MetaPath = entry.Path + ".regions.json"
	} else if !filepath.IsAbs(entry.MetaPath) {
		entry.MetaPath = filepath.Join(base, entry.MetaPath)
	}
	return entry, nil
}

// LoadSequence reads one sample: the binary file becomes the token stream
// (one byte per token) and the sidecar, when present, becomes the protected
// regions. A missing sidecar simply yields no regions.
func LoadSequence(entry Entry) (models.Sequence, error) {
	raw, err := os.ReadFile(entry.Path)
	if err != nil {
		return models.Sequence{}, fmt.Errorf("read sample %s: %w", entry.ID, err)
	}
	tokens := make([]int32, len(raw))
	for i, b := range raw {
		tokens[i] = int32(b)
	}
	seq := models.Sequence{ID: entry.ID, Tokens: tokens}

	regions, err := loadRegions(entry.MetaPath)
	if err != nil {
		return models.Sequence{}, fmt.Errorf("sample %s: %w", entry.ID, err)
	}
	seq.Regions = regions
	if err := seq.ValidateRegions(); err != nil {
		return models.Sequence{}, fmt.Errorf("sample %s: %w", entry.ID, err)
	}
	return seq, nil
}

func loadRegions(path string) ([]models.ProtectedRegion, error) {
	payload, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read region sidecar: %w", err)
	}

	var meta sidecar
	if err := json.Unmarshal(payload, &meta); err != nil {
		return nil, fmt.Errorf("parse region sidecar: %w", err)
	}

	var regions []models.ProtectedRegion
	if meta.HeaderSize > 0 {
		regions = append(regions, models.ProtectedRegion{Name: "header", Start: 0, End: meta.HeaderSize})
	}
	for i, r := range meta.InstructionRanges {
		regions = append(regions, models.ProtectedRegion{
			Name:  fmt.Sprintf("insn-%d", i),
			Start: r[0],
			End:   r[1],
		})
	}
	return regions, nil
}

// LoadBenign loads every label-0 sample from a manifest, for calibration.
func LoadBenign(manifestPath string) ([]models.Sequence, error) {
	entries, err := LoadManifest(manifestPath)
	if err != nil {
		return nil, err
	}
	var seqs []models.Sequence
	for _, entry := range entries {
		if entry.Label != 0 {
			continue
		}
		seq, err := LoadSequence(entry)
		if err != nil {
			return nil, err
		}
		seqs = append(seqs, seq)
	}
	if len(seqs) == 0 {
		return nil, errors.New("manifest has no benign samples")
	}
	return seqs, nil
}
