package dataset

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, path string, contents []byte) {
	t.Helper()
	if err := os.WriteFile(path, contents, 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func setupDataset(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()

	writeFile(t, filepath.Join(dir, "mal.bin"), []byte{0x4d, 0x5a, 0x90, 0x00, 0x03, 0x01})
	writeFile(t, filepath.Join(dir, "mal.bin.regions.json"),
		[]byte(`{"header_size":2,"instruction_ranges":[[3,5]]}`))
	writeFile(t, filepath.Join(dir, "good.bin"), []byte{0x01, 0x02, 0x03})
	writeFile(t, filepath.Join(dir, "manifest.csv"), []byte(
		"id,path,label\n"+
			"mal-1,mal.bin,1\n"+
			"good-1,good.bin,0\n"))
	return dir
}

func TestLoadManifest(t *testing.T) {
	dir := setupDataset(t)
	entries, err := LoadManifest(filepath.Join(dir, "manifest.csv"))
	if err != nil {
		t.Fatalf("load manifest: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}
	if entries[0].ID != "mal-1" || entries[0].Label != 1 {
		t.Fatalf("entry 0: %+v", entries[0])
	}
	if entries[1].ID != "good-1" || entries[1].Label != 0 {
		t.Fatalf("entry 1: %+v", entries[1])
	}
	if filepath.Base(entries[0].MetaPath) != "mal.bin.regions.json" {
		t.Fatalf("default sidecar path %q", entries[0].MetaPath)
	}
}

func TestLoadSequenceWithRegions(t *testing.T) {
	dir := setupDataset(t)
	entries, err := LoadManifest(filepath.Join(dir, "manifest.csv"))
	if err != nil {
		t.Fatalf("load manifest: %v", err)
	}

	seq, err := LoadSequence(entries[0])
	if err != nil {
		t.Fatalf("load sequence: %v", err)
	}
	if seq.Len() != 6 {
		t.Fatalf("token count %d, want 6", seq.Len())
	}
	if seq.Tokens[0] != 0x4d || seq.Tokens[1] != 0x5a {
		t.Fatalf("tokens do not match file bytes: %v", seq.Tokens[:2])
	}
	if len(seq.Regions) != 2 {
		t.Fatalf("got %d regions, want header plus one instruction range", len(seq.Regions))
	}
	if !seq.Protected(0) || !seq.Protected(1) {
		t.Fatal("header bytes should be protected")
	}
	if seq.Protected(2) {
		t.Fatal("byte 2 is outside every region")
	}
	if !seq.Protected(3) || !seq.Protected(4) {
		t.Fatal("instruction range should be protected")
	}
}

func TestLoadSequenceWithoutSidecar(t *testing.T) {
	dir := setupDataset(t)
	entries, err := LoadManifest(filepath.Join(dir, "manifest.csv"))
	if err != nil {
		t.Fatalf("load manifest: %v", err)
	}

	seq, err := LoadSequence(entries[1])
	if err != nil {
		t.Fatalf("load sequence: %v", err)
	}
	if len(seq.Regions) != 0 {
		t.Fatalf("expected no regions, got %v", seq.Regions)
	}
}

func TestLoadBenignFiltersByLabel(t *testing.T) {
	dir := setupDataset(t)
	seqs, err := LoadBenign(filepath.Join(dir, "manifest.csv"))
	if err != nil {
		t.Fatalf("load benign: %v", err)
	}
	if len(seqs) != 1 || seqs[0].ID != "good-1" {
		t.Fatalf("benign set %+v", seqs)
	}
}

func TestLoadManifestRejectsBadInput(t *testing.T) {
	dir := t.TempDir()

	missing := filepath.Join(dir, "absent.csv")
	if _, err := LoadManifest(missing); err == nil {
		t.Fatal("missing manifest should fail")
	}

	noCols := filepath.Join(dir, "nocols.csv")
	writeFile(t, noCols, []byte("path,target\nmal.bin,1\n"))
	if _, err := LoadManifest(noCols); err == nil {
		t.Fatal("manifest without required columns should fail")
	}

	badLabel := filepath.Join(dir, "badlabel.csv")
	writeFile(t, badLabel, []byte("id,path,label\nx,mal.bin,malware\n"))
	if _, err := LoadManifest(badLabel); err == nil {
		t.Fatal("non-integer label should fail")
	}

	empty := filepath.Join(dir, "empty.csv")
	writeFile(t, empty, []byte("id,path,label\n"))
	if _, err := LoadManifest(empty); err == nil {
		t.Fatal("manifest with no rows should fail")
	}
}

func TestLoadSequenceRejectsOutOfBoundsRegions(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "tiny.bin"), []byte{0x01})
	writeFile(t, filepath.Join(dir, "tiny.bin.regions.json"), []byte(`{"header_size":64}`))

	entry := Entry{
		ID:       "tiny",
		Path:     filepath.Join(dir, "tiny.bin"),
		MetaPath: filepath.Join(dir, "tiny.bin.regions.json"),
	}
	if _, err := LoadSequence(entry); err == nil {
		t.Fatal("header larger than the file should fail validation")
	}
}
