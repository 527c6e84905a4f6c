package diff

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

type fakeBaseTree map[string][]byte

func (f fakeBaseTree) Files(_ context.Context) (map[string][]byte, error) { return f, nil }

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	full := filepath.Join(root, rel)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestWorkspaceDetectsAddedFile(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "new.txt", "line1\nline2\n")

	entries, err := Workspace(context.Background(), Options{WorktreePath: dir, IncludeContents: true}, fakeBaseTree{})
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Status != StatusAdded {
		t.Fatalf("entries = %+v", entries)
	}
	if entries[0].Additions != 2 {
		t.Fatalf("additions = %d, want 2", entries[0].Additions)
	}
}

func TestWorkspaceDetectsDeletedFile(t *testing.T) {
	dir := t.TempDir()
	base := fakeBaseTree{"gone.txt": []byte("bye\n")}

	entries, err := Workspace(context.Background(), Options{WorktreePath: dir, IncludeContents: true}, base)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Status != StatusDeleted {
		t.Fatalf("entries = %+v", entries)
	}
}

func TestWorkspaceDropsNoOpModification(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "same.txt", "unchanged\n")
	base := fakeBaseTree{"same.txt": []byte("unchanged\n")}

	entries, err := Workspace(context.Background(), Options{WorktreePath: dir, IncludeContents: true}, base)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected no entries for unchanged file, got %+v", entries)
	}
}

func TestWorkspaceModifiedCountsLines(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "f.txt", "a\nb\nc\n")
	base := fakeBaseTree{"f.txt": []byte("a\nx\nc\n")}

	entries, err := Workspace(context.Background(), Options{WorktreePath: dir, IncludeContents: true}, base)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Status != StatusModified {
		t.Fatalf("entries = %+v", entries)
	}
	if entries[0].Additions != 1 || entries[0].Deletions != 1 {
		t.Fatalf("adds=%d dels=%d, want 1/1", entries[0].Additions, entries[0].Deletions)
	}
}

func TestWorkspaceHonorsGitignoreLiteralMatch(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, ".gitignore", "build/\nsecrets.txt\n")
	writeFile(t, dir, "build/out.bin", "junk")
	writeFile(t, dir, "secrets.txt", "shh")
	writeFile(t, dir, "kept.txt", "keep me\n")

	entries, err := Workspace(context.Background(), Options{WorktreePath: dir, IncludeContents: true}, fakeBaseTree{})
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 || entries[0].FilePath != ".gitignore" || entries[1].FilePath != "kept.txt" {
		t.Fatalf("entries = %+v, want only .gitignore and kept.txt", entries)
	}
}

func TestWorkspaceByteCapOmitsContent(t *testing.T) {
	dir := t.TempDir()
	big := make([]byte, 10)
	for i := range big {
		big[i] = 'a'
	}
	writeFile(t, dir, "big.txt", string(big))

	entries, err := Workspace(context.Background(), Options{WorktreePath: dir, IncludeContents: true, MaxBytes: 5}, fakeBaseTree{})
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("entries = %+v", entries)
	}
	if entries[0].ContentOmitted == nil || !*entries[0].ContentOmitted {
		t.Fatal("expected contentOmitted=true above the byte cap")
	}
}

func TestWorkspaceDetectsBinary(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "bin.dat", "\x00\x01\x02")

	entries, err := Workspace(context.Background(), Options{WorktreePath: dir, IncludeContents: true}, fakeBaseTree{})
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || !entries[0].IsBinary {
		t.Fatalf("entries = %+v, want binary", entries)
	}
}
