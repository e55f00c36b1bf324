package organizer

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"listenarr/internal/services"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func newTestOrganizer(t *testing.T) (*Organizer, string) {
	t.Helper()
	libraryDir := t.TempDir()
	org := New(Config{
		LibraryDir:   libraryDir,
		PathTemplate: "{Author}/{Title}",
	}, nil)
	return org, libraryDir
}

func testMetadata() Metadata {
	return Metadata{Title: "Ancillary Justice", Author: "Ann Leckie"}
}

func TestOrganizeSingleFile(t *testing.T) {
	org, libraryDir := newTestOrganizer(t)
	source := filepath.Join(t.TempDir(), "book.m4b")
	writeFile(t, source, "audio-bytes")

	result, err := org.Organize(context.Background(), source, testMetadata())
	if err != nil {
		t.Fatalf("organize: %v", err)
	}
	if !result.Success {
		t.Fatalf("expected success, errors: %v", result.Errors)
	}
	wantTarget := filepath.Join(libraryDir, "Ann Leckie", "Ancillary Justice")
	if result.TargetPath != wantTarget {
		t.Fatalf("unexpected target %q", result.TargetPath)
	}
	if result.FilesMovedCount != 1 || len(result.AudioFiles) != 1 {
		t.Fatalf("unexpected result: %+v", result)
	}
	copied, err := os.ReadFile(result.AudioFiles[0])
	if err != nil {
		t.Fatalf("read copied file: %v", err)
	}
	if string(copied) != "audio-bytes" {
		t.Fatalf("copied content mismatch: %q", copied)
	}
}

func TestOrganizeFlattensSubPaths(t *testing.T) {
	org, _ := newTestOrganizer(t)
	source := t.TempDir()
	writeFile(t, filepath.Join(source, "CD1", "Track01.mp3"), "a")
	writeFile(t, filepath.Join(source, "CD2", "Track01.mp3"), "b")

	result, err := org.Organize(context.Background(), source, testMetadata())
	if err != nil {
		t.Fatalf("organize: %v", err)
	}
	if result.FilesMovedCount != 2 {
		t.Fatalf("expected 2 moved files, got %d (errors %v)", result.FilesMovedCount, result.Errors)
	}
	names := make(map[string]bool)
	for _, file := range result.AudioFiles {
		names[filepath.Base(file)] = true
	}
	if !names["CD1-Track01.mp3"] || !names["CD2-Track01.mp3"] {
		t.Fatalf("sub-paths not flattened: %v", result.AudioFiles)
	}
}

func TestOrganizeIdempotentRerun(t *testing.T) {
	org, _ := newTestOrganizer(t)
	source := filepath.Join(t.TempDir(), "book.m4b")
	writeFile(t, source, "audio")

	first, err := org.Organize(context.Background(), source, testMetadata())
	if err != nil {
		t.Fatalf("first organize: %v", err)
	}
	if first.FilesMovedCount != 1 {
		t.Fatalf("first run should move the file, got %d", first.FilesMovedCount)
	}

	second, err := org.Organize(context.Background(), source, testMetadata())
	if err != nil {
		t.Fatalf("second organize: %v", err)
	}
	if !second.Success {
		t.Fatalf("re-run should still succeed: %v", second.Errors)
	}
	if second.FilesMovedCount != 0 {
		t.Fatalf("re-run must not re-copy, moved %d", second.FilesMovedCount)
	}
	if len(second.AudioFiles) != 1 {
		t.Fatalf("re-run should report the present file: %+v", second)
	}
}

func TestOrganizePartialCopySuccess(t *testing.T) {
	org, libraryDir := newTestOrganizer(t)
	source := t.TempDir()
	writeFile(t, filepath.Join(source, "partA.mp3"), "a")
	writeFile(t, filepath.Join(source, "partB.mp3"), "b")

	// A directory squatting on partB's target path makes its copy fail while
	// partA proceeds normally.
	targetDir := filepath.Join(libraryDir, "Ann Leckie", "Ancillary Justice")
	if err := os.MkdirAll(filepath.Join(targetDir, "partB.mp3", "blocker"), 0o755); err != nil {
		t.Fatalf("prepare blocker: %v", err)
	}

	result, err := org.Organize(context.Background(), source, testMetadata())
	if err != nil {
		t.Fatalf("organize: %v", err)
	}
	if !result.Success {
		t.Fatalf("partial copy should still succeed: %v", result.Errors)
	}
	if result.FilesMovedCount != 1 {
		t.Fatalf("expected 1 moved file, got %d", result.FilesMovedCount)
	}
	if len(result.AudioFiles) != 1 || filepath.Base(result.AudioFiles[0]) != "partA.mp3" {
		t.Fatalf("unexpected audio files: %v", result.AudioFiles)
	}
	foundMention := false
	for _, msg := range result.Errors {
		if strings.Contains(msg, "partB.mp3") {
			foundMention = true
		}
	}
	if !foundMention {
		t.Fatalf("expected an error mentioning partB.mp3, got %v", result.Errors)
	}
}

func TestOrganizeAllCopiesFail(t *testing.T) {
	org, libraryDir := newTestOrganizer(t)
	source := t.TempDir()
	writeFile(t, filepath.Join(source, "partA.mp3"), "a")

	targetDir := filepath.Join(libraryDir, "Ann Leckie", "Ancillary Justice")
	if err := os.MkdirAll(filepath.Join(targetDir, "partA.mp3", "blocker"), 0o755); err != nil {
		t.Fatalf("prepare blocker: %v", err)
	}

	result, err := org.Organize(context.Background(), source, testMetadata())
	if err != nil {
		t.Fatalf("organize: %v", err)
	}
	if result.Success {
		t.Fatal("expected failure when no audio file copied")
	}
	if len(result.AudioFiles) != 0 {
		t.Fatalf("expected empty audio files, got %v", result.AudioFiles)
	}
	foundMention := false
	for _, msg := range result.Errors {
		if strings.Contains(msg, "no audio files were successfully copied") {
			foundMention = true
		}
	}
	if !foundMention {
		t.Fatalf("expected the no-files error, got %v", result.Errors)
	}
}

func TestOrganizeRejectsInvalidTemplate(t *testing.T) {
	org := New(Config{LibraryDir: t.TempDir(), PathTemplate: "{unknownvar only}"}, nil)
	source := filepath.Join(t.TempDir(), "book.m4b")
	writeFile(t, source, "audio")

	_, err := org.Organize(context.Background(), source, testMetadata())
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestOrganizeEmptySourceIsRetryable(t *testing.T) {
	org, _ := newTestOrganizer(t)
	source := t.TempDir()
	writeFile(t, filepath.Join(source, "notes.txt"), "not audio")

	_, err := org.Organize(context.Background(), source, testMetadata())
	if !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not-found error, got %v", err)
	}
	if !errors.Is(err, ErrNoAudioFiles) {
		t.Fatalf("expected ErrNoAudioFiles, got %v", err)
	}
}

func TestOrganizeRejectsUnknownSingleFileExtension(t *testing.T) {
	org, _ := newTestOrganizer(t)
	source := filepath.Join(t.TempDir(), "book.pdf")
	writeFile(t, source, "not audio")

	if _, err := org.Organize(context.Background(), source, testMetadata()); err == nil {
		t.Fatal("expected error for unsupported extension")
	}
}

func TestOrganizeCopiesLocalCover(t *testing.T) {
	org, _ := newTestOrganizer(t)
	source := t.TempDir()
	writeFile(t, filepath.Join(source, "book.m4b"), "audio")
	writeFile(t, filepath.Join(source, "folder.jpg"), "cover-bytes")

	result, err := org.Organize(context.Background(), source, testMetadata())
	if err != nil {
		t.Fatalf("organize: %v", err)
	}
	if result.CoverArtFile == "" {
		t.Fatalf("expected cover art, errors: %v", result.Errors)
	}
	if filepath.Base(result.CoverArtFile) != "cover.jpg" {
		t.Fatalf("unexpected cover name %q", result.CoverArtFile)
	}
}

func TestOrganizeDownloadsRemoteCover(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("remote-cover"))
	}))
	defer server.Close()

	org, _ := newTestOrganizer(t)
	source := filepath.Join(t.TempDir(), "book.m4b")
	writeFile(t, source, "audio")

	meta := testMetadata()
	meta.CoverURL = server.URL + "/cover.jpg"
	result, err := org.Organize(context.Background(), source, meta)
	if err != nil {
		t.Fatalf("organize: %v", err)
	}
	if result.CoverArtFile == "" {
		t.Fatalf("expected downloaded cover, errors: %v", result.Errors)
	}
	content, err := os.ReadFile(result.CoverArtFile)
	if err != nil {
		t.Fatalf("read cover: %v", err)
	}
	if string(content) != "remote-cover" {
		t.Fatalf("unexpected cover content %q", content)
	}
}

func TestOrganizeCoverSizeLimitIsNonFatal(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(make([]byte, 64))
	}))
	defer server.Close()

	libraryDir := t.TempDir()
	org := New(Config{
		LibraryDir:    libraryDir,
		PathTemplate:  "{Author}/{Title}",
		CoverMaxBytes: 16,
	}, nil)
	source := filepath.Join(t.TempDir(), "book.m4b")
	writeFile(t, source, "audio")

	meta := testMetadata()
	meta.CoverURL = server.URL + "/cover.jpg"
	result, err := org.Organize(context.Background(), source, meta)
	if err != nil {
		t.Fatalf("organize: %v", err)
	}
	if !result.Success {
		t.Fatal("cover failure must not affect success")
	}
	if result.CoverArtFile != "" {
		t.Fatal("oversized cover must not be written")
	}
	if len(result.Errors) == 0 {
		t.Fatal("expected a recorded cover error")
	}
}

func TestOrganizeSkipsTaggingWhenToolMissing(t *testing.T) {
	libraryDir := t.TempDir()
	org := New(Config{
		LibraryDir:   libraryDir,
		PathTemplate: "{Author}/{Title}",
		TagFiles:     true,
		TaggingTool:  "listenarr-test-no-such-tool",
	}, nil)
	source := filepath.Join(t.TempDir(), "book.m4b")
	writeFile(t, source, "audio")

	result, err := org.Organize(context.Background(), source, testMetadata())
	if err != nil {
		t.Fatalf("organize: %v", err)
	}
	if !result.Success || result.FilesMovedCount != 1 {
		t.Fatalf("missing tool must not block the copy: %+v", result)
	}
	for _, msg := range result.Errors {
		if strings.Contains(msg, "tool") {
			t.Fatalf("missing tool should be informational, found error %q", msg)
		}
	}
}

func TestCopyAudioFilesStopsOnCancelledContext(t *testing.T) {
	org, libraryDir := newTestOrganizer(t)
	source := t.TempDir()
	writeFile(t, filepath.Join(source, "partA.mp3"), "a")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result := &Result{}
	org.copyAudioFiles(ctx, []sourceFile{{path: filepath.Join(source, "partA.mp3"), targetName: "partA.mp3"}},
		nil, libraryDir, result)
	if result.FilesMovedCount != 0 || len(result.AudioFiles) != 0 {
		t.Fatalf("cancelled context must stop copies: %+v", result)
	}
	if len(result.Errors) != 1 || !strings.Contains(result.Errors[0], "copy aborted") {
		t.Fatalf("expected an abort error, got %v", result.Errors)
	}
}
