package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestNewLocalStorage(t *testing.T) {
	storage := NewLocalStorage("/tmp/test")

	if storage == nil {
		t.Fatal("NewLocalStorage() returned nil")
	}

	if storage.basePath != "/tmp/test" {
		t.Errorf("basePath = %q, want %q", storage.basePath, "/tmp/test")
	}
}

func TestLocalStorageList(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "strata-test-*")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}
	defer func() { _ = os.RemoveAll(tmpDir) }()

	// Create test files
	testFiles := []string{
		"roads.yaml",
		"dem/manifest.yml",
		"dem/tile_0_0.bin",
		"rivers.geojson",
		"ignored.txt",
		"also_ignored.sqlite",
	}

	for _, f := range testFiles {
		path := filepath.Join(tmpDir, f)
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatalf("failed to create dir: %v", err)
		}
		if err := os.WriteFile(path, []byte("test"), 0644); err != nil {
			t.Fatalf("failed to create file: %v", err)
		}
	}

	storage := NewLocalStorage(tmpDir)
	objects, err := storage.List(context.Background())
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}

	// Should only list bundle files
	if len(objects) != 4 {
		t.Errorf("len(objects) = %d, want 4", len(objects))
	}

	// Verify object properties
	for _, obj := range objects {
		if obj.Size != 4 { // "test" is 4 bytes
			t.Errorf("object %q size = %d, want 4", obj.Key, obj.Size)
		}
		if obj.LastModified == 0 {
			t.Errorf("object %q LastModified should not be 0", obj.Key)
		}
	}
}

func TestLocalStorageListEmpty(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "strata-test-*")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}
	defer func() { _ = os.RemoveAll(tmpDir) }()

	storage := NewLocalStorage(tmpDir)
	objects, err := storage.List(context.Background())
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}

	if len(objects) != 0 {
		t.Errorf("len(objects) = %d, want 0", len(objects))
	}
}

func TestLocalStorageListNonExistent(t *testing.T) {
	storage := NewLocalStorage("/nonexistent/path")
	_, err := storage.List(context.Background())
	if err == nil {
		t.Error("List() should error for non-existent path")
	}
}

func TestLocalStorageExists(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "strata-test-*")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}
	defer func() { _ = os.RemoveAll(tmpDir) }()

	// Create test file
	testFile := filepath.Join(tmpDir, "exists.yaml")
	if err := os.WriteFile(testFile, []byte("test"), 0644); err != nil {
		t.Fatalf("failed to create file: %v", err)
	}

	storage := NewLocalStorage(tmpDir)

	tests := []struct {
		name string
		key  string
		want bool
	}{
		{"existing file", "exists.yaml", true},
		{"non-existing file", "nonexistent.yaml", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exists, err := storage.Exists(context.Background(), tt.key)
			if err != nil {
				t.Errorf("Exists() error = %v", err)
			}
			if exists != tt.want {
				t.Errorf("Exists() = %v, want %v", exists, tt.want)
			}
		})
	}
}

func TestLocalStorageGetReader(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "strata-test-*")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}
	defer func() { _ = os.RemoveAll(tmpDir) }()

	testContent := "test content"
	testFile := filepath.Join(tmpDir, "test.yaml")
	if err := os.WriteFile(testFile, []byte(testContent), 0644); err != nil {
		t.Fatalf("failed to create file: %v", err)
	}

	storage := NewLocalStorage(tmpDir)

	reader, err := storage.GetReader(context.Background(), "test.yaml")
	if err != nil {
		t.Fatalf("GetReader() error = %v", err)
	}
	defer func() { _ = reader.Close() }()

	buf := make([]byte, len(testContent))
	n, err := reader.Read(buf)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if n != len(testContent) {
		t.Errorf("Read() n = %d, want %d", n, len(testContent))
	}
	if string(buf) != testContent {
		t.Errorf("content = %q, want %q", string(buf), testContent)
	}
}

func TestLocalStorageGetReaderNonExistent(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "strata-test-*")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}
	defer func() { _ = os.RemoveAll(tmpDir) }()

	storage := NewLocalStorage(tmpDir)
	_, err = storage.GetReader(context.Background(), "nonexistent.yaml")
	if err == nil {
		t.Error("GetReader() should error for non-existent file")
	}
}

func TestLocalStorageDownload(t *testing.T) {
	srcDir, err := os.MkdirTemp("", "strata-src-*")
	if err != nil {
		t.Fatalf("failed to create src dir: %v", err)
	}
	defer func() { _ = os.RemoveAll(srcDir) }()

	destDir, err := os.MkdirTemp("", "strata-dest-*")
	if err != nil {
		t.Fatalf("failed to create dest dir: %v", err)
	}
	defer func() { _ = os.RemoveAll(destDir) }()

	// Create source file
	testContent := "test content for download"
	srcFile := filepath.Join(srcDir, "source.bin")
	if err := os.WriteFile(srcFile, []byte(testContent), 0644); err != nil {
		t.Fatalf("failed to create source file: %v", err)
	}

	storage := NewLocalStorage(srcDir)
	destFile := filepath.Join(destDir, "dest.bin")

	err = storage.Download(context.Background(), "source.bin", destFile)
	if err != nil {
		t.Fatalf("Download() error = %v", err)
	}

	// Verify destination file
	content, err := os.ReadFile(destFile)
	if err != nil {
		t.Fatalf("failed to read dest file: %v", err)
	}
	if string(content) != testContent {
		t.Errorf("content = %q, want %q", string(content), testContent)
	}
}

func TestLocalStorageDownloadSameFile(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "strata-test-*")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}
	defer func() { _ = os.RemoveAll(tmpDir) }()

	// Create test file
	testFile := filepath.Join(tmpDir, "test.yaml")
	if err := os.WriteFile(testFile, []byte("test"), 0644); err != nil {
		t.Fatalf("failed to create file: %v", err)
	}

	storage := NewLocalStorage(tmpDir)

	// Download to same location should be a no-op
	err = storage.Download(context.Background(), "test.yaml", testFile)
	if err != nil {
		t.Errorf("Download() to same location should not error, got: %v", err)
	}
}

func TestLocalStorageDownloadNonExistent(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "strata-test-*")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}
	defer func() { _ = os.RemoveAll(tmpDir) }()

	storage := NewLocalStorage(tmpDir)
	err = storage.Download(context.Background(), "nonexistent.yaml", "/tmp/dest.yaml")
	if err == nil {
		t.Error("Download() should error for non-existent source")
	}
}

func TestLocalStorageDownloadCreatesDir(t *testing.T) {
	srcDir, err := os.MkdirTemp("", "strata-src-*")
	if err != nil {
		t.Fatalf("failed to create src dir: %v", err)
	}
	defer func() { _ = os.RemoveAll(srcDir) }()

	destDir, err := os.MkdirTemp("", "strata-dest-*")
	if err != nil {
		t.Fatalf("failed to create dest dir: %v", err)
	}
	defer func() { _ = os.RemoveAll(destDir) }()

	// Create source file
	srcFile := filepath.Join(srcDir, "source.yaml")
	if err := os.WriteFile(srcFile, []byte("test"), 0644); err != nil {
		t.Fatalf("failed to create source file: %v", err)
	}

	storage := NewLocalStorage(srcDir)

	// Destination in nested directory that doesn't exist yet
	destFile := filepath.Join(destDir, "nested", "deep", "dest.yaml")

	err = storage.Download(context.Background(), "source.yaml", destFile)
	if err != nil {
		t.Fatalf("Download() error = %v", err)
	}

	// Verify file exists
	if _, err := os.Stat(destFile); os.IsNotExist(err) {
		t.Error("destination file should exist")
	}
}

func TestLocalStorageFullPath(t *testing.T) {
	storage := NewLocalStorage("/data/bundles")

	tests := []struct {
		key  string
		want string
	}{
		{"roads.yaml", "/data/bundles/roads.yaml"},
		{"dem/manifest.yaml", "/data/bundles/dem/manifest.yaml"},
		{"", "/data/bundles"},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			if got := storage.FullPath(tt.key); got != tt.want {
				t.Errorf("FullPath(%q) = %q, want %q", tt.key, got, tt.want)
			}
		})
	}
}

func TestIsBundleFile(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{"manifest.yaml", true},
		{"manifest.YML", true},
		{"features.geojson", true},
		{"tile.bin", true},
		{"tile.srb", true},
		{"readme.txt", false},
		{"data.tif", false},
		{"noext", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isBundleFile(tt.name); got != tt.want {
				t.Errorf("isBundleFile(%q) = %v, want %v", tt.name, got, tt.want)
			}
		})
	}
}
