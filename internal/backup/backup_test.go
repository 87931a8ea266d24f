package backup

import (
	"archive/tar"
	"compress/gzip"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseArchiveTimestampRoundTrips(t *testing.T) {
	ts := time.Date(2024, 3, 15, 9, 30, 5, 0, time.UTC)
	key := archivePrefix + ts.Format("2006-01-02-150405") + ".tar.gz"

	got, ok := parseArchiveTimestamp(key)
	require.True(t, ok)
	assert.True(t, ts.Equal(got))
}

func TestParseArchiveTimestampRejectsForeignKeys(t *testing.T) {
	cases := []string{
		"other-backup-2024-03-15-093005.tar.gz",
		archivePrefix + "not-a-timestamp.tar.gz",
		archivePrefix + "2024-03-15-093005.zip",
	}
	for _, key := range cases {
		_, ok := parseArchiveTimestamp(key)
		assert.False(t, ok, "key %q should not parse", key)
	}
}

func TestArchiveBundlesCacheAndArtifactsWithMetadata(t *testing.T) {
	cacheDir := t.TempDir()
	artifactsDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(cacheDir, "A005930.json"), []byte(`{"bars":[]}`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(artifactsDir, "run-1.json"), []byte(`{"run":1}`), 0o644))

	svc := &Service{cfg: Config{CacheDir: cacheDir, ArtifactsDir: artifactsDir}}
	stagingDir := t.TempDir()
	destPath := filepath.Join(stagingDir, "out.tar.gz")

	meta, err := svc.archive(stagingDir, destPath, time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Len(t, meta.Entries, 2)

	names := readTarNames(t, destPath)
	assert.Contains(t, names, "metadata.json")
	assert.True(t, containsSuffix(names, "A005930.json"))
	assert.True(t, containsSuffix(names, "run-1.json"))
}

func TestChecksumFileIsStableAcrossReads(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "f.txt")
	require.NoError(t, os.WriteFile(path, []byte("hello world"), 0o644))

	a, err := checksumFile(path)
	require.NoError(t, err)
	b, err := checksumFile(path)
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Len(t, a, 64, "sha256 hex digest is 64 chars")
}

func readTarNames(t *testing.T, path string) []string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	gz, err := gzip.NewReader(f)
	require.NoError(t, err)
	defer gz.Close()

	tr := tar.NewReader(gz)
	var names []string
	for {
		hdr, err := tr.Next()
		if err != nil {
			break
		}
		names = append(names, hdr.Name)
	}
	return names
}

func containsSuffix(names []string, suffix string) bool {
	for _, n := range names {
		if len(n) >= len(suffix) && n[len(n)-len(suffix):] == suffix {
			return true
		}
	}
	return false
}
