package snapshot

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"toska/internal/logs"
)

func testLogger() *logs.Logger {
	return logs.NewLogger(100, logs.DEBUG)
}

func TestWriteAndLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "toska_snapshot.json")

	future := time.Now().Add(time.Hour).UnixMilli()
	data := map[string]Entry{
		"alpha": {Value: "1"},
		"beta":  {Value: "2", ExpiresAt: future},
	}

	file, err := Write(path, data)
	require.NoError(t, err)
	assert.NotEmpty(t, file.Checksum)
	assert.Greater(t, file.CreatedAt, int64(0))

	loaded, err := Load(path, time.Now(), testLogger())
	require.NoError(t, err)
	require.Len(t, loaded, 2)
	assert.Equal(t, "1", loaded["alpha"].Value)
	assert.Equal(t, future, loaded["beta"].ExpiresAt)
}

func TestWrite_IsAtomic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "toska_snapshot.json")

	_, err := Write(path, map[string]Entry{"k": {Value: "v"}})
	require.NoError(t, err)

	// no temp sibling left behind
	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err))
}

func TestLoad_MissingFile(t *testing.T) {
	loaded, err := Load(filepath.Join(t.TempDir(), "absent.json"), time.Now(), testLogger())
	require.NoError(t, err)
	assert.Nil(t, loaded)
}

func TestLoad_TamperedChecksumSkipped(t *testing.T) {
	path := filepath.Join(t.TempDir(), "toska_snapshot.json")

	doc := map[string]any{
		"version":    1,
		"created_at": time.Now().UnixMilli(),
		"checksum":   "bad",
		"data":       map[string]any{"ghost": map[string]any{"value": "boo"}},
	}
	raw, err := json.MarshalIndent(doc, "", "  ")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, raw, 0o644))

	loaded, err := Load(path, time.Now(), testLogger())
	require.NoError(t, err)
	assert.Nil(t, loaded, "tampered snapshot must not be loaded")
}

func TestLoad_LegacyWithoutChecksum(t *testing.T) {
	path := filepath.Join(t.TempDir(), "toska_snapshot.json")

	doc := map[string]any{
		"version": 1,
		"data":    map[string]any{"old": map[string]any{"value": "still here"}},
	}
	raw, err := json.Marshal(doc)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, raw, 0o644))

	loaded, err := Load(path, time.Now(), testLogger())
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, "still here", loaded["old"].Value)
}

func TestLoad_DiscardsExpiredEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "toska_snapshot.json")

	data := map[string]Entry{
		"dead":  {Value: "x", ExpiresAt: time.Now().Add(-time.Minute).UnixMilli()},
		"alive": {Value: "y", ExpiresAt: time.Now().Add(time.Hour).UnixMilli()},
	}
	_, err := Write(path, data)
	require.NoError(t, err)

	loaded, err := Load(path, time.Now(), testLogger())
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Contains(t, loaded, "alive")
}

func TestChecksum_MatchesDecodedForm(t *testing.T) {
	// The loader hashes the generic decoded data map; the checksum written
	// from typed entries must agree with it.
	path := filepath.Join(t.TempDir(), "toska_snapshot.json")

	data := map[string]Entry{
		"k1": {Value: "v1"},
		"k2": {Value: "v2", ExpiresAt: time.Now().Add(time.Hour).UnixMilli()},
	}
	file, err := Write(path, data)
	require.NoError(t, err)

	loaded, err := Load(path, time.Now(), testLogger())
	require.NoError(t, err)
	require.Len(t, loaded, 2, "checksum must verify against the decoded data")

	recomputed, err := ChecksumData(data)
	require.NoError(t, err)
	assert.Equal(t, file.Checksum, recomputed)
}

func TestReadMeta(t *testing.T) {
	path := filepath.Join(t.TempDir(), "toska_snapshot.json")

	file, err := Write(path, map[string]Entry{"k": {Value: "v"}})
	require.NoError(t, err)

	meta, ok := ReadMeta(path)
	require.True(t, ok)
	assert.Equal(t, file.Checksum, meta.Checksum)
	assert.Equal(t, file.CreatedAt, meta.CreatedAt)
	assert.Equal(t, file.Version, meta.Version)

	_, ok = ReadMeta(filepath.Join(t.TempDir(), "absent.json"))
	assert.False(t, ok)
}
