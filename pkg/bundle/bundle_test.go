package bundle

import (
	"archive/zip"
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sbtext/pkg/compiler"
	"sbtext/pkg/vfs"
)

func mergedUnit(t *testing.T) *compiler.SourceUnit {
	t.Helper()
	fsys := vfs.NewMem()
	fsys.Write("game/main.sbtext", []byte("import [Cat] from \"cat.sbtext\"\nstage\nend\n"))
	fsys.Write("game/cat.sbtext", []byte("sprite Cat\nend\n"))
	unit, err := compiler.MergeSourceFS(fsys, "game/main.sbtext")
	require.NoError(t, err)
	return unit
}

// rawArchive builds an .sbtc-shaped zip with arbitrary entry contents.
func rawArchive(t *testing.T, entries map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, data := range entries {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(data))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestBuildReadRoundTrip(t *testing.T) {
	unit := mergedUnit(t)
	data, err := Build(unit, "game")
	require.NoError(t, err)

	got, sourceDir, err := Read(data)
	require.NoError(t, err)
	assert.Equal(t, "game", sourceDir)
	assert.Equal(t, unit.Entry, got.Entry)
	assert.Equal(t, unit.Text(), got.Text())
	require.Equal(t, len(unit.Lines), len(got.Lines))
	for i := range unit.Lines {
		assert.Equal(t, unit.Lines[i].File, got.Lines[i].File, "line %d file", i)
		assert.Equal(t, unit.Lines[i].Line, got.Lines[i].Line, "line %d origin", i)
	}
}

func TestReadKeepsTrailingEmptyLine(t *testing.T) {
	// Files ending in a newline merge into a unit with a trailing empty
	// line; the archive must hand back the same line count.
	unit := mergedUnit(t)
	require.Equal(t, "", unit.Lines[len(unit.Lines)-1].Text)

	data, err := Build(unit, "game")
	require.NoError(t, err)
	got, _, err := Read(data)
	require.NoError(t, err)
	assert.Equal(t, len(unit.Lines), len(got.Lines))
}

func TestReadRejectsBadArchives(t *testing.T) {
	_, _, err := Read([]byte("not a zip"))
	assert.ErrorContains(t, err, "not a valid .sbtc archive")

	tests := []struct {
		name    string
		entries map[string]string
		want    string
	}{
		{
			name: "wrong format",
			entries: map[string]string{
				"manifest.json": `{"format":"nope","version":1,"entry_file":"a","source_dir":".","line_count":1}`,
				"merged.sbtext": "stage\n",
				"line_map.json": `{"origins":[{"file":"a","line":1}]}`,
			},
			want: "invalid .sbtc archive format",
		},
		{
			name: "unsupported version",
			entries: map[string]string{
				"manifest.json": `{"format":"sbtc","version":9,"entry_file":"a","source_dir":".","line_count":1}`,
				"merged.sbtext": "stage\n",
				"line_map.json": `{"origins":[{"file":"a","line":1}]}`,
			},
			want: "unsupported .sbtc version 9",
		},
		{
			name: "missing line map",
			entries: map[string]string{
				"manifest.json": `{"format":"sbtc","version":1,"entry_file":"a","source_dir":".","line_count":1}`,
				"merged.sbtext": "stage\n",
			},
			want: "missing 'line_map.json'",
		},
		{
			name: "line count mismatch",
			entries: map[string]string{
				"manifest.json": `{"format":"sbtc","version":1,"entry_file":"a","source_dir":".","line_count":2}`,
				"merged.sbtext": "stage\nend\n",
				"line_map.json": `{"origins":[{"file":"a","line":1}]}`,
			},
			want: "source/map mismatch",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := Read(rawArchive(t, tt.entries))
			assert.ErrorContains(t, err, tt.want)
		})
	}
}

func TestReadDefaultsEntryName(t *testing.T) {
	data := rawArchive(t, map[string]string{
		"manifest.json": `{"format":"sbtc","version":1,"entry_file":"","source_dir":".","line_count":1}`,
		"merged.sbtext": "stage",
		"line_map.json": `{"origins":[{"file":"a","line":1}]}`,
	})
	unit, _, err := Read(data)
	require.NoError(t, err)
	assert.Equal(t, "bundle.sbtext", unit.Entry)
}

func TestMarkedSourceMarkers(t *testing.T) {
	unit := mergedUnit(t)
	marked := markedSource(unit)
	assert.Contains(t, marked, `# @sbtc-origin file="game/cat.sbtext" line=1`)
	assert.Contains(t, marked, `# @sbtc-origin file="game/main.sbtext" line=2`)
	// Contiguous runs carry a single marker.
	assert.Equal(t, 1, strings.Count(marked, `file="game/cat.sbtext"`))
}

func TestWriteReadFile(t *testing.T) {
	unit := mergedUnit(t)
	path := t.TempDir() + "/out/bundle.sbtc"
	require.NoError(t, WriteFile(unit, "game", path))
	got, sourceDir, err := ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "game", sourceDir)
	assert.Equal(t, unit.Text(), got.Text())
}

func TestCacheKey(t *testing.T) {
	unit := mergedUnit(t)
	key := Key(unit)
	assert.Len(t, key, 32)
	assert.Equal(t, key, Key(unit))

	other := &compiler.SourceUnit{Entry: unit.Entry + "x", Lines: unit.Lines}
	assert.NotEqual(t, key, Key(other))
}

func TestStorePutGetGC(t *testing.T) {
	store, err := OpenStore(t.TempDir() + "/cache.db")
	require.NoError(t, err)
	defer store.Close()

	_, err = store.Get("missing")
	assert.ErrorIs(t, err, ErrCacheMiss)

	require.NoError(t, store.Put("k1", "main.sbtext", []byte("v1")))
	require.NoError(t, store.Put("k1", "main.sbtext", []byte("v2")))
	got, err := store.Get("k1")
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), got)

	// Entries newer than the retention window survive.
	pruned, err := store.GC(time.Hour)
	require.NoError(t, err)
	assert.Zero(t, pruned)
	_, err = store.Get("k1")
	assert.NoError(t, err)

	// A negative window prunes everything written so far.
	pruned, err = store.GC(-time.Minute)
	require.NoError(t, err)
	assert.EqualValues(t, 1, pruned)
	_, err = store.Get("k1")
	assert.ErrorIs(t, err, ErrCacheMiss)
}
