package ingest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDetectFormat(t *testing.T) {
	cases := []struct {
		path        string
		format      Format
		compression string
	}{
		{"people.csv", FormatCSV, ""},
		{"people.tsv", FormatTSV, ""},
		{"people.tab", FormatTSV, ""},
		{"people.json", FormatJSON, ""},
		{"people.jsonl", FormatJSONL, ""},
		{"people.ndjson", FormatJSONL, ""},
		{"people.csv.gz", FormatCSV, "gzip"},
		{"people.jsonl.zst", FormatJSONL, "zstd"},
		{"/data/raw/People.CSV.GZ", FormatCSV, "gzip"},
	}
	for _, tc := range cases {
		format, compression, err := DetectFormat(tc.path)
		require.NoError(t, err, tc.path)
		assert.Equal(t, tc.format, format, tc.path)
		assert.Equal(t, tc.compression, compression, tc.path)
	}

	_, _, err := DetectFormat("people.parquet")
	require.Error(t, err)
	_, _, err = DetectFormat("people.gz")
	require.Error(t, err)
}

func TestParseRecords_CSV(t *testing.T) {
	path := writeFile(t, "people.csv", "name,age\nada,36\ngrace,85\n")
	rows, err := ParseRecords(path)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "ada", rows[0]["name"])
	assert.Equal(t, "36", rows[0]["age"])
	assert.Equal(t, "grace", rows[1]["name"])
}

func TestParseRecords_TSV(t *testing.T) {
	path := writeFile(t, "people.tsv", "name\tage\nada\t36\n")
	rows, err := ParseRecords(path)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "36", rows[0]["age"])
}

func TestParseRecords_JSON(t *testing.T) {
	path := writeFile(t, "people.json", `[{"name":"ada","age":36},{"name":"grace"}]`)
	rows, err := ParseRecords(path)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "ada", rows[0]["name"])
	assert.EqualValues(t, 36, rows[0]["age"])
}

func TestParseRecords_JSONL(t *testing.T) {
	path := writeFile(t, "people.jsonl", "{\"name\":\"ada\"}\n\n{\"name\":\"grace\"}\n")
	rows, err := ParseRecords(path)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "grace", rows[1]["name"])
}

func TestParseRecords_JSONLBadLine(t *testing.T) {
	path := writeFile(t, "people.jsonl", "{\"name\":\"ada\"}\nnot json\n")
	_, err := ParseRecords(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 2")
}

func TestParseRecords_Gzip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "people.csv.gz")
	f, err := os.Create(path)
	require.NoError(t, err)
	gz := gzip.NewWriter(f)
	_, err = gz.Write([]byte("name,age\nada,36\n"))
	require.NoError(t, err)
	require.NoError(t, gz.Close())
	require.NoError(t, f.Close())

	rows, err := ParseRecords(path)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "ada", rows[0]["name"])
}

func TestParseRecords_Zstd(t *testing.T) {
	path := filepath.Join(t.TempDir(), "people.jsonl.zst")
	f, err := os.Create(path)
	require.NoError(t, err)
	zw, err := zstd.NewWriter(f)
	require.NoError(t, err)
	_, err = zw.Write([]byte("{\"name\":\"ada\"}\n"))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())

	rows, err := ParseRecords(path)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "ada", rows[0]["name"])
}

func TestParseRecords_EmptyCSV(t *testing.T) {
	path := writeFile(t, "empty.csv", "")
	rows, err := ParseRecords(path)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestFileChecksum(t *testing.T) {
	path := writeFile(t, "data.csv", "hello")
	sum, err := FileChecksum(path)
	require.NoError(t, err)
	// sha256("hello")
	assert.Equal(t, "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824", sum)

	_, err = FileChecksum(filepath.Join(t.TempDir(), "missing.csv"))
	require.Error(t, err)
}
