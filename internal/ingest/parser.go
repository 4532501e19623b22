package ingest

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

type Format string

const (
	FormatCSV   Format = "csv"
	FormatTSV   Format = "tsv"
	FormatJSON  Format = "json"
	FormatJSONL Format = "jsonl"
)

var compressionByExt = map[string]string{
	".gz":   "gzip",
	".gzip": "gzip",
	".zst":  "zstd",
	".zstd": "zstd",
}

var formatByExt = map[string]Format{
	".csv":    FormatCSV,
	".tsv":    FormatTSV,
	".tab":    FormatTSV,
	".json":   FormatJSON,
	".jsonl":  FormatJSONL,
	".ndjson": FormatJSONL,
}

// DetectFormat infers file format and compression from path suffixes, e.g.
// "people.csv.gz" -> (csv, gzip).
func DetectFormat(path string) (Format, string, error) {
	name := strings.ToLower(filepath.Base(path))

	compression := ""
	ext := filepath.Ext(name)
	if c, ok := compressionByExt[ext]; ok {
		compression = c
		name = strings.TrimSuffix(name, ext)
		ext = filepath.Ext(name)
	}

	format, ok := formatByExt[ext]
	if !ok {
		return "", "", fmt.Errorf("unsupported file format '%s'", ext)
	}
	return format, compression, nil
}

// ParseRecords reads a data file into rows of column -> value maps. Format
// and compression are detected from the filename.
func ParseRecords(path string) ([]map[string]interface{}, error) {
	format, compression, err := DetectFormat(path)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open '%s': %w", path, err)
	}
	defer f.Close()

	var reader io.Reader = f
	switch compression {
	case "gzip":
		gz, err := gzip.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("failed to open gzip stream: %w", err)
		}
		defer gz.Close()
		reader = gz
	case "zstd":
		zr, err := zstd.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("failed to open zstd stream: %w", err)
		}
		defer zr.Close()
		reader = zr
	}

	switch format {
	case FormatCSV:
		return parseDelimited(reader, ',')
	case FormatTSV:
		return parseDelimited(reader, '\t')
	case FormatJSON:
		return parseJSON(reader)
	case FormatJSONL:
		return parseJSONL(reader)
	default:
		return nil, fmt.Errorf("unsupported format '%s'", format)
	}
}

func parseDelimited(r io.Reader, sep rune) ([]map[string]interface{}, error) {
	cr := csv.NewReader(r)
	cr.Comma = sep
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	var rows []map[string]interface{}
	for {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read record: %w", err)
		}
		row := make(map[string]interface{}, len(header))
		for i, col := range header {
			if i < len(record) {
				row[col] = record[i]
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// parseJSON accepts a top-level array of objects.
func parseJSON(r io.Reader) ([]map[string]interface{}, error) {
	var rows []map[string]interface{}
	dec := json.NewDecoder(r)
	if err := dec.Decode(&rows); err != nil {
		return nil, fmt.Errorf("failed to parse JSON records: %w", err)
	}
	return rows, nil
}

func parseJSONL(r io.Reader) ([]map[string]interface{}, error) {
	var rows []map[string]interface{}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		var row map[string]interface{}
		if err := json.Unmarshal([]byte(text), &row); err != nil {
			return nil, fmt.Errorf("failed to parse JSON on line %d: %w", line, err)
		}
		rows = append(rows, row)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read JSONL stream: %w", err)
	}
	return rows, nil
}
