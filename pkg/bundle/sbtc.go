// Package bundle implements the .sbtc intermediate format: a zip archive
// carrying a merged source text together with the line-origin map needed to
// report diagnostics against the files the author wrote, plus a local cache
// store for merged bundles.
package bundle

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"sbtext/pkg/compiler"
)

const (
	formatName    = "sbtc"
	formatVersion = 1
)

type manifest struct {
	Format    string `json:"format"`
	Version   int    `json:"version"`
	EntryFile string `json:"entry_file"`
	SourceDir string `json:"source_dir"`
	LineCount int    `json:"line_count"`
}

type lineMap struct {
	Origins []lineOrigin `json:"origins"`
}

type lineOrigin struct {
	File string `json:"file"`
	Line int    `json:"line"`
}

// Build serializes a merged source unit into .sbtc archive bytes.
func Build(unit *compiler.SourceUnit, sourceDir string) ([]byte, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	man := manifest{
		Format:    formatName,
		Version:   formatVersion,
		EntryFile: unit.Entry,
		SourceDir: sourceDir,
		LineCount: len(unit.Lines),
	}
	lm := lineMap{Origins: make([]lineOrigin, len(unit.Lines))}
	for i, line := range unit.Lines {
		lm.Origins[i] = lineOrigin{File: line.File, Line: line.Line}
	}

	entries := []struct {
		name string
		data []byte
	}{
		{"manifest.json", mustMarshalIndent(man)},
		{"merged.sbtext", []byte(unit.Text())},
		{"merged_marked.sbtext", []byte(markedSource(unit))},
		{"line_map.json", mustMarshalIndent(lm)},
	}
	for _, entry := range entries {
		w, err := zw.Create(entry.name)
		if err != nil {
			return nil, err
		}
		if _, err := w.Write(entry.data); err != nil {
			return nil, err
		}
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteFile builds the archive and writes it to path, creating parent
// directories as needed.
func WriteFile(unit *compiler.SourceUnit, sourceDir, path string) error {
	data, err := Build(unit, sourceDir)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, data, 0o644)
}

// Read decodes .sbtc archive bytes back into a source unit and the recorded
// source directory.
func Read(data []byte) (*compiler.SourceUnit, string, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, "", fmt.Errorf("input is not a valid .sbtc archive: %w", err)
	}

	manifestText, err := entryText(zr, "manifest.json")
	if err != nil {
		return nil, "", err
	}
	source, err := entryText(zr, "merged.sbtext")
	if err != nil {
		return nil, "", err
	}
	lineMapText, err := entryText(zr, "line_map.json")
	if err != nil {
		return nil, "", err
	}

	var man manifest
	if err := json.Unmarshal([]byte(manifestText), &man); err != nil {
		return nil, "", fmt.Errorf("invalid manifest.json in .sbtc archive: %w", err)
	}
	if man.Format != formatName {
		return nil, "", fmt.Errorf("invalid .sbtc archive format '%s'", man.Format)
	}
	if man.Version != formatVersion {
		return nil, "", fmt.Errorf("unsupported .sbtc version %d (expected %d)", man.Version, formatVersion)
	}
	entry := man.EntryFile
	if strings.TrimSpace(entry) == "" {
		entry = "bundle.sbtext"
	}

	var lm lineMap
	if err := json.Unmarshal([]byte(lineMapText), &lm); err != nil {
		return nil, "", fmt.Errorf("invalid line_map.json in .sbtc archive: %w", err)
	}

	lines := sourceLines(source)
	if source == "" && len(lm.Origins) == 0 {
		lines = nil
	}
	if len(lines) != len(lm.Origins) {
		return nil, "", fmt.Errorf(".sbtc source/map mismatch: merged source has %d lines, line map has %d entries", len(lines), len(lm.Origins))
	}

	unit := &compiler.SourceUnit{Entry: entry}
	for i, text := range lines {
		unit.Lines = append(unit.Lines, compiler.SourceLine{
			Text: text,
			File: lm.Origins[i].File,
			Line: lm.Origins[i].Line,
		})
	}
	return unit, man.SourceDir, nil
}

// ReadFile reads and decodes an .sbtc archive from disk.
func ReadFile(path string) (*compiler.SourceUnit, string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, "", err
	}
	return Read(data)
}

func entryText(zr *zip.Reader, name string) (string, error) {
	for _, entry := range zr.File {
		if entry.Name != name {
			continue
		}
		rc, err := entry.Open()
		if err != nil {
			return "", err
		}
		defer rc.Close()
		data, err := io.ReadAll(rc)
		if err != nil {
			return "", fmt.Errorf("failed reading '%s' from .sbtc archive: %w", name, err)
		}
		return string(data), nil
	}
	return "", fmt.Errorf("missing '%s' in .sbtc archive", name)
}

// markedSource interleaves origin marker comments with the merged text, one
// marker per contiguous run of lines from the same file.
func markedSource(unit *compiler.SourceUnit) string {
	if len(unit.Lines) == 0 {
		return unit.Text()
	}
	var out strings.Builder
	prevFile := ""
	prevLine := 0
	for _, line := range unit.Lines {
		continuous := prevFile != "" && prevFile == line.File && line.Line == prevLine+1
		if !continuous {
			out.WriteString(fmt.Sprintf("# @sbtc-origin file=%s line=%d\n", markerQuote(line.File), line.Line))
		}
		out.WriteString(line.Text)
		out.WriteString("\n")
		prevFile = line.File
		prevLine = line.Line
	}
	return out.String()
}

func markerQuote(text string) string {
	escaped := strings.ReplaceAll(text, `\`, `\\`)
	escaped = strings.ReplaceAll(escaped, `"`, `\"`)
	return `"` + escaped + `"`
}

// sourceLines splits exactly the way SourceUnit.Text joins, so a unit with a
// trailing empty line (any file ending in a newline) survives the round trip.
func sourceLines(source string) []string {
	return strings.Split(strings.ReplaceAll(source, "\r\n", "\n"), "\n")
}

func mustMarshalIndent(v any) []byte {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return []byte("{}")
	}
	return data
}
