package compiler

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"sbtext/pkg/vfs"
)

// SourceLine is one line of merged source together with where it came from.
type SourceLine struct {
	Text string
	File string
	Line int // 1-based line in File
}

// SourceUnit is the result of resolving all imports: a single flat source
// text plus a per-line origin map used to report errors against the file the
// user actually wrote.
type SourceUnit struct {
	Entry string
	Lines []SourceLine
}

// Text reassembles the merged source.
func (u *SourceUnit) Text() string {
	parts := make([]string, len(u.Lines))
	for i, ln := range u.Lines {
		parts[i] = ln.Text
	}
	return strings.Join(parts, "\n")
}

// Origin maps a 1-based line of the merged text back to its source file and
// line. Out-of-range lines fall back to the entry file.
func (u *SourceUnit) Origin(line int) (string, int) {
	if line < 1 || line > len(u.Lines) {
		return u.Entry, line
	}
	ln := u.Lines[line-1]
	return ln.File, ln.Line
}

// import [Name] from "path", optionally followed by a comment
var importLineRE = regexp.MustCompile(`^import\s+\[\s*([^\]]+?)\s*\]\s+from\s+"([^"]+)"\s*(?:#.*)?$`)

// MergeSource resolves the import graph of entry on the host filesystem.
func MergeSource(entry string) (*SourceUnit, error) {
	return MergeSourceFS(vfs.OS{}, entry)
}

// MergeSourceFS resolves the import graph of entry, inlining each imported
// sprite file at the position of its import statement. Import statements may
// only appear before the first code line of a file, imports may nest, and a
// cycle is reported with the full chain of files involved.
func MergeSourceFS(fsys vfs.FS, entry string) (*SourceUnit, error) {
	m := &merger{fsys: fsys, inStack: map[string]bool{}}
	lines, err := m.mergeFile(entry)
	if err != nil {
		return nil, err
	}
	return &SourceUnit{Entry: entry, Lines: lines}, nil
}

type merger struct {
	fsys    vfs.FS
	stack   []string // display paths, import chain order
	inStack map[string]bool
}

func (m *merger) mergeFile(path string) ([]SourceLine, error) {
	canonical, err := m.fsys.Canonical(path)
	if err != nil {
		canonical = path
	}
	if m.inStack[canonical] {
		chain := append(append([]string{}, m.stack...), path)
		return nil, &Diagnostic{
			Stage: StageImport,
			Msg:   "import cycle detected: " + strings.Join(chain, " -> "),
			File:  path,
		}
	}
	data, err := m.fsys.ReadFile(path)
	if err != nil {
		return nil, &Diagnostic{
			Stage: StageImport,
			Msg:   fmt.Sprintf("cannot read '%s': %v", path, err),
			File:  path,
		}
	}
	m.stack = append(m.stack, path)
	m.inStack[canonical] = true
	defer func() {
		m.stack = m.stack[:len(m.stack)-1]
		delete(m.inStack, canonical)
	}()

	var out []SourceLine
	codeSeen := false
	rawLines := strings.Split(strings.ReplaceAll(string(data), "\r\n", "\n"), "\n")
	for i, raw := range rawLines {
		lineNo := i + 1
		trimmed := strings.TrimSpace(raw)
		match := importLineRE.FindStringSubmatch(trimmed)
		if match == nil {
			if trimmed != "" && !strings.HasPrefix(trimmed, "#") {
				codeSeen = true
			}
			out = append(out, SourceLine{Text: raw, File: path, Line: lineNo})
			continue
		}
		if codeSeen {
			return nil, &Diagnostic{
				Stage:      StageImport,
				Msg:        "import statements must appear before any code",
				File:       path,
				OriginLine: lineNo,
				Snippet:    trimmed,
			}
		}
		spriteName, importPath := match[1], match[2]
		resolved := resolveImportPath(path, importPath)
		imported, err := m.mergeFile(resolved)
		if err != nil {
			return nil, err
		}
		if err := checkImportedSprite(imported, resolved, spriteName, path, lineNo); err != nil {
			return nil, err
		}
		out = append(out, imported...)
	}
	return out, nil
}

func resolveImportPath(importer, target string) string {
	if filepath.IsAbs(target) {
		return target
	}
	return filepath.ToSlash(filepath.Join(filepath.Dir(importer), target))
}

// checkImportedSprite verifies that the imported file itself declares exactly
// one sprite and that its name matches the import statement. Targets pulled
// in by the imported file's own imports do not count.
func checkImportedSprite(lines []SourceLine, resolved, wantName, importer string, importLine int) error {
	var found []string
	isStage := false
	for _, ln := range lines {
		if ln.File != resolved {
			continue
		}
		name, stage, ok := targetHeader(ln.Text)
		if !ok {
			continue
		}
		found = append(found, name)
		isStage = isStage || stage
	}
	fail := func(format string, args ...any) error {
		return &Diagnostic{
			Stage:      StageImport,
			Msg:        fmt.Sprintf(format, args...),
			File:       importer,
			OriginLine: importLine,
		}
	}
	if len(found) != 1 || isStage {
		return fail("imported file '%s' must declare exactly one sprite", resolved)
	}
	if !strings.EqualFold(found[0], wantName) {
		return fail("imported file '%s' declares sprite '%s', expected '%s'", resolved, found[0], wantName)
	}
	return nil
}

// targetHeader recognizes a 'sprite Name' or 'stage' declaration line.
func targetHeader(line string) (name string, isStage, ok bool) {
	trimmed := strings.TrimSpace(line)
	fields := strings.Fields(trimmed)
	if len(fields) == 0 {
		return "", false, false
	}
	switch strings.ToLower(fields[0]) {
	case "sprite":
		rest := strings.TrimSpace(trimmed[len(fields[0]):])
		return headerName(rest, ""), false, true
	case "stage":
		rest := strings.TrimSpace(trimmed[len(fields[0]):])
		return headerName(rest, "Stage"), true, true
	}
	return "", false, false
}

func headerName(rest, fallback string) string {
	if rest == "" {
		return fallback
	}
	if rest[0] == '"' {
		if end := strings.IndexByte(rest[1:], '"'); end >= 0 {
			return rest[1 : 1+end]
		}
		return strings.TrimPrefix(rest, `"`)
	}
	if idx := strings.IndexAny(rest, " \t#"); idx >= 0 {
		return rest[:idx]
	}
	return rest
}
