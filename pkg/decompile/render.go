package decompile

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
)

// Output is a fully rendered decompile: file contents keyed by name plus
// the asset blobs those files reference. Single-file mode produces exactly
// one entry, split mode produces main.sbtext plus one file per sprite.
type Output struct {
	Files    map[string]string
	Assets   map[string][]byte
	Warnings []string
}

// RenderSingle renders every target into one source text.
func RenderSingle(project *Project, assets map[string][]byte, fileName string) *Output {
	ordered := stageFirst(project.Targets)
	var text strings.Builder
	for _, target := range ordered {
		text.WriteString(RenderTarget(target))
		text.WriteString("\n")
	}
	out := &Output{
		Files:    map[string]string{fileName: text.String()},
		Assets:   neededAssets(ordered, assets),
		Warnings: project.Warnings,
	}
	return out
}

// RenderSplit renders one file per sprite plus a main file holding the
// import headers and the stage.
func RenderSplit(project *Project, assets map[string][]byte) *Output {
	var stage *Target
	var sprites []*Target
	for _, target := range project.Targets {
		if target.IsStage && stage == nil {
			stage = target
		} else if !target.IsStage {
			sprites = append(sprites, target)
		}
	}

	files := map[string]string{}
	used := map[string]bool{}
	var header strings.Builder
	for _, sprite := range sprites {
		fileName := uniqueSpriteFilename(sprite.Name, used)
		files[fileName] = RenderTarget(sprite)
		header.WriteString(fmt.Sprintf("import [%s] from %s\n", sprite.Name, quoteStr(fileName)))
	}

	var main strings.Builder
	main.WriteString(header.String())
	if len(sprites) > 0 {
		main.WriteString("\n")
	}
	if stage != nil {
		main.WriteString(RenderTarget(stage))
	} else {
		main.WriteString("stage\nend\n")
	}
	files["main.sbtext"] = main.String()

	return &Output{
		Files:    files,
		Assets:   neededAssets(project.Targets, assets),
		Warnings: project.Warnings,
	}
}

// RenderTarget renders one target block, declarations first, then
// procedures, then event scripts.
func RenderTarget(target *Target) string {
	var lines []string
	if target.IsStage {
		if strings.EqualFold(target.Name, "stage") {
			lines = append(lines, "stage")
		} else {
			lines = append(lines, "stage "+formatDeclName(target.Name))
		}
	} else {
		lines = append(lines, "sprite "+formatDeclName(target.Name))
	}

	for _, decl := range target.Variables {
		line := "  var " + formatDeclName(decl.Name)
		if decl.Init != nil {
			line += " = " + renderLiteral(decl.Init)
		}
		lines = append(lines, line)
	}
	for _, decl := range target.Lists {
		line := "  list " + formatDeclName(decl.Name)
		if len(decl.Items) > 0 {
			items := make([]string, len(decl.Items))
			for i, item := range decl.Items {
				items[i] = renderLiteral(item)
			}
			line += " = [" + strings.Join(items, ", ") + "]"
		}
		lines = append(lines, line)
	}
	for _, costume := range target.Costumes {
		lines = append(lines, "  costume "+quoteStr(costume))
	}

	hasDecls := len(target.Variables) > 0 || len(target.Lists) > 0 || len(target.Costumes) > 0
	hasCode := len(target.Procedures) > 0 || len(target.Scripts) > 0
	if hasDecls && hasCode {
		lines = append(lines, "")
	}

	for i, proc := range target.Procedures {
		header := "  define "
		if proc.Warp {
			header += "!"
		}
		header += formatDeclName(proc.Name)
		for _, param := range proc.Params {
			header += fmt.Sprintf(" (%s)", formatDeclName(param))
		}
		lines = append(lines, header)
		if len(proc.Body) == 0 {
			lines = append(lines, "    # empty")
		} else {
			lines = append(lines, proc.Body...)
		}
		lines = append(lines, "  end")
		if i+1 < len(target.Procedures) || len(target.Scripts) > 0 {
			lines = append(lines, "")
		}
	}

	for i, script := range target.Scripts {
		lines = append(lines, "  "+script.Header)
		if len(script.Body) == 0 {
			lines = append(lines, "    # empty")
		} else {
			lines = append(lines, script.Body...)
		}
		lines = append(lines, "  end")
		if i+1 < len(target.Scripts) {
			lines = append(lines, "")
		}
	}

	lines = append(lines, "end", "")
	return strings.Join(lines, "\n")
}

func renderLiteral(value any) string {
	switch v := value.(type) {
	case float64:
		return trimFloat(v)
	case string:
		return quoteStr(v)
	case bool:
		if v {
			return quoteStr("true")
		}
		return quoteStr("false")
	}
	return "0"
}

func formatDeclName(name string) string {
	if isSimpleIdentifier(name) {
		return name
	}
	return quoteStr(name)
}

func stageFirst(targets []*Target) []*Target {
	ordered := make([]*Target, 0, len(targets))
	for _, target := range targets {
		if target.IsStage {
			ordered = append(ordered, target)
		}
	}
	for _, target := range targets {
		if !target.IsStage {
			ordered = append(ordered, target)
		}
	}
	return ordered
}

func neededAssets(targets []*Target, assets map[string][]byte) map[string][]byte {
	out := map[string][]byte{}
	for _, target := range targets {
		for _, costume := range target.Costumes {
			if data, ok := assets[costume]; ok {
				out[costume] = data
			}
		}
	}
	return out
}

func uniqueSpriteFilename(name string, used map[string]bool) string {
	base := sanitizeFilename(name)
	if base == "" {
		base = "sprite"
	}
	candidate := base + ".sbtext"
	for index := 2; used[strings.ToLower(candidate)]; index++ {
		candidate = fmt.Sprintf("%s_%d.sbtext", base, index)
	}
	used[strings.ToLower(candidate)] = true
	return candidate
}

func sanitizeFilename(name string) string {
	var b strings.Builder
	for _, c := range name {
		if c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c == '_' || c == '-' {
			b.WriteRune(c)
		} else {
			b.WriteRune('_')
		}
	}
	return strings.Trim(b.String(), "_")
}

// DefaultSplitDir names the split-mode output directory next to the input.
func DefaultSplitDir(input string) string {
	stem := strings.TrimSuffix(filepath.Base(input), filepath.Ext(input))
	if stem == "" {
		stem = "project"
	}
	return filepath.Join(filepath.Dir(input), stem+"_sbtext")
}

// SortedFileNames lists an output's files deterministically.
func (o *Output) SortedFileNames() []string {
	names := make([]string, 0, len(o.Files))
	for name := range o.Files {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
