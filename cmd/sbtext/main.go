// Command sbtext compiles SBText sources into .sb3 project bundles and
// decompiles .sb3 bundles back into SBText.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"sbtext/pkg/bundle"
	"sbtext/pkg/compiler"
	"sbtext/pkg/config"
	"sbtext/pkg/decompile"
	"sbtext/pkg/sb3"
	"sbtext/pkg/utils"
	"sbtext/pkg/vfs"
)

var (
	errStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	warnStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	dimStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	okStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("78"))
)

type options struct {
	output       string
	decompile    bool
	splitSprites bool
	relaxed      bool
	noSVGScale   bool
	emitMerged   string
	emitBundle   string
	configPath   string
	verbose      bool
}

func main() {
	var opts options
	flag.StringVar(&opts.output, "o", "", "output path (.sb3, .sbtext file or split directory)")
	flag.BoolVar(&opts.decompile, "decompile", false, "decompile an .sb3 bundle into SBText")
	flag.BoolVar(&opts.splitSprites, "split-sprites", false, "with -decompile, write one file per sprite")
	flag.BoolVar(&opts.relaxed, "relaxed", false, "compile unknown procedure calls as no-ops")
	flag.BoolVar(&opts.noSVGScale, "no-svg-scale", false, "keep SVG costumes at their source size")
	flag.StringVar(&opts.emitMerged, "emit-merged", "", "also write the merged source text to this path")
	flag.StringVar(&opts.emitBundle, "emit-bundle", "", "also write an .sbtc bundle to this path")
	flag.StringVar(&opts.configPath, "config", "", "path to an sbtext.hcl config file")
	flag.BoolVar(&opts.verbose, "verbose", false, "enable debug logging")
	flag.Usage = usage
	flag.Parse()

	level := slog.LevelWarn
	if opts.verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	if flag.NArg() != 1 {
		usage()
		os.Exit(2)
	}
	input := flag.Arg(0)

	if err := run(input, opts); err != nil {
		fmt.Fprintln(os.Stderr, errStyle.Render(err.Error()))
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, "usage: sbtext [flags] <input.sbtext|input.sbtc|input.sb3>\n\n")
	flag.PrintDefaults()
}

func run(input string, opts options) error {
	if opts.relaxed && opts.decompile {
		return &compiler.ConfigurationError{Msg: "-relaxed cannot be combined with -decompile"}
	}
	if opts.splitSprites && !opts.decompile {
		return &compiler.ConfigurationError{Msg: "-split-sprites requires -decompile"}
	}

	cfg, err := loadConfig(opts.configPath)
	if err != nil {
		return err
	}

	if opts.decompile {
		return runDecompile(input, opts)
	}
	return runCompile(input, opts, cfg)
}

// loadConfig reads the named config file, or sbtext.hcl from the working
// directory when present. A missing default file just means defaults.
func loadConfig(path string) (*config.File, error) {
	if path != "" {
		return config.Load(path)
	}
	cfg, err := config.Load("sbtext.hcl")
	if os.IsNotExist(err) {
		return config.Default(), nil
	}
	return cfg, err
}

func runCompile(input string, opts options, cfg *config.File) error {
	entry, sourceDir, err := utils.ResolveEntry(input)
	if err != nil {
		return err
	}

	compileOpts := compiler.DefaultOptions()
	compileOpts.Relaxed = opts.relaxed || cfg.Build.Relaxed
	compileOpts.ScaleSVGs = cfg.Build.ScaleSVGsOrDefault() && !opts.noSVGScale
	if opts.verbose {
		compileOpts.Progress = slogProgress{}
	}

	fsys := vfs.OS{}
	var unit *compiler.SourceUnit
	if strings.EqualFold(filepath.Ext(entry), ".sbtc") {
		unit, sourceDir, err = readBundle(entry, sourceDir)
	} else {
		unit, err = mergeWithCache(fsys, entry, sourceDir, cfg)
	}
	if err != nil {
		return err
	}

	if opts.emitMerged != "" {
		if err := os.WriteFile(opts.emitMerged, []byte(unit.Text()+"\n"), 0o644); err != nil {
			return err
		}
		slog.Debug("wrote merged source", "path", opts.emitMerged)
	}
	if opts.emitBundle != "" {
		if err := bundle.WriteFile(unit, sourceDir, utils.EnsureExtension(opts.emitBundle, ".sbtc")); err != nil {
			return err
		}
		slog.Debug("wrote bundle", "path", opts.emitBundle)
	}

	result, err := compiler.CompileUnit(fsys, unit, sourceDir, compileOpts)
	if err != nil {
		return err
	}
	printWarnings(warningStrings(result.Warnings))

	output := opts.output
	if output == "" {
		output = cfg.Build.Output
	}
	if output == "" {
		output = utils.ReplaceExtension(entry, ".sb3")
	}
	output = utils.EnsureExtension(output, ".sb3")

	if err := writeProject(output, result); err != nil {
		return err
	}
	fmt.Println(okStyle.Render(fmt.Sprintf("wrote %s (%d targets, %d assets)",
		output, len(result.Project.Targets), len(result.Assets))))
	return nil
}

func readBundle(entry, fallbackDir string) (*compiler.SourceUnit, string, error) {
	unit, sourceDir, err := bundle.ReadFile(entry)
	if err != nil {
		return nil, "", err
	}
	if sourceDir == "" {
		sourceDir = fallbackDir
	}
	slog.Debug("loaded bundle", "entry", unit.Entry, "lines", len(unit.Lines))
	return unit, sourceDir, nil
}

// mergeWithCache resolves the import graph and, when a cache is configured,
// stores the merged bundle keyed by its content.
func mergeWithCache(fsys vfs.FS, entry, sourceDir string, cfg *config.File) (*compiler.SourceUnit, error) {
	unit, err := compiler.MergeSourceFS(fsys, entry)
	if err != nil {
		return nil, err
	}
	if cfg.Cache.Path == "" {
		return unit, nil
	}
	store, err := bundle.OpenStore(cfg.Cache.Path)
	if err != nil {
		slog.Debug("bundle cache unavailable", "path", cfg.Cache.Path, "err", err)
		return unit, nil
	}
	defer store.Close()
	key := bundle.Key(unit)
	if _, err := store.Get(key); err == nil {
		slog.Debug("bundle cache hit", "key", key)
		return unit, nil
	}
	data, err := bundle.Build(unit, sourceDir)
	if err != nil {
		return nil, err
	}
	if err := store.Put(key, unit.Entry, data); err != nil {
		slog.Debug("bundle cache write failed", "err", err)
	}
	return unit, nil
}

func writeProject(output string, result *compiler.Result) error {
	if dir := filepath.Dir(output); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return sb3.WriteFile(output, result.Project, result.Assets)
}

func runDecompile(input string, opts options) error {
	projectJSON, assets, err := decompile.ReadArchiveFile(input)
	if err != nil {
		return err
	}
	project, err := decompile.Decompile(projectJSON)
	if err != nil {
		return err
	}

	if opts.splitSprites {
		outDir := opts.output
		if outDir == "" {
			outDir = decompile.DefaultSplitDir(input)
		}
		out := decompile.RenderSplit(project, assets)
		if err := writeDecompiled(out, outDir); err != nil {
			return err
		}
		printWarnings(out.Warnings)
		fmt.Println(okStyle.Render(fmt.Sprintf("wrote %d files to %s", len(out.Files), outDir)))
		return nil
	}

	outFile := opts.output
	if outFile == "" {
		outFile = utils.ReplaceExtension(input, ".sbtext")
	}
	outFile = utils.EnsureExtension(outFile, ".sbtext")
	out := decompile.RenderSingle(project, assets, filepath.Base(outFile))
	if err := writeDecompiled(out, filepath.Dir(outFile)); err != nil {
		return err
	}
	printWarnings(out.Warnings)
	fmt.Println(okStyle.Render("wrote " + outFile))
	return nil
}

func writeDecompiled(out *decompile.Output, dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	for _, name := range out.SortedFileNames() {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(out.Files[name]), 0o644); err != nil {
			return err
		}
	}
	for name, data := range out.Assets {
		if err := os.WriteFile(filepath.Join(dir, name), data, 0o644); err != nil {
			return err
		}
	}
	return nil
}

func warningStrings(warnings []compiler.Warning) []string {
	out := make([]string, len(warnings))
	for i, w := range warnings {
		out[i] = w.Msg
	}
	return out
}

func printWarnings(warnings []string) {
	for _, w := range warnings {
		fmt.Fprintln(os.Stderr, warnStyle.Render("warning: "+w))
	}
}

// slogProgress forwards pipeline stage callbacks to the debug log.
type slogProgress struct{}

func (slogProgress) Stage(name string) {
	slog.Debug(dimStyle.Render("stage " + name))
}

func (slogProgress) Step(stage string, step, total int) {
	slog.Debug(dimStyle.Render(fmt.Sprintf("%s %d/%d", stage, step, total)))
}
