// Package config loads the optional sbtext.hcl build file. Every field has
// a flag-level override, the file only sets project defaults.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/zclconf/go-cty/cty"
)

// File is the decoded config file.
type File struct {
	Build *Build `hcl:"build,block"`
	Cache *Cache `hcl:"cache,block"`
}

// Build configures one compile invocation.
type Build struct {
	Entry     string `hcl:"entry,optional"`
	Output    string `hcl:"output,optional"`
	Relaxed   bool   `hcl:"relaxed,optional"`
	ScaleSVGs *bool  `hcl:"scale_svgs,optional"`
}

// Cache configures the bundle cache database.
type Cache struct {
	Path string `hcl:"path,optional"`
}

// Default is the configuration used when no file is present.
func Default() *File {
	return &File{Build: &Build{}, Cache: &Cache{}}
}

// Load parses and decodes the HCL file at path. Config expressions may read
// environment variables through the env map, e.g. `output = env.BUILD_OUT`.
func Load(path string) (*File, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(src, path)
}

// Parse decodes config bytes. filename is used in diagnostics only.
func Parse(src []byte, filename string) (*File, error) {
	parser := hclparse.NewParser()
	hclFile, diags := parser.ParseHCL(src, filename)
	if diags.HasErrors() {
		return nil, fmt.Errorf("parse %s: %s", filename, diags.Error())
	}

	out := Default()
	diags = gohcl.DecodeBody(hclFile.Body, evalContext(), out)
	if diags.HasErrors() {
		return nil, fmt.Errorf("decode %s: %s", filename, diags.Error())
	}
	if out.Build == nil {
		out.Build = &Build{}
	}
	if out.Cache == nil {
		out.Cache = &Cache{}
	}
	return out, nil
}

// ScaleSVGsOrDefault resolves the tri-state scale_svgs attribute, scaling is
// on unless the file turns it off.
func (b *Build) ScaleSVGsOrDefault() bool {
	if b.ScaleSVGs == nil {
		return true
	}
	return *b.ScaleSVGs
}

func evalContext() *hcl.EvalContext {
	env := map[string]cty.Value{}
	for _, kv := range os.Environ() {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || key == "" {
			continue
		}
		env[key] = cty.StringVal(value)
	}
	vars := map[string]cty.Value{"env": cty.EmptyObjectVal}
	if len(env) > 0 {
		vars["env"] = cty.ObjectVal(env)
	}
	return &hcl.EvalContext{Variables: vars}
}
