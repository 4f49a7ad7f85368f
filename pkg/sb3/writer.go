package sb3

import (
	"archive/zip"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
)

// Asset is one costume or sound file destined for the archive, named by its
// md5ext filename.
type Asset struct {
	Name string
	Data []byte
}

// Write serializes the project and its assets into a zip archive on w.
// Assets sharing a name are written once.
func Write(w io.Writer, project *Project, assets []Asset) error {
	zw := zip.NewWriter(w)

	entry, err := zw.Create("project.json")
	if err != nil {
		return fmt.Errorf("create project.json: %w", err)
	}
	doc, err := json.Marshal(project)
	if err != nil {
		return fmt.Errorf("marshal project.json: %w", err)
	}
	if _, err := entry.Write(doc); err != nil {
		return fmt.Errorf("write project.json: %w", err)
	}

	unique := map[string][]byte{}
	for _, asset := range assets {
		unique[asset.Name] = asset.Data
	}
	names := make([]string, 0, len(unique))
	for name := range unique {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		entry, err := zw.Create(name)
		if err != nil {
			return fmt.Errorf("create asset %s: %w", name, err)
		}
		if _, err := entry.Write(unique[name]); err != nil {
			return fmt.Errorf("write asset %s: %w", name, err)
		}
	}
	return zw.Close()
}

// WriteFile writes the project archive to path.
func WriteFile(path string, project *Project, assets []Asset) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := Write(f, project, assets); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
