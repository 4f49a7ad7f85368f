package sb3

import (
	"archive/zip"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

var errNoProjectJSON = errors.New("archive has no project.json")

// Read parses a project archive: the project.json document plus every asset
// file keyed by its archive name.
func Read(r io.ReaderAt, size int64) (*Project, map[string][]byte, error) {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return nil, nil, fmt.Errorf("open archive: %w", err)
	}
	var project *Project
	assets := map[string][]byte{}
	for _, file := range zr.File {
		rc, err := file.Open()
		if err != nil {
			return nil, nil, fmt.Errorf("open %s: %w", file.Name, err)
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, nil, fmt.Errorf("read %s: %w", file.Name, err)
		}
		if file.Name == "project.json" {
			project = &Project{}
			if err := json.Unmarshal(data, project); err != nil {
				return nil, nil, fmt.Errorf("parse project.json: %w", err)
			}
			continue
		}
		assets[file.Name] = data
	}
	if project == nil {
		return nil, nil, errNoProjectJSON
	}
	return project, assets, nil
}

// ReadFile parses the project archive at path.
func ReadFile(path string) (*Project, map[string][]byte, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer zr.Close()
	var project *Project
	assets := map[string][]byte{}
	for _, file := range zr.File {
		rc, err := file.Open()
		if err != nil {
			return nil, nil, fmt.Errorf("open %s: %w", file.Name, err)
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, nil, fmt.Errorf("read %s: %w", file.Name, err)
		}
		if file.Name == "project.json" {
			project = &Project{}
			if err := json.Unmarshal(data, project); err != nil {
				return nil, nil, fmt.Errorf("parse project.json: %w", err)
			}
			continue
		}
		assets[file.Name] = data
	}
	if project == nil {
		return nil, nil, errNoProjectJSON
	}
	return project, assets, nil
}
