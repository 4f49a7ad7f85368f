package decompile

import (
	"archive/zip"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
)

// rawTarget is the subset of a target entry the decompiler reads. Blocks
// stay raw because real project files mix block objects with bare arrays
// for free-floating reporters.
type rawTarget struct {
	Name      string                     `json:"name"`
	IsStage   bool                       `json:"isStage"`
	Variables map[string]json.RawMessage `json:"variables"`
	Lists     map[string]json.RawMessage `json:"lists"`
	Costumes  []rawCostume               `json:"costumes"`
	Blocks    map[string]json.RawMessage `json:"blocks"`
}

type rawCostume struct {
	MD5Ext string `json:"md5ext"`
}

type rawProject struct {
	Targets []rawTarget `json:"targets"`
}

// rawBlock is one decoded block table entry.
type rawBlock struct {
	Opcode   string         `json:"opcode"`
	Next     *string        `json:"next"`
	Inputs   map[string]any `json:"inputs"`
	Fields   map[string]any `json:"fields"`
	Shadow   bool           `json:"shadow"`
	TopLevel bool           `json:"topLevel"`
	X        *float64       `json:"x"`
	Y        *float64       `json:"y"`
	Mutation map[string]any `json:"mutation"`
}

// blockTable is a target's block graph with array-valued entries dropped.
type blockTable map[string]*rawBlock

func decodeBlocks(raw map[string]json.RawMessage) blockTable {
	table := blockTable{}
	for id, msg := range raw {
		var block rawBlock
		if err := json.Unmarshal(msg, &block); err != nil {
			continue
		}
		table[id] = &block
	}
	return table
}

func (t blockTable) get(id string) (*rawBlock, error) {
	block, ok := t[id]
	if !ok {
		return nil, fmt.Errorf("missing block '%s'", id)
	}
	return block, nil
}

// sortKey orders top-level blocks by position so output follows the visual
// layout, with the id as a stable tiebreak.
func (t blockTable) sortKey(id string) (float64, float64, string) {
	const far = 1e18
	block, ok := t[id]
	if !ok {
		return far, far, id
	}
	x, y := far, far
	if block.X != nil {
		x = *block.X
	}
	if block.Y != nil {
		y = *block.Y
	}
	return y, x, id
}

func (t blockTable) sortTopLevel(ids []string) {
	sort.Slice(ids, func(i, j int) bool {
		yi, xi, idi := t.sortKey(ids[i])
		yj, xj, idj := t.sortKey(ids[j])
		if yi != yj {
			return yi < yj
		}
		if xi != xj {
			return xi < xj
		}
		return idi < idj
	})
}

// ReadArchive extracts project.json and every asset entry from an .sb3
// archive.
func ReadArchive(r io.ReaderAt, size int64) ([]byte, map[string][]byte, error) {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return nil, nil, fmt.Errorf("not a valid zip/.sb3 archive: %w", err)
	}
	var projectJSON []byte
	assets := map[string][]byte{}
	for _, entry := range zr.File {
		if entry.FileInfo().IsDir() {
			continue
		}
		rc, err := entry.Open()
		if err != nil {
			return nil, nil, err
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, nil, err
		}
		if entry.Name == "project.json" {
			projectJSON = data
			continue
		}
		assets[entry.Name] = data
	}
	if projectJSON == nil {
		return nil, nil, fmt.Errorf("project.json not found in archive")
	}
	return projectJSON, assets, nil
}

// ReadArchiveFile is ReadArchive over a file on disk.
func ReadArchiveFile(path string) ([]byte, map[string][]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return nil, nil, err
	}
	return ReadArchive(f, info.Size())
}
