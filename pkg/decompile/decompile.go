package decompile

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// rpcPrefix marks the broadcast messages and shared argument variables the
// compiler synthesizes for cross-sprite calls.
const rpcPrefix = "__rpc__"

// Project is the reconstructed source model of one decompiled bundle.
type Project struct {
	Targets  []*Target
	Warnings []string
}

type Target struct {
	Name       string
	IsStage    bool
	Variables  []Decl
	Lists      []ListDecl
	Costumes   []string
	Procedures []*Procedure
	Scripts    []*Script
}

// Decl is a variable declaration with its recovered initial value. Init is
// nil when the stored value is the zero default.
type Decl struct {
	Name string
	Init any
}

type ListDecl struct {
	Name  string
	Items []any
}

type Procedure struct {
	Name   string
	Params []string
	Warp   bool
	Body   []string
}

type Script struct {
	Header string
	Body   []string
}

// Decompile reconstructs a source model from the raw project.json bytes.
// Unrecognized opcodes degrade to marker comments and are reported in
// Warnings, a foreign project never aborts the whole decompile.
func Decompile(projectJSON []byte) (*Project, error) {
	var raw rawProject
	if err := json.Unmarshal(projectJSON, &raw); err != nil {
		return nil, fmt.Errorf("invalid project.json: %w", err)
	}
	if raw.Targets == nil {
		return nil, fmt.Errorf("invalid project.json: missing 'targets' array")
	}
	d := &decompiler{}
	out := &Project{}
	for i := range raw.Targets {
		target, err := d.decompileTarget(&raw.Targets[i])
		if err != nil {
			return nil, err
		}
		out.Targets = append(out.Targets, target)
	}
	out.Warnings = d.warnings
	return out, nil
}

type decompiler struct {
	warnings []string
}

func (d *decompiler) warnf(format string, args ...any) {
	d.warnings = append(d.warnings, fmt.Sprintf(format, args...))
}

func (d *decompiler) decompileTarget(raw *rawTarget) (*Target, error) {
	if raw.Name == "" {
		return nil, fmt.Errorf("target missing name")
	}
	target := &Target{
		Name:      raw.Name,
		IsStage:   raw.IsStage,
		Variables: readVarDecls(raw.Variables),
		Lists:     readListDecls(raw.Lists),
	}
	for _, costume := range raw.Costumes {
		if costume.MD5Ext != "" {
			target.Costumes = append(target.Costumes, costume.MD5Ext)
		}
	}

	blocks := decodeBlocks(raw.Blocks)
	var procStarts, scriptStarts []string
	for id, block := range blocks {
		if !block.TopLevel {
			continue
		}
		switch block.Opcode {
		case "procedures_definition":
			procStarts = append(procStarts, id)
		case "event_whenflagclicked", "event_whenthisspriteclicked",
			"event_whenbroadcastreceived", "event_whenkeypressed":
			scriptStarts = append(scriptStarts, id)
		}
	}
	blocks.sortTopLevel(procStarts)
	blocks.sortTopLevel(scriptStarts)

	for _, id := range procStarts {
		proc, err := d.decompileProcedure(blocks, id)
		if err != nil {
			return nil, err
		}
		target.Procedures = append(target.Procedures, proc)
	}
	for _, id := range scriptStarts {
		script, skip, err := d.decompileScript(blocks, id)
		if err != nil {
			return nil, err
		}
		if !skip {
			target.Scripts = append(target.Scripts, script)
		}
	}
	return target, nil
}

// readVarDecls recovers declared names and initial values. Synthesized
// cross-sprite argument variables are dropped, the compiler recreates them.
func readVarDecls(raw map[string]json.RawMessage) []Decl {
	var out []Decl
	for _, msg := range raw {
		var entry []any
		if err := json.Unmarshal(msg, &entry); err != nil || len(entry) == 0 {
			continue
		}
		name, ok := entry[0].(string)
		if !ok || strings.HasPrefix(name, rpcPrefix) {
			continue
		}
		decl := Decl{Name: name}
		if len(entry) > 1 && !isZeroValue(entry[1]) {
			decl.Init = entry[1]
		}
		out = append(out, decl)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func readListDecls(raw map[string]json.RawMessage) []ListDecl {
	var out []ListDecl
	for _, msg := range raw {
		var entry []any
		if err := json.Unmarshal(msg, &entry); err != nil || len(entry) == 0 {
			continue
		}
		name, ok := entry[0].(string)
		if !ok {
			continue
		}
		decl := ListDecl{Name: name}
		if len(entry) > 1 {
			if items, ok := entry[1].([]any); ok {
				decl.Items = items
			}
		}
		out = append(out, decl)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func isZeroValue(v any) bool {
	switch value := v.(type) {
	case nil:
		return true
	case float64:
		return value == 0
	case string:
		return value == "" || value == "0"
	}
	return false
}

func (d *decompiler) decompileProcedure(blocks blockTable, definitionID string) (*Procedure, error) {
	definition, err := blocks.get(definitionID)
	if err != nil {
		return nil, err
	}
	prototypeID, ok := inputBlockID(definition, "custom_block")
	if !ok {
		return nil, fmt.Errorf("procedure definition '%s' missing custom_block input", definitionID)
	}
	prototype, err := blocks.get(prototypeID)
	if err != nil {
		return nil, err
	}
	if prototype.Mutation == nil {
		return nil, fmt.Errorf("procedure prototype '%s' missing mutation", prototypeID)
	}
	proccode, _ := prototype.Mutation["proccode"].(string)
	if proccode == "" {
		return nil, fmt.Errorf("procedure prototype '%s' missing proccode", prototypeID)
	}

	var params []string
	if rawNames, ok := prototype.Mutation["argumentnames"].(string); ok {
		// Malformed argument metadata degrades to a zero-parameter header.
		_ = json.Unmarshal([]byte(rawNames), &params)
	}
	warp := false
	if rawWarp, ok := prototype.Mutation["warp"].(string); ok {
		warp = strings.EqualFold(rawWarp, "true")
	}

	body, err := d.decompileChain(blocks, definition.Next, 4, map[string]bool{})
	if err != nil {
		return nil, err
	}
	return &Procedure{
		Name:   proccodeName(proccode),
		Params: params,
		Warp:   warp,
		Body:   body,
	}, nil
}

// decompileScript renders one hat script. Receiver scripts synthesized for
// cross-sprite calls are skipped when they still hold the exact generated
// shape, the compiler recreates them from the folded call sites.
func (d *decompiler) decompileScript(blocks blockTable, hatID string) (*Script, bool, error) {
	hat, err := blocks.get(hatID)
	if err != nil {
		return nil, false, err
	}
	var header string
	switch hat.Opcode {
	case "event_whenflagclicked":
		header = "when flag clicked"
	case "event_whenthisspriteclicked":
		header = "when this sprite clicked"
	case "event_whenkeypressed":
		key := fieldString(hat, "KEY_OPTION", "space")
		header = fmt.Sprintf("when [%s] key pressed", key)
	case "event_whenbroadcastreceived":
		msg := fieldString(hat, "BROADCAST_OPTION", "message1")
		if strings.HasPrefix(msg, rpcPrefix) && d.isSynthesizedReceiver(blocks, hat, msg) {
			return nil, true, nil
		}
		header = fmt.Sprintf("when I receive [%s]", msg)
	default:
		d.warnf("unsupported event opcode '%s' on block %s", hat.Opcode, hatID)
		header = fmt.Sprintf("# unsupported event opcode: %s", hat.Opcode)
	}
	body, err := d.decompileChain(blocks, hat.Next, 4, map[string]bool{})
	if err != nil {
		return nil, false, err
	}
	return &Script{Header: header, Body: body}, false, nil
}

// isSynthesizedReceiver reports whether the hat's body is exactly one call
// to the procedure named by the rpc message.
func (d *decompiler) isSynthesizedReceiver(blocks blockTable, hat *rawBlock, msg string) bool {
	if hat.Next == nil {
		return false
	}
	call, ok := blocks[*hat.Next]
	if !ok || call.Opcode != "procedures_call" || call.Next != nil {
		return false
	}
	if call.Mutation == nil {
		return false
	}
	proccode, _ := call.Mutation["proccode"].(string)
	_, proc, ok := splitRPCMessage(msg)
	return ok && strings.EqualFold(proccodeName(proccode), proc)
}

func (d *decompiler) decompileChain(blocks blockTable, start *string, indent int, visited map[string]bool) ([]string, error) {
	var lines []string
	current := start
	for current != nil {
		id := *current
		if visited[id] {
			lines = append(lines, fmt.Sprintf("%s# warning: cyclic block chain at %s", pad(indent), id))
			break
		}
		visited[id] = true
		block, err := blocks.get(id)
		if err != nil {
			return nil, err
		}

		if folded, next, ok := d.foldRemoteCall(blocks, id, block, indent, visited); ok {
			lines = append(lines, folded)
			current = next
			continue
		}

		stmt, err := d.decompileStatement(blocks, id, block, indent, visited)
		if err != nil {
			return nil, err
		}
		lines = append(lines, stmt...)
		current = block.Next
	}
	return lines, nil
}

// foldRemoteCall recognizes the lowered cross-sprite call pattern, a chain
// of shared-argument assignments followed by broadcast-and-wait on the rpc
// message, and folds it back into one qualified call. Any mismatch leaves
// the chain to literal rendering.
func (d *decompiler) foldRemoteCall(blocks blockTable, id string, block *rawBlock, indent int, visited map[string]bool) (string, *string, bool) {
	var args []string
	cursor, cursorID := block, id
	for cursor.Opcode == "data_setvariableto" {
		name := fieldString(cursor, "VARIABLE", "")
		if !strings.HasPrefix(name, rpcPrefix) {
			return "", nil, false
		}
		want := fmt.Sprintf("__arg%d", len(args)+1)
		if !strings.HasSuffix(name, want) {
			return "", nil, false
		}
		expr, err := d.exprFromInput(blocks, cursor, "VALUE")
		if err != nil {
			return "", nil, false
		}
		args = append(args, expr)
		if cursor.Next == nil {
			return "", nil, false
		}
		cursorID = *cursor.Next
		next, ok := blocks[cursorID]
		if !ok {
			return "", nil, false
		}
		cursor = next
	}
	if cursor.Opcode != "event_broadcastandwait" {
		return "", nil, false
	}
	msg := broadcastMessage(blocks, cursor)
	if !strings.HasPrefix(msg, rpcPrefix) {
		return "", nil, false
	}
	targetName, procName, ok := splitRPCMessage(msg)
	if !ok {
		return "", nil, false
	}
	for i := range args {
		wantVar := fmt.Sprintf("%s__arg%d", msg, i+1)
		setter := block
		for j := 0; j < i; j++ {
			setter = blocks[*setter.Next]
		}
		if fieldString(setter, "VARIABLE", "") != wantVar {
			return "", nil, false
		}
	}

	line := fmt.Sprintf("%s%s.%s", pad(indent), targetName, procName)
	for _, arg := range args {
		line += fmt.Sprintf(" (%s)", arg)
	}
	// Mark the folded setters visited so a malformed later reference still
	// trips the cycle guard instead of rendering them twice.
	walk, walkID := block, id
	for walk != cursor {
		visited[walkID] = true
		walkID = *walk.Next
		walk = blocks[walkID]
	}
	visited[cursorID] = true
	return line, cursor.Next, true
}

func splitRPCMessage(msg string) (target, proc string, ok bool) {
	rest := strings.TrimPrefix(msg, rpcPrefix)
	idx := strings.LastIndex(rest, "__")
	if idx <= 0 || idx+2 >= len(rest) {
		return "", "", false
	}
	return rest[:idx], rest[idx+2:], true
}
