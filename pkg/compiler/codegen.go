package compiler

import (
	"crypto/md5"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"

	"sbtext/pkg/sb3"
	"sbtext/pkg/vfs"
)

const defaultCostumeSVG = `<svg xmlns="http://www.w3.org/2000/svg" width="1" height="1" viewBox="0 0 1 1"></svg>`

// Generator lowers an analyzed Project into a Scratch project document and
// its costume assets.
type Generator struct {
	project   *Project
	fsys      vfs.FS
	sourceDir string
	opts      Options

	assets       map[string][]byte
	broadcastIDs map[string]string
	remoteCalls  []remoteCallSpec
	globalVarIDs map[string]string // lowercased name: id, stage vars + rpc vars
	rpcVarNames  map[string]string // lowercased name: declared spelling
	globalLists  map[string]string
	warnings     []Warning
}

// remoteCallSpec describes one cross-sprite call site family: the broadcast
// that triggers the callee and the shared variables that carry arguments.
type remoteCallSpec struct {
	calleeLower string
	procLower   string
	procName    string
	message     string
	argVars     []string
}

type procSignature struct {
	params   []string
	argIDs   []string
	proccode string
	warp     bool
}

// genScope is the per-target symbol environment used while emitting blocks.
type genScope struct {
	varIDs  map[string]string
	listIDs map[string]string
	sigs    map[string]*procSignature
	params  map[string]bool
}

// Generate lowers the project. Costume paths resolve against sourceDir
// through fsys. Cross-sprite calls become broadcast-and-wait pairs with
// synthesized global argument variables, so every qualified call runs the
// callee to completion before the caller resumes.
func Generate(project *Project, fsys vfs.FS, sourceDir string, opts Options) (*sb3.Project, []sb3.Asset, []Warning, error) {
	g := &Generator{
		project:      project,
		fsys:         fsys,
		sourceDir:    sourceDir,
		opts:         opts,
		assets:       map[string][]byte{},
		broadcastIDs: map[string]string{},
		globalVarIDs: map[string]string{},
		rpcVarNames:  map[string]string{},
		globalLists:  map[string]string{},
	}
	doc, err := g.build()
	if err != nil {
		return nil, nil, g.warnings, err
	}
	names := make([]string, 0, len(g.assets))
	for name := range g.assets {
		names = append(names, name)
	}
	sort.Strings(names)
	assets := make([]sb3.Asset, 0, len(names))
	for _, name := range names {
		assets = append(assets, sb3.Asset{Name: name, Data: g.assets[name]})
	}
	return doc, assets, g.warnings, nil
}

func (g *Generator) build() (*sb3.Project, error) {
	g.collectBroadcastIDs()
	if err := g.collectRemoteCalls(); err != nil {
		return nil, err
	}
	g.registerRemoteCallGlobals()

	ordered := make([]*Target, 0, len(g.project.Targets)+1)
	var stage *Target
	for _, target := range g.project.Targets {
		if target.IsStage {
			stage = target
		}
	}
	if stage == nil {
		stage = g.synthesizedStage()
	}
	ordered = append(ordered, stage)
	for _, target := range g.project.Targets {
		if !target.IsStage {
			ordered = append(ordered, target)
		}
	}
	g.registerStageGlobals(stage)

	doc := sb3.NewProject()
	layer := 1
	for i, target := range ordered {
		var out *sb3.Target
		var err error
		if target.IsStage {
			out, err = g.buildTarget(target, 0)
		} else {
			out, err = g.buildTarget(target, layer)
			layer++
		}
		if err != nil {
			return nil, err
		}
		doc.Targets = append(doc.Targets, out)
		g.step("Emitting targets", i+1, len(ordered))
	}
	if g.usesPen() {
		doc.Extensions = append(doc.Extensions, "pen")
	}
	return doc, nil
}

func (g *Generator) step(stage string, n, total int) {
	if g.opts.Progress != nil {
		g.opts.Progress.Step(stage, n, total)
	}
}

func (g *Generator) synthesizedStage() *Target {
	taken := map[string]bool{}
	for _, target := range g.project.Targets {
		taken[strings.ToLower(target.Name)] = true
	}
	name := "Stage"
	for suffix := 2; taken[strings.ToLower(name)]; suffix++ {
		name = fmt.Sprintf("Stage%d", suffix)
	}
	return &Target{Name: name, IsStage: true}
}

func (g *Generator) registerStageGlobals(stage *Target) {
	for _, decl := range stage.Variables {
		key := strings.ToLower(decl.Name)
		if _, ok := g.globalVarIDs[key]; !ok {
			g.globalVarIDs[key] = newID()
		}
	}
	for _, decl := range stage.Lists {
		key := strings.ToLower(decl.Name)
		if _, ok := g.globalLists[key]; !ok {
			g.globalLists[key] = newID()
		}
	}
}

func (g *Generator) registerRemoteCallGlobals() {
	for _, spec := range g.remoteCalls {
		if _, ok := g.broadcastIDs[spec.message]; !ok {
			g.broadcastIDs[spec.message] = newID()
		}
		for _, name := range spec.argVars {
			key := strings.ToLower(name)
			if _, ok := g.globalVarIDs[key]; ok {
				continue
			}
			g.globalVarIDs[key] = newID()
			g.rpcVarNames[key] = name
		}
	}
}

func newID() string {
	return uuid.NewString()
}

func (g *Generator) buildTarget(target *Target, layer int) (*sb3.Target, error) {
	var out *sb3.Target
	if target.IsStage {
		out = sb3.NewStage(target.Name)
	} else {
		out = sb3.NewSprite(target.Name, layer)
	}

	localVars := map[string]string{}
	for _, decl := range target.Variables {
		key := strings.ToLower(decl.Name)
		if _, ok := localVars[key]; ok {
			continue
		}
		id := newID()
		if target.IsStage {
			id = g.globalVarIDs[key]
		}
		localVars[key] = id
		out.Variables[id] = []any{decl.Name, literalValue(decl.Init)}
	}
	if target.IsStage {
		keys := make([]string, 0, len(g.rpcVarNames))
		for key := range g.rpcVarNames {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for _, key := range keys {
			out.Variables[g.globalVarIDs[key]] = []any{g.rpcVarNames[key], 0}
		}
	}

	localLists := map[string]string{}
	for _, decl := range target.Lists {
		key := strings.ToLower(decl.Name)
		if _, ok := localLists[key]; ok {
			continue
		}
		id := newID()
		if target.IsStage {
			id = g.globalLists[key]
		}
		localLists[key] = id
		out.Lists[id] = []any{decl.Name, listValues(decl.Init)}
	}

	scope := &genScope{
		varIDs:  localVars,
		listIDs: localLists,
		sigs:    g.buildSignatures(target),
	}
	for key, id := range g.globalVarIDs {
		scope.varIDs[key] = id
	}
	for key, id := range g.globalLists {
		scope.listIDs[key] = id
	}

	y := 30
	var err error
	for _, proc := range target.Procedures {
		y, err = g.emitProcedure(out.Blocks, proc, scope, y)
		if err != nil {
			return nil, err
		}
		y += 40
	}
	for _, script := range target.Scripts {
		y, err = g.emitEventScript(out.Blocks, script, scope, y)
		if err != nil {
			return nil, err
		}
		y += 40
	}
	if err := g.emitRemoteHandlers(out.Blocks, target, scope, y); err != nil {
		return nil, err
	}

	costumes, err := g.buildCostumes(target)
	if err != nil {
		return nil, err
	}
	out.Costumes = costumes

	if target.IsStage {
		for message, id := range g.broadcastIDs {
			out.Broadcasts[id] = message
		}
	}
	return out, nil
}

func literalValue(lit *Literal) any {
	if lit == nil {
		return 0
	}
	if lit.IsNumber {
		return lit.Num
	}
	return lit.Str
}

func listValues(items []Literal) []any {
	out := make([]any, 0, len(items))
	for _, item := range items {
		if item.IsNumber {
			out = append(out, item.Num)
		} else {
			out = append(out, item.Str)
		}
	}
	return out
}

func (g *Generator) buildSignatures(target *Target) map[string]*procSignature {
	sigs := map[string]*procSignature{}
	for _, proc := range target.Procedures {
		argIDs := make([]string, len(proc.Params))
		for i := range proc.Params {
			argIDs[i] = newID()
		}
		proccode := proc.Name
		if len(proc.Params) > 0 {
			proccode += strings.Repeat(" %s", len(proc.Params))
		}
		sigs[strings.ToLower(proc.Name)] = &procSignature{
			params:   proc.Params,
			argIDs:   argIDs,
			proccode: proccode,
			warp:     proc.Warp,
		}
	}
	return sigs
}

// collectBroadcastIDs assigns ids to every message named by a broadcast
// statement or a message event, in sorted order.
func (g *Generator) collectBroadcastIDs() {
	messages := map[string]bool{}
	for _, target := range g.project.Targets {
		for _, script := range target.Scripts {
			if script.Kind == EventMessage {
				messages[script.Name] = true
			}
			walkStatements(script.Body, func(stmt Stmt) {
				if b, ok := stmt.(*Broadcast); ok {
					messages[b.Message] = true
				}
			})
		}
		for _, proc := range target.Procedures {
			walkStatements(proc.Body, func(stmt Stmt) {
				if b, ok := stmt.(*Broadcast); ok {
					messages[b.Message] = true
				}
			})
		}
	}
	sorted := make([]string, 0, len(messages))
	for message := range messages {
		sorted = append(sorted, message)
	}
	sort.Strings(sorted)
	for _, message := range sorted {
		g.broadcastIDs[message] = newID()
	}
}

func (g *Generator) broadcastID(message string) string {
	if id, ok := g.broadcastIDs[message]; ok {
		return id
	}
	id := newID()
	g.broadcastIDs[message] = id
	return id
}

// collectRemoteCalls finds every qualified call that does not resolve to a
// procedure of the calling target and records one spec per callee procedure.
func (g *Generator) collectRemoteCalls() error {
	procs := map[string]*Procedure{}
	for _, target := range g.project.Targets {
		for _, proc := range target.Procedures {
			key := strings.ToLower(target.Name) + "." + strings.ToLower(proc.Name)
			procs[key] = proc
		}
	}
	specs := map[string]remoteCallSpec{}
	var walkErr error
	for _, target := range g.project.Targets {
		local := map[string]bool{}
		for _, proc := range target.Procedures {
			local[strings.ToLower(proc.Name)] = true
		}
		collect := func(stmt Stmt) {
			call, ok := stmt.(*Call)
			if !ok || walkErr != nil {
				return
			}
			if local[strings.ToLower(call.Name)] {
				return
			}
			owner, member, qualified := SplitQualified(call.Name)
			if !qualified {
				return
			}
			key := strings.ToLower(owner) + "." + strings.ToLower(member)
			proc, found := procs[key]
			if !found {
				return
			}
			if len(proc.Params) != len(call.Args) {
				walkErr = fmt.Errorf("remote procedure '%s' expects %d args, got %d", call.Name, len(proc.Params), len(call.Args))
				return
			}
			if _, seen := specs[key]; seen {
				return
			}
			argVars := make([]string, len(proc.Params))
			for i := range proc.Params {
				argVars[i] = fmt.Sprintf("__rpc__%s__%s__arg%d", strings.ToLower(owner), strings.ToLower(member), i+1)
			}
			specs[key] = remoteCallSpec{
				calleeLower: strings.ToLower(owner),
				procLower:   strings.ToLower(member),
				procName:    proc.Name,
				message:     fmt.Sprintf("__rpc__%s__%s", strings.ToLower(owner), strings.ToLower(member)),
				argVars:     argVars,
			}
		}
		for _, script := range target.Scripts {
			walkStatements(script.Body, collect)
		}
		for _, proc := range target.Procedures {
			walkStatements(proc.Body, collect)
		}
		if walkErr != nil {
			return walkErr
		}
	}
	out := make([]remoteCallSpec, 0, len(specs))
	for _, spec := range specs {
		out = append(out, spec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].message < out[j].message })
	g.remoteCalls = out
	return nil
}

func (g *Generator) remoteSpec(owner, member string, argCount int) (*remoteCallSpec, error) {
	ownerLower, memberLower := strings.ToLower(owner), strings.ToLower(member)
	for i := range g.remoteCalls {
		spec := &g.remoteCalls[i]
		if spec.calleeLower != ownerLower || spec.procLower != memberLower {
			continue
		}
		if len(spec.argVars) != argCount {
			return nil, fmt.Errorf("remote procedure '%s.%s' expects %d args, got %d", owner, member, len(spec.argVars), argCount)
		}
		return spec, nil
	}
	return nil, fmt.Errorf("unknown remote procedure '%s.%s'", owner, member)
}

// emitRemoteHandlers synthesizes one receiver script per remote call spec
// targeting this sprite: a broadcast hat that calls the local procedure with
// the shared argument variables.
func (g *Generator) emitRemoteHandlers(blocks map[string]*sb3.Block, target *Target, scope *genScope, y int) error {
	targetLower := strings.ToLower(target.Name)
	for _, spec := range g.remoteCalls {
		if spec.calleeLower != targetLower {
			continue
		}
		hatID := newID()
		bid := g.broadcastID(spec.message)
		blocks[hatID] = &sb3.Block{
			Opcode:   "event_whenbroadcastreceived",
			Inputs:   map[string][]any{},
			Fields:   map[string][]any{"BROADCAST_OPTION": sb3.FieldWithID(spec.message, bid)},
			TopLevel: true,
			X:        fptr(580),
			Y:        fptr(float64(y)),
		}
		args := make([]Expr, len(spec.argVars))
		for i, name := range spec.argVars {
			args[i] = &VarRef{Pos: target.Pos, Name: name}
		}
		first, _, err := g.emitCall(blocks, hatID, spec.procName, args, scope)
		if err != nil {
			return err
		}
		blocks[hatID].Next = &first
		y += 140
	}
	return nil
}

func (g *Generator) emitProcedure(blocks map[string]*sb3.Block, proc *Procedure, scope *genScope, y int) (int, error) {
	sig := scope.sigs[strings.ToLower(proc.Name)]
	defID, protoID := newID(), newID()
	blocks[defID] = &sb3.Block{
		Opcode:   "procedures_definition",
		Inputs:   map[string][]any{"custom_block": {1, protoID}},
		Fields:   map[string][]any{},
		TopLevel: true,
		X:        fptr(30),
		Y:        fptr(float64(y)),
	}
	protoInputs := map[string][]any{}
	for i, param := range sig.params {
		reporterID := newID()
		blocks[reporterID] = &sb3.Block{
			Opcode: "argument_reporter_string_number",
			Parent: &protoID,
			Inputs: map[string][]any{},
			Fields: map[string][]any{"VALUE": sb3.Field(param)},
			Shadow: true,
		}
		protoInputs[sig.argIDs[i]] = []any{1, reporterID}
	}
	mutation := sb3.NewMutation()
	mutation.Proccode = sig.proccode
	mutation.ArgumentIDs = mustJSON(sig.argIDs)
	mutation.ArgumentNames = mustJSON(sig.params)
	mutation.ArgumentDefaults = mustJSON(make([]string, len(sig.params)))
	mutation.Warp = boolWord(sig.warp)
	blocks[protoID] = &sb3.Block{
		Opcode:   "procedures_prototype",
		Parent:   &defID,
		Inputs:   protoInputs,
		Fields:   map[string][]any{},
		Shadow:   true,
		Mutation: mutation,
	}

	bodyScope := &genScope{
		varIDs:  scope.varIDs,
		listIDs: scope.listIDs,
		sigs:    scope.sigs,
		params:  map[string]bool{},
	}
	for _, param := range sig.params {
		bodyScope.params[strings.ToLower(param)] = true
	}
	first, last, err := g.emitChain(blocks, proc.Body, defID, bodyScope)
	if err != nil {
		return 0, err
	}
	if first != "" {
		blocks[defID].Next = &first
		if last != "" {
			return y + 140, nil
		}
		return y + 120, nil
	}
	return y + 80, nil
}

func (g *Generator) emitEventScript(blocks map[string]*sb3.Block, script *EventScript, scope *genScope, y int) (int, error) {
	hat := &sb3.Block{
		Inputs:   map[string][]any{},
		Fields:   map[string][]any{},
		TopLevel: true,
		X:        fptr(320),
		Y:        fptr(float64(y)),
	}
	switch script.Kind {
	case EventFlagClicked:
		hat.Opcode = "event_whenflagclicked"
	case EventSpriteClicked:
		hat.Opcode = "event_whenthisspriteclicked"
	case EventMessage:
		hat.Opcode = "event_whenbroadcastreceived"
		hat.Fields["BROADCAST_OPTION"] = sb3.FieldWithID(script.Name, g.broadcastID(script.Name))
	case EventKeyPressed:
		hat.Opcode = "event_whenkeypressed"
		hat.Fields["KEY_OPTION"] = sb3.Field(script.Name)
	}
	hatID := newID()
	blocks[hatID] = hat
	first, last, err := g.emitChain(blocks, script.Body, hatID, scope)
	if err != nil {
		return 0, err
	}
	if first != "" {
		hat.Next = &first
		if last != "" {
			return y + 140, nil
		}
		return y + 120, nil
	}
	return y + 80, nil
}

func (g *Generator) emitChain(blocks map[string]*sb3.Block, body []Stmt, parentID string, scope *genScope) (first, last string, err error) {
	for _, stmt := range body {
		parent := last
		if parent == "" {
			parent = parentID
		}
		stmtFirst, stmtLast, err := g.emitStatement(blocks, stmt, parent, scope)
		if err != nil {
			return "", "", err
		}
		if last != "" {
			next := stmtFirst
			blocks[last].Next = &next
		}
		if first == "" {
			first = stmtFirst
		}
		last = stmtLast
	}
	return first, last, nil
}

// inputSpec names one expression input of a fixed-shape opcode.
type inputSpec struct {
	name string
	kind string
}

var cmdShapes = map[CmdOp]struct {
	opcode string
	inputs []inputSpec
}{
	CmdMove:           {"motion_movesteps", []inputSpec{{"STEPS", "number"}}},
	CmdTurnRight:      {"motion_turnright", []inputSpec{{"DEGREES", "number"}}},
	CmdTurnLeft:       {"motion_turnleft", []inputSpec{{"DEGREES", "number"}}},
	CmdGoToXY:         {"motion_gotoxy", []inputSpec{{"X", "number"}, {"Y", "number"}}},
	CmdSetX:           {"motion_setx", []inputSpec{{"X", "number"}}},
	CmdChangeX:        {"motion_changexby", []inputSpec{{"DX", "number"}}},
	CmdSetY:           {"motion_sety", []inputSpec{{"Y", "number"}}},
	CmdChangeY:        {"motion_changeyby", []inputSpec{{"DY", "number"}}},
	CmdPointDirection: {"motion_pointindirection", []inputSpec{{"DIRECTION", "number"}}},
	CmdIfOnEdgeBounce: {"motion_ifonedgebounce", nil},
	CmdSay:            {"looks_say", []inputSpec{{"MESSAGE", "string"}}},
	CmdSayFor:         {"looks_sayforsecs", []inputSpec{{"MESSAGE", "string"}, {"SECS", "number"}}},
	CmdThink:          {"looks_think", []inputSpec{{"MESSAGE", "string"}}},
	CmdShow:           {"looks_show", nil},
	CmdHide:           {"looks_hide", nil},
	CmdNextCostume:    {"looks_nextcostume", nil},
	CmdNextBackdrop:   {"looks_nextbackdrop", nil},
	CmdChangeSize:     {"looks_changesizeby", []inputSpec{{"CHANGE", "number"}}},
	CmdSetSize:        {"looks_setsizeto", []inputSpec{{"SIZE", "number"}}},
	CmdWait:           {"control_wait", []inputSpec{{"DURATION", "number"}}},
	CmdAsk:            {"sensing_askandwait", []inputSpec{{"QUESTION", "string"}}},
	CmdResetTimer:     {"sensing_resettimer", nil},
	CmdPenDown:        {"pen_penDown", nil},
	CmdPenUp:          {"pen_penUp", nil},
	CmdPenClear:       {"pen_clear", nil},
	CmdPenStamp:       {"pen_stamp", nil},
	CmdSetPenSize:     {"pen_setPenSizeTo", []inputSpec{{"SIZE", "number"}}},
	CmdChangePenSize:  {"pen_changePenSizeBy", []inputSpec{{"SIZE", "number"}}},
}

func (g *Generator) emitStatement(blocks map[string]*sb3.Block, stmt Stmt, parentID string, scope *genScope) (string, string, error) {
	single := func(id string, err error) (string, string, error) {
		return id, id, err
	}
	switch s := stmt.(type) {
	case *Command:
		shape, ok := cmdShapes[s.Op]
		if !ok {
			return "", "", fmt.Errorf("no block shape for command %d", s.Op)
		}
		blockID := newID()
		inputs := map[string][]any{}
		for i, spec := range shape.inputs {
			input, err := g.exprInput(blocks, s.Args[i], blockID, scope, spec.kind)
			if err != nil {
				return "", "", err
			}
			inputs[spec.name] = input
		}
		blocks[blockID] = stackBlock(shape.opcode, parentID, inputs, map[string][]any{})
		return blockID, blockID, nil
	case *Broadcast:
		return single(g.emitBroadcast(blocks, parentID, s.Message, s.Wait))
	case *SetVar:
		return single(g.emitVarWrite(blocks, parentID, "data_setvariableto", s.Name, s.Value, scope))
	case *ChangeVar:
		return single(g.emitVarWrite(blocks, parentID, "data_changevariableby", s.Name, s.Delta, scope))
	case *PenParam:
		return single(g.emitPenParam(blocks, parentID, s, scope))
	case *Repeat:
		return single(g.emitLoop(blocks, parentID, "control_repeat", "TIMES", "number", s.Times, s.Body, scope))
	case *RepeatUntil:
		return single(g.emitLoop(blocks, parentID, "control_repeat_until", "CONDITION", "boolean", s.Cond, s.Body, scope))
	case *While:
		return single(g.emitLoop(blocks, parentID, "control_while", "CONDITION", "boolean", s.Cond, s.Body, scope))
	case *ForEach:
		return single(g.emitForEach(blocks, parentID, s, scope))
	case *Forever:
		return single(g.emitLoop(blocks, parentID, "control_forever", "", "", nil, s.Body, scope))
	case *If:
		return single(g.emitIf(blocks, parentID, s, scope))
	case *WaitUntil:
		blockID := newID()
		cond, err := g.exprInput(blocks, s.Cond, blockID, scope, "boolean")
		if err != nil {
			return "", "", err
		}
		blocks[blockID] = stackBlock("control_wait_until", parentID, map[string][]any{"CONDITION": cond}, map[string][]any{})
		return blockID, blockID, nil
	case *Stop:
		return single(g.emitStop(blocks, parentID, s))
	case *Call:
		return g.emitCall(blocks, parentID, s.Name, s.Args, scope)
	case *AddToList:
		return single(g.emitListStmt(blocks, parentID, "data_addtolist", s.List, scope,
			inputExpr{"ITEM", "string", s.Item}))
	case *DeleteOfList:
		return single(g.emitListStmt(blocks, parentID, "data_deleteoflist", s.List, scope,
			inputExpr{"INDEX", "number", s.Index}))
	case *DeleteAllOfList:
		return single(g.emitListStmt(blocks, parentID, "data_deletealloflist", s.List, scope))
	case *InsertAtList:
		return single(g.emitListStmt(blocks, parentID, "data_insertatlist", s.List, scope,
			inputExpr{"ITEM", "string", s.Item}, inputExpr{"INDEX", "number", s.Index}))
	case *ReplaceItemOfList:
		return single(g.emitListStmt(blocks, parentID, "data_replaceitemoflist", s.List, scope,
			inputExpr{"INDEX", "number", s.Index}, inputExpr{"ITEM", "string", s.Item}))
	}
	return "", "", fmt.Errorf("unsupported statement %T", stmt)
}

type inputExpr struct {
	name string
	kind string
	expr Expr
}

func stackBlock(opcode, parentID string, inputs, fields map[string][]any) *sb3.Block {
	parent := parentID
	return &sb3.Block{
		Opcode: opcode,
		Parent: &parent,
		Inputs: inputs,
		Fields: fields,
	}
}

func (g *Generator) emitBroadcast(blocks map[string]*sb3.Block, parentID, message string, wait bool) (string, error) {
	opcode := "event_broadcast"
	if wait {
		opcode = "event_broadcastandwait"
	}
	blockID, menuID := newID(), newID()
	bid := g.broadcastID(message)
	blocks[blockID] = stackBlock(opcode, parentID,
		map[string][]any{"BROADCAST_INPUT": {1, menuID}}, map[string][]any{})
	menu := stackBlock("event_broadcast_menu", blockID,
		map[string][]any{}, map[string][]any{"BROADCAST_OPTION": sb3.FieldWithID(message, bid)})
	menu.Shadow = true
	blocks[menuID] = menu
	return blockID, nil
}

func (g *Generator) emitVarWrite(blocks map[string]*sb3.Block, parentID, opcode, name string, value Expr, scope *genScope) (string, error) {
	varID, ok := scope.varIDs[strings.ToLower(name)]
	if !ok {
		return "", fmt.Errorf("variable '%s' is not declared", name)
	}
	blockID := newID()
	input, err := g.exprInput(blocks, value, blockID, scope, "number")
	if err != nil {
		return "", err
	}
	blocks[blockID] = stackBlock(opcode, parentID,
		map[string][]any{"VALUE": input},
		map[string][]any{"VARIABLE": sb3.FieldWithID(name, varID)})
	return blockID, nil
}

func (g *Generator) emitPenParam(blocks map[string]*sb3.Block, parentID string, s *PenParam, scope *genScope) (string, error) {
	opcode := "pen_setPenColorParamTo"
	if s.Change {
		opcode = "pen_changePenColorParamBy"
	}
	blockID, menuID := newID(), newID()
	value, err := g.exprInput(blocks, s.Value, blockID, scope, "number")
	if err != nil {
		return "", err
	}
	blocks[blockID] = stackBlock(opcode, parentID,
		map[string][]any{"COLOR_PARAM": {1, menuID}, "VALUE": value}, map[string][]any{})
	menu := stackBlock("pen_menu_colorParam", blockID,
		map[string][]any{}, map[string][]any{"colorParam": sb3.Field(s.Param)})
	menu.Shadow = true
	blocks[menuID] = menu
	return blockID, nil
}

// emitLoop covers the loop family: an optional header input plus a SUBSTACK.
func (g *Generator) emitLoop(blocks map[string]*sb3.Block, parentID, opcode, inputName, kind string, header Expr, body []Stmt, scope *genScope) (string, error) {
	blockID := newID()
	inputs := map[string][]any{}
	if header != nil {
		input, err := g.exprInput(blocks, header, blockID, scope, kind)
		if err != nil {
			return "", err
		}
		inputs[inputName] = input
	}
	blocks[blockID] = stackBlock(opcode, parentID, inputs, map[string][]any{})
	first, _, err := g.emitChain(blocks, body, blockID, scope)
	if err != nil {
		return "", err
	}
	if first != "" {
		blocks[blockID].Inputs["SUBSTACK"] = sb3.BlockInput(first)
	}
	return blockID, nil
}

func (g *Generator) emitForEach(blocks map[string]*sb3.Block, parentID string, s *ForEach, scope *genScope) (string, error) {
	varID, ok := scope.varIDs[strings.ToLower(s.Var)]
	if !ok {
		return "", fmt.Errorf("variable '%s' is not declared", s.Var)
	}
	blockID := newID()
	value, err := g.exprInput(blocks, s.Value, blockID, scope, "number")
	if err != nil {
		return "", err
	}
	blocks[blockID] = stackBlock("control_for_each", parentID,
		map[string][]any{"VALUE": value},
		map[string][]any{"VARIABLE": sb3.FieldWithID(s.Var, varID)})
	first, _, err := g.emitChain(blocks, s.Body, blockID, scope)
	if err != nil {
		return "", err
	}
	if first != "" {
		blocks[blockID].Inputs["SUBSTACK"] = sb3.BlockInput(first)
	}
	return blockID, nil
}

func (g *Generator) emitIf(blocks map[string]*sb3.Block, parentID string, s *If, scope *genScope) (string, error) {
	blockID := newID()
	cond, err := g.exprInput(blocks, s.Cond, blockID, scope, "boolean")
	if err != nil {
		return "", err
	}
	blocks[blockID] = stackBlock("control_if_else", parentID,
		map[string][]any{"CONDITION": cond}, map[string][]any{})
	thenFirst, _, err := g.emitChain(blocks, s.Then, blockID, scope)
	if err != nil {
		return "", err
	}
	elseFirst, _, err := g.emitChain(blocks, s.Else, blockID, scope)
	if err != nil {
		return "", err
	}
	if thenFirst != "" {
		blocks[blockID].Inputs["SUBSTACK"] = sb3.BlockInput(thenFirst)
	}
	if elseFirst != "" {
		blocks[blockID].Inputs["SUBSTACK2"] = sb3.BlockInput(elseFirst)
	}
	return blockID, nil
}

// emitStop writes the stop option verbatim when it is a literal and
// otherwise falls back to "all", Scratch has no dynamic stop target.
func (g *Generator) emitStop(blocks map[string]*sb3.Block, parentID string, s *Stop) (string, error) {
	option := "all"
	if lit, ok := literalShadow(s.Option); ok {
		if text, ok := lit[1].(string); ok {
			option = text
		}
	}
	blockID := newID()
	block := stackBlock("control_stop", parentID,
		map[string][]any{}, map[string][]any{"STOP_OPTION": sb3.Field(option)})
	block.Mutation = sb3.NewMutation()
	block.Mutation.HasNext = "false"
	blocks[blockID] = block
	return blockID, nil
}

func (g *Generator) emitCall(blocks map[string]*sb3.Block, parentID, name string, args []Expr, scope *genScope) (string, string, error) {
	sig, ok := scope.sigs[strings.ToLower(name)]
	if !ok {
		if owner, member, qualified := SplitQualified(name); qualified {
			return g.emitRemoteCall(blocks, parentID, owner, member, args, scope)
		}
		if g.opts.Relaxed {
			blockID := newID()
			blocks[blockID] = stackBlock("control_wait", parentID,
				map[string][]any{"DURATION": sb3.NumberInput("0")}, map[string][]any{})
			return blockID, blockID, nil
		}
		return "", "", fmt.Errorf("unknown procedure '%s' during code generation", name)
	}
	blockID := newID()
	inputs := map[string][]any{}
	for i, argID := range sig.argIDs {
		if i >= len(args) {
			break
		}
		input, err := g.exprInput(blocks, args[i], blockID, scope, "string")
		if err != nil {
			return "", "", err
		}
		inputs[argID] = input
	}
	block := stackBlock("procedures_call", parentID, inputs, map[string][]any{})
	block.Mutation = sb3.NewMutation()
	block.Mutation.Proccode = sig.proccode
	block.Mutation.ArgumentIDs = mustJSON(sig.argIDs)
	block.Mutation.Warp = boolWord(sig.warp)
	blocks[blockID] = block
	return blockID, blockID, nil
}

// emitRemoteCall lowers a qualified call into assignments of the shared
// argument variables followed by broadcast-and-wait on the call's message.
func (g *Generator) emitRemoteCall(blocks map[string]*sb3.Block, parentID, owner, member string, args []Expr, scope *genScope) (string, string, error) {
	spec, err := g.remoteSpec(owner, member, len(args))
	if err != nil {
		return "", "", err
	}
	first, prev := "", ""
	for i, arg := range args {
		parent := prev
		if parent == "" {
			parent = parentID
		}
		id, err := g.emitVarWrite(blocks, parent, "data_setvariableto", spec.argVars[i], arg, scope)
		if err != nil {
			return "", "", err
		}
		if prev != "" {
			next := id
			blocks[prev].Next = &next
		}
		if first == "" {
			first = id
		}
		prev = id
	}
	parent := prev
	if parent == "" {
		parent = parentID
	}
	waitID, err := g.emitBroadcast(blocks, parent, spec.message, true)
	if err != nil {
		return "", "", err
	}
	if prev != "" {
		next := waitID
		blocks[prev].Next = &next
	} else {
		first = waitID
	}
	return first, waitID, nil
}

func (g *Generator) emitListStmt(blocks map[string]*sb3.Block, parentID, opcode, list string, scope *genScope, exprs ...inputExpr) (string, error) {
	listID, ok := scope.listIDs[strings.ToLower(list)]
	if !ok {
		return "", fmt.Errorf("list '%s' is not declared", list)
	}
	blockID := newID()
	inputs := map[string][]any{}
	for _, in := range exprs {
		input, err := g.exprInput(blocks, in.expr, blockID, scope, in.kind)
		if err != nil {
			return "", err
		}
		inputs[in.name] = input
	}
	blocks[blockID] = stackBlock(opcode, parentID, inputs,
		map[string][]any{"LIST": sb3.FieldWithID(list, listID)})
	return blockID, nil
}

// exprInput renders an expression as a block input: literals inline as
// shadows, everything else as a reporter reference.
func (g *Generator) exprInput(blocks map[string]*sb3.Block, expr Expr, parentID string, scope *genScope, kind string) ([]any, error) {
	if shadow, ok := literalShadow(expr); ok {
		return []any{1, shadow}, nil
	}
	id, err := g.emitReporter(blocks, expr, parentID, scope)
	if err != nil {
		return nil, err
	}
	if id == "" {
		return []any{1, defaultShadow(kind)}, nil
	}
	return sb3.BlockInput(id), nil
}

func literalShadow(expr Expr) ([]any, bool) {
	switch e := expr.(type) {
	case *NumberLit:
		return []any{sb3.LiteralNumber, formatNum(e.Value)}, true
	case *StringLit:
		return []any{sb3.LiteralString, e.Value}, true
	case *Grouping:
		return literalShadow(e.X)
	}
	return nil, false
}

func defaultShadow(kind string) []any {
	if kind == "number" {
		return []any{sb3.LiteralNumber, "0"}
	}
	return []any{sb3.LiteralString, ""}
}

func (g *Generator) emitReporter(blocks map[string]*sb3.Block, expr Expr, parentID string, scope *genScope) (string, error) {
	switch e := expr.(type) {
	case *NumberLit, *StringLit:
		return "", nil
	case *Grouping:
		return g.emitReporter(blocks, e.X, parentID, scope)
	case *Reporter:
		opcode := map[string]string{
			"answer":  "sensing_answer",
			"timer":   "sensing_timer",
			"mouse_x": "sensing_mousex",
			"mouse_y": "sensing_mousey",
		}[e.Kind]
		if opcode == "" {
			return "", fmt.Errorf("unsupported reporter '%s'", e.Kind)
		}
		blockID := newID()
		blocks[blockID] = stackBlock(opcode, parentID, map[string][]any{}, map[string][]any{})
		return blockID, nil
	case *MathFunc:
		blockID := newID()
		opcode, fields := "operator_mathop", map[string][]any{"OPERATOR": sb3.Field(e.Op)}
		if e.Op == "round" {
			opcode, fields = "operator_round", map[string][]any{}
		}
		blocks[blockID] = stackBlock(opcode, parentID, map[string][]any{}, fields)
		input, err := g.exprInput(blocks, e.X, blockID, scope, "number")
		if err != nil {
			return "", err
		}
		blocks[blockID].Inputs["NUM"] = input
		return blockID, nil
	case *VarRef:
		return g.emitVarReporter(blocks, e, parentID, scope)
	case *PickRandom:
		blockID := newID()
		blocks[blockID] = stackBlock("operator_random", parentID, map[string][]any{}, map[string][]any{})
		from, err := g.exprInput(blocks, e.From, blockID, scope, "number")
		if err != nil {
			return "", err
		}
		to, err := g.exprInput(blocks, e.To, blockID, scope, "number")
		if err != nil {
			return "", err
		}
		blocks[blockID].Inputs["FROM"] = from
		blocks[blockID].Inputs["TO"] = to
		return blockID, nil
	case *ListItem:
		listID, ok := scope.listIDs[strings.ToLower(e.List)]
		if !ok {
			return "", fmt.Errorf("list '%s' is not declared", e.List)
		}
		blockID := newID()
		blocks[blockID] = stackBlock("data_itemoflist", parentID,
			map[string][]any{}, map[string][]any{"LIST": sb3.FieldWithID(e.List, listID)})
		index, err := g.exprInput(blocks, e.Index, blockID, scope, "number")
		if err != nil {
			return "", err
		}
		blocks[blockID].Inputs["INDEX"] = index
		return blockID, nil
	case *ListLength:
		listID, ok := scope.listIDs[strings.ToLower(e.List)]
		if !ok {
			return "", fmt.Errorf("list '%s' is not declared", e.List)
		}
		blockID := newID()
		blocks[blockID] = stackBlock("data_lengthoflist", parentID,
			map[string][]any{}, map[string][]any{"LIST": sb3.FieldWithID(e.List, listID)})
		return blockID, nil
	case *ListContains:
		listID, ok := scope.listIDs[strings.ToLower(e.List)]
		if !ok {
			return "", fmt.Errorf("list '%s' is not declared", e.List)
		}
		blockID := newID()
		blocks[blockID] = stackBlock("data_listcontainsitem", parentID,
			map[string][]any{}, map[string][]any{"LIST": sb3.FieldWithID(e.List, listID)})
		item, err := g.exprInput(blocks, e.Item, blockID, scope, "string")
		if err != nil {
			return "", err
		}
		blocks[blockID].Inputs["ITEM"] = item
		return blockID, nil
	case *KeyPressed:
		blockID, menuID := newID(), newID()
		blocks[blockID] = stackBlock("sensing_keypressed", parentID,
			map[string][]any{"KEY_OPTION": {1, menuID}}, map[string][]any{})
		key := "space"
		if lit, ok := literalShadow(e.Key); ok {
			if code, isNum := lit[0].(int); isNum && code == sb3.LiteralString {
				key = lit[1].(string)
			}
		}
		menu := stackBlock("sensing_keyoptions", blockID,
			map[string][]any{}, map[string][]any{"KEY_OPTION": sb3.Field(key)})
		menu.Shadow = true
		blocks[menuID] = menu
		return blockID, nil
	case *Unary:
		return g.emitUnary(blocks, e, parentID, scope)
	case *Binary:
		return g.emitBinary(blocks, e, parentID, scope)
	}
	return "", fmt.Errorf("unsupported expression %T", expr)
}

func (g *Generator) emitVarReporter(blocks map[string]*sb3.Block, e *VarRef, parentID string, scope *genScope) (string, error) {
	lower := strings.ToLower(e.Name)
	if scope.params[lower] {
		blockID := newID()
		blocks[blockID] = stackBlock("argument_reporter_string_number", parentID,
			map[string][]any{}, map[string][]any{"VALUE": sb3.Field(e.Name)})
		return blockID, nil
	}
	if varID, ok := scope.varIDs[lower]; ok {
		blockID := newID()
		blocks[blockID] = stackBlock("data_variable", parentID,
			map[string][]any{}, map[string][]any{"VARIABLE": sb3.FieldWithID(e.Name, varID)})
		return blockID, nil
	}
	// A qualified name reads another sprite's variable through sensing_of.
	if owner, member, ok := SplitQualified(e.Name); ok {
		blockID, menuID := newID(), newID()
		blocks[blockID] = stackBlock("sensing_of", parentID,
			map[string][]any{"OBJECT": {1, menuID}},
			map[string][]any{"PROPERTY": sb3.Field(member)})
		menu := stackBlock("sensing_of_object_menu", blockID,
			map[string][]any{}, map[string][]any{"OBJECT": sb3.Field(owner)})
		menu.Shadow = true
		blocks[menuID] = menu
		return blockID, nil
	}
	return "", fmt.Errorf("variable '%s' is not declared", e.Name)
}

func (g *Generator) emitUnary(blocks map[string]*sb3.Block, e *Unary, parentID string, scope *genScope) (string, error) {
	switch e.Op {
	case "-":
		blockID := newID()
		blocks[blockID] = stackBlock("operator_subtract", parentID,
			map[string][]any{"NUM1": sb3.NumberInput("0")}, map[string][]any{})
		operand, err := g.exprInput(blocks, e.X, blockID, scope, "number")
		if err != nil {
			return "", err
		}
		blocks[blockID].Inputs["NUM2"] = operand
		return blockID, nil
	case "not":
		blockID := newID()
		operand, err := g.exprInput(blocks, e.X, blockID, scope, "boolean")
		if err != nil {
			return "", err
		}
		blocks[blockID] = stackBlock("operator_not", parentID,
			map[string][]any{"OPERAND": operand}, map[string][]any{})
		return blockID, nil
	}
	return "", fmt.Errorf("unsupported unary operator '%s'", e.Op)
}

// emitBinary rewrites <= and >= as or(strict, equals) and != as
// not(equals), the runtime only ships the strict comparison blocks.
func (g *Generator) emitBinary(blocks map[string]*sb3.Block, e *Binary, parentID string, scope *genScope) (string, error) {
	switch e.Op {
	case "<=", ">=":
		strict := "<"
		if e.Op == ">=" {
			strict = ">"
		}
		rewritten := &Binary{
			Pos: e.Pos,
			Op:  "or",
			L:   &Binary{Pos: e.Pos, Op: strict, L: e.L, R: e.R},
			R:   &Binary{Pos: e.Pos, Op: "=", L: e.L, R: e.R},
		}
		return g.emitBinary(blocks, rewritten, parentID, scope)
	case "!=":
		rewritten := &Unary{
			Pos: e.Pos,
			Op:  "not",
			X:   &Binary{Pos: e.Pos, Op: "=", L: e.L, R: e.R},
		}
		return g.emitUnary(blocks, rewritten, parentID, scope)
	}

	var opcode, leftKey, rightKey, kind string
	switch e.Op {
	case "+":
		opcode = "operator_add"
	case "-":
		opcode = "operator_subtract"
	case "*":
		opcode = "operator_multiply"
	case "/":
		opcode = "operator_divide"
	case "%":
		opcode = "operator_mod"
	case "<":
		opcode = "operator_lt"
	case ">":
		opcode = "operator_gt"
	case "=", "==":
		opcode = "operator_equals"
	case "and":
		opcode = "operator_and"
	case "or":
		opcode = "operator_or"
	default:
		return "", fmt.Errorf("unsupported binary operator '%s'", e.Op)
	}
	switch opcode {
	case "operator_add", "operator_subtract", "operator_multiply", "operator_divide", "operator_mod":
		leftKey, rightKey, kind = "NUM1", "NUM2", "number"
	case "operator_lt", "operator_gt":
		leftKey, rightKey, kind = "OPERAND1", "OPERAND2", "number"
	case "operator_equals":
		leftKey, rightKey, kind = "OPERAND1", "OPERAND2", "string"
	default:
		leftKey, rightKey, kind = "OPERAND1", "OPERAND2", "boolean"
	}

	blockID := newID()
	blocks[blockID] = stackBlock(opcode, parentID, map[string][]any{}, map[string][]any{})
	left, err := g.exprInput(blocks, e.L, blockID, scope, kind)
	if err != nil {
		return "", err
	}
	right, err := g.exprInput(blocks, e.R, blockID, scope, kind)
	if err != nil {
		return "", err
	}
	blocks[blockID].Inputs[leftKey] = left
	blocks[blockID].Inputs[rightKey] = right
	return blockID, nil
}

func (g *Generator) buildCostumes(target *Target) ([]*sb3.Costume, error) {
	decls := target.Costumes
	if len(decls) == 0 {
		decls = []*CostumeDecl{{Pos: target.Pos, Path: ""}}
	}
	baseName := "costume"
	if target.IsStage {
		baseName = "backdrop"
	}

	var out []*sb3.Costume
	used := map[string]bool{}
	for i, decl := range decls {
		var data []byte
		var ext, name string
		if decl.Path == "" {
			data = []byte(defaultCostumeSVG)
			ext = "svg"
			name = fmt.Sprintf("%s%d", baseName, i+1)
		} else {
			resolved := g.resolveCostumePath(decl.Path)
			loaded, err := g.fsys.ReadFile(resolved)
			if err != nil {
				return nil, fmt.Errorf("costume file not found for target '%s': '%s' resolved to '%s'", target.Name, decl.Path, resolved)
			}
			ext = strings.ToLower(strings.TrimPrefix(filepath.Ext(resolved), "."))
			if ext != "svg" && ext != "png" {
				return nil, fmt.Errorf("unsupported costume format '.%s' for '%s', only .svg and .png are supported", ext, decl.Path)
			}
			data = loaded
			name = strings.TrimSuffix(filepath.Base(resolved), filepath.Ext(resolved))
		}

		var centerX, centerY float64
		if ext == "svg" {
			prepared, cx, cy, err := prepareSVG(data, decl.Path, g.opts.ScaleSVGs)
			if err != nil {
				if errors.Is(err, errNonPositiveViewBox) {
					g.warnings = append(g.warnings, Warning{
						Msg: fmt.Sprintf("skipping SVG costume '%s' for target '%s' due to non-positive viewBox dimensions", decl.Path, target.Name),
					})
					continue
				}
				return nil, err
			}
			data, centerX, centerY = prepared, cx, cy
		}

		costume := g.registerAsset(uniqueCostumeName(name, used), data, ext, centerX, centerY)
		if ext == "png" {
			costume.BitmapResolution = 1
		}
		out = append(out, costume)
	}

	if len(out) == 0 {
		prepared, cx, cy, err := prepareSVG([]byte(defaultCostumeSVG), "default", g.opts.ScaleSVGs)
		if err != nil {
			return nil, err
		}
		out = append(out, g.registerAsset(uniqueCostumeName(baseName+"1", used), prepared, "svg", cx, cy))
	}
	return out, nil
}

func (g *Generator) registerAsset(name string, data []byte, ext string, centerX, centerY float64) *sb3.Costume {
	digest := fmt.Sprintf("%x", md5.Sum(data))
	md5ext := digest + "." + ext
	g.assets[md5ext] = data
	return &sb3.Costume{
		Name:            name,
		DataFormat:      ext,
		AssetID:         digest,
		MD5Ext:          md5ext,
		RotationCenterX: centerX,
		RotationCenterY: centerY,
	}
}

// resolveCostumePath tries the source directory, its parent, and the path as
// written, in that order.
func (g *Generator) resolveCostumePath(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	candidates := []string{
		filepath.Join(g.sourceDir, path),
		filepath.Join(filepath.Dir(g.sourceDir), path),
		path,
	}
	for _, candidate := range candidates {
		if g.fsys.Exists(candidate) {
			return candidate
		}
	}
	return candidates[0]
}

func uniqueCostumeName(base string, used map[string]bool) string {
	base = strings.TrimSpace(base)
	if base == "" {
		base = "costume"
	}
	candidate := base
	for suffix := 2; used[strings.ToLower(candidate)]; suffix++ {
		candidate = fmt.Sprintf("%s %d", base, suffix)
	}
	used[strings.ToLower(candidate)] = true
	return candidate
}

func (g *Generator) usesPen() bool {
	pen := false
	check := func(stmt Stmt) {
		switch s := stmt.(type) {
		case *PenParam:
			pen = true
		case *Command:
			switch s.Op {
			case CmdPenDown, CmdPenUp, CmdPenClear, CmdPenStamp, CmdSetPenSize, CmdChangePenSize:
				pen = true
			}
		}
	}
	for _, target := range g.project.Targets {
		for _, script := range target.Scripts {
			walkStatements(script.Body, check)
		}
		for _, proc := range target.Procedures {
			walkStatements(proc.Body, check)
		}
	}
	return pen
}

// walkStatements visits every statement in the body, descending into nested
// bodies.
func walkStatements(body []Stmt, visit func(Stmt)) {
	for _, stmt := range body {
		visit(stmt)
		switch s := stmt.(type) {
		case *Repeat:
			walkStatements(s.Body, visit)
		case *RepeatUntil:
			walkStatements(s.Body, visit)
		case *While:
			walkStatements(s.Body, visit)
		case *ForEach:
			walkStatements(s.Body, visit)
		case *Forever:
			walkStatements(s.Body, visit)
		case *If:
			walkStatements(s.Then, visit)
			walkStatements(s.Else, visit)
		}
	}
}

func mustJSON(v any) string {
	out, err := json.Marshal(v)
	if err != nil {
		return "[]"
	}
	return string(out)
}

func boolWord(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

func fptr(v float64) *float64 {
	return &v
}
