package decompile

import (
	"encoding/json"
	"fmt"
	"strings"
)

func (d *decompiler) exprFromInput(blocks blockTable, block *rawBlock, inputName string) (string, error) {
	input, ok := block.Inputs[inputName]
	if !ok {
		return "0", nil
	}
	return d.inputToExpr(blocks, input)
}

func (d *decompiler) inputToExpr(blocks blockTable, input any) (string, error) {
	if id, ok := input.(string); ok {
		return d.reporterExpr(blocks, id)
	}
	arr, ok := input.([]any)
	if !ok || len(arr) < 2 {
		return "0", nil
	}
	mode, _ := arr[0].(float64)
	payload := arr[1]
	switch int(mode) {
	case 1:
		if id, ok := payload.(string); ok {
			return d.reporterExpr(blocks, id)
		}
		if lit, ok := payload.([]any); ok {
			return literalToExpr(lit), nil
		}
	case 2, 3:
		if id, ok := payload.(string); ok {
			return d.reporterExpr(blocks, id)
		}
	}
	return "0", nil
}

func (d *decompiler) reporterExpr(blocks blockTable, id string) (string, error) {
	block, err := blocks.get(id)
	if err != nil {
		return "", err
	}
	switch block.Opcode {
	case "data_variable":
		return formatVarRef(fieldString(block, "VARIABLE", "var")), nil
	case "argument_reporter_string_number":
		return formatVarRef(fieldString(block, "VALUE", "")), nil
	case "sensing_answer":
		return "answer", nil
	case "sensing_mousex":
		return "mouse x", nil
	case "sensing_mousey":
		return "mouse y", nil
	case "sensing_timer":
		return "timer", nil
	case "operator_round":
		num, err := d.exprFromInput(blocks, block, "NUM")
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("round (%s)", num), nil
	case "operator_mathop":
		num, err := d.exprFromInput(blocks, block, "NUM")
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%s (%s)", fieldString(block, "OPERATOR", "floor"), num), nil
	case "sensing_of":
		prop := fieldString(block, "PROPERTY", "var")
		object := "Sprite"
		if menuID, ok := inputBlockID(block, "OBJECT"); ok {
			if menu, found := blocks[menuID]; found {
				object = fieldString(menu, "OBJECT", object)
			}
		}
		return fmt.Sprintf("%s.%s", object, prop), nil
	case "operator_random":
		from, err := d.exprFromInput(blocks, block, "FROM")
		if err != nil {
			return "", err
		}
		to, err := d.exprFromInput(blocks, block, "TO")
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("pick random (%s) to (%s)", from, to), nil
	case "data_itemoflist":
		index, err := d.exprFromInput(blocks, block, "INDEX")
		if err != nil {
			return "", err
		}
		list := fieldString(block, "LIST", "list")
		return fmt.Sprintf("item (%s) of [%s]", index, formatBracketName(list)), nil
	case "data_lengthoflist":
		list := fieldString(block, "LIST", "list")
		return fmt.Sprintf("length of [%s]", formatBracketName(list)), nil
	case "data_listcontainsitem":
		item, err := d.exprFromInput(blocks, block, "ITEM")
		if err != nil {
			return "", err
		}
		list := fieldString(block, "LIST", "list")
		return fmt.Sprintf("[%s] contains (%s)", formatBracketName(list), item), nil
	case "sensing_keypressed":
		key := menuField(blocks, block, "KEY_OPTION", "KEY_OPTION", "space")
		return fmt.Sprintf("key (%s) pressed?", quoteStr(key)), nil
	case "operator_not":
		operand, err := d.exprFromInput(blocks, block, "OPERAND")
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("not (%s)", operand), nil
	case "operator_add":
		return d.binaryExpr(blocks, block, "+", "NUM1", "NUM2")
	case "operator_subtract":
		return d.binaryExpr(blocks, block, "-", "NUM1", "NUM2")
	case "operator_multiply":
		return d.binaryExpr(blocks, block, "*", "NUM1", "NUM2")
	case "operator_divide":
		return d.binaryExpr(blocks, block, "/", "NUM1", "NUM2")
	case "operator_mod":
		return d.binaryExpr(blocks, block, "%", "NUM1", "NUM2")
	case "operator_lt":
		return d.binaryExpr(blocks, block, "<", "OPERAND1", "OPERAND2")
	case "operator_gt":
		return d.binaryExpr(blocks, block, ">", "OPERAND1", "OPERAND2")
	case "operator_equals":
		return d.binaryExpr(blocks, block, "=", "OPERAND1", "OPERAND2")
	case "operator_and":
		return d.binaryExpr(blocks, block, "and", "OPERAND1", "OPERAND2")
	case "operator_or":
		return d.binaryExpr(blocks, block, "or", "OPERAND1", "OPERAND2")
	}
	d.warnf("unsupported reporter opcode '%s' on block %s", block.Opcode, id)
	return "0", nil
}

func (d *decompiler) binaryExpr(blocks blockTable, block *rawBlock, op, left, right string) (string, error) {
	l, err := d.exprFromInput(blocks, block, left)
	if err != nil {
		return "", err
	}
	r, err := d.exprFromInput(blocks, block, right)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("((%s) %s (%s))", l, op, r), nil
}

// inputBlockID returns the block id referenced by an input, either a bare
// string or the second slot of its array form.
func inputBlockID(block *rawBlock, inputName string) (string, bool) {
	input, ok := block.Inputs[inputName]
	if !ok {
		return "", false
	}
	if id, ok := input.(string); ok {
		return id, true
	}
	arr, ok := input.([]any)
	if !ok || len(arr) < 2 {
		return "", false
	}
	id, ok := arr[1].(string)
	return id, ok
}

// fieldString returns a field's first slot, which holds the display value.
func fieldString(block *rawBlock, fieldName, fallback string) string {
	value, ok := block.Fields[fieldName]
	if !ok {
		return fallback
	}
	if s, ok := value.(string); ok {
		return s
	}
	arr, ok := value.([]any)
	if !ok || len(arr) == 0 {
		return fallback
	}
	if s, ok := arr[0].(string); ok {
		return s
	}
	return fallback
}

func menuField(blocks blockTable, block *rawBlock, inputName, fieldName, fallback string) string {
	menuID, ok := inputBlockID(block, inputName)
	if !ok {
		return fallback
	}
	menu, ok := blocks[menuID]
	if !ok {
		return fallback
	}
	return fieldString(menu, fieldName, fallback)
}

func broadcastMessage(blocks blockTable, block *rawBlock) string {
	return menuField(blocks, block, "BROADCAST_INPUT", "BROADCAST_OPTION", "message1")
}

func procedureCallShape(block *rawBlock) (string, []string, error) {
	if block.Mutation == nil {
		return "", nil, fmt.Errorf("procedures_call block missing mutation")
	}
	proccode, _ := block.Mutation["proccode"].(string)
	if proccode == "" {
		return "", nil, fmt.Errorf("procedures_call mutation missing proccode")
	}
	var argIDs []string
	if raw, ok := block.Mutation["argumentids"].(string); ok {
		_ = json.Unmarshal([]byte(raw), &argIDs)
	}
	return proccodeName(proccode), argIDs, nil
}

// proccodeName strips the %s parameter slots from a proccode.
func proccodeName(proccode string) string {
	var parts []string
	for _, token := range strings.Fields(proccode) {
		if token == "%s" {
			break
		}
		parts = append(parts, token)
	}
	if len(parts) == 0 {
		return proccode
	}
	return strings.Join(parts, " ")
}

func literalToExpr(lit []any) string {
	if len(lit) < 2 {
		return "0"
	}
	code, _ := lit[0].(float64)
	text := ""
	if s, ok := lit[1].(string); ok {
		text = s
	} else if n, ok := lit[1].(float64); ok {
		text = trimFloat(n)
	}
	if int(code) == 4 {
		if text == "" {
			return "0"
		}
		return text
	}
	return quoteStr(text)
}

func trimFloat(v float64) string {
	s := fmt.Sprintf("%g", v)
	return s
}

// formatVarRef renders a variable reference, bracketing names that cannot
// stand bare in an expression.
func formatVarRef(name string) string {
	if isSimpleIdentifierOrQualified(name) {
		return name
	}
	return fmt.Sprintf("[%s]", formatBracketName(name))
}

func formatBracketName(name string) string {
	if isSimpleIdentifierOrQualified(name) {
		return name
	}
	return quoteStr(name)
}

func isSimpleIdentifierOrQualified(name string) bool {
	if left, right, found := strings.Cut(name, "."); found {
		if strings.Contains(right, ".") {
			return false
		}
		return isSimpleIdentifier(left) && isSimpleIdentifier(right)
	}
	return isSimpleIdentifier(name)
}

func isSimpleIdentifier(name string) bool {
	if name == "" {
		return false
	}
	for i, c := range name {
		if i == 0 {
			if !(c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c == '_') {
				return false
			}
			continue
		}
		if !(c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c == '_' || c == '?') {
			return false
		}
	}
	return true
}

func quoteStr(s string) string {
	escaped := strings.ReplaceAll(s, `\`, `\\`)
	escaped = strings.ReplaceAll(escaped, `"`, `\"`)
	return `"` + escaped + `"`
}
