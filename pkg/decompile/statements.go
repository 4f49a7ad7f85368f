package decompile

import (
	"fmt"
	"strings"
)

// stmtRenderer turns one stack block into source lines.
type stmtRenderer func(d *decompiler, blocks blockTable, id string, block *rawBlock, indent int, visited map[string]bool) ([]string, error)

// stmtRenderers is the recognized-opcode table. Anything absent falls back
// to a marker comment so foreign opcodes never abort a decompile.
var stmtRenderers map[string]stmtRenderer

func init() {
	stmtRenderers = map[string]stmtRenderer{
		"event_broadcast": func(d *decompiler, blocks blockTable, id string, block *rawBlock, indent int, visited map[string]bool) ([]string, error) {
			return line(indent, "broadcast [%s]", broadcastMessage(blocks, block)), nil
		},
		"event_broadcastandwait": func(d *decompiler, blocks blockTable, id string, block *rawBlock, indent int, visited map[string]bool) ([]string, error) {
			return line(indent, "broadcast and wait [%s]", broadcastMessage(blocks, block)), nil
		},
		"data_setvariableto": func(d *decompiler, blocks blockTable, id string, block *rawBlock, indent int, visited map[string]bool) ([]string, error) {
			value, err := d.exprFromInput(blocks, block, "VALUE")
			if err != nil {
				return nil, err
			}
			name := fieldString(block, "VARIABLE", "var")
			return line(indent, "set [%s] to (%s)", formatBracketName(name), value), nil
		},
		"data_changevariableby": func(d *decompiler, blocks blockTable, id string, block *rawBlock, indent int, visited map[string]bool) ([]string, error) {
			value, err := d.exprFromInput(blocks, block, "VALUE")
			if err != nil {
				return nil, err
			}
			name := fieldString(block, "VARIABLE", "var")
			return line(indent, "change [%s] by (%s)", formatBracketName(name), value), nil
		},
		"motion_movesteps":         inputStmt("move (%s) [steps]", "STEPS"),
		"motion_turnright":         inputStmt("turn right (%s)", "DEGREES"),
		"motion_turnleft":          inputStmt("turn left (%s)", "DEGREES"),
		"motion_gotoxy":            inputStmt("go to x (%s) y (%s)", "X", "Y"),
		"motion_changexby":         inputStmt("change x by (%s)", "DX"),
		"motion_setx":              inputStmt("set x to (%s)", "X"),
		"motion_changeyby":         inputStmt("change y by (%s)", "DY"),
		"motion_sety":              inputStmt("set y to (%s)", "Y"),
		"motion_pointindirection":  inputStmt("point in direction (%s)", "DIRECTION"),
		"motion_ifonedgebounce":    wordStmt("if on edge bounce"),
		"looks_say":                inputStmt("say (%s)", "MESSAGE"),
		"looks_sayforsecs":         inputStmt("say (%s) for (%s) [seconds]", "MESSAGE", "SECS"),
		"looks_think":              inputStmt("think (%s)", "MESSAGE"),
		"looks_changesizeby":       inputStmt("change size by (%s)", "CHANGE"),
		"looks_setsizeto":          inputStmt("set size to (%s)", "SIZE"),
		"looks_show":               wordStmt("show"),
		"looks_hide":               wordStmt("hide"),
		"looks_nextcostume":        wordStmt("next costume"),
		"looks_nextbackdrop":       wordStmt("next backdrop"),
		"control_wait":             inputStmt("wait (%s)", "DURATION"),
		"sensing_askandwait":       inputStmt("ask (%s)", "QUESTION"),
		"sensing_resettimer":       wordStmt("reset timer"),
		"pen_penDown":              wordStmt("pen down"),
		"pen_penUp":                wordStmt("pen up"),
		"pen_clear":                wordStmt("erase all"),
		"pen_stamp":                wordStmt("stamp"),
		"pen_changePenSizeBy":      inputStmt("change pen size by (%s)", "SIZE"),
		"pen_setPenSizeTo":         inputStmt("set pen size to (%s)", "SIZE"),
		"control_wait_until": func(d *decompiler, blocks blockTable, id string, block *rawBlock, indent int, visited map[string]bool) ([]string, error) {
			cond, err := d.exprFromInput(blocks, block, "CONDITION")
			if err != nil {
				return nil, err
			}
			return line(indent, "wait until <%s>", cond), nil
		},
		"control_repeat":       loopStmt("repeat (%s)", "TIMES"),
		"control_repeat_until": loopStmt("repeat until <%s>", "CONDITION"),
		"control_while":        loopStmt("while <%s>", "CONDITION"),
		"control_forever":      loopStmt("forever", ""),
		"control_for_each": func(d *decompiler, blocks blockTable, id string, block *rawBlock, indent int, visited map[string]bool) ([]string, error) {
			value, err := d.exprFromInput(blocks, block, "VALUE")
			if err != nil {
				return nil, err
			}
			name := fieldString(block, "VARIABLE", "var")
			out := line(indent, "for each [%s] in (%s)", formatBracketName(name), value)
			body, err := d.decompileSubstack(blocks, block, "SUBSTACK", indent, visited)
			if err != nil {
				return nil, err
			}
			out = append(out, body...)
			return append(out, pad(indent)+"end"), nil
		},
		"control_if":      ifStmt(false),
		"control_if_else": ifStmt(true),
		"control_stop": func(d *decompiler, blocks blockTable, id string, block *rawBlock, indent int, visited map[string]bool) ([]string, error) {
			option := fieldString(block, "STOP_OPTION", "all")
			return line(indent, "stop (%s)", quoteStr(option)), nil
		},
		"data_addtolist": func(d *decompiler, blocks blockTable, id string, block *rawBlock, indent int, visited map[string]bool) ([]string, error) {
			item, err := d.exprFromInput(blocks, block, "ITEM")
			if err != nil {
				return nil, err
			}
			list := fieldString(block, "LIST", "list")
			return line(indent, "add (%s) to [%s]", item, formatBracketName(list)), nil
		},
		"data_deleteoflist": func(d *decompiler, blocks blockTable, id string, block *rawBlock, indent int, visited map[string]bool) ([]string, error) {
			index, err := d.exprFromInput(blocks, block, "INDEX")
			if err != nil {
				return nil, err
			}
			list := fieldString(block, "LIST", "list")
			return line(indent, "delete (%s) of [%s]", index, formatBracketName(list)), nil
		},
		"data_deletealloflist": func(d *decompiler, blocks blockTable, id string, block *rawBlock, indent int, visited map[string]bool) ([]string, error) {
			list := fieldString(block, "LIST", "list")
			return line(indent, "delete all of [%s]", formatBracketName(list)), nil
		},
		"data_insertatlist": func(d *decompiler, blocks blockTable, id string, block *rawBlock, indent int, visited map[string]bool) ([]string, error) {
			item, err := d.exprFromInput(blocks, block, "ITEM")
			if err != nil {
				return nil, err
			}
			index, err := d.exprFromInput(blocks, block, "INDEX")
			if err != nil {
				return nil, err
			}
			list := fieldString(block, "LIST", "list")
			return line(indent, "insert (%s) at (%s) of [%s]", item, index, formatBracketName(list)), nil
		},
		"data_replaceitemoflist": func(d *decompiler, blocks blockTable, id string, block *rawBlock, indent int, visited map[string]bool) ([]string, error) {
			item, err := d.exprFromInput(blocks, block, "ITEM")
			if err != nil {
				return nil, err
			}
			index, err := d.exprFromInput(blocks, block, "INDEX")
			if err != nil {
				return nil, err
			}
			list := fieldString(block, "LIST", "list")
			return line(indent, "replace item (%s) of [%s] with (%s)", index, formatBracketName(list), item), nil
		},
		"procedures_call": func(d *decompiler, blocks blockTable, id string, block *rawBlock, indent int, visited map[string]bool) ([]string, error) {
			name, argIDs, err := procedureCallShape(block)
			if err != nil {
				return nil, err
			}
			text := pad(indent) + name
			for _, argID := range argIDs {
				arg, err := d.exprFromInput(blocks, block, argID)
				if err != nil {
					return nil, err
				}
				text += fmt.Sprintf(" (%s)", arg)
			}
			return []string{text}, nil
		},
		"pen_changePenColorParamBy": penParamStmt("change pen %s by (%s)"),
		"pen_setPenColorParamTo":    penParamStmt("set pen %s to (%s)"),
	}
}

func (d *decompiler) decompileStatement(blocks blockTable, id string, block *rawBlock, indent int, visited map[string]bool) ([]string, error) {
	if render, ok := stmtRenderers[block.Opcode]; ok {
		return render(d, blocks, id, block, indent, visited)
	}
	d.warnf("unsupported opcode '%s' on block %s", block.Opcode, id)
	return line(indent, "# unsupported opcode: %s (block %s)", block.Opcode, id), nil
}

func (d *decompiler) decompileSubstack(blocks blockTable, block *rawBlock, inputName string, indent int, visited map[string]bool) ([]string, error) {
	var start *string
	if sub, ok := inputBlockID(block, inputName); ok {
		start = &sub
	}
	return d.decompileChain(blocks, start, indent+2, visited)
}

func wordStmt(text string) stmtRenderer {
	return func(d *decompiler, blocks blockTable, id string, block *rawBlock, indent int, visited map[string]bool) ([]string, error) {
		return []string{pad(indent) + text}, nil
	}
}

func inputStmt(format string, inputs ...string) stmtRenderer {
	return func(d *decompiler, blocks blockTable, id string, block *rawBlock, indent int, visited map[string]bool) ([]string, error) {
		args := make([]any, 0, len(inputs))
		for _, name := range inputs {
			expr, err := d.exprFromInput(blocks, block, name)
			if err != nil {
				return nil, err
			}
			args = append(args, expr)
		}
		return line(indent, format, args...), nil
	}
}

func loopStmt(format, inputName string) stmtRenderer {
	return func(d *decompiler, blocks blockTable, id string, block *rawBlock, indent int, visited map[string]bool) ([]string, error) {
		var out []string
		if inputName == "" {
			out = line(indent, "%s", format)
		} else {
			header, err := d.exprFromInput(blocks, block, inputName)
			if err != nil {
				return nil, err
			}
			out = line(indent, format, header)
		}
		body, err := d.decompileSubstack(blocks, block, "SUBSTACK", indent, visited)
		if err != nil {
			return nil, err
		}
		out = append(out, body...)
		return append(out, pad(indent)+"end"), nil
	}
}

func ifStmt(withElse bool) stmtRenderer {
	return func(d *decompiler, blocks blockTable, id string, block *rawBlock, indent int, visited map[string]bool) ([]string, error) {
		cond, err := d.exprFromInput(blocks, block, "CONDITION")
		if err != nil {
			return nil, err
		}
		out := line(indent, "if <%s> then", cond)
		thenBody, err := d.decompileSubstack(blocks, block, "SUBSTACK", indent, visited)
		if err != nil {
			return nil, err
		}
		out = append(out, thenBody...)
		if withElse {
			out = append(out, pad(indent)+"else")
			elseBody, err := d.decompileSubstack(blocks, block, "SUBSTACK2", indent, visited)
			if err != nil {
				return nil, err
			}
			out = append(out, elseBody...)
		}
		return append(out, pad(indent)+"end"), nil
	}
}

func penParamStmt(format string) stmtRenderer {
	return func(d *decompiler, blocks blockTable, id string, block *rawBlock, indent int, visited map[string]bool) ([]string, error) {
		param := menuField(blocks, block, "COLOR_PARAM", "colorParam", "color")
		value, err := d.exprFromInput(blocks, block, "VALUE")
		if err != nil {
			return nil, err
		}
		return line(indent, format, param, value), nil
	}
}

func line(indent int, format string, args ...any) []string {
	return []string{pad(indent) + fmt.Sprintf(format, args...)}
}

func pad(n int) string {
	return strings.Repeat(" ", n)
}
