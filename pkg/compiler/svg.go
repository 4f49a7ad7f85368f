package compiler

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/beevik/etree"
)

const svgTargetSize = 64.0

var errNonPositiveViewBox = errors.New("svg viewBox must have positive width and height")

// prepareSVG parses a costume SVG and returns the bytes to package plus the
// rotation center. With scaling enabled the drawing is wrapped in a group
// that maps its bounds onto a 64x64 canvas, centering rotation at 32,32;
// otherwise the original geometry is kept and the center is the midpoint.
func prepareSVG(data []byte, sourceName string, scale bool) ([]byte, float64, float64, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(data); err != nil {
		return nil, 0, 0, fmt.Errorf("invalid SVG file '%s': %w", sourceName, err)
	}
	root := doc.Root()
	if root == nil {
		return nil, 0, 0, fmt.Errorf("invalid SVG file '%s': no root element", sourceName)
	}
	minX, minY, width, height, err := readSVGBounds(root, sourceName)
	if err != nil {
		return nil, 0, 0, err
	}
	if !scale {
		out, err := doc.WriteToBytes()
		if err != nil {
			return nil, 0, 0, err
		}
		return out, width / 2, height / 2, nil
	}

	transform := fmt.Sprintf("translate(%s %s) scale(%s %s)",
		formatNum(-minX), formatNum(-minY),
		formatNum(svgTargetSize/width), formatNum(svgTargetSize/height))
	wrapper := etree.NewElement("g")
	wrapper.CreateAttr("transform", transform)
	for _, child := range append([]etree.Token{}, root.Child...) {
		root.RemoveChild(child)
		wrapper.AddChild(child)
	}
	size := formatNum(svgTargetSize)
	root.CreateAttr("viewBox", "0 0 "+size+" "+size)
	root.CreateAttr("width", size)
	root.CreateAttr("height", size)
	root.AddChild(wrapper)

	out, err := doc.WriteToBytes()
	if err != nil {
		return nil, 0, 0, err
	}
	return out, svgTargetSize / 2, svgTargetSize / 2, nil
}

// readSVGBounds prefers the viewBox, falls back to width/height attributes,
// and finally assumes a 64x64 canvas.
func readSVGBounds(root *etree.Element, sourceName string) (minX, minY, width, height float64, err error) {
	if viewBox := root.SelectAttrValue("viewBox", ""); viewBox != "" {
		bounds, ok, err := parseViewBox(viewBox, sourceName)
		if err != nil {
			return 0, 0, 0, 0, err
		}
		if ok {
			return bounds[0], bounds[1], bounds[2], bounds[3], nil
		}
	}
	w, wok := parseSVGLength(root.SelectAttrValue("width", ""))
	h, hok := parseSVGLength(root.SelectAttrValue("height", ""))
	if wok && hok {
		return 0, 0, w, h, nil
	}
	return 0, 0, svgTargetSize, svgTargetSize, nil
}

func parseViewBox(viewBox, sourceName string) ([4]float64, bool, error) {
	fields := strings.FieldsFunc(viewBox, func(r rune) bool {
		return r == ' ' || r == '\t' || r == '\n' || r == ',' || r == '\r'
	})
	if len(fields) != 4 {
		return [4]float64{}, false, nil
	}
	var out [4]float64
	for i, field := range fields {
		n, err := strconv.ParseFloat(field, 64)
		if err != nil {
			return [4]float64{}, false, fmt.Errorf("invalid SVG viewBox in '%s': '%s'", sourceName, viewBox)
		}
		out[i] = n
	}
	if out[2] <= 0 || out[3] <= 0 {
		return [4]float64{}, false, fmt.Errorf("%w in '%s'", errNonPositiveViewBox, sourceName)
	}
	return out, true, nil
}

// parseSVGLength reads the leading decimal number of a length attribute,
// ignoring any unit suffix. Non-positive lengths are rejected.
func parseSVGLength(value string) (float64, bool) {
	s := strings.TrimSpace(value)
	if s == "" {
		return 0, false
	}
	end := 0
	if s[0] == '+' || s[0] == '-' {
		end = 1
	}
	sawDigit := false
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		sawDigit = true
		end++
	}
	if end < len(s) && s[end] == '.' {
		end++
		for end < len(s) && s[end] >= '0' && s[end] <= '9' {
			sawDigit = true
			end++
		}
	}
	if !sawDigit {
		return 0, false
	}
	n, err := strconv.ParseFloat(s[:end], 64)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

// formatNum renders a float the way project.json literals expect: integral
// values without a fraction, others trimmed to at most six decimals.
func formatNum(v float64) string {
	if rounded := math.Round(v); math.Abs(v-rounded) < 1e-9 {
		return strconv.FormatInt(int64(rounded), 10)
	}
	s := strconv.FormatFloat(v, 'f', 6, 64)
	s = strings.TrimRight(s, "0")
	return strings.TrimRight(s, ".")
}
