package extractor

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	identPattern = regexp.MustCompile(`^[A-Za-z_]\w*$`)

	// Verilog comments: // line and /* block */
	verilogComment = regexp.MustCompile(`(?s)//[^\n]*|/\*.*?\*/`)

	// Pattern: module <name>
	modulePattern = regexp.MustCompile(`\bmodule\s+([A-Za-z_]\w*)`)

	// Pattern: endmodule
	endmodulePattern = regexp.MustCompile(`\bendmodule\b`)

	// Pattern: input | output | inout keyword starting a port declaration
	directionPattern = regexp.MustCompile(`\b(input|output|inout)\b`)

	// Pattern: [wire|reg|logic] [signed] [<msb>:<lsb>] <names>
	portDeclPattern = regexp.MustCompile(`(?s)^\s*(?:(?:wire|reg|logic)\s+)?(?:signed\s+)?(?:\[\s*(\d+)\s*:\s*(\d+)\s*\])?\s*(.*)$`)

	// Pattern: wire|reg [range] <names>;
	netPattern = regexp.MustCompile(`\b(?:wire|reg)\s+(?:\[[^\]]*\]\s*)?([A-Za-z_]\w*(?:\s*,\s*[A-Za-z_]\w*)*)\s*;`)

	// Pattern: assign <name> = <expr>;
	assignPattern = regexp.MustCompile(`(?s)\bassign\s+([A-Za-z_]\w*)\s*=\s*(.*?);`)

	// Pattern: <width>'<base><digits>, or plain decimal
	verilogLiteral = regexp.MustCompile(`^(?:(\d+)?'([bBdDhHoO])([0-9a-fA-F_]+)|(\d+))$`)

	// VHDL comments: -- line
	vhdlComment = regexp.MustCompile(`--[^\n]*`)

	// Pattern: entity <name> is
	entityPattern = regexp.MustCompile(`(?i)\bentity\s+([A-Za-z_]\w*)\s+is\b`)

	// Pattern: port ( -- but not port map (
	portBlockPattern = regexp.MustCompile(`(?i)\bport\s*\(`)

	// Pattern: <names> : <dir> <type>
	portEntryPattern = regexp.MustCompile(`(?is)^\s*(?:signal\s+)?([\w\s,]+?)\s*:\s*(in|out|inout|buffer)\s+(.+?)\s*(?::=.*)?$`)

	// Pattern: begin, the start of the architecture statements
	beginPattern = regexp.MustCompile(`(?i)\bbegin\b`)

	// Pattern: signal <names> : <type>;
	signalPattern = regexp.MustCompile(`(?i)\bsignal\s+([\w\s,]+?)\s*:`)

	// Pattern: <name> <= <expr>;
	vhdlAssignPattern = regexp.MustCompile(`(?s)\b([A-Za-z_]\w*)\s*<=\s*(.*?);`)

	// Pattern: [<msb>:<lsb>]
	verilogRange = regexp.MustCompile(`^\[\s*(\d+)\s*:\s*(\d+)\s*\]$`)

	// Pattern: (<a> downto|to <b>)
	rangePattern = regexp.MustCompile(`(?i)\(\s*(\d+)\s+(?:downto|to)\s+(\d+)\s*\)`)

	// Pattern: '0' '1' or "0101"
	vhdlLiteral = regexp.MustCompile(`^(?:'([01])'|"([01_]+)")$`)

	// VHDL operators, case-insensitive, surrounded by whitespace
	vhdlOps = []struct {
		re     *regexp.Regexp
		plain  string
		negate string
	}{
		{regexp.MustCompile(`(?i)\s+nand\s+`), "NAND", "NAND"},
		{regexp.MustCompile(`(?i)\s+nor\s+`), "NOR", "NOR"},
		{regexp.MustCompile(`(?i)\s+and\s+`), "AND", "NAND"},
		{regexp.MustCompile(`(?i)\s+or\s+`), "OR", "NOR"},
		{regexp.MustCompile(`(?i)\s+xor\s+`), "XOR", "XOR"},
	}
	vhdlNot = regexp.MustCompile(`(?i)^not\s+`)
)

// blank replaces every non-newline byte of a match with a space so that
// offsets and line numbers survive comment removal.
func blank(re *regexp.Regexp, s string) string {
	return re.ReplaceAllStringFunc(s, func(m string) string {
		b := []byte(m)
		for i := range b {
			if b[i] != '\n' {
				b[i] = ' '
			}
		}
		return string(b)
	})
}

// lineAt returns the 1-based line of offset off in s.
func lineAt(s string, off int) int {
	return strings.Count(s[:off], "\n") + 1
}

// squeeze collapses runs of whitespace into single spaces.
func squeeze(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// splitNames splits a comma list and keeps valid identifiers, stopping at
// the first keyword.
func splitNames(list string) []string {
	var out []string
	for _, n := range strings.Split(list, ",") {
		n = strings.TrimSpace(n)
		if fields := strings.Fields(n); len(fields) > 0 {
			n = fields[len(fields)-1]
		}
		if isKeyword(n) {
			break
		}
		if identPattern.MatchString(n) {
			out = append(out, n)
		}
	}
	return out
}

func isKeyword(s string) bool {
	switch strings.ToLower(s) {
	case "input", "output", "inout", "wire", "reg", "logic", "signed",
		"in", "out", "buffer", "signal":
		return true
	}
	return false
}

// parseVerilogLiteral returns the value of a sized or plain integer literal.
func parseVerilogLiteral(s string) (uint32, bool) {
	m := verilogLiteral.FindStringSubmatch(s)
	if m == nil {
		return 0, false
	}
	if m[4] != "" {
		v, err := strconv.ParseUint(m[4], 10, 32)
		return uint32(v), err == nil
	}
	base := 10
	switch strings.ToLower(m[2]) {
	case "b":
		base = 2
	case "o":
		base = 8
	case "h":
		base = 16
	}
	v, err := strconv.ParseUint(strings.ReplaceAll(m[3], "_", ""), base, 32)
	return uint32(v), err == nil
}

func parseVHDLLiteral(s string) (uint32, bool) {
	m := vhdlLiteral.FindStringSubmatch(s)
	if m == nil {
		return 0, false
	}
	digits := m[1]
	if digits == "" {
		digits = strings.ReplaceAll(m[2], "_", "")
	}
	v, err := strconv.ParseUint(digits, 2, 32)
	return uint32(v), err == nil
}

// CalculateWidth returns the bit width of a port type: a VHDL type such as
// std_logic or std_logic_vector(7 downto 0), or a Verilog range such as
// [3:0]. Unknown or parameterized types yield 0.
func CalculateWidth(typ string) int {
	t := strings.ToLower(strings.TrimSpace(typ))
	switch t {
	case "":
		return 0
	case "std_logic", "std_ulogic", "bit", "boolean":
		return 1
	}
	if m := rangePattern.FindStringSubmatch(t); m != nil {
		return span(m[1], m[2])
	}
	if m := verilogRange.FindStringSubmatch(t); m != nil {
		return span(m[1], m[2])
	}
	return 0
}

func span(a, b string) int {
	x, err1 := strconv.Atoi(a)
	y, err2 := strconv.Atoi(b)
	if err1 != nil || err2 != nil {
		return 0
	}
	if x < y {
		x, y = y, x
	}
	return x - y + 1
}
