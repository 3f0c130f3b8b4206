package stringutil

import "regexp"

// ansiPattern matches ECMA-48 control sequences: OSC strings terminated
// by BEL or ST, CSI sequences (7- and 8-bit), and lone Fe escapes.
var ansiPattern = regexp.MustCompile(
	"\x1b\\][^\x07\x1b]*(\x07|\x1b\\\\)" +
		"|(\x1b\\[|\u009b)[0-9:;<=>?]*[ -/]*[@-~]" +
		"|\x1b[@-Z\\\\^_\\]]",
)

// StripANSI removes ANSI escape sequences from s.
func StripANSI(s string) string {
	return ansiPattern.ReplaceAllString(s, "")
}
