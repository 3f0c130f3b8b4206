package stringutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStripANSI(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "plain text untouched",
			input: "hello world",
			want:  "hello world",
		},
		{
			name:  "color codes",
			input: "\x1b[31mred\x1b[0m and \x1b[1;32mbold green\x1b[m",
			want:  "red and bold green",
		},
		{
			name:  "cursor movement",
			input: "\x1b[2Kprogress 50%\x1b[1A",
			want:  "progress 50%",
		},
		{
			name:  "osc window title",
			input: "\x1b]0;my title\x07output",
			want:  "output",
		},
		{
			name:  "osc with st terminator",
			input: "\x1b]8;;http://example.com\x1b\\link\x1b]8;;\x1b\\",
			want:  "link",
		},
		{
			name:  "eight bit csi",
			input: "31mred",
			want:  "red",
		},
		{
			name:  "empty string",
			input: "",
			want:  "",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, StripANSI(tc.input))
		})
	}
}

func TestTruncString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "abc", TruncString("abcdef", 3))
	assert.Equal(t, "abc", TruncString("abc", 10))
}
