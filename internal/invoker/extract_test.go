package invoker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name  string
		reply string
		want  string
	}{
		{name: "bare object", reply: `{"a":1}`, want: `{"a":1}`},
		{name: "bare array", reply: ` [1,2] `, want: `[1,2]`},
		{name: "byte order mark", reply: "\ufeff{\"a\":1}", want: `{"a":1}`},
		{name: "fenced", reply: "Here you go:\n```json\n{\"a\":1}\n```\nThanks", want: `{"a":1}`},
		{name: "fenced without tag", reply: "```\n[{\"b\":2}]\n```", want: `[{"b":2}]`},
		{name: "prose around object", reply: `Sure! {"a":{"b":[1]}} Hope this helps.`, want: `{"a":{"b":[1]}}`},
		{name: "trailing comma", reply: `{"a":[1,2,],}`, want: `{"a":[1,2]}`},
		{name: "smart quotes", reply: "{\u201ca\u201d: \u201cx\u201d}", want: `{"a": "x"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExtractJSON(tt.reply)
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, string(got))
		})
	}
}

func TestExtractJSON_Failures(t *testing.T) {
	for _, reply := range []string{"", "   ", "no json here", `{"a":`, "```json\n{broken\n```"} {
		_, err := ExtractJSON(reply)
		assert.ErrorIs(t, err, ErrMalformedResponse, "reply %q", reply)
	}
}
