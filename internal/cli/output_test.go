package cli

import (
	"bytes"
	"errors"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetExitCode(t *testing.T) {
	assert.Equal(t, ExitFailure, GetExitCode(NewExitError(ExitFailure, "nope")))
	assert.Equal(t, ExitCommandError, GetExitCode(NewExitError(ExitCommandError, "bad")))
	assert.Equal(t, 3, GetExitCode(&ExitError{Code: 3, Message: "child"}))
	assert.Equal(t, ExitCommandError, GetExitCode(errors.New("plain")))
}

func TestExitError_Unwrap(t *testing.T) {
	inner := errors.New("driver broke")
	err := WrapExitError(ExitCommandError, "opening store", inner)
	assert.ErrorIs(t, err, inner)
	assert.Contains(t, err.Error(), "opening store")
}

func TestFormatter_TextString(t *testing.T) {
	var buf bytes.Buffer
	f := &OutputFormatter{Format: "text", Writer: &buf}

	require.NoError(t, f.Success("hello"))
	assert.Equal(t, "hello\n", buf.String())
}

func TestFormatter_TextEmptyString(t *testing.T) {
	var buf bytes.Buffer
	f := &OutputFormatter{Format: "text", Writer: &buf}

	require.NoError(t, f.Success(""))
	assert.Empty(t, buf.String(), "empty payload prints nothing")
}

// TestJSONOutput_Golden runs a full put/get/replace/remove cycle in JSON
// mode and compares the concatenated responses against a golden file.
func TestJSONOutput_Golden(t *testing.T) {
	db := testDBPath(t)

	var combined bytes.Buffer
	steps := [][]string{
		{"put", "marker", "v", "--format", "json", "--db", db},
		{"get", "marker", "--format", "json", "--db", db},
		{"replace", "marker", "v", "w", "--format", "json", "--db", db},
		{"remove", "marker", "--format", "json", "--db", db},
		{"get", "marker", "--format", "json", "--db", db},
	}
	for _, args := range steps {
		out, err := runCommand(t, args...)
		if GetExitCode(err) == ExitCommandError {
			t.Fatalf("command %v failed: %v", args, err)
		}
		combined.WriteString(out)
	}

	g := goldie.New(t)
	g.Assert(t, "kv_json", combined.Bytes())
}
