package goalspec

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleDoc = `{
  "files": [["./target", "0x400000"], ["./lib.so", 0]],
  "goals": [
    ["function", "system", "/bin/sh"],
    ["function", "0x401234", 1, 2],
    ["shellcode", ""],
    ["shellcode_file", "./payload.bin"],
    ["execve", "/bin/sh", ["/bin/sh", "-c", "id"]]
  ]
}`

func TestParseSampleDocument(t *testing.T) {
	doc, err := Parse([]byte(sampleDoc))
	require.NoError(t, err)

	require.Len(t, doc.Files, 2)
	assert.Equal(t, "./target", doc.Files[0].Path)
	assert.Equal(t, uint64(0x400000), doc.Files[0].Base)
	assert.Equal(t, uint64(0), doc.Files[1].Base)

	require.Len(t, doc.Goals, 5)

	fn := doc.Goals[0]
	assert.Equal(t, FunctionGoal, fn.Tag)
	assert.Equal(t, "system", fn.Name)
	require.Len(t, fn.Arguments, 1)
	assert.True(t, fn.Arguments[0].IsString)
	assert.Equal(t, "/bin/sh", string(fn.Arguments[0].Bytes))

	fn2 := doc.Goals[1]
	assert.True(t, fn2.HasAddress)
	assert.Equal(t, uint64(0x401234), fn2.Address)
	require.Len(t, fn2.Arguments, 2)
	assert.Equal(t, int64(1), fn2.Arguments[0].Int)

	assert.Equal(t, ShellcodeGoal, doc.Goals[2].Tag)

	file := doc.Goals[3]
	assert.Equal(t, ShellcodeFileGoal, file.Tag)
	assert.Equal(t, "./payload.bin", file.Path)

	execve := doc.Goals[4]
	assert.Equal(t, ExecveGoal, execve.Tag)
	assert.Equal(t, []string{"/bin/sh", "-c", "id"}, execve.ArgvStrings)
}

func TestParseRejectsUnknownTag(t *testing.T) {
	_, err := Parse([]byte(`{"goals": [["frobnicate"]]}`))
	assert.Error(t, err)
}

func TestLoadShellcodeFiles(t *testing.T) {
	goals := []Goal{{Tag: ShellcodeFileGoal, Path: "./payload.bin"}}
	resolved, err := LoadShellcodeFiles(goals, func(path string) ([]byte, error) {
		assert.Equal(t, "./payload.bin", path)
		return []byte{0x90, 0x90, 0xc3}, nil
	})
	require.NoError(t, err)
	require.Len(t, resolved, 1)
	assert.Equal(t, ShellcodeGoal, resolved[0].Tag)
	assert.Equal(t, []byte{0x90, 0x90, 0xc3}, resolved[0].Bytes)
}

func TestLoadShellcodeFilesPropagatesReadError(t *testing.T) {
	goals := []Goal{{Tag: ShellcodeFileGoal, Path: "missing"}}
	_, err := LoadShellcodeFiles(goals, func(string) ([]byte, error) {
		return nil, errors.New("not found")
	})
	assert.Error(t, err)
}
