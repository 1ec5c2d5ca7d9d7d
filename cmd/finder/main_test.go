package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"

	"ropforge/internal/rop/arch"
	"ropforge/internal/rop/binaryio"
	"ropforge/internal/rop/gadget"
)

func TestDoMainRequiresTarget(t *testing.T) {
	var stdOut, stdErr bytes.Buffer
	code := doMain([]string{}, &stdOut, &stdErr)
	assert.Equal(t, 2, code)
	assert.Contains(t, stdErr.String(), "-target is required")
}

func TestDoMainRejectsUnknownArch(t *testing.T) {
	var stdOut, stdErr bytes.Buffer
	code := doMain([]string{"-target", "/nonexistent", "-arch", "not-an-arch"}, &stdOut, &stdErr)
	assert.Equal(t, 1, code)
	assert.Contains(t, stdErr.String(), "unknown architecture")
}

func TestDoMainRejectsMissingTargetFile(t *testing.T) {
	var stdOut, stdErr bytes.Buffer
	code := doMain([]string{"-target", "/nonexistent/path/to/binary"}, &stdOut, &stdErr)
	assert.Equal(t, 1, code)
	assert.Contains(t, stdErr.String(), "open")
}

func TestDoMainRejectsArchWithNoLifter(t *testing.T) {
	var stdOut, stdErr bytes.Buffer
	code := doMain([]string{"-target", "/nonexistent", "-arch", "arm64"}, &stdOut, &stdErr)
	assert.Equal(t, 1, code)
	assert.Contains(t, stdErr.String(), "no built-in lifter")
}

func TestGadgetBytesLocatesWindowInItsSegment(t *testing.T) {
	segments := []binaryio.Segment{
		{Bytes: []byte{0x90, 0x90, 0x5f, 0xc3}, Address: 0x1000, Executable: true},
	}
	g := &gadget.Gadget{Address: 0x1002}
	window, ok := gadgetBytes(segments, 0, arch.AMD64, g)
	assert.True(t, ok)
	assert.Equal(t, []byte{0x5f, 0xc3}, window)
}

func TestGadgetBytesMissesOutsideAnySegment(t *testing.T) {
	segments := []binaryio.Segment{
		{Bytes: []byte{0x90, 0x90}, Address: 0x1000, Executable: true},
	}
	g := &gadget.Gadget{Address: 0x5000}
	_, ok := gadgetBytes(segments, 0, arch.AMD64, g)
	assert.False(t, ok)
}

func TestDoMainVersionFlag(t *testing.T) {
	var stdOut, stdErr bytes.Buffer
	code := doMain([]string{"-version"}, &stdOut, &stdErr)
	assert.Equal(t, 0, code)
	assert.NotEmpty(t, stdOut.String())
}
