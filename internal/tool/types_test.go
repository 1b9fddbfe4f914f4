package tool

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResult_Success(t *testing.T) {
	assert.True(t, Result{Output: "ok", ExitCode: 0}.Success())
	assert.False(t, Result{Output: "ok", ExitCode: 1}.Success())
	assert.False(t, Result{Error: "boom", ExitCode: 0}.Success())
}

func TestResult_ToDict_AlwaysHasOutputAndExitCode(t *testing.T) {
	d := Result{Output: "hi", ExitCode: 0}.ToDict()
	assert.Equal(t, "hi", d["output"])
	assert.Equal(t, 0, d["exit_code"])
	assert.NotContains(t, d, "error")

	d = Result{Error: "nope", ExitCode: 127}.ToDict()
	assert.Equal(t, "", d["output"])
	assert.Equal(t, "nope", d["error"])
	assert.Equal(t, 127, d["exit_code"])
}

func TestResult_ToDict_StripsANSI(t *testing.T) {
	d := Result{Output: "\x1b[32mgreen\x1b[0m\r\n"}.ToDict()
	assert.Equal(t, "green\n", d["output"])
}

func TestErrResult_FormatsMessage(t *testing.T) {
	r := ErrResult(126, "Permission denied: %s", "/usr/bin/foo")
	assert.Equal(t, 126, r.ExitCode)
	assert.Equal(t, "Permission denied: /usr/bin/foo", r.Error)
	assert.False(t, r.Success())
}
