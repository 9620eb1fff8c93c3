package validate

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperboot/hyper/cmd/hyperctl/commands"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "boot.cfg")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestExecuteAcceptsValidConfig(t *testing.T) {
	cmd := &Command{ConfigPath: writeConfig(t, `
[hello]
binary = "/boot/kernel.elf"
cmdline = "quiet"
`)}
	assert.NoError(t, cmd.Execute(nil))
}

func TestExecuteReportsValidationErrors(t *testing.T) {
	cmd := &Command{ConfigPath: writeConfig(t, `
[hello]
cmdline = "quiet"
`)}
	err := cmd.Execute(nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing mandatory key \"binary\"")
}

func TestExecuteRejectsSyntaxErrors(t *testing.T) {
	cmd := &Command{ConfigPath: writeConfig(t, "[unterminated\n")}
	err := cmd.Execute(nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "configuration syntax error")
}

func TestExecuteRejectsMissingFile(t *testing.T) {
	cmd := &Command{ConfigPath: filepath.Join(t.TempDir(), "does-not-exist.cfg")}
	err := cmd.Execute(nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unable to read configuration file")
}

func TestExecuteRejectsExtraArgs(t *testing.T) {
	cmd := &Command{ConfigPath: writeConfig(t, `
[hello]
binary = "/boot/kernel.elf"
`)}
	err := cmd.Execute([]string{"extra"})
	require.Error(t, err)
	var argErr commands.ErrArgs
	assert.ErrorAs(t, err, &argErr)
}
