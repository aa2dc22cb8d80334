package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewRootCmdRegistersSubcommands(t *testing.T) {
	root := NewRootCmd()

	names := make(map[string]bool)
	for _, c := range root.Commands() {
		names[c.Name()] = true
	}

	for _, want := range []string{"index", "status", "search", "symbols", "serve", "version"} {
		assert.True(t, names[want], "expected subcommand %q to be registered", want)
	}
}

func TestWorkerHostCommandIsHidden(t *testing.T) {
	root := NewRootCmd()

	cmd, _, err := root.Find([]string{"__workerhost"})
	assert.NoError(t, err)
	assert.True(t, cmd.Hidden)
}
