package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"library-circulation/library"
)

func TestDatabaseClosedAfterFailingCommand(t *testing.T) {
	// arrange
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { _ = os.Chdir(wd) })
	c := &cli{}
	root := c.rootCommand()
	root.SetArgs([]string{"--db", filepath.Join(t.TempDir(), "cli.db"), "copy", "delete", "999"})

	// act
	err = root.ExecuteContext(context.Background())

	// assert
	var nf *library.NotFoundError
	require.ErrorAs(t, err, &nf)
	require.NotNil(t, c.mgr, "the database is opened before the command runs")
	require.NoError(t, c.close())

	_, err = c.mgr.GetAllMembers(context.Background())
	assert.Error(t, err, "the manager must be closed")
}

func TestCloseWithoutDatabase(t *testing.T) {
	assert.NoError(t, (&cli{}).close())
}
