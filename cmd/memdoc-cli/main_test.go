package main

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/pior/memdoc"
	"github.com/pior/memdoc/internal/memdtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startCluster(t *testing.T) *memdoc.Cluster {
	t.Helper()
	srv, err := memdtest.Start("127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.Close() })

	c, err := memdoc.Connect(context.Background(), memdoc.Config{Nodes: []string{srv.Addr()}})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Disconnect(context.Background()) })
	return c
}

func TestREPL(t *testing.T) {
	c := startCluster(t)

	input := strings.Join([]string{
		"get k1",
		`upsert k1 {"a":1}`,
		"get k1",
		"insert k1 again",
		"replace k1 plain 999",
		"remove k1",
		"remove k1",
		"bogus",
		"quit",
		"get never-reached",
	}, "\n")

	var out bytes.Buffer
	require.NoError(t, repl(context.Background(), strings.NewReader(input), &out, c))

	got := out.String()
	assert.Contains(t, got, "Key not found")
	assert.Contains(t, got, "Stored version")
	assert.Contains(t, got, `Value: {"a":1}`)
	assert.Contains(t, got, "Format: json")
	assert.Contains(t, got, memdoc.ErrDocumentExists.Error())
	assert.Contains(t, got, memdoc.ErrVersionConflict.Error())
	assert.Contains(t, got, "Delete successful")
	assert.Contains(t, got, "Unknown command: bogus")
	assert.Contains(t, got, "Goodbye!")
	assert.NotContains(t, got, "never-reached")
}

func TestREPL_Usage(t *testing.T) {
	c := startCluster(t)

	var out bytes.Buffer
	require.NoError(t, repl(context.Background(), strings.NewReader("get\nupsert k\nremove k notanumber\n"), &out, c))

	got := out.String()
	assert.Contains(t, got, "Usage: get <key>")
	assert.Contains(t, got, "Usage: upsert <key> <value> [version]")
	assert.Contains(t, got, "Invalid version")
}

func TestREPL_Inspection(t *testing.T) {
	c := startCluster(t)

	var out bytes.Buffer
	require.NoError(t, repl(context.Background(), strings.NewReader("map\nstats\nping\n"), &out, c))

	got := out.String()
	assert.Contains(t, got, "Revision 0, 1024 partitions")
	assert.Contains(t, got, "Client Statistics:")
	assert.Contains(t, got, "Node 1 (")
	assert.Contains(t, got, "Ping successful")
}

func TestEnvOrDefault(t *testing.T) {
	t.Setenv("MEMDOC_TEST_VALUE", "set")
	assert.Equal(t, "set", envOrDefault("MEMDOC_TEST_VALUE", "default"))
	assert.Equal(t, "default", envOrDefault("MEMDOC_TEST_UNSET", "default"))
}
