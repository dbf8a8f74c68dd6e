package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCmd_HasServeSubcommand(t *testing.T) {
	serve, _, err := rootCmd.Find([]string{"serve"})
	require.NoError(t, err)
	assert.Equal(t, "serve", serve.Name())
}

func TestServeCmd_FlagDefaults(t *testing.T) {
	assert.Equal(t, "./pvnd-data", serveCmd.Flags().Lookup("data-dir").DefValue)
	assert.Equal(t, "/run/containerd/containerd.sock", serveCmd.Flags().Lookup("containerd-socket").DefValue)
	assert.Equal(t, "http://127.0.0.1:9696", serveCmd.Flags().Lookup("netapi-url").DefValue)
	assert.Equal(t, "br-int", serveCmd.Flags().Lookup("bridge").DefValue)
}
