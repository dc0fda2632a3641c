package main

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRun_RejectsPlainExternalBind(t *testing.T) {
	c := newCLI(t)
	_, err := c.run("run", "--rest-server", "0.0.0.0:8443")
	require.ErrorContains(t, err, "confirm-external-bind")
}

func TestRun_RejectsHalfTLS(t *testing.T) {
	c := newCLI(t)
	_, err := c.run("run", "--rest-tls-cert", "cert.pem")
	require.Error(t, err)
}

func TestUnknownNetwork(t *testing.T) {
	c := newCLI(t)
	_, err := c.run("--network", "moon", "admin", "list-accounts")
	require.Error(t, err)
}
