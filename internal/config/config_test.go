package config

import (
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/require"
)

func parse(t *testing.T, args ...string) Config {
	t.Helper()
	var c Config
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	c.BindStore(fs)
	c.BindRun(fs)
	require.NoError(t, fs.Parse(args))
	return c
}

func TestDefaults(t *testing.T) {
	c := parse(t)
	require.Equal(t, "rocksdb", c.DBDriver)
	require.Equal(t, "mainnet", c.Network)
	require.Equal(t, uint64(20000), c.FeePerKB)
	require.Equal(t, 10*time.Second, c.PollInterval)
	require.NoError(t, c.Validate())
}

func TestEnvOverridesDefault(t *testing.T) {
	t.Setenv("LWS_SCAN_DB_DRIVER", "postgres")
	t.Setenv("LWS_SCAN_SCAN_THREADS", "9")
	t.Setenv("LWS_SCAN_POLL_INTERVAL", "bogus")

	c := parse(t)
	require.Equal(t, "postgres", c.DBDriver)
	require.Equal(t, 9, c.Workers)
	require.Equal(t, 10*time.Second, c.PollInterval)

	c = parse(t, "--scan-threads=2")
	require.Equal(t, 2, c.Workers)
}

func TestValidate_ExternalBind(t *testing.T) {
	c := parse(t, "--rest-server=0.0.0.0:8443")
	require.ErrorContains(t, c.Validate(), "confirm-external-bind")

	c = parse(t, "--rest-server=0.0.0.0:8443", "--confirm-external-bind")
	require.NoError(t, c.Validate())

	c = parse(t, "--rest-server=0.0.0.0:8443", "--rest-tls-cert=c.pem", "--rest-tls-key=k.pem")
	require.NoError(t, c.Validate())

	c = parse(t, "--rest-server=localhost:8443")
	require.NoError(t, c.Validate())

	c = parse(t, "--rest-server=[::1]:8443")
	require.NoError(t, c.Validate())
}

func TestValidate_Errors(t *testing.T) {
	c := parse(t, "--rest-tls-cert=c.pem")
	require.ErrorContains(t, c.Validate(), "must be set together")

	c = parse(t, "--scan-threads=0")
	require.ErrorContains(t, c.Validate(), "scan-threads")

	c = parse(t, "--rest-server=nope")
	require.ErrorContains(t, c.Validate(), "rest-server")
}
