package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"xrplbridge/config"
	"xrplbridge/types"
)

const testConfig = `
environment: production
server:
  port: 9000
store:
  backend: redis
  redis_host: redis.local
XRPL:
  rpc_url: http://rippled:5005
  bridge_address: rHb9CJAWyB4rj91VRWn96DkukG4bwdtyTh
  bridge_secret: sSecret
  deposit_timeout: 2m
EVM:
  rpc_list:
    - http://evm-1:8545
    - http://evm-2:8545
  private_key: abcdef
bridge:
  workers: 4
  settle_delay: 1s
hook:
  enabled: true
  contract_address: "0x2ba64efb7a4ec8983e22a49c81fa216ac33f383a"
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadFileAndDefaults(t *testing.T) {
	cfg, err := config.Load(writeConfig(t, testConfig))
	require.NoError(t, err)

	require.Equal(t, 9000, cfg.Server.Port)
	require.Equal(t, "redis.local", cfg.Store.RedisHost)
	require.Equal(t, 6379, cfg.Store.RedisPort)
	require.Equal(t, 2*time.Minute, cfg.XRPL.DepositTimeout)
	require.Equal(t, []string{"http://evm-1:8545", "http://evm-2:8545"}, cfg.EVM.RPCList)
	require.Equal(t, int64(1440002), cfg.EVM.ChainID)
	require.Equal(t, 4, cfg.Bridge.Workers)
	require.Equal(t, 256, cfg.Bridge.QueueSize)
	require.Equal(t, time.Second, cfg.Bridge.SettleDelay)
	require.Equal(t, "0.001", cfg.Bridge.FeeEstimate)
	require.Equal(t, time.Hour, cfg.Bridge.StaleAfter)
	require.Equal(t, 10*time.Minute, cfg.Bridge.ReconcileInterval)
	require.Equal(t, "deposit", cfg.Hook.Method)
	require.False(t, cfg.IsDevelopment())
}

func TestLoadEnvOverridesFile(t *testing.T) {
	t.Setenv("PORT", "3000")
	t.Setenv("XRPL_NODE_URL", "http://other:5005")
	t.Setenv("EVM_CHAIN_ID", "1449000")
	t.Setenv("BRIDGE_WORKERS", "2")

	cfg, err := config.Load(writeConfig(t, testConfig))
	require.NoError(t, err)

	require.Equal(t, 3000, cfg.Server.Port)
	require.Equal(t, "http://other:5005", cfg.XRPL.RPCURL)
	require.Equal(t, int64(1449000), cfg.EVM.ChainID)
	require.Equal(t, 2, cfg.Bridge.Workers)
}

func TestLoadMissingFileIsDevelopment(t *testing.T) {
	cfg, err := config.Load(filepath.Join(t.TempDir(), "absent.yml"))
	require.NoError(t, err)
	require.True(t, cfg.IsDevelopment())
	require.Equal(t, config.BACKEND_REDIS, cfg.Store.Backend)
}

func TestLoadUnknownFieldFails(t *testing.T) {
	_, err := config.Load(writeConfig(t, "server:\n  prot: 1\n"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	for _, test := range []struct {
		Name   string
		Config string
	}{
		{
			Name:   "Production without secrets",
			Config: "environment: production\n",
		},
		{
			Name:   "Unknown backend",
			Config: "store:\n  backend: mongo\n",
		},
		{
			Name:   "Postgres without dsn",
			Config: "store:\n  backend: postgres\n",
		},
		{
			Name:   "Hook with bad contract",
			Config: "hook:\n  enabled: true\n  contract_address: 0x123\n",
		},
		{
			Name:   "Bad xrpl bridge address",
			Config: "XRPL:\n  bridge_address: rBridge\n",
		},
		{
			Name:   "Bad fee estimate",
			Config: "bridge:\n  fee_estimate: free\n",
		},
	} {
		t.Run(test.Name, func(t *testing.T) {
			_, err := config.Load(writeConfig(t, test.Config))
			require.ErrorIs(t, err, types.ErrValidation)
		})
	}
}
