package config

import (
	"time"
)

type Configuration struct {
	// development skips the check of bridge credentials
	Environment string `yaml:"environment" envconfig:"NODE_ENV"`
	// Server config
	Server struct {
		Port      int    `yaml:"port" envconfig:"PORT"`
		UseSSL    bool   `yaml:"ssl"`
		CertChain string `yaml:"cert_chain"`
		CertKey   string `yaml:"cert_key"`
	} `yaml:"server"`
	Log struct {
		Level  string `yaml:"level" envconfig:"LOG_LEVEL"`
		Format string `yaml:"format" envconfig:"LOG_FORMAT"`
		// daily log files are written here when set
		Dir string `yaml:"dir" envconfig:"LOG_DIR"`
	} `yaml:"log"`
	Store struct {
		Backend     string `yaml:"backend" envconfig:"STORE_BACKEND"` // redis or postgres
		RedisHost   string `yaml:"redis_host" envconfig:"REDIS_HOST"`
		RedisPort   int    `yaml:"redis_port" envconfig:"REDIS_PORT"`
		PostgresDSN string `yaml:"postgres_dsn" envconfig:"DATABASE_URL"`
	} `yaml:"store"`
	// XRPL-related config
	XRPL struct {
		RPCURL string `yaml:"rpc_url" envconfig:"XRPL_NODE_URL"`
		// important private stuff
		BridgeAddress     string        `yaml:"bridge_address" envconfig:"XRPL_BRIDGE_ADDRESS"`
		BridgeSecret      string        `yaml:"bridge_secret" envconfig:"XRPL_BRIDGE_WALLET_SEED"`
		Timeout           time.Duration `yaml:"timeout"`
		PollInterval      time.Duration `yaml:"poll_interval"`
		DepositTimeout    time.Duration `yaml:"deposit_timeout"`
		ValidationTimeout time.Duration `yaml:"validation_timeout"`
		// how many recent bridge account transactions are looked at per poll
		HistoryLimit int `yaml:"history_limit"`
	} `yaml:"XRPL"`
	// EVM-related config
	EVM struct {
		RPCList          []string      `yaml:"rpc_list" envconfig:"EVM_SIDECHAIN_RPC_URL"`
		ChainID          int64         `yaml:"chain_id" envconfig:"EVM_CHAIN_ID"`
		PrivateKey       string        `yaml:"private_key" envconfig:"EVM_BRIDGE_PRIVATE_KEY"`
		Timeout          time.Duration `yaml:"timeout"`
		PollInterval     time.Duration `yaml:"poll_interval"`
		DepositTimeout   time.Duration `yaml:"deposit_timeout"`
		ReceiptTimeout   time.Duration `yaml:"receipt_timeout"`
		MinConfirmations int           `yaml:"min_confirmations"`
		// blocks looked back from the head when a deposit scan starts
		SafetyWindow int `yaml:"safety_window"`
	} `yaml:"EVM"`
	Bridge struct {
		Workers     int           `yaml:"workers" envconfig:"BRIDGE_WORKERS"`
		QueueSize   int           `yaml:"queue_size" envconfig:"BRIDGE_QUEUE_SIZE"`
		SettleDelay time.Duration `yaml:"settle_delay"`
		FeeEstimate string        `yaml:"fee_estimate"`
		StaleAfter  time.Duration `yaml:"stale_after"`
		// how often pending requests are checked against StaleAfter
		ReconcileInterval time.Duration `yaml:"reconcile_interval"`
		// grace period to drain running transfers on shutdown
		DrainTimeout time.Duration `yaml:"drain_timeout"`
	} `yaml:"bridge"`
	// swap/stake call made from the minted wallet after xrpl_to_evm transfers
	Hook struct {
		Enabled         bool   `yaml:"enabled" envconfig:"HOOK_ENABLED"`
		ContractAddress string `yaml:"contract_address" envconfig:"HOOK_CONTRACT_ADDRESS"`
		Method          string `yaml:"method"`
		GasStipend      string `yaml:"gas_stipend"`
	} `yaml:"hook"`
}

const (
	ENV_DEVELOPMENT = "development"

	BACKEND_REDIS    = "redis"
	BACKEND_POSTGRES = "postgres"
)

func (c *Configuration) IsDevelopment() bool {
	return c.Environment == ENV_DEVELOPMENT
}

func setDefaults(cfg *Configuration) {
	if cfg.Environment == "" {
		cfg.Environment = ENV_DEVELOPMENT
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
	if cfg.Store.Backend == "" {
		cfg.Store.Backend = BACKEND_REDIS
	}
	if cfg.Store.RedisHost == "" {
		cfg.Store.RedisHost = "localhost"
	}
	if cfg.Store.RedisPort == 0 {
		cfg.Store.RedisPort = 6379
	}
	if cfg.XRPL.RPCURL == "" {
		cfg.XRPL.RPCURL = "https://s.altnet.rippletest.net:51234"
	}
	if cfg.XRPL.Timeout == 0 {
		cfg.XRPL.Timeout = 10 * time.Second
	}
	if cfg.XRPL.PollInterval == 0 {
		cfg.XRPL.PollInterval = 3 * time.Second
	}
	if cfg.XRPL.DepositTimeout == 0 {
		cfg.XRPL.DepositTimeout = 5 * time.Minute
	}
	if cfg.XRPL.ValidationTimeout == 0 {
		cfg.XRPL.ValidationTimeout = time.Minute
	}
	if cfg.XRPL.HistoryLimit == 0 {
		cfg.XRPL.HistoryLimit = 100
	}
	if len(cfg.EVM.RPCList) == 0 {
		cfg.EVM.RPCList = []string{"https://rpc-evm-sidechain.xrpl.org"}
	}
	if cfg.EVM.ChainID == 0 {
		cfg.EVM.ChainID = 1440002
	}
	if cfg.EVM.Timeout == 0 {
		cfg.EVM.Timeout = 10 * time.Second
	}
	if cfg.EVM.PollInterval == 0 {
		cfg.EVM.PollInterval = 3 * time.Second
	}
	if cfg.EVM.DepositTimeout == 0 {
		cfg.EVM.DepositTimeout = 5 * time.Minute
	}
	if cfg.EVM.ReceiptTimeout == 0 {
		cfg.EVM.ReceiptTimeout = 2 * time.Minute
	}
	if cfg.EVM.MinConfirmations == 0 {
		cfg.EVM.MinConfirmations = 1
	}
	if cfg.EVM.SafetyWindow == 0 {
		cfg.EVM.SafetyWindow = 10
	}
	if cfg.Bridge.Workers == 0 {
		cfg.Bridge.Workers = 8
	}
	if cfg.Bridge.QueueSize == 0 {
		cfg.Bridge.QueueSize = 256
	}
	if cfg.Bridge.SettleDelay == 0 {
		cfg.Bridge.SettleDelay = 5 * time.Second
	}
	if cfg.Bridge.FeeEstimate == "" {
		cfg.Bridge.FeeEstimate = "0.001"
	}
	if cfg.Bridge.StaleAfter == 0 {
		cfg.Bridge.StaleAfter = time.Hour
	}
	if cfg.Bridge.ReconcileInterval == 0 {
		cfg.Bridge.ReconcileInterval = 10 * time.Minute
	}
	if cfg.Bridge.DrainTimeout == 0 {
		cfg.Bridge.DrainTimeout = 30 * time.Second
	}
	if cfg.Hook.Method == "" {
		cfg.Hook.Method = "deposit"
	}
	if cfg.Hook.GasStipend == "" {
		cfg.Hook.GasStipend = "0.1"
	}
}
