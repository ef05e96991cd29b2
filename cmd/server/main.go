package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"

	"xrplbridge/EVMRPC"
	"xrplbridge/XRPLRPC"
	"xrplbridge/bridge"
	"xrplbridge/config"
	"xrplbridge/fees"
	"xrplbridge/logging"
	"xrplbridge/store"
	"xrplbridge/wallet"
	"xrplbridge/workers"
	"xrplbridge/workers/handlers"
	"xrplbridge/workers/pool"
)

// openLogFile opens today's log file in dir, logs go to stdout as well
func openLogFile(dir string) (*os.File, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	name := filepath.Join(dir, fmt.Sprintf("log_%s.txt", time.Now().Format("2006-01-02")))
	return os.OpenFile(name, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o666)
}

func main() {
	cfg, err := config.Load(config.Path())
	if err != nil {
		logrus.WithError(err).Fatal("can't load config")
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		logrus.WithError(err).Fatal("can't create logger")
	}
	if cfg.Log.Dir != "" {
		f, err := openLogFile(cfg.Log.Dir)
		if err != nil {
			logger.WithError(err).Fatal("can't open log file for writing")
		}
		defer f.Close()
		logging.SetOutput(logger, io.MultiWriter(os.Stdout, f))
	}
	logger.WithField("environment", cfg.Environment).Info("starting XRPL - XRP EVM sidechain bridge")

	ctx := context.Background()

	// without persistence do not continue
	requests, err := store.Open(ctx, cfg, true)
	if err != nil {
		logger.WithError(err).Fatal("can't open request store")
	}
	defer requests.Close()
	logger.WithField("backend", cfg.Store.Backend).Info("request store ready")

	xrpl, err := XRPLRPC.Dial(ctx, XRPLRPC.Config{
		URL:               cfg.XRPL.RPCURL,
		BridgeAddress:     cfg.XRPL.BridgeAddress,
		BridgeSecret:      cfg.XRPL.BridgeSecret,
		Timeout:           cfg.XRPL.Timeout,
		PollInterval:      cfg.XRPL.PollInterval,
		DepositTimeout:    cfg.XRPL.DepositTimeout,
		ValidationTimeout: cfg.XRPL.ValidationTimeout,
		HistoryLimit:      cfg.XRPL.HistoryLimit,
	}, logger)
	if err != nil {
		logger.WithError(err).Fatal("can't connect to xrpl")
	}
	defer xrpl.Close()

	evm, err := EVMRPC.Dial(ctx, EVMRPC.Config{
		RPCList:          cfg.EVM.RPCList,
		ChainID:          cfg.EVM.ChainID,
		PrivateKey:       cfg.EVM.PrivateKey,
		Timeout:          cfg.EVM.Timeout,
		PollInterval:     cfg.EVM.PollInterval,
		DepositTimeout:   cfg.EVM.DepositTimeout,
		ReceiptTimeout:   cfg.EVM.ReceiptTimeout,
		MinConfirmations: cfg.EVM.MinConfirmations,
		SafetyWindow:     cfg.EVM.SafetyWindow,
	}, logger)
	if err != nil {
		logger.WithError(err).Fatal("can't connect to xrpl evm sidechain")
	}
	defer evm.Close()

	estimator, err := fees.NewStatic(cfg.Bridge.FeeEstimate)
	if err != nil {
		logger.WithError(err).Fatal("invalid fee estimate")
	}

	coordinator := bridge.NewCoordinator(requests, xrpl, evm, wallet.NewFactory(), estimator, bridge.Config{
		SettleDelay: cfg.Bridge.SettleDelay,
		Hook: bridge.HookConfig{
			Enabled:         cfg.Hook.Enabled,
			ContractAddress: cfg.Hook.ContractAddress,
			Method:          cfg.Hook.Method,
			GasStipend:      cfg.Hook.GasStipend,
		},
	}, logger)

	workerPool := pool.New(cfg.Bridge.Workers, cfg.Bridge.QueueSize, logger)
	dispatcher := workers.NewDispatcher(requests, coordinator, workerPool, cfg.Bridge.StaleAfter, logger)

	stale, err := dispatcher.ReconcileStale(ctx)
	if err != nil {
		logger.WithError(err).Error("can't reconcile stale bridge requests")
	} else if stale > 0 {
		logger.WithField("count", stale).Warn("stale bridge requests marked failed")
	}

	reconcileCtx, stopReconciler := context.WithCancel(ctx)
	go dispatcher.RunReconciler(reconcileCtx, cfg.Bridge.ReconcileInterval)

	router := workers.NewRouter(&handlers.Handlers{
		Dispatcher:        dispatcher,
		Store:             requests,
		XRPL:              xrpl,
		EVM:               evm,
		XRPLBridgeAddress: xrpl.BridgeAddress(),
		EVMBridgeAddress:  evm.BridgeAddress(),
		StatsLimit:        1000,
	}, logger)

	// serves as main worker thread
	if err := workers.Worker_HTTP(cfg, router, logger); err != nil {
		logger.WithError(err).Error("HTTP service failed")
	}
	stopReconciler()

	drainCtx, cancel := context.WithTimeout(context.Background(), cfg.Bridge.DrainTimeout)
	defer cancel()
	if err := workerPool.Shutdown(drainCtx); err != nil {
		logger.WithError(err).Warn("bridge runs still in flight at exit, reconciled as stale on next start")
	}
	logger.Info("bridge stopped")
}
