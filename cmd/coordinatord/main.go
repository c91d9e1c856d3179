// Command coordinatord runs the trade-coordinator HTTP and WebSocket
// server: it loads configuration, wires one Chain context per configured
// exchange, and serves request_transaction/soft_cancels/events until
// SIGINT/SIGTERM.
package main

import (
	"context"
	"fmt"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/kaifufi/trade-coordinator/internal/broadcaster"
	"github.com/kaifufi/trade-coordinator/internal/config"
	"github.com/kaifufi/trade-coordinator/internal/coordinator"
	"github.com/kaifufi/trade-coordinator/internal/httpapi"
	"github.com/kaifufi/trade-coordinator/internal/logging"
	"github.com/kaifufi/trade-coordinator/internal/oracle"
	"github.com/kaifufi/trade-coordinator/internal/repository"
	"github.com/kaifufi/trade-coordinator/internal/repository/inmemory"
	"github.com/kaifufi/trade-coordinator/internal/repository/postgres"
	"github.com/kaifufi/trade-coordinator/internal/signerset"
	"github.com/kaifufi/trade-coordinator/internal/wshub"
)

func main() {
	if err := config.Init(); err != nil {
		fmt.Fprintln(os.Stderr, "coordinatord:", err)
		os.Exit(1)
	}
	log := logging.New(config.GetString(config.LogLevelKey))

	if err := run(log); err != nil {
		log.WithError(err).Fatal("coordinatord: fatal error")
	}
}

func run(log *logrus.Logger) error {
	chainSettings, err := config.LoadChainSettings()
	if err != nil {
		return err
	}

	repo, err := buildRepository()
	if err != nil {
		return err
	}

	hub := wshub.New(log)
	var bus broadcaster.Broadcaster = hub

	chains := make(map[string]*coordinator.Chain, len(chainSettings))
	engines := make(map[string]*coordinator.Engine, len(chainSettings))
	for _, cs := range chainSettings {
		chain, engine, err := buildChain(cs, repo, bus, log)
		if err != nil {
			return fmt.Errorf("coordinatord: chain %d: %w", cs.ChainID, err)
		}
		key := chain.ChainID.String()
		chains[key] = chain
		engines[key] = engine
	}

	server := &httpapi.Server{
		Chains:     chains,
		Engines:    engines,
		SoftCancel: &coordinator.SoftCancelHandler{Repo: repo},
		Hub:        hub,
		Log:        log,
	}
	router := httpapi.NewRouter(server)

	addr := ":" + config.GetString(config.HTTPPortKey)
	httpServer := &http.Server{Addr: addr, Handler: router}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", addr).Info("coordinatord: listening")
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		log.Info("coordinatord: shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	}
}

func buildRepository() (repository.Repository, error) {
	if config.GetString(config.RepositoryBackendKey) != "postgres" {
		return inmemory.New(), nil
	}
	dsn := config.GetString(config.DatabaseURLKey)
	if dsn == "" {
		return nil, fmt.Errorf("coordinatord: %s is required when %s=postgres", config.DatabaseURLKey, config.RepositoryBackendKey)
	}
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	cfg.MaxConns = 10
	cfg.MinConns = 1
	cfg.MaxConnLifetime = 30 * time.Minute
	cfg.HealthCheckPeriod = 30 * time.Second
	pool, err := pgxpool.NewWithConfig(context.Background(), cfg)
	if err != nil {
		return nil, err
	}
	return postgres.New(pool), nil
}

func buildChain(cs config.ChainSettings, repo repository.Repository, bus broadcaster.Broadcaster, log *logrus.Logger) (*coordinator.Chain, *coordinator.Engine, error) {
	signers, err := signerset.New(cs.FeeRecipientPrivateKeys)
	if err != nil {
		return nil, nil, err
	}

	client, err := ethclient.DialContext(context.Background(), cs.RPCURL)
	if err != nil {
		return nil, nil, fmt.Errorf("dialing RPC: %w", err)
	}
	snapshot := oracle.NewAssetProxyOracle(client, common.HexToAddress(cs.ERC20ProxyAddress), common.HexToAddress(cs.ProtocolFeeTokenAddress))

	delay := time.Duration(config.GetInt64(config.SelectiveDelayMSKey)) * time.Millisecond
	if cs.SelectiveDelayMS != nil {
		delay = time.Duration(*cs.SelectiveDelayMS) * time.Millisecond
	}
	expiration := time.Duration(config.GetInt64(config.ExpirationDurationSecondsKey)) * time.Second
	if cs.ExpirationDurationSeconds != nil {
		expiration = time.Duration(*cs.ExpirationDurationSeconds) * time.Second
	}
	persistTimeout := time.Duration(config.GetInt64(config.PersistTimeoutSecondsKey)) * time.Second
	if cs.PersistTimeoutSeconds != nil {
		persistTimeout = time.Duration(*cs.PersistTimeoutSeconds) * time.Second
	}

	chain := &coordinator.Chain{
		ChainID:                    big.NewInt(cs.ChainID),
		ExchangeAddress:            common.HexToAddress(cs.ExchangeAddress),
		CoordinatorContractAddress: common.HexToAddress(cs.CoordinatorContractAddress),
		CoordinatorDomainVersion:   cs.CoordinatorDomainVersion,
		SelectiveDelay:             delay,
		ApprovalExpirationDuration: expiration,
		PersistTimeout:             persistTimeout,
	}

	engine := &coordinator.Engine{
		Repo:    repo,
		Signers: signers,
		Bus:     bus,
		Oracle:  snapshot,
		Log:     log,
	}

	return chain, engine, nil
}
