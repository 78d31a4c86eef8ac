package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/Dead-Bytes/kale-pool-pooler/internal/config"
	"github.com/Dead-Bytes/kale-pool-pooler/internal/pooler"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := config.DefaultConfig()

	flag.IntVar(&cfg.PoolerPort, "pooler-port", cfg.PoolerPort, "inbound HTTP listen port")
	flag.StringVar(&cfg.PoolerID, "pooler-id", cfg.PoolerID, "identifier this pooler reports to the Backend")
	flag.StringVar(&cfg.PoolerAuthToken, "pooler-auth-token", cfg.PoolerAuthToken, "bearer token the Backend must present on /backend/planted-farmers")
	flag.StringVar(&cfg.RPCURL, "rpc-url", cfg.RPCURL, "Soroban RPC endpoint")
	flag.StringVar(&cfg.ContractID, "contract-id", cfg.ContractID, "KALE contract address")
	flag.StringVar(&cfg.NetworkPassphrase, "network-passphrase", cfg.NetworkPassphrase, "network passphrase for signing")
	flag.StringVar(&cfg.BackendAPIURL, "backend-api-url", cfg.BackendAPIURL, "Backend base URL for outbound reports")
	flag.StringVar(&cfg.LaunchtubeURL, "launchtube-url", cfg.LaunchtubeURL, "relay gateway URL")
	flag.StringVar(&cfg.LaunchtubeJWT, "launchtube-jwt", cfg.LaunchtubeJWT, "relay gateway bearer token")
	flag.StringVar(&cfg.KaleFarmerBin, "kale-farmer-bin", cfg.KaleFarmerBin, "path to the external hash-search executable")
	flag.IntVar(&cfg.MaxErrorCount, "max-error-count", cfg.MaxErrorCount, "consecutive poll errors before the block monitor halts")
	flag.IntVar(&cfg.RetryAttempts, "retry-attempts", cfg.RetryAttempts, "relay submission attempts before giving up")
	flag.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level (debug, info, warn, error)")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "pooler - KALE farming coordinator\n\n")
		fmt.Fprintf(os.Stderr, "Usage:\n  pooler -contract-id <C...> -kale-farmer-bin <path> [flags]\n\n")
		fmt.Fprintf(os.Stderr, "Flags:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nEnvironment variables (override flags):\n")
		fmt.Fprintf(os.Stderr, "  POOLER_PORT, POOLER_ID, POOLER_AUTH_TOKEN\n")
		fmt.Fprintf(os.Stderr, "  RPC_URL, CONTRACT_ID, NETWORK_PASSPHRASE\n")
		fmt.Fprintf(os.Stderr, "  BACKEND_API_URL, BACKEND_TIMEOUT\n")
		fmt.Fprintf(os.Stderr, "  LAUNCHTUBE_URL, LAUNCHTUBE_JWT\n")
		fmt.Fprintf(os.Stderr, "  BLOCK_POLL_INTERVAL_MS, INITIAL_BLOCK_CHECK_DELAY_MS, MAX_ERROR_COUNT, MAX_MISSED_BLOCKS\n")
		fmt.Fprintf(os.Stderr, "  RETRY_ATTEMPTS, KALE_FARMER_BIN, LOG_LEVEL\n")
	}

	flag.Parse()

	config.LoadEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("setup logger: %w", err)
	}
	defer logger.Sync()

	logger.Info("starting pooler",
		zap.String("pooler_id", cfg.PoolerID),
		zap.String("contract_id", cfg.ContractID),
		zap.String("rpc_url", cfg.RPCURL),
		zap.Int("pooler_port", cfg.PoolerPort),
	)

	p := pooler.NewPooler(cfg, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := p.Start(ctx); err != nil {
		return fmt.Errorf("start pooler: %w", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("received signal, shutting down", zap.String("signal", sig.String()))

	p.Stop()
	return nil
}

func newLogger(level string) (*zap.Logger, error) {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "info":
		zapLevel = zapcore.InfoLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	cfg := zap.Config{
		Level:            zap.NewAtomicLevelAt(zapLevel),
		Development:      false,
		Encoding:         "console",
		EncoderConfig:    zap.NewDevelopmentEncoderConfig(),
		OutputPaths:      []string{"stderr"},
		ErrorOutputPaths: []string{"stderr"},
	}

	return cfg.Build()
}
