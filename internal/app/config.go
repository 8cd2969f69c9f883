package app

import (
	"fmt"
	"time"

	"github.com/pvzzle/tokenpanel/internal/balances"
	"github.com/pvzzle/tokenpanel/internal/runner"

	"github.com/caarlos0/env/v11"
	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"go.uber.org/zap/zapcore"
)

type Config struct {
	TelegramToken   string `env:"TELEGRAM_TOKEN,required"`
	EthRPCURL       string `env:"ETH_RPC_URL,required"`
	ContractAddress string `env:"CONTRACT_ADDRESS,required"`

	// ActiveAccount overrides the node's first account.
	ActiveAccount      string        `env:"ACTIVE_ACCOUNT"`
	MinBusy            time.Duration `env:"MIN_BUSY"`
	BalanceConcurrency int           `env:"BALANCE_CONCURRENCY"`
	NotifyBuffer       int           `env:"NOTIFY_BUFFER"`
	NotifyRPS          float64       `env:"NOTIFY_RPS"`
	MetricsAddr        string        `env:"METRICS_ADDR"`
	LogLevel           zapcore.Level `env:"LOG_LEVEL"`
}

func LoadConfig() (Config, error) {
	err := godotenv.Load()
	if err != nil {
		fmt.Println("Warning: .env file not found, relying on environment variables")
	}

	config := Config{
		MinBusy:            runner.DefaultMinBusy,
		BalanceConcurrency: balances.DefaultConcurrency,
		NotifyBuffer:       1024,
		NotifyRPS:          25,
		MetricsAddr:        ":9090",
		LogLevel:           zapcore.InfoLevel,
	}

	if err := env.Parse(&config); err != nil {
		return Config{}, err
	}
	if err := config.validate(); err != nil {
		return Config{}, err
	}

	return config, nil
}

func (c Config) validate() error {
	if !common.IsHexAddress(c.ContractAddress) {
		return fmt.Errorf("CONTRACT_ADDRESS: not an address: %q", c.ContractAddress)
	}
	if c.ActiveAccount != "" && !common.IsHexAddress(c.ActiveAccount) {
		return fmt.Errorf("ACTIVE_ACCOUNT: not an address: %q", c.ActiveAccount)
	}
	if c.MinBusy < 0 {
		return fmt.Errorf("MIN_BUSY: must not be negative, got %s", c.MinBusy)
	}
	return nil
}

func (c Config) activeAccount() common.Address {
	if c.ActiveAccount == "" {
		return common.Address{}
	}
	return common.HexToAddress(c.ActiveAccount)
}
