// Package config
package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"

	"github.com/amirphl/amm-limit-orders/internal/types"
)

/*
YAML config example:
storage: "postgres"
db_conn_str: "postgres://..."
db_max_open: 10
db_max_idle: 5
redis_addr: "localhost:6379"
rpc_url: "https://..."
chain_id: 1
factory_address: "0x..."
router_address: "0x..."
wrapped_native: "0x..."
fee_tiers: [3000, 500, 10000]
price_source: "pool"
monitor_interval: 60s
slippage_bps: 100
tx_deadline: 5m
telegram_chat_id: "..."
owner_chats:
  alice: "12345"
owner_keys:
  alice: "ALICE_PRIVATE_KEY"
listen_addr: ":8080"
dry_run: false
...
*/

const (
	StorageMemory   = "memory"
	StoragePostgres = "postgres"

	PriceSourcePool = "pool"
	PriceSourceFeed = "feed"
)

type Config struct {
	Storage      string `yaml:"storage"`
	DBConnStr    string `yaml:"db_conn_str"`
	DBMaxOpen    int    `yaml:"db_max_open"`
	DBMaxIdle    int    `yaml:"db_max_idle"`
	RunMigration bool   `yaml:"run_migration"`
	RedisAddr    string `yaml:"redis_addr"`

	RPCURL         string   `yaml:"rpc_url"`
	ChainID        int64    `yaml:"chain_id"`
	FactoryAddress string   `yaml:"factory_address"`
	RouterAddress  string   `yaml:"router_address"`
	WrappedNative  string   `yaml:"wrapped_native"`
	FeeTiers       []uint32 `yaml:"fee_tiers"`

	PriceSource  string  `yaml:"price_source"`
	PriceFeedURL string  `yaml:"price_feed_url"`
	PriceFeedRPS float64 `yaml:"price_feed_rps"`

	MonitorInterval time.Duration `yaml:"monitor_interval"`
	SlippageBps     uint32        `yaml:"slippage_bps"`
	TxDeadline      time.Duration `yaml:"tx_deadline"`

	TelegramToken       string            `yaml:"telegram_token"`
	TelegramChatID      string            `yaml:"telegram_chat_id"`
	OwnerChats          map[string]string `yaml:"owner_chats"`
	NotificationRetries int               `yaml:"notification_retries"`
	NotificationDelay   time.Duration     `yaml:"notification_delay"`

	ListenAddr string `yaml:"listen_addr"`
	// OwnerKeys maps owner ids to the environment variable holding their hex key.
	OwnerKeys map[string]string `yaml:"owner_keys"`
	DryRun    bool              `yaml:"dry_run"`
}

// Load parses args (without the program name). Secrets default from the
// environment; a YAML file given by -config replaces flag values it sets.
func Load(args []string) (Config, error) {
	fs := flag.NewFlagSet("amm-limit-orders", flag.ContinueOnError)

	storage := fs.String("storage", StoragePostgres, "Order storage: memory or postgres")
	dbConnStr := fs.String("db", os.Getenv("DB_CONN_STR"), "PostgreSQL connection string")
	dbMaxOpen := fs.Int("db-max-open", 10, "Max open database connections")
	dbMaxIdle := fs.Int("db-max-idle", 5, "Max idle database connections")
	runMigration := fs.Bool("migrate", false, "Create the database and apply scripts/schema.sql on startup")
	redisAddr := fs.String("redis-addr", os.Getenv("REDIS_ADDR"), "Redis address for the token metadata cache (empty: in-memory)")
	rpcURL := fs.String("rpc-url", os.Getenv("RPC_URL"), "EVM JSON-RPC endpoint")
	chainID := fs.Int64("chain-id", 1, "EVM chain id used for signing")
	factory := fs.String("factory", "", "AMM factory contract address")
	router := fs.String("router", "", "AMM router contract address")
	wrapped := fs.String("wrapped-native", "", "Wrapped native token address")
	feeTiersFlag := fs.String("fee-tiers", "3000,500,10000", "Comma-separated fee tiers in hundredths of a bip, tried in order")
	priceSource := fs.String("price-source", PriceSourcePool, "Price source: pool or feed")
	priceFeedURL := fs.String("price-feed-url", "", "HTTP price feed base URL (price-source=feed)")
	priceFeedRPS := fs.Float64("price-feed-rps", 5, "Max price feed requests per second")
	monitorInterval := fs.Duration("monitor-interval", time.Minute, "Interval between price checks per order")
	slippageBps := fs.Uint("slippage-bps", 100, "Slippage tolerance in basis points")
	txDeadline := fs.Duration("tx-deadline", 5*time.Minute, "Swap deadline relative to submission")
	telegramToken := fs.String("telegram-token", os.Getenv("TELEGRAM_TOKEN"), "Telegram bot token for notifications")
	telegramChatID := fs.String("telegram-chat", "", "Default Telegram chat ID for notifications")
	ownerChatsFlag := fs.String("owner-chats", "", "Comma-separated owner:chat pairs (e.g., alice:123,bob:456)")
	notificationRetries := fs.Int("notification-retries", 3, "Number of notification send attempts")
	notificationDelay := fs.Duration("notification-delay", 5*time.Second, "Delay between notification retries (e.g., 5s)")
	listenAddr := fs.String("listen", ":8080", "HTTP listen address")
	ownerKeysFlag := fs.String("owner-keys", "", "Comma-separated owner:ENV_VAR pairs naming each owner's private key variable")
	dryRun := fs.Bool("dry-run", false, "Evaluate and log swaps without broadcasting transactions")
	configFile := fs.String("config", "", "Path to YAML config file")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	feeTiers, err := parseFeeTiers(*feeTiersFlag)
	if err != nil {
		return Config{}, err
	}
	ownerChats, err := parsePairs(*ownerChatsFlag)
	if err != nil {
		return Config{}, fmt.Errorf("owner-chats: %w", err)
	}
	ownerKeys, err := parsePairs(*ownerKeysFlag)
	if err != nil {
		return Config{}, fmt.Errorf("owner-keys: %w", err)
	}

	cfg := Config{
		Storage:             *storage,
		DBConnStr:           *dbConnStr,
		DBMaxOpen:           *dbMaxOpen,
		DBMaxIdle:           *dbMaxIdle,
		RunMigration:        *runMigration,
		RedisAddr:           *redisAddr,
		RPCURL:              *rpcURL,
		ChainID:             *chainID,
		FactoryAddress:      *factory,
		RouterAddress:       *router,
		WrappedNative:       *wrapped,
		FeeTiers:            feeTiers,
		PriceSource:         *priceSource,
		PriceFeedURL:        *priceFeedURL,
		PriceFeedRPS:        *priceFeedRPS,
		MonitorInterval:     *monitorInterval,
		SlippageBps:         uint32(*slippageBps),
		TxDeadline:          *txDeadline,
		TelegramToken:       *telegramToken,
		TelegramChatID:      *telegramChatID,
		OwnerChats:          ownerChats,
		NotificationRetries: *notificationRetries,
		NotificationDelay:   *notificationDelay,
		ListenAddr:          *listenAddr,
		OwnerKeys:           ownerKeys,
		DryRun:              *dryRun,
	}

	if *configFile != "" {
		data, err := os.ReadFile(*configFile)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse config file: %w", err)
		}
	}
	return cfg, nil
}

// Validate rejects configurations the service cannot run with.
func (c Config) Validate() error {
	var errs []error
	switch c.Storage {
	case StorageMemory:
	case StoragePostgres:
		if c.DBConnStr == "" {
			errs = append(errs, errors.New("db_conn_str is required for postgres storage"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage %q", c.Storage))
	}
	switch c.PriceSource {
	case PriceSourcePool:
	case PriceSourceFeed:
		if c.PriceFeedURL == "" {
			errs = append(errs, errors.New("price_feed_url is required for the feed price source"))
		}
		if c.PriceFeedRPS <= 0 {
			errs = append(errs, errors.New("price_feed_rps must be positive"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown price source %q", c.PriceSource))
	}
	if c.RPCURL == "" {
		errs = append(errs, errors.New("rpc_url is required"))
	}
	for name, addr := range map[string]string{
		"factory_address": c.FactoryAddress,
		"router_address":  c.RouterAddress,
		"wrapped_native":  c.WrappedNative,
	} {
		if !common.IsHexAddress(addr) {
			errs = append(errs, fmt.Errorf("%s %q is not a hex address", name, addr))
		}
	}
	if len(c.FeeTiers) == 0 {
		errs = append(errs, errors.New("at least one fee tier is required"))
	}
	for _, f := range c.FeeTiers {
		if f == 0 || f >= 1_000_000 {
			errs = append(errs, fmt.Errorf("fee tier %d out of range", f))
		}
	}
	if c.MonitorInterval <= 0 {
		errs = append(errs, fmt.Errorf("monitor_interval must be positive, got %s", c.MonitorInterval))
	}
	if c.SlippageBps >= 10000 {
		errs = append(errs, fmt.Errorf("slippage_bps %d out of range [0, 10000)", c.SlippageBps))
	}
	if c.TxDeadline <= 0 {
		errs = append(errs, fmt.Errorf("tx_deadline must be positive, got %s", c.TxDeadline))
	}
	if c.NotificationRetries < 1 {
		errs = append(errs, errors.New("notification_retries must be at least 1"))
	}
	return errors.Join(errs...)
}

// Tiers returns the configured fee tiers in lookup order.
func (c Config) Tiers() []types.FeeTier {
	tiers := make([]types.FeeTier, len(c.FeeTiers))
	for i, f := range c.FeeTiers {
		tiers[i] = types.FeeTier(f)
	}
	return tiers
}

func parseFeeTiers(s string) ([]uint32, error) {
	var tiers []uint32
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		v, err := strconv.ParseUint(part, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("fee tier %q: %w", part, err)
		}
		tiers = append(tiers, uint32(v))
	}
	return tiers, nil
}

// parsePairs parses "k1:v1,k2:v2".
func parsePairs(s string) (map[string]string, error) {
	pairs := make(map[string]string)
	if s == "" {
		return pairs, nil
	}
	for _, pair := range strings.Split(s, ",") {
		k, v, ok := strings.Cut(pair, ":")
		if !ok || k == "" || v == "" {
			return nil, fmt.Errorf("malformed pair %q", pair)
		}
		pairs[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	return pairs, nil
}
