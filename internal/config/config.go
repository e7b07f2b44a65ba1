package config

import (
	"encoding/base64"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type Config struct {
	ListenAddr string

	// booking API
	APIBaseURL string
	APIToken   string
	APITimeout time.Duration

	// optional backends; empty disables them
	DatabaseURL  string
	RedisAddr    string
	AMQPURL      string
	AMQPQueue    string
	KafkaBrokers []string
	KafkaTopic   string

	// settlement
	PollInterval       time.Duration
	PaymentCeiling     time.Duration
	SettlementCurrency string
	FXRates            map[string]decimal.Decimal

	// table availability
	SlotStepMinutes int
	SlotBuffer      time.Duration

	LogLevel  string
	LogFormat string
}

func FromEnv() (Config, error) {
	cfg := Config{
		ListenAddr:         getenv("LISTEN_ADDR", ":8080"),
		APIBaseURL:         strings.TrimRight(getenv("API_BASE_URL", "http://localhost:3000/api"), "/"),
		APIToken:           os.Getenv("API_TOKEN"),
		DatabaseURL:        os.Getenv("DATABASE_URL"),
		RedisAddr:          os.Getenv("REDIS_ADDR"),
		AMQPURL:            os.Getenv("AMQP_URL"),
		AMQPQueue:          getenv("AMQP_QUEUE", "payment.settled"),
		KafkaBrokers:       splitCSV(os.Getenv("KAFKA_BROKERS")),
		KafkaTopic:         getenv("KAFKA_TOPIC", "staybook.settlements"),
		SettlementCurrency: strings.ToUpper(getenv("SETTLEMENT_CURRENCY", "VND")),
		LogLevel:           getenv("LOG_LEVEL", "info"),
		LogFormat:          getenv("LOG_FORMAT", "text"),
	}

	var err error
	if cfg.APITimeout, err = seconds("API_TIMEOUT_SECONDS", "10"); err != nil {
		return Config{}, err
	}
	if cfg.PollInterval, err = seconds("PAYMENT_POLL_SECONDS", "2"); err != nil {
		return Config{}, err
	}
	if cfg.PaymentCeiling, err = seconds("PAYMENT_CEILING_SECONDS", "60"); err != nil {
		return Config{}, err
	}
	if cfg.PaymentCeiling < cfg.PollInterval {
		return Config{}, fmt.Errorf("PAYMENT_CEILING_SECONDS must be >= PAYMENT_POLL_SECONDS")
	}

	step, err := strconv.Atoi(getenv("SLOT_STEP_MINUTES", "30"))
	if err != nil || step < 1 || step > 720 {
		return Config{}, fmt.Errorf("invalid SLOT_STEP_MINUTES")
	}
	cfg.SlotStepMinutes = step

	buf, err := strconv.Atoi(getenv("SLOT_BUFFER_MINUTES", "30"))
	if err != nil || buf < 0 {
		return Config{}, fmt.Errorf("invalid SLOT_BUFFER_MINUTES")
	}
	cfg.SlotBuffer = time.Duration(buf) * time.Minute

	cfg.FXRates, err = ParseRates(os.Getenv("FX_RATES"))
	if err != nil {
		return Config{}, fmt.Errorf("FX_RATES: %w", err)
	}

	return cfg, nil
}

// CookieKeys returns the securecookie hash and block keys. Only the web server needs them.
func (c Config) CookieKeys() (hashKey, blockKey []byte, err error) {
	hk := os.Getenv("COOKIE_HASH_KEY")
	bk := os.Getenv("COOKIE_BLOCK_KEY")
	if hk == "" || bk == "" {
		return nil, nil, fmt.Errorf("COOKIE_HASH_KEY and COOKIE_BLOCK_KEY are required (32 and 16/24/32 bytes base64)")
	}
	if hashKey, err = decodeB64(hk); err != nil {
		return nil, nil, fmt.Errorf("COOKIE_HASH_KEY: %w", err)
	}
	if blockKey, err = decodeB64(bk); err != nil {
		return nil, nil, fmt.Errorf("COOKIE_BLOCK_KEY: %w", err)
	}
	return hashKey, blockKey, nil
}

// ParseRates parses "USD=25400,EUR=27500": units of settlement currency per unit of the key.
func ParseRates(s string) (map[string]decimal.Decimal, error) {
	out := map[string]decimal.Decimal{}
	for _, p := range strings.Split(s, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		code, val, ok := strings.Cut(p, "=")
		if !ok {
			return nil, fmt.Errorf("bad pair %q (want CODE=rate)", p)
		}
		rate, err := decimal.NewFromString(strings.TrimSpace(val))
		if err != nil || !rate.IsPositive() {
			return nil, fmt.Errorf("bad rate for %s", code)
		}
		out[strings.ToUpper(strings.TrimSpace(code))] = rate
	}
	return out, nil
}

func seconds(key, def string) (time.Duration, error) {
	n, err := strconv.Atoi(getenv(key, def))
	if err != nil || n < 1 {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return time.Duration(n) * time.Second, nil
}

func decodeB64(s string) ([]byte, error) {
	b, err := os.ReadFile(s)
	if err == nil {
		// allow pointing to file path for k8s secret mounts
		s = string(b)
	}
	s = strings.TrimSpace(s)
	if dec, err := base64.StdEncoding.DecodeString(s); err == nil {
		return dec, nil
	}
	return base64.RawStdEncoding.DecodeString(s)
}

func getenv(k, def string) string {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	return v
}

func splitCSV(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
