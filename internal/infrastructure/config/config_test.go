package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

const sample = `
[symbols]
list = ["btc", "eth", "BTC", " "]
quotes = ["usdt", "usdc"]
quote_aliases = { usd = "usdt" }

[aggregation]
funding_grouping = "settlement"

[connector]
timeout_ms = 8000
batch_size = 10

[exchanges.mexc]
enabled = true
batch_size = 5

[exchanges.OKX]
enabled = true
proxy_url = "http://127.0.0.1:7890"

[exchanges.binance]
enabled = true

[exchanges.bybit]
enabled = false
`

func TestLoadAppliesDefaultsAndOverrides(t *testing.T) {
	cfg, err := Load(writeConfig(t, sample))
	if err != nil {
		t.Fatal(err)
	}
	if got := strings.Join(cfg.Symbols.List, ","); got != "BTC,ETH" {
		t.Fatalf("symbols = %s", got)
	}
	if cfg.Symbols.PrimaryQuote != "USDT" || cfg.Symbols.QuoteAliases["USD"] != "USDT" {
		t.Fatalf("symbols section = %+v", cfg.Symbols)
	}
	if cfg.Aggregation.IntervalMs != 5000 {
		t.Fatalf("interval = %d", cfg.Aggregation.IntervalMs)
	}
	if got := strings.Join(cfg.GetEnabledExchanges(), ","); got != "binance,okx,mexc" {
		t.Fatalf("enabled = %s", got)
	}

	mexc := cfg.ConnectorFor("mexc")
	if mexc.BatchSize != 5 || mexc.TimeoutMs != 8000 || mexc.MessageTimeoutMs != 30_000 {
		t.Fatalf("mexc connector = %+v", mexc)
	}
	if okx := cfg.ConnectorFor("okx"); okx.ProxyURL != "http://127.0.0.1:7890" || okx.BatchSize != 10 {
		t.Fatalf("okx connector = %+v", okx)
	}
}

func TestEnvOverridesSecrets(t *testing.T) {
	t.Setenv("PERPARB_POSTGRES_DSN", "postgres://u:p@localhost/db")
	t.Setenv("PERPARB_HTTP_ADDR", ":9999")
	cfg, err := Load(writeConfig(t, sample+"\n[storage.postgres]\nenabled = true\n"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Storage.Postgres.DSN != "postgres://u:p@localhost/db" || cfg.HTTP.Addr != ":9999" {
		t.Fatalf("env not applied: %q %q", cfg.Storage.Postgres.DSN, cfg.HTTP.Addr)
	}
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]string{
		"no symbols":   "[exchanges.binance]\nenabled = true\n",
		"no exchanges": "[symbols]\nlist = [\"BTC\"]\n",
		"bad grouping": "[symbols]\nlist = [\"BTC\"]\n[aggregation]\nprice_grouping = \"quote\"\n[exchanges.binance]\nenabled = true\n",
		"postgres dsn": "[symbols]\nlist = [\"BTC\"]\n[exchanges.binance]\nenabled = true\n[storage.postgres]\nenabled = true\n",
	}
	for name, body := range cases {
		if _, err := Load(writeConfig(t, body)); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}
