package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"tradebot-go/internal/config"
	"tradebot-go/internal/strategy"
)

const defaultConfigPath = "config.yaml"

func main() {
	reader := bufio.NewReader(os.Stdin)

	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	for {
		fmt.Println("\n=== TradeBot Control ===")
		fmt.Println("1) Show configuration summary")
		fmt.Println("2) Edit bankroll and risk knobs")
		fmt.Println("3) Edit strategy settings")
		fmt.Println("4) Save config")
		fmt.Println("5) Launch paper bot")
		fmt.Println("6) Run synthetic backtest")
		fmt.Println("7) Reload config from disk")
		fmt.Println("0) Exit")
		fmt.Print("Select option: ")

		input, _ := reader.ReadString('\n')
		choice := strings.TrimSpace(input)

		switch choice {
		case "1":
			printSummary(cfg)
		case "2":
			editRisk(reader, cfg)
		case "3":
			editStrategy(reader, cfg)
		case "4":
			if err := saveConfig(cfg); err != nil {
				fmt.Fprintf(os.Stderr, "save failed: %v\n", err)
			} else {
				fmt.Println("config saved")
			}
		case "5":
			launch(reader, "./cmd/paper", "-config", locateConfig())
		case "6":
			bars := int(promptFloat(reader, "Bars", 2000))
			launch(reader, "./cmd/backtest", "-config", locateConfig(), "-synthetic", strconv.Itoa(bars))
		case "7":
			reloaded, err := loadConfig()
			if err != nil {
				fmt.Fprintf(os.Stderr, "reload failed: %v\n", err)
			} else {
				cfg = reloaded
				fmt.Println("config reloaded")
			}
		case "0":
			return
		default:
			fmt.Println("unknown option")
		}
	}
}

func printSummary(cfg *config.Config) {
	fmt.Println("\n--- Configuration Summary ---")
	fmt.Printf("Mode: %s via %s | feed: %s %s\n", cfg.Execution.Mode, cfg.Execution.Venue, cfg.Exchange.Feed, cfg.Exchange.Timeframe)
	fmt.Println("Symbols:", strings.Join(cfg.Exchange.Symbols, ", "))
	fmt.Printf("Starting cash: $%.2f | backtest balance: $%.2f\n", cfg.Paper.StartingCash, cfg.Backtest.InitialBalance)
	fmt.Printf("Position size: %.2f%% | stop loss: %.2f%% | take profit: %.2f%%\n",
		cfg.Risk.PositionSizePercent, cfg.Risk.StopLossPercent, cfg.Risk.TakeProfitPercent)
	fmt.Printf("Daily loss limit: %.2f%% | max trades/day: %d | shorts: %v\n",
		cfg.Risk.MaxDailyLossPercent, cfg.Risk.MaxTradesPerDay, cfg.Risk.AllowShort)
	fmt.Printf("Per-trade notional cap: $%.2f\n", cfg.Risk.MaxNotionalPerTrade)
	voters := cfg.Strategy.Voters
	if len(voters) == 0 {
		voters = strategy.DefaultVoters()
	}
	fmt.Printf("Strategy: %s | voters: %s | min agree: %d\n", cfg.Strategy.Mode, strings.Join(voters, ", "), cfg.Strategy.MinAgree)
	fmt.Printf("RSI %d (%.0f/%.0f) | MACD %d/%d/%d | BB %d x%.1f | SMA %d/%d\n",
		cfg.Strategy.RSIPeriod, cfg.Strategy.RSIOversold, cfg.Strategy.RSIOverbought,
		cfg.Strategy.MACDFast, cfg.Strategy.MACDSlow, cfg.Strategy.MACDSignal,
		cfg.Strategy.BBPeriod, cfg.Strategy.BBStdDev, cfg.Strategy.SMAFast, cfg.Strategy.SMASlow)
}

func editRisk(reader *bufio.Reader, cfg *config.Config) {
	fmt.Println("\n--- Edit Risk / Bankroll ---")
	cfg.Paper.StartingCash = promptFloat(reader, "Starting cash", cfg.Paper.StartingCash)
	cfg.Risk.PositionSizePercent = promptFloat(reader, "Position size (% of balance)", cfg.Risk.PositionSizePercent)
	cfg.Risk.StopLossPercent = promptFloat(reader, "Stop loss (%)", cfg.Risk.StopLossPercent)
	cfg.Risk.TakeProfitPercent = promptFloat(reader, "Take profit (%)", cfg.Risk.TakeProfitPercent)
	cfg.Risk.MaxDailyLossPercent = promptFloat(reader, "Max daily loss (%)", cfg.Risk.MaxDailyLossPercent)
	cfg.Risk.MaxTradesPerDay = int(promptFloat(reader, "Max trades per day", float64(cfg.Risk.MaxTradesPerDay)))
	cfg.Risk.MaxNotionalPerTrade = promptFloat(reader, "Max notional per trade (USD, 0 = off)", cfg.Risk.MaxNotionalPerTrade)
	cfg.Risk.AllowShort = promptBool(reader, "Allow shorts", cfg.Risk.AllowShort)
	reportValidity(cfg)
}

func editStrategy(reader *bufio.Reader, cfg *config.Config) {
	fmt.Println("\n--- Edit Strategy ---")
	cfg.Strategy.Mode = promptString(reader, "Mode (fusion|sma_cross)", cfg.Strategy.Mode)
	fmt.Printf("Current voters: %s\n", strings.Join(cfg.Strategy.Voters, ", "))
	fmt.Print("Enter voters comma-separated (blank to keep): ")
	if line, _ := reader.ReadString('\n'); strings.TrimSpace(line) != "" {
		cfg.Strategy.Voters = nil
		for _, p := range strings.Split(strings.TrimSpace(line), ",") {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				cfg.Strategy.Voters = append(cfg.Strategy.Voters, trimmed)
			}
		}
	}
	cfg.Strategy.MinAgree = int(promptFloat(reader, "Min agreeing voters (0 = majority)", float64(cfg.Strategy.MinAgree)))
	cfg.Strategy.RSIPeriod = int(promptFloat(reader, "RSI period", float64(cfg.Strategy.RSIPeriod)))
	cfg.Strategy.RSIOverbought = promptFloat(reader, "RSI overbought", cfg.Strategy.RSIOverbought)
	cfg.Strategy.RSIOversold = promptFloat(reader, "RSI oversold", cfg.Strategy.RSIOversold)
	cfg.Strategy.SMAFast = int(promptFloat(reader, "SMA fast", float64(cfg.Strategy.SMAFast)))
	cfg.Strategy.SMASlow = int(promptFloat(reader, "SMA slow", float64(cfg.Strategy.SMASlow)))
	cfg.Strategy.MomentumThreshold = promptFloat(reader, "Momentum threshold (%)", cfg.Strategy.MomentumThreshold)
	reportValidity(cfg)
}

func reportValidity(cfg *config.Config) {
	if err := cfg.Validate(); err != nil {
		fmt.Printf("warning: %v\n", err)
	}
}

func launch(reader *bufio.Reader, pkg string, args ...string) {
	fmt.Printf("Launching %s (Ctrl+C to stop)...\n", pkg)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cmd := exec.CommandContext(ctx, "go", append([]string{"run", pkg}, args...)...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Stdin = os.Stdin

	if err := cmd.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to start bot: %v\n", err)
		return
	}

	go func() {
		_ = cmd.Wait()
		cancel()
	}()

	fmt.Print("\nPress ENTER to stop and return to menu...")
	_, _ = reader.ReadString('\n')
	cancel()
	time.Sleep(500 * time.Millisecond)
}

func promptFloat(reader *bufio.Reader, label string, current float64) float64 {
	fmt.Printf("%s [%.2f]: ", label, current)
	line, _ := reader.ReadString('\n')
	line = strings.TrimSpace(line)
	if line == "" {
		return current
	}
	val, err := strconv.ParseFloat(line, 64)
	if err != nil {
		fmt.Printf("invalid number, keeping %.2f\n", current)
		return current
	}
	return val
}

func promptString(reader *bufio.Reader, label, current string) string {
	fmt.Printf("%s [%s]: ", label, current)
	line, _ := reader.ReadString('\n')
	if line = strings.TrimSpace(line); line == "" {
		return current
	}
	return line
}

func promptBool(reader *bufio.Reader, label string, current bool) bool {
	line := promptString(reader, label+" (y/n)", map[bool]string{true: "y", false: "n"}[current])
	switch strings.ToLower(line) {
	case "y", "yes", "true":
		return true
	case "n", "no", "false":
		return false
	}
	fmt.Println("invalid answer, keeping current value")
	return current
}

func loadConfig() (*config.Config, error) {
	return config.Load(locateConfig())
}

func saveConfig(cfg *config.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	return config.Save(locateConfig(), cfg)
}

func locateConfig() string {
	if p := os.Getenv("TRADEBOT_CONFIG"); p != "" {
		return filepath.Clean(p)
	}
	if filepath.IsAbs(defaultConfigPath) {
		return defaultConfigPath
	}
	return filepath.Clean(defaultConfigPath)
}
