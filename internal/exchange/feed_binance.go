package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jpillora/backoff"

	"tradebot-go/internal/signal"
)

type binanceEnvelope struct {
	Stream string       `json:"stream"`
	Data   binanceKline `json:"data"`
}

type binanceKline struct {
	EventType string `json:"e"`
	Symbol    string `json:"s"`
	Kline     struct {
		OpenTime  int64  `json:"t"`
		CloseTime int64  `json:"T"`
		Interval  string `json:"i"`
		Open      string `json:"o"`
		Close     string `json:"c"`
		High      string `json:"h"`
		Low       string `json:"l"`
		Volume    string `json:"v"`
		Closed    bool   `json:"x"`
	} `json:"k"`
}

func (f *Feed) streamURL(symbols []string) string {
	streams := make([]string, len(symbols))
	for i, sym := range symbols {
		streams[i] = strings.ToLower(sym) + "@kline_" + f.timeframe
	}
	return fmt.Sprintf("%s/stream?streams=%s", f.streamBaseURL, strings.Join(streams, "/"))
}

func (f *Feed) runBinance(ctx context.Context, out chan<- signal.Bar) error {
	symbols := f.snapshotSymbols()
	if len(symbols) == 0 {
		return fmt.Errorf("binance feed requires at least one symbol")
	}
	url := f.streamURL(symbols)
	b := &backoff.Backoff{Min: f.reconnectMin, Max: f.reconnectMax, Factor: 1.8, Jitter: true}

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		delivered, err := f.consumeBinanceStream(ctx, url, symbols, out)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if delivered {
			b.Reset()
		}
		wait := b.Duration()
		f.log.Warn().Err(err).Dur("retry_in", wait).Msg("binance feed disconnected, retrying")
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// consumeBinanceStream reads until the connection fails. delivered reports
// whether at least one bar made it through, which resets the backoff.
func (f *Feed) consumeBinanceStream(ctx context.Context, url string, symbols []string, out chan<- signal.Bar) (delivered bool, err error) {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return false, err
	}
	defer conn.Close()

	f.log.Info().Str("provider", ProviderBinance).Strs("symbols", symbols).Str("timeframe", f.timeframe).Msg("connected market data feed")

	conn.SetReadLimit(1 << 20)
	conn.SetReadDeadline(time.Now().Add(90 * time.Second))
	conn.SetPongHandler(func(appData string) error {
		conn.SetReadDeadline(time.Now().Add(90 * time.Second))
		return nil
	})

	pingCtx, pingCancel := context.WithCancel(ctx)
	defer pingCancel()
	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					f.log.Warn().Err(err).Msg("binance ping failed")
					return
				}
			case <-pingCtx.Done():
				return
			}
		}
	}()
	go func() {
		<-pingCtx.Done()
		conn.Close()
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return delivered, ctx.Err()
			}
			return delivered, err
		}
		conn.SetReadDeadline(time.Now().Add(90 * time.Second))

		var env binanceEnvelope
		if err := json.Unmarshal(message, &env); err != nil {
			f.log.Warn().Err(err).Msg("failed to decode binance message")
			continue
		}
		if !env.Data.Kline.Closed {
			continue
		}
		symbol := parseBinanceSymbol(env.Stream)
		if env.Data.Symbol != "" {
			symbol = strings.ToUpper(env.Data.Symbol)
		}
		k := env.Data.Kline
		bar, err := barFromStrings(symbol, k.OpenTime, k.Open, k.High, k.Low, k.Close, k.Volume)
		if err != nil {
			f.log.Warn().Err(err).Str("sym", symbol).Msg("invalid kline from binance")
			continue
		}
		if err := f.emit(ctx, out, bar); err != nil {
			return delivered, err
		}
		delivered = true
	}
}

func parseBinanceSymbol(stream string) string {
	parts := strings.Split(stream, "@")
	if len(parts) == 0 || parts[0] == "" {
		return strings.ToUpper(stream)
	}
	return strings.ToUpper(parts[0])
}
