// Package config also contains DEX-specific configuration surfaces.
package config

import "time"

// Dex defines network endpoints and defaults for decentralized execution.
type Dex struct {
	Chain       string `yaml:"chain" default:"solana"`
	RpcURL      string `yaml:"rpc_url" default:"https://api.mainnet-beta.solana.com"`
	Commitment  string `yaml:"commitment" default:"confirmed" validate:"oneof=processed confirmed finalized"`
	JupiterBase string `yaml:"jupiter_base" default:"https://quote-api.jup.ag"`
	SlippageBps int    `yaml:"slippage_bps" default:"100" validate:"gte=0,lte=5000"`
	// PriorityFeeLamports is passed to Jupiter as prioritizationFeeLamports.
	PriorityFeeLamports uint64    `yaml:"priority_fee_lamports"`
	ConfirmTimeoutMs    int       `yaml:"confirm_timeout_ms" default:"30000" validate:"gte=0"`
	Pairs               []DexPair `yaml:"pairs" validate:"dive"`
}

// ConfirmTimeout bounds the wait for a swap to reach Commitment.
func (d Dex) ConfirmTimeout() time.Duration { return time.Duration(d.ConfirmTimeoutMs) * time.Millisecond }

// DexPair maps a bot symbol onto SPL mints.
type DexPair struct {
	Symbol        string `yaml:"symbol" validate:"required"`
	BaseMint      string `yaml:"base_mint" validate:"required"`
	QuoteMint     string `yaml:"quote_mint" validate:"required"`
	BaseDecimals  int32  `yaml:"base_decimals" validate:"gte=0,lte=18"`
	QuoteDecimals int32  `yaml:"quote_decimals" validate:"gte=0,lte=18"`
}

// Wallet stores encrypted or env-backed signing material metadata.
type Wallet struct {
	PrivateKeyBase58 string `yaml:"private_key_base58"`
}
