package solana

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	bin "github.com/gagliardetto/binary"
	solana "github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// ErrTxFailed is returned when a submitted swap lands with an on-chain error.
var ErrTxFailed = errors.New("swap transaction failed on-chain")

// StatusError is a non-200 answer from the Jupiter API.
type StatusError struct {
	Op   string
	Code int
}

func (e *StatusError) Error() string { return fmt.Sprintf("jupiter %s status %d", e.Op, e.Code) }

// Transient reports whether retrying may succeed.
func (e *StatusError) Transient() bool { return e.Code == http.StatusTooManyRequests || e.Code >= 500 }

// JupiterOptions configures a JupiterClient.
type JupiterOptions struct {
	RPCURL              string
	BaseURL             string
	Commitment          string
	PriorityFeeLamports uint64
	Timeout             time.Duration
	// ConfirmTimeout bounds the wait for the swap to reach Commitment; 0 returns right after submission.
	ConfirmTimeout time.Duration
	ConfirmPoll    time.Duration
}

// JupiterClient quotes and submits swaps through the Jupiter aggregator.
type JupiterClient struct {
	Base   string
	RPC    *rpc.Client
	Owner  solana.PrivateKey
	Commit rpc.CommitmentType
	HTTP   *http.Client

	priorityFee    uint64
	confirmTimeout time.Duration
	confirmPoll    time.Duration
}

type Quote struct {
	InputMint      string `json:"inputMint"`
	OutputMint     string `json:"outputMint"`
	InAmount       string `json:"inAmount"`
	OutAmount      string `json:"outAmount"`
	OtherAmount    string `json:"otherAmountThreshold"`
	SlippageBps    int    `json:"slippageBps"`
	RoutePlan      any    `json:"routePlan"`
	PriceImpactPct string `json:"priceImpactPct"`
}

func commitment(name string) rpc.CommitmentType {
	switch strings.ToLower(name) {
	case "processed":
		return rpc.CommitmentProcessed
	case "finalized":
		return rpc.CommitmentFinalized
	default:
		return rpc.CommitmentConfirmed
	}
}

func NewJupiterClient(opts JupiterOptions, owner solana.PrivateKey) *JupiterClient {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 8 * time.Second
	}
	poll := opts.ConfirmPoll
	if poll <= 0 {
		poll = 500 * time.Millisecond
	}
	return &JupiterClient{
		Base:           strings.TrimSuffix(opts.BaseURL, "/"),
		RPC:            rpc.New(opts.RPCURL),
		Owner:          owner,
		Commit:         commitment(opts.Commitment),
		HTTP:           &http.Client{Timeout: timeout},
		priorityFee:    opts.PriorityFeeLamports,
		confirmTimeout: opts.ConfirmTimeout,
		confirmPoll:    poll,
	}
}

// GetQuote asks for the best route. amount is in the input mint's smallest units.
func (j *JupiterClient) GetQuote(ctx context.Context, inputMint, outputMint string, amount uint64, slippageBps int) (*Quote, error) {
	q := url.Values{}
	q.Set("inputMint", inputMint)
	q.Set("outputMint", outputMint)
	q.Set("amount", strconv.FormatUint(amount, 10))
	q.Set("slippageBps", strconv.Itoa(slippageBps))
	q.Set("onlyDirectRoutes", "false")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, j.Base+"/v6/quote?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := j.HTTP.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{Op: "quote", Code: resp.StatusCode}
	}
	var out Quote
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode quote: %w", err)
	}
	if out.InAmount == "" || out.OutAmount == "" {
		return nil, &StatusError{Op: "quote", Code: http.StatusUnprocessableEntity}
	}
	return &out, nil
}

// BuildAndSendSwap asks Jupiter for a ready-to-sign transaction, signs it
// locally, submits it via RPC and, when configured, waits for confirmation.
func (j *JupiterClient) BuildAndSendSwap(ctx context.Context, quote *Quote) (solana.Signature, error) {
	tx, err := j.buildSwap(ctx, quote)
	if err != nil {
		return solana.Signature{}, err
	}
	_, err = tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(j.Owner.PublicKey()) {
			return &j.Owner
		}
		return nil
	})
	if err != nil {
		return solana.Signature{}, fmt.Errorf("sign: %w", err)
	}
	sig, err := j.RPC.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
		PreflightCommitment: j.Commit,
	})
	if err != nil {
		return solana.Signature{}, fmt.Errorf("send tx: %w", err)
	}
	if j.confirmTimeout <= 0 {
		return sig, nil
	}
	cctx, cancel := context.WithTimeout(ctx, j.confirmTimeout)
	defer cancel()
	return sig, j.WaitConfirmed(cctx, sig)
}

func (j *JupiterClient) buildSwap(ctx context.Context, quote *Quote) (*solana.Transaction, error) {
	body, err := json.Marshal(map[string]any{
		"userPublicKey":             j.Owner.PublicKey().String(),
		"wrapAndUnwrapSol":          true,
		"asLegacyTransaction":       false,
		"useTokenLedger":            false,
		"prioritizationFeeLamports": j.priorityFee,
		"quoteResponse":             quote,
	})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, j.Base+"/v6/swap", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := j.HTTP.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{Op: "swap", Code: resp.StatusCode}
	}
	var sr struct {
		SwapTransaction string `json:"swapTransaction"` // base64, unsigned
	}
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return nil, fmt.Errorf("decode swap: %w", err)
	}
	raw, err := base64.StdEncoding.DecodeString(sr.SwapTransaction)
	if err != nil {
		return nil, fmt.Errorf("decode tx: %w", err)
	}
	tx, err := solana.TransactionFromDecoder(bin.NewBinDecoder(raw))
	if err != nil {
		return nil, fmt.Errorf("unmarshal tx: %w", err)
	}
	return tx, nil
}

// WaitConfirmed polls the signature status until it reaches the client's
// commitment, fails on-chain, or ctx ends.
func (j *JupiterClient) WaitConfirmed(ctx context.Context, sig solana.Signature) error {
	ticker := time.NewTicker(j.confirmPoll)
	defer ticker.Stop()
	for {
		res, err := j.RPC.GetSignatureStatuses(ctx, false, sig)
		if err == nil && res != nil && len(res.Value) > 0 && res.Value[0] != nil {
			st := res.Value[0]
			if st.Err != nil {
				return fmt.Errorf("%w: %s: %v", ErrTxFailed, sig, st.Err)
			}
			if reached(st.ConfirmationStatus, j.Commit) {
				return nil
			}
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("confirm %s: %w", sig, ctx.Err())
		case <-ticker.C:
		}
	}
}

func reached(status rpc.ConfirmationStatusType, want rpc.CommitmentType) bool {
	rank := map[string]int{"processed": 1, "confirmed": 2, "finalized": 3}
	return rank[string(status)] >= rank[string(want)] && rank[string(status)] > 0
}
