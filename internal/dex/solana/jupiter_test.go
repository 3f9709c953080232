package solana

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	solana "github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

func TestNewJupiterClientCommit(t *testing.T) {
	wallet := solana.NewWallet()
	client := NewJupiterClient(JupiterOptions{RPCURL: "https://rpc", BaseURL: "https://jup/", Commitment: "finalized"}, wallet.PrivateKey)
	if client.Commit != rpc.CommitmentFinalized {
		t.Fatalf("expected finalized commitment, got %v", client.Commit)
	}
	if client.Base != "https://jup" {
		t.Fatalf("expected trailing slash trimmed, got %s", client.Base)
	}
	if NewJupiterClient(JupiterOptions{}, wallet.PrivateKey).Commit != rpc.CommitmentConfirmed {
		t.Fatalf("expected confirmed by default")
	}
}

func TestGetQuote(t *testing.T) {
	wallet := solana.NewWallet()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v6/quote" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		if r.URL.Query().Get("inputMint") != "AAA" || r.URL.Query().Get("amount") != "10" {
			t.Fatalf("unexpected query %s", r.URL.RawQuery)
		}
		resp := Quote{InputMint: "AAA", OutputMint: "BBB", InAmount: "10", OutAmount: "20", SlippageBps: 50}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	client := NewJupiterClient(JupiterOptions{RPCURL: "https://rpc", BaseURL: server.URL, Commitment: "processed"}, wallet.PrivateKey)
	client.HTTP = server.Client()

	quote, err := client.GetQuote(context.Background(), "AAA", "BBB", 10, 50)
	if err != nil {
		t.Fatalf("GetQuote returned error: %v", err)
	}
	if quote.OutAmount != "20" {
		t.Fatalf("expected OutAmount 20, got %s", quote.OutAmount)
	}
}

func TestQuoteAndSwapStatusErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v6/quote" {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	client := NewJupiterClient(JupiterOptions{BaseURL: server.URL}, solana.NewWallet().PrivateKey)
	var se *StatusError
	if _, err := client.GetQuote(context.Background(), "A", "B", 1, 50); !errors.As(err, &se) || !se.Transient() {
		t.Fatalf("expected transient status error, got %v", err)
	}
	if _, err := client.BuildAndSendSwap(context.Background(), &Quote{}); !errors.As(err, &se) || se.Transient() || se.Op != "swap" {
		t.Fatalf("expected permanent swap status error, got %v", err)
	}
}

// rpcServer answers getSignatureStatuses with the given status object.
func rpcServer(t *testing.T, status string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID     any    `json:"id"`
			Method string `json:"method"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode rpc request: %v", err)
		}
		if req.Method != "getSignatureStatuses" {
			t.Errorf("unexpected rpc method %s", req.Method)
		}
		w.Header().Set("Content-Type", "application/json")
		id, _ := json.Marshal(req.ID)
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":` + string(id) + `,"result":{"context":{"slot":1},"value":[` + status + `]}}`))
	}))
}

func TestWaitConfirmed(t *testing.T) {
	ok := rpcServer(t, `{"slot":1,"confirmations":null,"err":null,"confirmationStatus":"finalized"}`)
	defer ok.Close()
	client := NewJupiterClient(JupiterOptions{RPCURL: ok.URL, ConfirmPoll: time.Millisecond}, solana.NewWallet().PrivateKey)
	if err := client.WaitConfirmed(context.Background(), solana.Signature{1}); err != nil {
		t.Fatalf("expected confirmation, got %v", err)
	}

	failed := rpcServer(t, `{"slot":1,"confirmations":0,"err":{"InstructionError":[0,"Custom"]},"confirmationStatus":"processed"}`)
	defer failed.Close()
	client = NewJupiterClient(JupiterOptions{RPCURL: failed.URL, ConfirmPoll: time.Millisecond}, solana.NewWallet().PrivateKey)
	if err := client.WaitConfirmed(context.Background(), solana.Signature{1}); !errors.Is(err, ErrTxFailed) {
		t.Fatalf("expected on-chain failure, got %v", err)
	}

	pending := rpcServer(t, `null`)
	defer pending.Close()
	client = NewJupiterClient(JupiterOptions{RPCURL: pending.URL, ConfirmPoll: time.Millisecond}, solana.NewWallet().PrivateKey)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := client.WaitConfirmed(ctx, solana.Signature{1}); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline while pending, got %v", err)
	}
}

func TestReached(t *testing.T) {
	if !reached("finalized", rpc.CommitmentConfirmed) || reached("processed", rpc.CommitmentConfirmed) || reached("", rpc.CommitmentProcessed) {
		t.Fatalf("commitment ordering is wrong")
	}
}
