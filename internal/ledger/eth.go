package ledger

import (
	"bytes"
	"context"
	_ "embed"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
)

//go:embed token_abi.json
var tokenABIJSON string

// TransferEventName is the contract event the history is built from.
const TransferEventName = "TokenTransfer"

var (
	tokenABI = mustParseABI(tokenABIJSON)

	ErrReverted    = errors.New("transaction reverted")
	ErrEmptyResult = errors.New("empty call result")
)

func mustParseABI(s string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(s))
	if err != nil {
		panic(fmt.Sprintf("token abi: %v", err))
	}
	return parsed
}

// RevertError carries the name of a custom contract error decoded from
// revert data (ERC20InsufficientBalance, EnforcedPause, ...).
type RevertError struct {
	Method string
	Reason string
}

func (e *RevertError) Error() string {
	return fmt.Sprintf("%s reverted: %s", e.Method, e.Reason)
}

func (e *RevertError) Unwrap() error { return ErrReverted }

// EthGateway talks JSON-RPC to an Ethereum node hosting the token contract.
type EthGateway struct {
	rpc      *rpc.Client
	eth      *ethclient.Client
	contract common.Address

	receiptPoll time.Duration
}

var _ Gateway = (*EthGateway)(nil)

func Dial(ctx context.Context, url string, contract common.Address) (*EthGateway, error) {
	rc, err := rpc.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("dial rpc: %w", err)
	}
	return NewEthGateway(rc, contract), nil
}

func NewEthGateway(rc *rpc.Client, contract common.Address) *EthGateway {
	return &EthGateway{
		rpc:         rc,
		eth:         ethclient.NewClient(rc),
		contract:    contract,
		receiptPoll: 250 * time.Millisecond,
	}
}

func (g *EthGateway) Close() { g.rpc.Close() }

func (g *EthGateway) Contract() common.Address { return g.contract }

func (g *EthGateway) IsListening(ctx context.Context) (bool, error) {
	var listening bool
	if err := g.rpc.CallContext(ctx, &listening, "net_listening"); err != nil {
		return false, err
	}
	return listening, nil
}

func (g *EthGateway) ChainID(ctx context.Context) (*big.Int, error) {
	return g.eth.ChainID(ctx)
}

func (g *EthGateway) Accounts(ctx context.Context) ([]common.Address, error) {
	var accounts []common.Address
	if err := g.rpc.CallContext(ctx, &accounts, "eth_accounts"); err != nil {
		return nil, fmt.Errorf("eth_accounts: %w", err)
	}
	return accounts, nil
}

// SwitchChain asks a wallet-backed endpoint to change networks. Plain nodes
// reject the method; callers treat this as best effort.
func (g *EthGateway) SwitchChain(ctx context.Context, chainID int64) error {
	params := map[string]string{"chainId": hexutil.EncodeBig(big.NewInt(chainID))}
	if err := g.rpc.CallContext(ctx, nil, "wallet_switchEthereumChain", params); err != nil {
		return fmt.Errorf("wallet_switchEthereumChain: %w", err)
	}
	return nil
}

func (g *EthGateway) TotalSupply(ctx context.Context) (*big.Int, error) {
	return first[*big.Int](g.call(ctx, "totalSupply"))
}

func (g *EthGateway) BalanceOf(ctx context.Context, account common.Address) (*big.Int, error) {
	return first[*big.Int](g.call(ctx, "balanceOf", account))
}

func (g *EthGateway) Allowance(ctx context.Context, owner, spender common.Address) (*big.Int, error) {
	return first[*big.Int](g.call(ctx, "allowance", owner, spender))
}

func (g *EthGateway) Paused(ctx context.Context) (bool, error) {
	return first[bool](g.call(ctx, "paused"))
}

func (g *EthGateway) Owner(ctx context.Context) (common.Address, error) {
	return first[common.Address](g.call(ctx, "owner"))
}

func (g *EthGateway) Metadata(ctx context.Context) (Metadata, error) {
	var (
		md  Metadata
		err error
	)
	if md.Name, err = first[string](g.call(ctx, "name")); err != nil {
		return Metadata{}, err
	}
	if md.Symbol, err = first[string](g.call(ctx, "symbol")); err != nil {
		return Metadata{}, err
	}
	if md.Decimals, err = first[uint8](g.call(ctx, "decimals")); err != nil {
		return Metadata{}, err
	}
	return md, nil
}

func (g *EthGateway) Mint(ctx context.Context, from, to common.Address, amount *big.Int) (common.Hash, error) {
	return g.send(ctx, from, "mint", to, amount)
}

func (g *EthGateway) Transfer(ctx context.Context, from, to common.Address, amount *big.Int) (common.Hash, error) {
	return g.send(ctx, from, "transfer", to, amount)
}

func (g *EthGateway) TransferFrom(ctx context.Context, from, owner, to common.Address, amount *big.Int) (common.Hash, error) {
	return g.send(ctx, from, "transferFrom", owner, to, amount)
}

func (g *EthGateway) Approve(ctx context.Context, from, spender common.Address, amount *big.Int) (common.Hash, error) {
	return g.send(ctx, from, "approve", spender, amount)
}

func (g *EthGateway) Burn(ctx context.Context, from common.Address, amount *big.Int) (common.Hash, error) {
	return g.send(ctx, from, "burn", amount)
}

func (g *EthGateway) BurnFrom(ctx context.Context, from, account common.Address, amount *big.Int) (common.Hash, error) {
	return g.send(ctx, from, "burnFrom", account, amount)
}

func (g *EthGateway) Pause(ctx context.Context, from common.Address) (common.Hash, error) {
	return g.send(ctx, from, "pause")
}

func (g *EthGateway) Unpause(ctx context.Context, from common.Address) (common.Hash, error) {
	return g.send(ctx, from, "unpause")
}

func (g *EthGateway) TransferOwnership(ctx context.Context, from, newOwner common.Address) (common.Hash, error) {
	return g.send(ctx, from, "transferOwnership", newOwner)
}

func (g *EthGateway) TransferEvents(ctx context.Context, fromBlock uint64, toBlock *big.Int) ([]Transfer, error) {
	ev := tokenABI.Events[TransferEventName]

	logs, err := g.eth.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(fromBlock),
		ToBlock:   toBlock,
		Addresses: []common.Address{g.contract},
		Topics:    [][]common.Hash{{ev.ID}},
	})
	if err != nil {
		return nil, fmt.Errorf("filter logs: %w", err)
	}

	out := make([]Transfer, 0, len(logs))
	for _, lg := range logs {
		t, err := DecodeTransfer(lg)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

// DecodeTransfer decodes a TokenTransfer log: from and to are indexed topics,
// value is the only data word.
func DecodeTransfer(lg types.Log) (Transfer, error) {
	ev := tokenABI.Events[TransferEventName]
	if len(lg.Topics) != 3 || lg.Topics[0] != ev.ID {
		return Transfer{}, fmt.Errorf("log %s/%d is not a %s event", lg.TxHash.Hex(), lg.Index, TransferEventName)
	}

	vals, err := ev.Inputs.NonIndexed().Unpack(lg.Data)
	if err != nil {
		return Transfer{}, fmt.Errorf("unpack %s: %w", TransferEventName, err)
	}
	value, err := first[*big.Int](vals, nil)
	if err != nil {
		return Transfer{}, fmt.Errorf("unpack %s: %w", TransferEventName, err)
	}

	return Transfer{
		From:        common.BytesToAddress(lg.Topics[1].Bytes()),
		To:          common.BytesToAddress(lg.Topics[2].Bytes()),
		Value:       value,
		BlockNumber: lg.BlockNumber,
		TxHash:      lg.TxHash,
	}, nil
}

func (g *EthGateway) call(ctx context.Context, method string, args ...any) ([]any, error) {
	data, err := tokenABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}

	out, err := g.eth.CallContract(ctx, ethereum.CallMsg{To: &g.contract, Data: data}, nil)
	if err != nil {
		return nil, decodeRevert(method, err)
	}

	vals, err := tokenABI.Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	return vals, nil
}

func (g *EthGateway) send(ctx context.Context, from common.Address, method string, args ...any) (common.Hash, error) {
	data, err := tokenABI.Pack(method, args...)
	if err != nil {
		return common.Hash{}, fmt.Errorf("pack %s: %w", method, err)
	}

	tx := map[string]any{
		"from": from,
		"to":   g.contract,
		"data": hexutil.Bytes(data),
	}

	var hash common.Hash
	if err := g.rpc.CallContext(ctx, &hash, "eth_sendTransaction", tx); err != nil {
		return common.Hash{}, decodeRevert(method, err)
	}

	receipt, err := g.waitReceipt(ctx, hash)
	if err != nil {
		return hash, fmt.Errorf("%s receipt: %w", method, err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return hash, fmt.Errorf("%s tx %s: %w", method, hash.Hex(), ErrReverted)
	}
	return hash, nil
}

func (g *EthGateway) waitReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	ticker := time.NewTicker(g.receiptPoll)
	defer ticker.Stop()

	for {
		receipt, err := g.eth.TransactionReceipt(ctx, hash)
		if err == nil {
			return receipt, nil
		}
		if !errors.Is(err, ethereum.NotFound) {
			return nil, err
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// decodeRevert maps custom-error revert data onto the ABI's error names.
// Errors without decodable data are returned wrapped as is.
func decodeRevert(method string, err error) error {
	var de rpc.DataError
	if !errors.As(err, &de) {
		return fmt.Errorf("%s: %w", method, err)
	}

	raw, ok := de.ErrorData().(string)
	if !ok {
		return fmt.Errorf("%s: %w", method, err)
	}
	data, derr := hexutil.Decode(raw)
	if derr != nil || len(data) < 4 {
		return fmt.Errorf("%s: %w", method, err)
	}

	for name, e := range tokenABI.Errors {
		if bytes.Equal(e.ID[:4], data[:4]) {
			return &RevertError{Method: method, Reason: name}
		}
	}
	return fmt.Errorf("%s: %w", method, err)
}

func first[T any](vals []any, err error) (T, error) {
	var zero T
	if err != nil {
		return zero, err
	}
	if len(vals) == 0 {
		return zero, ErrEmptyResult
	}
	v, ok := vals[0].(T)
	if !ok {
		return zero, fmt.Errorf("unexpected result type %T", vals[0])
	}
	return v, nil
}
