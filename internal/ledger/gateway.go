package ledger

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Transfer is a decoded TokenTransfer log, amounts in base units.
type Transfer struct {
	From        common.Address
	To          common.Address
	Value       *big.Int
	BlockNumber uint64
	TxHash      common.Hash
}

// Metadata is the token's static ERC-20 description.
type Metadata struct {
	Name     string
	Symbol   string
	Decimals uint8
}

// Gateway is the ledger node plus the deployed token contract. Amounts are
// base-unit integers; state-changing calls are sent from a node-managed
// account and return once the transaction is mined.
type Gateway interface {
	IsListening(ctx context.Context) (bool, error)
	ChainID(ctx context.Context) (*big.Int, error)
	Accounts(ctx context.Context) ([]common.Address, error)
	SwitchChain(ctx context.Context, chainID int64) error

	TotalSupply(ctx context.Context) (*big.Int, error)
	BalanceOf(ctx context.Context, account common.Address) (*big.Int, error)
	Allowance(ctx context.Context, owner, spender common.Address) (*big.Int, error)
	Paused(ctx context.Context) (bool, error)
	Owner(ctx context.Context) (common.Address, error)
	Metadata(ctx context.Context) (Metadata, error)

	Mint(ctx context.Context, from, to common.Address, amount *big.Int) (common.Hash, error)
	Transfer(ctx context.Context, from, to common.Address, amount *big.Int) (common.Hash, error)
	TransferFrom(ctx context.Context, from, owner, to common.Address, amount *big.Int) (common.Hash, error)
	Approve(ctx context.Context, from, spender common.Address, amount *big.Int) (common.Hash, error)
	Burn(ctx context.Context, from common.Address, amount *big.Int) (common.Hash, error)
	BurnFrom(ctx context.Context, from, account common.Address, amount *big.Int) (common.Hash, error)
	Pause(ctx context.Context, from common.Address) (common.Hash, error)
	Unpause(ctx context.Context, from common.Address) (common.Hash, error)
	TransferOwnership(ctx context.Context, from, newOwner common.Address) (common.Hash, error)

	// TransferEvents returns TokenTransfer logs in [fromBlock, toBlock];
	// a nil toBlock means the latest block.
	TransferEvents(ctx context.Context, fromBlock uint64, toBlock *big.Int) ([]Transfer, error)
}
