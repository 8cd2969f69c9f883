package network

import (
	"fmt"
	"math/big"
)

// DefaultChainID is the network a switch request targets.
const DefaultChainID int64 = 1

var supported = map[int64]string{
	1:        "Ethereum Mainnet",
	3:        "Ropsten Testnet",
	4:        "Rinkeby Testnet",
	5:        "Goerli Testnet",
	11155111: "Sepolia Testnet",
	31337:    "Hardhat Local Network",
	1337:     "Ganache Local Network",
}

type Identity struct {
	ID    int64
	Label string
}

func (i Identity) Supported() bool { return IsSupported(i.ID) }

func (i Identity) String() string { return i.Label }

// Resolve maps a chain ID onto its display label. Unknown IDs still get
// a label.
func Resolve(id int64) Identity {
	if label, ok := supported[id]; ok {
		return Identity{ID: id, Label: label}
	}
	return Identity{ID: id, Label: fmt.Sprintf("Unknown Network (ID: %d)", id)}
}

// ResolveBig is Resolve for ids read off the wire. Ids that overflow int64
// are never supported.
func ResolveBig(id *big.Int) Identity {
	if id == nil {
		return Resolve(0)
	}
	if !id.IsInt64() {
		return Identity{ID: -1, Label: fmt.Sprintf("Unknown Network (ID: %s)", id.String())}
	}
	return Resolve(id.Int64())
}

func IsSupported(id int64) bool {
	_, ok := supported[id]
	return ok
}
