package token

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
)

// ERC20 minimal ABI for balanceOf
const erc20ABI = `[
	{"constant":true,"inputs":[{"name":"owner","type":"address"}],"name":"balanceOf","outputs":[{"name":"","type":"uint256"}],"type":"function"}
]`

// ContractCaller is the subset of the Ethereum client the reader needs.
type ContractCaller interface {
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// ChainReader reads the BZZ balance of an address directly from Gnosis chain.
// Used to cross-check the balance the bee nodes report for the operator wallet.
type ChainReader struct {
	client   ContractCaller
	bzzABI   abi.ABI
	contract common.Address
}

// NewChainReader dials the RPC endpoint and prepares the BZZ contract binding.
func NewChainReader(rpcURL, bzzContract string) (*ChainReader, error) {
	client, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RPC: %w", err)
	}
	return newChainReader(client, bzzContract)
}

// NewChainReaderWithClient builds a reader on an injected client (for testing).
func NewChainReaderWithClient(client ContractCaller, bzzContract string) (*ChainReader, error) {
	return newChainReader(client, bzzContract)
}

func newChainReader(client ContractCaller, bzzContract string) (*ChainReader, error) {
	parsedABI, err := abi.JSON(strings.NewReader(erc20ABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse ERC20 ABI: %w", err)
	}
	return &ChainReader{
		client:   client,
		bzzABI:   parsedABI,
		contract: common.HexToAddress(bzzContract),
	}, nil
}

// BZZBalance returns the BZZ balance of addr in PLUR.
func (r *ChainReader) BZZBalance(ctx context.Context, addr string) (*big.Int, error) {
	data, err := r.bzzABI.Pack("balanceOf", common.HexToAddress(addr))
	if err != nil {
		return nil, fmt.Errorf("failed to pack balanceOf call: %w", err)
	}

	result, err := r.client.CallContract(ctx, ethereum.CallMsg{
		To:   &r.contract,
		Data: data,
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to call balanceOf: %w", err)
	}

	return new(big.Int).SetBytes(result), nil
}
