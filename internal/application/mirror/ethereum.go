package mirror

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/shopspring/decimal"
)

// Amounts are sent as 6-decimal fixed point integers.
const amountDecimals = 6

const lendingABI = `[
{"type":"function","name":"lockCollateral","stateMutability":"nonpayable","inputs":[{"name":"borrower","type":"address"},{"name":"tokenId","type":"uint256"},{"name":"amount","type":"uint256"}],"outputs":[]},
{"type":"function","name":"unlockCollateral","stateMutability":"nonpayable","inputs":[{"name":"borrower","type":"address"},{"name":"tokenId","type":"uint256"},{"name":"amount","type":"uint256"}],"outputs":[]},
{"type":"function","name":"issueLoan","stateMutability":"nonpayable","inputs":[{"name":"borrower","type":"address"},{"name":"amount","type":"uint256"},{"name":"rateBps","type":"uint256"}],"outputs":[]},
{"type":"function","name":"recordRepayment","stateMutability":"nonpayable","inputs":[{"name":"borrower","type":"address"},{"name":"principalPaid","type":"uint256"},{"name":"interestPaid","type":"uint256"}],"outputs":[]},
{"type":"function","name":"setAssetPrice","stateMutability":"nonpayable","inputs":[{"name":"tokenId","type":"uint256"},{"name":"price","type":"uint256"}],"outputs":[]}
]`

// ContractBackend is the subset of ethclient.Client used to send calls.
type ContractBackend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
}

// EthereumMirror signs and submits lending contract calls from one
// operator key.
type EthereumMirror struct {
	backend  ContractBackend
	contract common.Address
	key      *ecdsa.PrivateKey
	from     common.Address
	abi      abi.ABI

	mu      sync.Mutex
	chainID *big.Int
}

// DialEthereum connects to rpcURL and returns a mirror for the contract.
func DialEthereum(ctx context.Context, rpcURL, contract, privateKeyHex string) (*EthereumMirror, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", rpcURL, err)
	}
	return NewEthereumMirror(client, contract, privateKeyHex)
}

func NewEthereumMirror(backend ContractBackend, contract, privateKeyHex string) (*EthereumMirror, error) {
	if !common.IsHexAddress(contract) {
		return nil, fmt.Errorf("invalid contract address %q", contract)
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid operator key: %w", err)
	}
	parsed, err := abi.JSON(strings.NewReader(lendingABI))
	if err != nil {
		return nil, err
	}
	return &EthereumMirror{
		backend:  backend,
		contract: common.HexToAddress(contract),
		key:      key,
		from:     crypto.PubkeyToAddress(key.PublicKey),
		abi:      parsed,
	}, nil
}

func (m *EthereumMirror) LockCollateral(ctx context.Context, wallet, tokenID string, amount int64) (string, error) {
	borrower, token, err := walletAndToken(wallet, tokenID)
	if err != nil {
		return "", err
	}
	return m.send(ctx, "lockCollateral", borrower, token, big.NewInt(amount))
}

func (m *EthereumMirror) UnlockCollateral(ctx context.Context, wallet, tokenID string, amount int64) (string, error) {
	borrower, token, err := walletAndToken(wallet, tokenID)
	if err != nil {
		return "", err
	}
	return m.send(ctx, "unlockCollateral", borrower, token, big.NewInt(amount))
}

func (m *EthereumMirror) IssueLoan(ctx context.Context, wallet string, amount decimal.Decimal, rateBps int64) (string, error) {
	borrower, err := parseWallet(wallet)
	if err != nil {
		return "", err
	}
	return m.send(ctx, "issueLoan", borrower, ToUnits(amount), big.NewInt(rateBps))
}

func (m *EthereumMirror) RecordRepayment(ctx context.Context, wallet string, principalPaid, interestPaid decimal.Decimal) (string, error) {
	borrower, err := parseWallet(wallet)
	if err != nil {
		return "", err
	}
	return m.send(ctx, "recordRepayment", borrower, ToUnits(principalPaid), ToUnits(interestPaid))
}

func (m *EthereumMirror) SetAssetPrice(ctx context.Context, tokenID string, price decimal.Decimal) (string, error) {
	token, err := parseTokenID(tokenID)
	if err != nil {
		return "", err
	}
	return m.send(ctx, "setAssetPrice", token, ToUnits(price))
}

// send packs and submits one call. Sends are serialized so nonces stay
// sequential for the operator account.
func (m *EthereumMirror) send(ctx context.Context, method string, args ...interface{}) (string, error) {
	data, err := m.abi.Pack(method, args...)
	if err != nil {
		return "", fmt.Errorf("pack %s: %w", method, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.chainID == nil {
		id, err := m.backend.ChainID(ctx)
		if err != nil {
			return "", fmt.Errorf("chain id: %w", err)
		}
		m.chainID = id
	}
	nonce, err := m.backend.PendingNonceAt(ctx, m.from)
	if err != nil {
		return "", fmt.Errorf("nonce: %w", err)
	}
	gasPrice, err := m.backend.SuggestGasPrice(ctx)
	if err != nil {
		return "", fmt.Errorf("gas price: %w", err)
	}
	gas, err := m.backend.EstimateGas(ctx, ethereum.CallMsg{From: m.from, To: &m.contract, Data: data})
	if err != nil {
		return "", fmt.Errorf("estimate gas for %s: %w", method, err)
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &m.contract,
		Value:    big.NewInt(0),
		Gas:      gas,
		GasPrice: gasPrice,
		Data:     data,
	})
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(m.chainID), m.key)
	if err != nil {
		return "", fmt.Errorf("sign %s: %w", method, err)
	}
	if err := m.backend.SendTransaction(ctx, signed); err != nil {
		return "", fmt.Errorf("send %s: %w", method, err)
	}
	return signed.Hash().Hex(), nil
}

// ToUnits converts a currency amount to 6-decimal integer units, truncating
// anything finer.
func ToUnits(d decimal.Decimal) *big.Int {
	return d.Shift(amountDecimals).Truncate(0).BigInt()
}

func parseWallet(wallet string) (common.Address, error) {
	if !common.IsHexAddress(wallet) {
		return common.Address{}, fmt.Errorf("invalid wallet address %q", wallet)
	}
	return common.HexToAddress(wallet), nil
}

func parseTokenID(tokenID string) (*big.Int, error) {
	id, ok := new(big.Int).SetString(strings.TrimSpace(tokenID), 10)
	if !ok || id.Sign() < 0 {
		return nil, fmt.Errorf("invalid token id %q", tokenID)
	}
	return id, nil
}

func walletAndToken(wallet, tokenID string) (common.Address, *big.Int, error) {
	addr, err := parseWallet(wallet)
	if err != nil {
		return common.Address{}, nil, err
	}
	id, err := parseTokenID(tokenID)
	if err != nil {
		return common.Address{}, nil, err
	}
	return addr, id, nil
}
