package clients

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"voting-oracle/internal/config"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/sirupsen/logrus"
)

// electionABI is the subset of the election contract the oracle talks to.
const electionABI = `[
	{"type":"event","name":"VerificationRequested","inputs":[
		{"name":"voter","type":"address","indexed":true},
		{"name":"electionId","type":"uint256","indexed":true},
		{"name":"nik","type":"string","indexed":false},
		{"name":"name","type":"string","indexed":false},
		{"name":"timestamp","type":"uint256","indexed":false}]},
	{"type":"function","name":"recordVerification","stateMutability":"nonpayable","inputs":[
		{"name":"voter","type":"address"},
		{"name":"electionId","type":"uint256"},
		{"name":"isValid","type":"bool"}],"outputs":[]},
	{"type":"function","name":"isVerificationFinalized","stateMutability":"view","inputs":[
		{"name":"voter","type":"address"},
		{"name":"electionId","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
	{"type":"function","name":"electionExists","stateMutability":"view","inputs":[
		{"name":"electionId","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]}
]`

// ErrLedgerRevert marks a contract-level revert: the write is logically
// impossible (e.g. already finalized on-chain) and must not be retried.
var ErrLedgerRevert = errors.New("ledger transaction reverted")

// VerificationRequestedEvent is one decoded contract event. NIK and Name are
// the requester identity the contract relays for provider lookup.
type VerificationRequestedEvent struct {
	Voter       string
	ElectionID  uint64
	NIK         string
	Name        string
	Timestamp   uint64
	BlockNumber uint64
	TxHash      string
}

// ChainClient is the ledger gateway: event reads, state reads and the single
// write path for verification outcomes. All writes for the oracle identity go
// through one client instance to keep nonce assignment serialized.
type ChainClient interface {
	SubmitVerification(ctx context.Context, wallet string, electionID uint64, isValid bool) (string, error)
	WaitConfirmed(ctx context.Context, txHash string) error
	IsVerificationFinalized(ctx context.Context, wallet string, electionID uint64) (bool, error)
	ElectionExists(ctx context.Context, electionID uint64) (bool, error)
	FilterVerificationRequests(ctx context.Context, fromBlock, toBlock uint64) ([]VerificationRequestedEvent, error)
	LatestBlock(ctx context.Context) (uint64, error)
	Ping(ctx context.Context) error
	SignerAddress() string
	SignerBalance(ctx context.Context) (*big.Int, error)
	Close()
}

type ethChainClient struct {
	client   *ethclient.Client
	cfg      config.ChainConfig
	parsed   abi.ABI
	contract common.Address
	chainID  *big.Int
	key      *ecdsa.PrivateKey
	from     common.Address
	logger   *logrus.Logger

	nonceMutex sync.Mutex
}

// NewChainClient dials the configured RPC endpoints in order and returns a
// client bound to the first one that answers.
func NewChainClient(cfg config.ChainConfig, logger *logrus.Logger) (ChainClient, error) {
	parsed, err := abi.JSON(strings.NewReader(electionABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse election ABI: %w", err)
	}

	if cfg.ElectionContract == "" || !common.IsHexAddress(cfg.ElectionContract) {
		return nil, fmt.Errorf("election contract address is not configured")
	}

	var client *ethclient.Client
	var chainID *big.Int
	var dialErr error
	for _, endpoint := range cfg.RPCEndpoints {
		client, dialErr = ethclient.Dial(endpoint)
		if dialErr != nil {
			logger.WithFields(logrus.Fields{"endpoint": endpoint, "error": dialErr}).Warn("RPC dial failed")
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		chainID, dialErr = client.NetworkID(ctx)
		cancel()
		if dialErr == nil {
			logger.WithFields(logrus.Fields{"endpoint": endpoint, "chain_id": chainID}).Info("connected to RPC endpoint")
			break
		}
		logger.WithFields(logrus.Fields{"endpoint": endpoint, "error": dialErr}).Warn("RPC network check failed")
		client.Close()
		client = nil
	}
	if client == nil {
		return nil, fmt.Errorf("failed to connect to any RPC endpoint: %w", dialErr)
	}

	if cfg.ChainID != 0 && chainID.Int64() != cfg.ChainID {
		client.Close()
		return nil, fmt.Errorf("chain ID mismatch: expected %d, got %s", cfg.ChainID, chainID)
	}

	var key *ecdsa.PrivateKey
	var from common.Address
	if cfg.PrivateKey != "" {
		key, err = crypto.HexToECDSA(strings.TrimPrefix(cfg.PrivateKey, "0x"))
		if err != nil {
			client.Close()
			return nil, fmt.Errorf("failed to parse signing key: %w", err)
		}
		from = crypto.PubkeyToAddress(key.PublicKey)
		logger.WithField("address", from.Hex()).Info("oracle signing address loaded")
	}

	return &ethChainClient{
		client:   client,
		cfg:      cfg,
		parsed:   parsed,
		contract: common.HexToAddress(cfg.ElectionContract),
		chainID:  chainID,
		key:      key,
		from:     from,
		logger:   logger,
	}, nil
}

// SubmitVerification signs and sends recordVerification. The nonce mutex
// keeps a single in-flight nonce assignment for the oracle identity.
func (c *ethChainClient) SubmitVerification(ctx context.Context, wallet string, electionID uint64, isValid bool) (string, error) {
	if c.key == nil {
		return "", fmt.Errorf("no signing key configured")
	}

	data, err := c.parsed.Pack("recordVerification",
		common.HexToAddress(wallet), new(big.Int).SetUint64(electionID), isValid)
	if err != nil {
		return "", fmt.Errorf("failed to pack recordVerification call: %w", err)
	}

	c.nonceMutex.Lock()
	defer c.nonceMutex.Unlock()

	nonce, err := c.client.PendingNonceAt(ctx, c.from)
	if err != nil {
		return "", fmt.Errorf("failed to fetch nonce: %w", err)
	}

	gasPrice, err := c.gasPrice(ctx)
	if err != nil {
		return "", err
	}

	gasLimit := c.cfg.GasLimit
	if gasLimit == 0 {
		estimated, err := c.client.EstimateGas(ctx, ethereum.CallMsg{
			From: c.from,
			To:   &c.contract,
			Data: data,
		})
		if err != nil {
			// Estimation failure on a valid call usually means the contract
			// would revert; surface it as non-transient.
			if isRevertError(err) {
				return "", fmt.Errorf("%w: %v", ErrLedgerRevert, err)
			}
			return "", fmt.Errorf("failed to estimate gas: %w", err)
		}
		// Safety margin against under-provisioning.
		gasLimit = estimated * 120 / 100
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &c.contract,
		Gas:      gasLimit,
		GasPrice: gasPrice,
		Data:     data,
	})

	signedTx, err := types.SignTx(tx, types.NewEIP155Signer(c.chainID), c.key)
	if err != nil {
		return "", fmt.Errorf("failed to sign transaction: %w", err)
	}

	if err := c.client.SendTransaction(ctx, signedTx); err != nil {
		if isRevertError(err) {
			return "", fmt.Errorf("%w: %v", ErrLedgerRevert, err)
		}
		return "", fmt.Errorf("failed to send transaction: %w", err)
	}

	txHash := signedTx.Hash().Hex()
	c.logger.WithFields(logrus.Fields{
		"tx_hash":     txHash,
		"wallet":      wallet,
		"election_id": electionID,
		"nonce":       nonce,
		"gas_limit":   gasLimit,
	}).Info("verification transaction submitted")
	return txHash, nil
}

func (c *ethChainClient) gasPrice(ctx context.Context) (*big.Int, error) {
	if c.cfg.GasPrice != "" {
		price, ok := new(big.Int).SetString(c.cfg.GasPrice, 10)
		if !ok {
			return nil, fmt.Errorf("invalid configured gas price: %s", c.cfg.GasPrice)
		}
		return price, nil
	}
	price, err := c.client.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to suggest gas price: %w", err)
	}
	return price, nil
}

// WaitConfirmed polls for the transaction receipt until the transaction is
// mined or ctx expires. Receipt polling survives nodes that drop pending
// subscriptions under load.
func (c *ethChainClient) WaitConfirmed(ctx context.Context, txHash string) error {
	hash := common.HexToHash(txHash)

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		receiptCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
		receipt, err := c.client.TransactionReceipt(receiptCtx, hash)
		cancel()

		if err == nil && receipt != nil {
			if receipt.Status != types.ReceiptStatusSuccessful {
				return fmt.Errorf("%w: tx %s", ErrLedgerRevert, txHash)
			}
			return nil
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("confirmation wait aborted for %s: %w", txHash, ctx.Err())
		case <-ticker.C:
		}
	}
}

func (c *ethChainClient) IsVerificationFinalized(ctx context.Context, wallet string, electionID uint64) (bool, error) {
	return c.callBool(ctx, "isVerificationFinalized",
		common.HexToAddress(wallet), new(big.Int).SetUint64(electionID))
}

func (c *ethChainClient) ElectionExists(ctx context.Context, electionID uint64) (bool, error) {
	return c.callBool(ctx, "electionExists", new(big.Int).SetUint64(electionID))
}

func (c *ethChainClient) callBool(ctx context.Context, method string, args ...interface{}) (bool, error) {
	data, err := c.parsed.Pack(method, args...)
	if err != nil {
		return false, fmt.Errorf("failed to pack %s call: %w", method, err)
	}

	out, err := c.client.CallContract(ctx, ethereum.CallMsg{To: &c.contract, Data: data}, nil)
	if err != nil {
		return false, fmt.Errorf("%s call failed: %w", method, err)
	}

	results, err := c.parsed.Unpack(method, out)
	if err != nil {
		return false, fmt.Errorf("failed to unpack %s result: %w", method, err)
	}
	if len(results) != 1 {
		return false, fmt.Errorf("unexpected %s result arity: %d", method, len(results))
	}
	value, ok := results[0].(bool)
	if !ok {
		return false, fmt.Errorf("unexpected %s result type: %T", method, results[0])
	}
	return value, nil
}

func (c *ethChainClient) FilterVerificationRequests(ctx context.Context, fromBlock, toBlock uint64) ([]VerificationRequestedEvent, error) {
	eventID := c.parsed.Events["VerificationRequested"].ID
	logs, err := c.client.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(fromBlock),
		ToBlock:   new(big.Int).SetUint64(toBlock),
		Addresses: []common.Address{c.contract},
		Topics:    [][]common.Hash{{eventID}},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to filter verification events: %w", err)
	}

	events := make([]VerificationRequestedEvent, 0, len(logs))
	for _, entry := range logs {
		if len(entry.Topics) < 3 {
			continue
		}
		event := VerificationRequestedEvent{
			Voter:       strings.ToLower(common.BytesToAddress(entry.Topics[1].Bytes()).Hex()),
			ElectionID:  entry.Topics[2].Big().Uint64(),
			BlockNumber: entry.BlockNumber,
			TxHash:      entry.TxHash.Hex(),
		}
		unpacked, err := c.parsed.Unpack("VerificationRequested", entry.Data)
		if err != nil || len(unpacked) != 3 {
			c.logger.WithFields(logrus.Fields{
				"tx_hash": event.TxHash,
				"error":   err,
			}).Warn("skipping undecodable verification event")
			continue
		}
		if nik, ok := unpacked[0].(string); ok {
			event.NIK = nik
		}
		if name, ok := unpacked[1].(string); ok {
			event.Name = name
		}
		if ts, ok := unpacked[2].(*big.Int); ok {
			event.Timestamp = ts.Uint64()
		}
		events = append(events, event)
	}
	return events, nil
}

func (c *ethChainClient) LatestBlock(ctx context.Context) (uint64, error) {
	block, err := c.client.BlockNumber(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to query latest block: %w", err)
	}
	return block, nil
}

func (c *ethChainClient) Ping(ctx context.Context) error {
	_, err := c.client.BlockNumber(ctx)
	return err
}

// SignerAddress reports the derived oracle signing address, empty when no
// key is configured.
func (c *ethChainClient) SignerAddress() string {
	if c.key == nil {
		return ""
	}
	return c.from.Hex()
}

func (c *ethChainClient) SignerBalance(ctx context.Context) (*big.Int, error) {
	if c.key == nil {
		return big.NewInt(0), nil
	}
	balance, err := c.client.BalanceAt(ctx, c.from, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to query signer balance: %w", err)
	}
	return balance, nil
}

func (c *ethChainClient) Close() {
	c.client.Close()
}

// isRevertError classifies node errors that indicate a contract-level
// rejection rather than a transient submission problem.
func isRevertError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "execution reverted") ||
		strings.Contains(msg, "always failing transaction") ||
		strings.Contains(msg, "revert")
}

// IsTransientSubmitError classifies errors worth retrying with backoff.
// Anything that is not a contract-level revert is retried; the attempt
// budget bounds the damage from misclassification.
func IsTransientSubmitError(err error) bool {
	return err != nil && !errors.Is(err, ErrLedgerRevert) && !isRevertError(err)
}
