package auth

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/accountgraph/server/internal/model"
)

const fidResourcePrefix = "farcaster://fid/"

const idRegistryABI = `[{"inputs":[{"internalType":"uint256","name":"fid","type":"uint256"}],"name":"custodyOf","outputs":[{"internalType":"address","name":"custody","type":"address"}],"stateMutability":"view","type":"function"}]`

// CustodyReader resolves the custody address of a Farcaster ID
type CustodyReader interface {
	CustodyOf(ctx context.Context, fid *big.Int) (common.Address, error)
}

// IDRegistry reads custodyOf from the Farcaster ID Registry contract
type IDRegistry struct {
	caller  ethereum.ContractCaller
	address common.Address
	abi     abi.ABI
}

func NewIDRegistry(caller ethereum.ContractCaller, registryAddress string) (*IDRegistry, error) {
	if !common.IsHexAddress(registryAddress) {
		return nil, fmt.Errorf("invalid id registry address %q", registryAddress)
	}
	parsed, err := abi.JSON(strings.NewReader(idRegistryABI))
	if err != nil {
		return nil, fmt.Errorf("parse id registry abi: %w", err)
	}
	return &IDRegistry{caller: caller, address: common.HexToAddress(registryAddress), abi: parsed}, nil
}

// DialIDRegistry connects to an Optimism JSON-RPC endpoint
func DialIDRegistry(ctx context.Context, rpcURL, registryAddress string) (*IDRegistry, *ethclient.Client, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, nil, fmt.Errorf("dial optimism rpc: %w", err)
	}
	reg, err := NewIDRegistry(client, registryAddress)
	if err != nil {
		client.Close()
		return nil, nil, err
	}
	return reg, client, nil
}

func (r *IDRegistry) CustodyOf(ctx context.Context, fid *big.Int) (common.Address, error) {
	data, err := r.abi.Pack("custodyOf", fid)
	if err != nil {
		return common.Address{}, fmt.Errorf("pack custodyOf: %w", err)
	}
	out, err := r.caller.CallContract(ctx, ethereum.CallMsg{To: &r.address, Data: data}, nil)
	if err != nil {
		return common.Address{}, fmt.Errorf("call custodyOf: %w", err)
	}
	values, err := r.abi.Unpack("custodyOf", out)
	if err != nil {
		return common.Address{}, fmt.Errorf("unpack custodyOf: %w", err)
	}
	if len(values) != 1 {
		return common.Address{}, fmt.Errorf("custodyOf returned %d values", len(values))
	}
	addr, ok := values[0].(common.Address)
	if !ok {
		return common.Address{}, fmt.Errorf("custodyOf returned %T", values[0])
	}
	return addr, nil
}

// FarcasterVerifier authenticates Sign In With Farcaster messages
type FarcasterVerifier struct {
	nonces  *NonceStore
	custody CustodyReader
	domain  string
	now     func() time.Time
}

func NewFarcasterVerifier(nonces *NonceStore, custody CustodyReader, domain string) *FarcasterVerifier {
	return &FarcasterVerifier{nonces: nonces, custody: custody, domain: domain, now: time.Now}
}

func (v *FarcasterVerifier) Verify(ctx context.Context, r Request) (VerifiedIdentity, error) {
	req, ok := r.(FarcasterRequest)
	if !ok {
		return VerifiedIdentity{}, unexpectedRequest(StrategyFarcaster, r)
	}
	if req.Message == "" || req.Signature == "" {
		return VerifiedIdentity{}, fmt.Errorf("%w: message and signature are required", ErrInvalidFarcaster)
	}

	msg, err := verifySiwe(req.Message, req.Signature, v.domain, v.now())
	if err != nil {
		return VerifiedIdentity{}, err
	}
	fid, err := fidFromResources(msg.Resources)
	if err != nil {
		return VerifiedIdentity{}, err
	}

	custody, err := v.custody.CustodyOf(ctx, fid)
	if err != nil {
		return VerifiedIdentity{}, fmt.Errorf("read custody address: %w", err)
	}
	if custody == (common.Address{}) || custody != msg.Address {
		return VerifiedIdentity{}, ErrCustodyMismatch
	}

	if err := v.nonces.Consume(ctx, msg.Nonce); err != nil {
		return VerifiedIdentity{}, err
	}

	return VerifiedIdentity{
		Type:       model.AccountTypeSocial,
		Identifier: fid.String(),
		Provider:   strPtr("farcaster"),
		Metadata: map[string]any{
			"fid":            fid.String(),
			"custodyAddress": strings.ToLower(custody.Hex()),
		},
		ProvesOwnership: true,
	}, nil
}

func fidFromResources(resources []string) (*big.Int, error) {
	for _, res := range resources {
		raw, ok := strings.CutPrefix(res, fidResourcePrefix)
		if !ok {
			continue
		}
		fid, ok := new(big.Int).SetString(raw, 10)
		if !ok || fid.Sign() <= 0 {
			return nil, fmt.Errorf("%w: bad fid %q", ErrInvalidFarcaster, raw)
		}
		return fid, nil
	}
	return nil, fmt.Errorf("%w: missing %s resource", ErrInvalidFarcaster, fidResourcePrefix)
}
