// Package orderuid computes GPv2 order digests and uids.
package orderuid

import (
	"fmt"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"github.com/wonny/otcseller/internal/contracts"
)

const (
	domainName    = "Gnosis Protocol"
	domainVersion = "v2"
)

var orderTypes = apitypes.Types{
	"EIP712Domain": []apitypes.Type{
		{Name: "name", Type: "string"},
		{Name: "version", Type: "string"},
		{Name: "chainId", Type: "uint256"},
		{Name: "verifyingContract", Type: "address"},
	},
	"Order": []apitypes.Type{
		{Name: "sellToken", Type: "address"},
		{Name: "buyToken", Type: "address"},
		{Name: "receiver", Type: "address"},
		{Name: "sellAmount", Type: "uint256"},
		{Name: "buyAmount", Type: "uint256"},
		{Name: "validTo", Type: "uint32"},
		{Name: "appData", Type: "bytes32"},
		{Name: "feeAmount", Type: "uint256"},
		{Name: "kind", Type: "string"},
		{Name: "partiallyFillable", Type: "bool"},
		{Name: "sellTokenBalance", Type: "string"},
		{Name: "buyTokenBalance", Type: "string"},
	},
}

// Hasher binds order hashing to one settlement contract on one chain
type Hasher struct {
	domain          apitypes.TypedDataDomain
	domainSeparator common.Hash
}

// NewHasher precomputes the domain separator
func NewHasher(chainID int64, settlement common.Address) (*Hasher, error) {
	domain := apitypes.TypedDataDomain{
		Name:              domainName,
		Version:           domainVersion,
		ChainId:           math.NewHexOrDecimal256(chainID),
		VerifyingContract: settlement.Hex(),
	}

	td := apitypes.TypedData{Types: orderTypes, PrimaryType: "Order", Domain: domain}
	sep, err := td.HashStruct("EIP712Domain", domain.Map())
	if err != nil {
		return nil, fmt.Errorf("failed to hash domain: %w", err)
	}

	return &Hasher{domain: domain, domainSeparator: common.BytesToHash(sep)}, nil
}

// DomainSeparator returns the EIP-712 domain separator
func (h *Hasher) DomainSeparator() common.Hash {
	return h.domainSeparator
}

// Digest returns the EIP-712 digest of order
func (h *Hasher) Digest(order contracts.Order) (common.Hash, error) {
	msg, err := message(order)
	if err != nil {
		return common.Hash{}, err
	}

	td := apitypes.TypedData{Types: orderTypes, PrimaryType: "Order", Domain: h.domain, Message: msg}
	structHash, err := td.HashStruct("Order", msg)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to hash order: %w", err)
	}

	raw := make([]byte, 0, 66)
	raw = append(raw, 0x19, 0x01)
	raw = append(raw, h.domainSeparator.Bytes()...)
	raw = append(raw, structHash...)
	return crypto.Keccak256Hash(raw), nil
}

// UID returns digest ‖ owner ‖ validTo
func (h *Hasher) UID(order contracts.Order, owner common.Address) (contracts.OrderUID, error) {
	digest, err := h.Digest(order)
	if err != nil {
		return contracts.OrderUID{}, err
	}
	return contracts.PackOrderUID(digest, owner, order.ValidTo), nil
}

// message maps an order onto the typed-data message; markers must be known names
func message(o contracts.Order) (apitypes.TypedDataMessage, error) {
	kind, err := markerString(o.Kind)
	if err != nil {
		return nil, fmt.Errorf("kind: %w", err)
	}
	sellBal, err := markerString(o.SellTokenBalance)
	if err != nil {
		return nil, fmt.Errorf("sellTokenBalance: %w", err)
	}
	buyBal, err := markerString(o.BuyTokenBalance)
	if err != nil {
		return nil, fmt.Errorf("buyTokenBalance: %w", err)
	}

	sell, buy, fee := o.Amounts()
	return apitypes.TypedDataMessage{
		"sellToken":         o.SellToken.Hex(),
		"buyToken":          o.BuyToken.Hex(),
		"receiver":          o.Receiver.Hex(),
		"sellAmount":        sell.String(),
		"buyAmount":         buy.String(),
		"validTo":           strconv.FormatUint(uint64(o.ValidTo), 10),
		"appData":           o.AppData.Hex(),
		"feeAmount":         fee.String(),
		"kind":              kind,
		"partiallyFillable": o.PartiallyFillable,
		"sellTokenBalance":  sellBal,
		"buyTokenBalance":   buyBal,
	}, nil
}

func markerString(h common.Hash) (string, error) {
	switch h {
	case contracts.KindSell:
		return "sell", nil
	case contracts.KindBuy:
		return "buy", nil
	case contracts.BalanceERC20:
		return "erc20", nil
	case contracts.BalanceExternal:
		return "external", nil
	case contracts.BalanceInternal:
		return "internal", nil
	}
	return "", fmt.Errorf("unknown marker %s", h.Hex())
}
