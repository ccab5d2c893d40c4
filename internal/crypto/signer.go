package crypto

import (
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// Receipt is the settlement data covered by an operator signature.
type Receipt struct {
	TxID        string
	MarketID    string
	Outcome     string
	Signer      string
	Amount      string // decimal string, 8 dp
	BlockHeight uint64
	Timestamp   int64
}

// Signer signs settlement receipts with the operator's secp256k1 key using
// EIP-191 personal messages.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
}

// NewSigner creates a Signer from a hex-encoded private key.
func NewSigner(privateKeyHex string) (*Signer, error) {
	pk, err := ethcrypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: invalid private key: %w", err)
	}
	return &Signer{
		privateKey: pk,
		address:    ethcrypto.PubkeyToAddress(pk.PublicKey),
	}, nil
}

// Address returns the operator address.
func (s *Signer) Address() common.Address {
	return s.address
}

// SignReceipt returns a 65-byte hex signature (v in {27,28}) over the
// receipt digest.
func (s *Signer) SignReceipt(r Receipt) (string, error) {
	sig, err := ethcrypto.Sign(accounts.TextHash(ReceiptDigest(r)), s.privateKey)
	if err != nil {
		return "", fmt.Errorf("crypto/signer: signing: %w", err)
	}
	if sig[64] < 27 {
		sig[64] += 27
	}
	return "0x" + hex.EncodeToString(sig), nil
}

// RecoverReceiptSigner returns the address that produced signature over r.
func RecoverReceiptSigner(r Receipt, signature string) (common.Address, error) {
	sig, err := hex.DecodeString(strings.TrimPrefix(signature, "0x"))
	if err != nil {
		return common.Address{}, fmt.Errorf("crypto/signer: decode signature: %w", err)
	}
	if len(sig) != 65 {
		return common.Address{}, fmt.Errorf("crypto/signer: signature must be 65 bytes, got %d", len(sig))
	}
	if sig[64] >= 27 {
		sig[64] -= 27
	}
	pub, err := ethcrypto.SigToPub(accounts.TextHash(ReceiptDigest(r)), sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("crypto/signer: recover: %w", err)
	}
	return ethcrypto.PubkeyToAddress(*pub), nil
}

// ReceiptDigest is keccak256 over the length-prefixed receipt fields.
func ReceiptDigest(r Receipt) []byte {
	var buf []byte
	for _, f := range []string{r.TxID, r.MarketID, r.Outcome, r.Signer, r.Amount} {
		buf = append(buf, common.LeftPadBytes(big.NewInt(int64(len(f))).Bytes(), 4)...)
		buf = append(buf, f...)
	}
	buf = append(buf, common.LeftPadBytes(new(big.Int).SetUint64(r.BlockHeight).Bytes(), 32)...)
	buf = append(buf, common.LeftPadBytes(big.NewInt(r.Timestamp).Bytes(), 32)...)
	return ethcrypto.Keccak256(buf)
}
