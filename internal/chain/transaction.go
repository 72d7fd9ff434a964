package chain

import (
	"encoding/base64"
	"encoding/binary"

	"github.com/mr-tron/base58"
)

// ComputeBudgetProgramID is the compute budget program's address.
const ComputeBudgetProgramID = "ComputeBudget111111111111111111111111111111"

// defaultComputeUnitLimit is generous enough for an aggregator swap route.
const defaultComputeUnitLimit = 600_000

// Signer builds compute-budget instructions and signs aggregator-supplied
// transactions with the bot wallet.
type Signer struct {
	wallet              *Wallet
	blockhashCache      *BlockhashCache
	priorityFeeLamports uint64
	computeUnitLimit    uint32
}

// NewSigner creates a signer for the given wallet, reading blockhashes from
// cache and pricing compute units from priorityFeeLamports.
func NewSigner(wallet *Wallet, blockhashCache *BlockhashCache, priorityFeeLamports uint64) *Signer {
	return &Signer{
		wallet:              wallet,
		blockhashCache:      blockhashCache,
		priorityFeeLamports: priorityFeeLamports,
		computeUnitLimit:    defaultComputeUnitLimit,
	}
}

// SetComputeUnitLimit overrides the default compute unit limit.
func (s *Signer) SetComputeUnitLimit(limit uint32) {
	s.computeUnitLimit = limit
}

// BuildComputeBudgetInstructions returns the raw SetComputeUnitLimit and
// SetComputeUnitPrice instruction payloads for the configured priority fee.
func (s *Signer) BuildComputeBudgetInstructions() (setLimit, setPrice []byte) {
	setLimit = make([]byte, 5)
	setLimit[0] = 2
	binary.LittleEndian.PutUint32(setLimit[1:], s.computeUnitLimit)

	microLamportsPerCU := (s.priorityFeeLamports * 1_000_000) / uint64(s.computeUnitLimit)
	setPrice = make([]byte, 9)
	setPrice[0] = 3
	binary.LittleEndian.PutUint64(setPrice[1:], microLamportsPerCU)

	return setLimit, setPrice
}

// ComputeBudgetProgramIDBytes returns the program ID's raw bytes.
func ComputeBudgetProgramIDBytes() []byte {
	b, _ := base58.Decode(ComputeBudgetProgramID)
	return b
}

// SignSerializedTransaction signs a base64-encoded versioned transaction
// returned by the aggregator and returns the signed, base64-encoded result.
func (s *Signer) SignSerializedTransaction(serializedTxBase64 string) (string, error) {
	txBytes, err := base64.StdEncoding.DecodeString(serializedTxBase64)
	if err != nil {
		return "", err
	}

	sigCount := int(txBytes[0])
	if sigCount == 0 {
		message := txBytes[1:]
		signature := s.wallet.Sign(message)

		signedTx := make([]byte, 1+64+len(message))
		signedTx[0] = 1
		copy(signedTx[1:65], signature)
		copy(signedTx[65:], message)
		return base64.StdEncoding.EncodeToString(signedTx), nil
	}

	sigOffset := 1
	messageOffset := sigOffset + sigCount*64
	message := txBytes[messageOffset:]
	signature := s.wallet.Sign(message)
	copy(txBytes[sigOffset:sigOffset+64], signature)

	return base64.StdEncoding.EncodeToString(txBytes), nil
}

// GetRecentBlockhash returns the currently cached blockhash.
func (s *Signer) GetRecentBlockhash() (string, error) {
	return s.blockhashCache.Get()
}
