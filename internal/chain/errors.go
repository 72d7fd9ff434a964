package chain

import "strings"

// TxError is a human-readable translation of a raw RPC/transaction error,
// with a suggested remediation action.
type TxError struct {
	Code    int
	Raw     string
	Message string
	Action  string
}

func (e *TxError) Error() string {
	return e.Message
}

// ParseTxError translates a raw RPC error into a human-readable TxError.
func ParseTxError(err error) *TxError {
	if err == nil {
		return nil
	}

	raw := err.Error()
	txErr := &TxError{Raw: raw}

	if rpcErr, ok := err.(*RPCError); ok {
		txErr.Code = rpcErr.Code
	}

	switch {
	case contains(raw, "no record of a prior credit"):
		txErr.Message = "INSUFFICIENT BALANCE - wallet has 0 SOL"
		txErr.Action = "fund wallet with SOL"
	case contains(raw, "insufficient funds"), contains(raw, "insufficient lamports"):
		txErr.Message = "INSUFFICIENT BALANCE - not enough SOL for trade + fees"
		txErr.Action = "add more SOL to wallet"
	case contains(raw, "slippage"), contains(raw, "ExceededSlippage"):
		txErr.Message = "SLIPPAGE TOO HIGH - price moved too much"
		txErr.Action = "increase slippage_bps in config"
	case contains(raw, "blockhash not found"), contains(raw, "block height exceeded"):
		txErr.Message = "BLOCKHASH EXPIRED - transaction took too long"
		txErr.Action = "retry immediately"
	case contains(raw, "429"), contains(raw, "rate limit"):
		txErr.Message = "RATE LIMITED - RPC throttled"
		txErr.Action = "wait and retry"
	case contains(raw, "account not found"), contains(raw, "AccountNotFound"):
		txErr.Message = "ACCOUNT MISSING - required account doesn't exist"
		txErr.Action = "token may need ATA creation"
	case contains(raw, "compute budget exceeded"):
		txErr.Message = "OUT OF COMPUTE - transaction too complex"
		txErr.Action = "increase compute unit limit"
	case contains(raw, "custom program error"), contains(raw, "0x1"):
		txErr.Message = "PROGRAM ERROR - DEX rejected the swap"
		txErr.Action = "check token liquidity"
	case contains(raw, "connection refused"):
		txErr.Message = "RPC CONNECTION FAILED"
		txErr.Action = "check internet connection"
	case contains(raw, "timeout"):
		txErr.Message = "RPC TIMEOUT - network slow"
		txErr.Action = "retry"
	case contains(raw, "simulation failed"):
		txErr.Message = "SIMULATION FAILED - transaction would fail on-chain"
		txErr.Action = "check logs for specific reason"
	default:
		txErr.Message = "TRANSACTION FAILED"
		txErr.Action = "check raw error"
	}

	return txErr
}

// HumanError returns just the translated message.
func HumanError(err error) string {
	if err == nil {
		return ""
	}
	return ParseTxError(err).Message
}

// HumanErrorWithAction returns the translated message plus its suggested
// remediation.
func HumanErrorWithAction(err error) string {
	if err == nil {
		return ""
	}
	txErr := ParseTxError(err)
	return txErr.Message + " -> " + txErr.Action
}

func contains(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
