package relay

import (
	"encoding/json"
	"fmt"
)

type relayResponse struct {
	TransactionHash string `json:"transactionHash"`
	Hash            string `json:"hash"`
}

// extractTransactionHash decodes the relay gateway's JSON body, folding
// the transactionHash/hash field aliases the gateway is known to use.
func extractTransactionHash(body []byte) (string, error) {
	var parsed relayResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("decode relay response: %w", err)
	}
	if parsed.TransactionHash != "" {
		return parsed.TransactionHash, nil
	}
	if parsed.Hash != "" {
		return parsed.Hash, nil
	}
	return "", fmt.Errorf("relay response missing transaction hash")
}
