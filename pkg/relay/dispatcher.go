package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/chainsafe/bridge-listener/pkg/config"
)

// OutcomeStatus classifies the result of a dispatch attempt.
type OutcomeStatus string

const (
	// Accepted means the relay service acknowledged the request
	Accepted OutcomeStatus = "accepted"
	// Rejected means the relay service refused it (or none is configured)
	Rejected OutcomeStatus = "rejected"
	// NetworkError means the relay service could not be reached in time
	NetworkError OutcomeStatus = "network_error"
)

// Outcome is the result of one dispatch attempt. Reason is non-empty
// for Rejected and NetworkError.
type Outcome struct {
	Status OutcomeStatus
	Reason string
}

// Request is the payload sent to the relay service for one pending
// transaction.
type Request struct {
	SourceTxID    string `json:"source_tx_id"`
	Recipient     string `json:"recipient"`
	Amount        string `json:"amount"`
	SourceChainID string `json:"source_chain_id"`
}

// Dispatcher sends relay requests to the external relay service. Every
// outcome is non-fatal to the caller; a dispatch is attempted exactly
// once per transaction.
type Dispatcher struct {
	endpoint string
	client   *http.Client
	logger   *zap.Logger
}

// NewDispatcher creates a dispatcher from relayer configuration. An
// empty endpoint is allowed: every dispatch then rejects immediately
// without a network call.
func NewDispatcher(cfg *config.RelayerConfig, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		endpoint: cfg.Endpoint,
		client:   &http.Client{Timeout: cfg.RequestTimeout},
		logger:   logger,
	}
}

// Dispatch sends one relay request. A timeout is reported as
// NetworkError like any other transport fault.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) Outcome {
	if d.endpoint == "" {
		d.logger.Warn("Relayer endpoint not configured, rejecting dispatch",
			zap.String("source_tx_id", req.SourceTxID))
		return Outcome{Status: Rejected, Reason: "relayer not configured"}
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return Outcome{Status: Rejected, Reason: fmt.Sprintf("failed to encode request: %v", err)}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint, bytes.NewReader(payload))
	if err != nil {
		return Outcome{Status: Rejected, Reason: fmt.Sprintf("failed to build request: %v", err)}
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(httpReq)
	if err != nil {
		d.logger.Error("Relay request failed",
			zap.String("source_tx_id", req.SourceTxID),
			zap.Error(err))
		return Outcome{Status: NetworkError, Reason: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		d.logger.Info("Relay request accepted",
			zap.String("source_tx_id", req.SourceTxID),
			zap.Int("status_code", resp.StatusCode))
		return Outcome{Status: Accepted}
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	reason := fmt.Sprintf("relayer returned status %d", resp.StatusCode)
	if b := strings.TrimSpace(string(body)); b != "" {
		reason = fmt.Sprintf("%s: %s", reason, b)
	}
	d.logger.Error("Relay request rejected",
		zap.String("source_tx_id", req.SourceTxID),
		zap.Int("status_code", resp.StatusCode))
	return Outcome{Status: Rejected, Reason: reason}
}
