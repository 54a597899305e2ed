package stompconsumer

import (
	"fmt"
	"strings"

	"github.com/illmade-knight/go-railfeed/pkg/metrics"
	"github.com/rs/zerolog"
)

// FailurePolicy decides what a client-individual session does with a frame whose
// processing failed.
type FailurePolicy string

const (
	// FailurePolicyAck acknowledges the frame anyway and logs the failure.
	FailurePolicyAck FailurePolicy = "ack"
	// FailurePolicyRedeliver sends a NACK so the broker redelivers the frame.
	FailurePolicyRedeliver FailurePolicy = "redeliver"
)

// ParseFailurePolicy accepts "ack" or "redeliver"; empty means "ack".
func ParseFailurePolicy(s string) (FailurePolicy, error) {
	switch FailurePolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", FailurePolicyAck:
		return FailurePolicyAck, nil
	case FailurePolicyRedeliver:
		return FailurePolicyRedeliver, nil
	}
	return "", fmt.Errorf("unknown failure policy %q (want %q or %q)", s, FailurePolicyAck, FailurePolicyRedeliver)
}

// Outcome is the processing result reported for one frame.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeFailure
)

// Acker sends acknowledgements to the broker.
type Acker interface {
	Ack(f *Frame) error
	Nack(f *Frame) error
}

// AckCoordinator settles frames according to the session's ack mode and
// failure policy. In auto mode it never talks to the broker.
type AckCoordinator struct {
	mode    AckMode
	policy  FailurePolicy
	acker   Acker
	metrics *metrics.FeedMetrics
	logger  zerolog.Logger
}

// NewAckCoordinator creates a coordinator. m may be nil.
func NewAckCoordinator(mode AckMode, policy FailurePolicy, acker Acker, m *metrics.FeedMetrics, logger zerolog.Logger) *AckCoordinator {
	if policy == "" {
		policy = FailurePolicyAck
	}
	return &AckCoordinator{
		mode:    mode,
		policy:  policy,
		acker:   acker,
		metrics: m,
		logger:  logger.With().Str("component", "AckCoordinator").Str("ack_mode", mode.String()).Logger(),
	}
}

// Mode returns the session ack mode.
func (a *AckCoordinator) Mode() AckMode {
	return a.mode
}

// AfterProcessing settles f once processing has finished. Broker errors are
// logged and counted; they never stop the session.
func (a *AckCoordinator) AfterProcessing(f *Frame, outcome Outcome) {
	if a.mode == AckAuto {
		return
	}

	action := metrics.ActionAck
	if outcome == OutcomeFailure {
		if a.policy == FailurePolicyRedeliver {
			action = metrics.ActionNack
		} else {
			a.logger.Warn().Str("msg_id", f.MessageID).Msg("Processing failed, acknowledging anyway.")
		}
	}

	var err error
	if action == metrics.ActionNack {
		err = a.acker.Nack(f)
	} else {
		err = a.acker.Ack(f)
	}
	a.metrics.Acked(action, err)
	if err != nil {
		a.logger.Error().Err(err).
			Str("action", action).
			Str("msg_id", f.MessageID).
			Str("ack_id", f.AckID).
			Str("subscription", f.SubscriptionID).
			Msg("Failed to send acknowledgement.")
	}
}
