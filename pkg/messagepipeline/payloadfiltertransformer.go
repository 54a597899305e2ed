package messagepipeline

import (
	"context"

	"github.com/rs/zerolog"
)

// WithPayloadValidation wraps a transformer with a body size check. Frames
// outside [minSize, maxSize] are skipped (and therefore acknowledged) without
// reaching the inner transformer. maxSize <= 0 disables the upper bound.
func WithPayloadValidation[T any](
	inner MessageTransformer[T],
	minSize int,
	maxSize int,
	logger zerolog.Logger,
) MessageTransformer[T] {
	return func(ctx context.Context, msg *Message) (*T, bool, error) {
		size := len(msg.Payload)
		if size < minSize || (maxSize > 0 && size > maxSize) {
			logger.Warn().
				Str("msg_id", msg.ID).
				Str("destination", msg.Destination()).
				Int("payload_size", size).
				Msg("Rejecting frame due to invalid payload size.")
			return nil, true, nil
		}
		return inner(ctx, msg)
	}
}
