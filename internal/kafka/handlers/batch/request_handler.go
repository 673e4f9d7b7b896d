package batch

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"
	"github.com/wb-go/wbf/zlog"

	apperrors "github.com/aliskhannn/image-batch/internal/errors"
	"github.com/aliskhannn/image-batch/internal/model"
)

// service defines the interface for running batch requests.
type service interface {
	Run(ctx context.Context, req model.Request) (*model.BatchResult, error)
}

// RequestHandler handles Kafka messages carrying batch requests.
type RequestHandler struct {
	service service
}

// NewRequestHandler creates a new handler with the given service.
func NewRequestHandler(s service) *RequestHandler {
	return &RequestHandler{service: s}
}

// Handle decodes a model.Request from the message and runs it.
//
// A request rejected by validation or pointing at an unusable directory is
// logged and acknowledged: redelivering it would fail the same way.
func (h *RequestHandler) Handle(ctx context.Context, msg kafka.Message) error {
	var req model.Request
	if err := json.Unmarshal(msg.Value, &req); err != nil {
		return fmt.Errorf("unmarshal request: %w", err)
	}

	res, err := h.service.Run(ctx, req)
	if err != nil {
		if apperrors.IsFatal(err) {
			zlog.Logger.Warn().
				Err(err).
				Str("directory", req.Directory).
				Str("filter", req.Filter).
				Msg("batch request rejected")
			return nil
		}

		return fmt.Errorf("run batch: %w", err)
	}

	zlog.Logger.Info().
		Str("batch_id", res.ID.String()).
		Str("directory", req.Directory).
		Str("summary", res.Summary()).
		Msg("batch request handled")

	return nil
}
