// Package feedback correlates user feedback with stored conversation
// turns. A submission looks up the turn by message id in the episodic
// memory collection, verifies the requester owns it, rewrites the turn's
// metadata with the feedback outcome, and forwards a score to the
// tracing backend when tracing is enabled.
package feedback

import (
	"context"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/tracebridge/internal/langfuse"
	"github.com/fyrsmithlabs/tracebridge/internal/qdrant"
)

const (
	// messageIDField is the payload path the stored turn is keyed by.
	messageIDField = "metadata.message_id"

	// Metadata keys written on a successful correlation.
	keyOutcome     = "feedback"
	keyProblem     = "feedback_problem"
	keyDescription = "feedback_description"
	keyUserID      = "user_id"

	outcomePositive = "positive"
	outcomeNegative = "negative"

	// Score names sent to the backend.
	scorePositiveName        = "user-feedback"
	scoreNegativeDefaultName = "user-negative-feedback"
	scoreDataType            = "BOOLEAN"
)

// legacyRatingKeys are raw rating fields earlier clients wrote directly
// into the metadata. They are replaced by the normalized outcome.
var legacyRatingKeys = []string{"punteggio", "rating"}

// TurnStore is the slice of the vector store the correlator needs.
type TurnStore interface {
	FindByField(ctx context.Context, collection, field string, value string) (*qdrant.Point, error)
	OverwritePayload(ctx context.Context, collection, pointID string, payload map[string]any) error
}

// ClientSource hands out the shared tracing-backend client, or nil when
// tracing is off.
type ClientSource interface {
	Enabled() bool
	Shared(ctx context.Context) *langfuse.Client
}

// Service implements feedback correlation.
type Service struct {
	store      TurnStore
	collection string
	clients    ClientSource
	logger     *zap.Logger
}

// NewService creates a feedback service over the given turn store and
// memory collection.
func NewService(store TurnStore, collection string, clients ClientSource, logger *zap.Logger) *Service {
	return &Service{
		store:      store,
		collection: collection,
		clients:    clients,
		logger:     logger.Named("feedback"),
	}
}

// Submit correlates one feedback submission. The boolean result signals
// acceptance to the caller; expected rejections (bad input, unknown
// message, ownership mismatch) are not errors.
func (s *Service) Submit(ctx context.Context, req Request) bool {
	if !req.Valid() {
		s.logger.Debug("feedback rejected: invalid request",
			zap.String("message_id", req.MessageID),
			zap.String("user_id", req.UserID),
		)
		return false
	}

	point, err := s.store.FindByField(ctx, s.collection, messageIDField, req.MessageID)
	if err != nil {
		s.logger.Error("feedback lookup failed",
			zap.String("message_id", req.MessageID),
			zap.Error(err),
		)
		return false
	}
	if point == nil {
		s.logger.Debug("feedback rejected: message not found",
			zap.String("message_id", req.MessageID),
		)
		return false
	}

	metadata, ok := point.Payload["metadata"].(map[string]any)
	if !ok {
		s.logger.Warn("feedback rejected: stored turn has no metadata",
			zap.String("message_id", req.MessageID),
			zap.String("point_id", point.ID),
		)
		return false
	}

	// A turn may only receive feedback from the user it belongs to.
	if owner, _ := metadata[keyUserID].(string); owner != req.UserID {
		s.logger.Warn("feedback rejected: ownership mismatch",
			zap.String("message_id", req.MessageID),
			zap.String("user_id", req.UserID),
		)
		return false
	}

	outcome := outcomeNegative
	if *req.Rating == 1 {
		outcome = outcomePositive
	}

	metadata[keyOutcome] = outcome
	metadata[keyProblem] = req.Problem
	metadata[keyDescription] = req.Description
	for _, key := range legacyRatingKeys {
		delete(metadata, key)
	}
	point.Payload["metadata"] = metadata

	if err := s.store.OverwritePayload(ctx, s.collection, point.ID, point.Payload); err != nil {
		s.logger.Error("feedback persist failed",
			zap.String("message_id", req.MessageID),
			zap.String("point_id", point.ID),
			zap.Error(err),
		)
		return false
	}

	s.logger.Info("feedback recorded",
		zap.String("message_id", req.MessageID),
		zap.String("outcome", outcome),
	)

	// Score forwarding is best effort: the correlation already
	// succeeded, so a backend failure does not flip the result.
	s.forwardScore(ctx, req, outcome)
	return true
}

func (s *Service) forwardScore(ctx context.Context, req Request, outcome string) {
	if !s.clients.Enabled() {
		return
	}
	client := s.clients.Shared(ctx)
	if client == nil {
		return
	}

	score := langfuse.Score{
		TraceID:  req.TraceID,
		DataType: scoreDataType,
	}
	if outcome == outcomePositive {
		score.Name = scorePositiveName
		score.Value = 1
	} else {
		score.Name = req.Problem
		if score.Name == "" {
			score.Name = scoreNegativeDefaultName
		}
		score.Value = 0
		score.Comment = req.Description
	}

	if err := client.SubmitScore(ctx, score); err != nil {
		s.logger.Warn("feedback score submission failed",
			zap.String("trace_id", req.TraceID),
			zap.String("name", score.Name),
			zap.Error(err),
		)
	}
}
