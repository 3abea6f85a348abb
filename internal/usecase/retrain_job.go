package usecase

import (
	"context"
	"errors"

	"SpinCast/internal/domain/models"
	"SpinCast/pkg/logger"
	"SpinCast/pkg/queue"
)

// TrainModelJobType is the queue message type that requests a retrain.
const TrainModelJobType = "train_model"

// TrainRequest is the payload of a train_model message.
type TrainRequest struct {
	Reason string `json:"reason"`
}

type trainer interface {
	Train(ctx context.Context) (models.ModelMetadata, error)
}

// RetrainJob runs a training pass for each train_model message.
type RetrainJob struct {
	trainer trainer
	log     *logger.Logger
}

func NewRetrainJob(t *Trainer, log *logger.Logger) *RetrainJob {
	return &RetrainJob{trainer: t, log: log}
}

func (j *RetrainJob) Name() string { return "retrain_model" }

func (j *RetrainJob) Type() string { return TrainModelJobType }

// Handle trains once. Busy or data-starved runs are not retried.
func (j *RetrainJob) Handle(ctx context.Context, payload interface{}) error {
	reason := "unspecified"
	if payload != nil {
		if req, err := queue.ParsePayload[TrainRequest](payload); err == nil && req.Reason != "" {
			reason = req.Reason
		}
	}
	meta, err := j.trainer.Train(ctx)
	switch {
	case errors.Is(err, ErrTrainingBusy), errors.Is(err, models.ErrInsufficientSamples):
		j.log.Info("requested training skipped", logger.String("reason", reason), logger.Error(err))
		return nil
	case err != nil:
		return err
	}
	j.log.Info("requested training finished", logger.String("reason", reason), logger.Int64("version", meta.Version))
	return nil
}

var _ queue.Job = (*RetrainJob)(nil)
