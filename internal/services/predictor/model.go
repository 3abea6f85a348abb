package predictor

import (
	"context"
	"fmt"
	"sync/atomic"

	"SpinCast/internal/domain/models"
	"SpinCast/internal/domain/repository"
	"SpinCast/internal/domain/roulette"
	"SpinCast/internal/services/features"
	"SpinCast/internal/services/gbdt"
)

const unseenProbability = 0.001

// LoadedModel pairs a decoded model with the metadata it was saved with.
type LoadedModel struct {
	Model *gbdt.Model
	Meta  models.ModelMetadata
}

// ModelHandle holds the live model. Readers never observe a model paired with
// another model's metadata.
type ModelHandle struct {
	cur atomic.Pointer[LoadedModel]
}

func NewModelHandle() *ModelHandle { return &ModelHandle{} }

// Swap installs m. A nil model clears the handle.
func (h *ModelHandle) Swap(m *gbdt.Model, meta models.ModelMetadata) {
	if m == nil {
		h.cur.Store(nil)
		return
	}
	h.cur.Store(&LoadedModel{Model: m, Meta: meta})
}

// Current returns the live model or nil.
func (h *ModelHandle) Current() *LoadedModel { return h.cur.Load() }

// LoadFrom installs the persisted model, if any.
func (h *ModelHandle) LoadFrom(ctx context.Context, store repository.ModelStore) error {
	blob, meta, err := store.Load(ctx)
	if err != nil {
		return err
	}
	m, err := gbdt.Decode(blob)
	if err != nil {
		return fmt.Errorf("load model: %w: %v", models.ErrMalformedRecord, err)
	}
	if err := reconcile(m, meta); err != nil {
		return err
	}
	h.Swap(m, meta)
	return nil
}

func reconcile(m *gbdt.Model, meta models.ModelMetadata) error {
	switch {
	case len(meta.FeatureColumns) == 0:
		return fmt.Errorf("%w: model has no feature columns", models.ErrModelUnavailable)
	case len(meta.FeatureColumns) != m.NumFeatures:
		return fmt.Errorf("%w: %d columns for %d model features", models.ErrModelUnavailable, len(meta.FeatureColumns), m.NumFeatures)
	case len(meta.LabelOutcomes) != m.NumClass:
		return fmt.Errorf("%w: %d labels for %d classes", models.ErrModelUnavailable, len(meta.LabelOutcomes), m.NumClass)
	}
	for _, n := range meta.LabelOutcomes {
		if roulette.Validate(n) != nil {
			return fmt.Errorf("%w: label outcome %d", models.ErrModelUnavailable, n)
		}
	}
	return nil
}

// ModelPredictor turns a feature map into a 37-outcome distribution.
type ModelPredictor struct {
	handle *ModelHandle
}

func NewModelPredictor(h *ModelHandle) *ModelPredictor {
	return &ModelPredictor{handle: h}
}

// Predict fails with ErrModelUnavailable when no usable model is loaded.
func (p *ModelPredictor) Predict(f map[string]float64) ([]float64, models.ModelMetadata, error) {
	lm := p.handle.Current()
	if lm == nil {
		return nil, models.ModelMetadata{}, models.ErrModelUnavailable
	}
	if err := reconcile(lm.Model, lm.Meta); err != nil {
		return nil, lm.Meta, err
	}
	classProbs, err := lm.Model.PredictProba(features.Project(f, lm.Meta.FeatureColumns))
	if err != nil {
		return nil, lm.Meta, fmt.Errorf("%w: %v", models.ErrModelUnavailable, err)
	}
	out := make([]float64, roulette.NumOutcomes)
	for n := range out {
		out[n] = unseenProbability
	}
	for i, n := range lm.Meta.LabelOutcomes {
		out[n] = classProbs[i]
	}
	return normalize(out), lm.Meta, nil
}
