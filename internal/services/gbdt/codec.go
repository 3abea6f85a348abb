package gbdt

import (
	"fmt"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Encode serializes the model.
func Encode(m *Model) ([]byte, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode model: %w", err)
	}
	return b, nil
}

// Decode parses and validates a serialized model.
func Decode(b []byte) (*Model, error) {
	var m Model
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("decode model: %w", err)
	}
	if err := m.validate(); err != nil {
		return nil, fmt.Errorf("decode model: %w", err)
	}
	return &m, nil
}

func (m *Model) validate() error {
	if m.NumClass < 2 || len(m.BaseScore) != m.NumClass {
		return fmt.Errorf("%w: %d classes with %d base scores", ErrBadInput, m.NumClass, len(m.BaseScore))
	}
	if m.NumFeatures < 1 {
		return fmt.Errorf("%w: no features", ErrBadInput)
	}
	for r, trees := range m.Rounds {
		if len(trees) != m.NumClass {
			return fmt.Errorf("%w: round %d has %d trees", ErrBadInput, r, len(trees))
		}
		for _, t := range trees {
			if len(t.Nodes) == 0 {
				return fmt.Errorf("%w: empty tree in round %d", ErrBadInput, r)
			}
			for i, n := range t.Nodes {
				if n.Leaf {
					continue
				}
				if n.Feature < 0 || n.Feature >= m.NumFeatures ||
					n.Left <= i || n.Left >= len(t.Nodes) || n.Right <= i || n.Right >= len(t.Nodes) {
					return fmt.Errorf("%w: bad node %d in round %d", ErrBadInput, i, r)
				}
			}
		}
	}
	return nil
}
