package predictor

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"SpinCast/pkg/util"
)

// NewPredictionID returns pred_<YYYYmmdd_HHMMSS>_<8 hex chars>.
func NewPredictionID(now time.Time) string {
	u := strings.ReplaceAll(uuid.NewString(), "-", "")
	return "pred_" + util.IDStamp(now) + "_" + u[:8]
}
