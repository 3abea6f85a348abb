package roulette

// NumOutcomes is the size of the European outcome space 0..36.
const NumOutcomes = 37

// WheelOrder is the clockwise pocket order of a European wheel starting at zero.
var WheelOrder = [NumOutcomes]int{
	0, 32, 15, 19, 4, 21, 2, 25, 17, 34, 6, 27, 13, 36, 11, 30, 8, 23, 10,
	5, 24, 16, 33, 1, 20, 14, 31, 9, 22, 18, 29, 7, 28, 12, 35, 3, 26,
}

var (
	Red   = []int{1, 3, 5, 7, 9, 12, 14, 16, 18, 19, 21, 23, 25, 27, 30, 32, 34, 36}
	Black = []int{2, 4, 6, 8, 10, 11, 13, 15, 17, 20, 22, 24, 26, 28, 29, 31, 33, 35}
	Zero  = []int{0}
)

// Macro sectors of the wheel.
const (
	SectorVoisinsZero = "voisins_zero"
	SectorTiers       = "tiers"
	SectorOrphelins   = "orphelins"
)

// MacroSectorNames lists macro sectors in a stable order.
var MacroSectorNames = []string{SectorVoisinsZero, SectorTiers, SectorOrphelins}

var MacroSectors = map[string][]int{
	SectorVoisinsZero: {22, 18, 29, 7, 28, 12, 35, 3, 26, 0, 32, 15, 19, 4, 21, 2, 25},
	SectorTiers:       {27, 13, 36, 11, 30, 8, 23, 10, 5, 24, 16, 33},
	SectorOrphelins:   {1, 20, 14, 31, 9, 17, 34, 6},
}

// TriggerWindow describes a strategy that arms on consecutive trigger outcomes
// and then attaches Targets to predictions for Window spins.
type TriggerWindow struct {
	Name      string
	Triggers  []int
	Targets   []int
	Window    int
	Extension map[int][]int // extra targets keyed by the activating trigger
}

// TriggerStrategy is the 11/22/33 trigger-window table.
var TriggerStrategy = TriggerWindow{
	Name:     "trigger_window",
	Triggers: []int{11, 22, 33},
	Targets:  []int{16, 33, 1, 9, 22, 18, 26, 0, 32, 30, 11, 36},
	Window:   3,
	Extension: map[int][]int{
		33: {17, 34, 6},
	},
}

// IsTrigger reports whether n arms the strategy.
func (t TriggerWindow) IsTrigger(n int) bool {
	return contains(t.Triggers, n)
}

// TargetsFor returns the target set for an activation caused by trigger.
func (t TriggerWindow) TargetsFor(trigger int) []int {
	out := make([]int, 0, len(t.Targets)+3)
	out = append(out, t.Targets...)
	for _, n := range t.Extension[trigger] {
		if !contains(out, n) {
			out = append(out, n)
		}
	}
	return out
}

// FibonacciStrategy name and target set.
const FibonacciStrategy = "fibonacci"

var Fibonacci = []int{1, 2, 3, 5, 8, 13, 21, 34}

// BasicOutcomes are the pre-weighted outcomes of the basic fallback tier.
var BasicOutcomes = []int{7, 14, 21, 0, 35, 28}

var (
	wheelIndex [NumOutcomes]int
	redSet     [NumOutcomes]bool
	macroOf    [NumOutcomes]string
)

func init() {
	for i, n := range WheelOrder {
		wheelIndex[n] = i
	}
	for _, n := range Red {
		redSet[n] = true
	}
	for name, members := range MacroSectors {
		for _, n := range members {
			macroOf[n] = name
		}
	}
}

func contains(set []int, n int) bool {
	for _, v := range set {
		if v == n {
			return true
		}
	}
	return false
}
