package roulette

import "fmt"

// Group names attached to predictions.
const (
	GroupIndividual     = "group_individual"
	GroupRed            = "group_red"
	GroupBlack          = "group_black"
	GroupEven           = "group_even"
	GroupOdd            = "group_odd"
	GroupFibonacci      = "group_fibonacci"
	GroupStrategyTarget = "group_strategy_target"
)

// TopGroup names the top-N group, e.g. group_8.
func TopGroup(n int) string { return fmt.Sprintf("group_%d", n) }

func ColumnGroup(k int) string { return fmt.Sprintf("group_column_%d", k) }

func DozenGroup(k int) string { return fmt.Sprintf("group_dozen_%d", k) }

func SectorGroup(name string) string { return "group_sector_" + name }

var fixedGroups map[string][]int

func init() {
	fixedGroups = map[string][]int{
		GroupRed:       Red,
		GroupBlack:     Black,
		GroupFibonacci: Fibonacci,
	}
	var even, odd []int
	for n := 1; n < NumOutcomes; n++ {
		if n%2 == 0 {
			even = append(even, n)
		} else {
			odd = append(odd, n)
		}
	}
	fixedGroups[GroupEven] = even
	fixedGroups[GroupOdd] = odd
	for k := 1; k <= 3; k++ {
		var col, doz []int
		for n := 1; n < NumOutcomes; n++ {
			if Column(n) == k {
				col = append(col, n)
			}
			if Dozen(n) == k {
				doz = append(doz, n)
			}
		}
		fixedGroups[ColumnGroup(k)] = col
		fixedGroups[DozenGroup(k)] = doz
	}
	for _, name := range MacroSectorNames {
		fixedGroups[SectorGroup(name)] = MacroSectors[name]
	}
}

// FixedGroups returns a fresh copy of every group whose membership does not
// depend on the probability vector.
func FixedGroups() map[string][]int {
	out := make(map[string][]int, len(fixedGroups))
	for k, v := range fixedGroups {
		cp := make([]int, len(v))
		copy(cp, v)
		out[k] = cp
	}
	return out
}

// StrategyForGroup maps strategy-backed groups to their strategy name.
func StrategyForGroup(group string) (string, bool) {
	switch group {
	case GroupStrategyTarget:
		return TriggerStrategy.Name, true
	case GroupFibonacci:
		return FibonacciStrategy, true
	}
	return "", false
}
