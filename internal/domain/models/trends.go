package models

// NumberCount is one number's hit count.
type NumberCount struct {
	Number int   `json:"number"`
	Count  int64 `json:"count"`
}

// HitRate summarises how often a group or strategy won.
type HitRate struct {
	Name  string  `json:"name"`
	Hits  int64   `json:"hits"`
	Total int64   `json:"total"`
	Rate  float64 `json:"rate"`
}

// Trends is the read-only analysis of the hot store.
//
// Hot, Cold and Recent cover the newest Window outcomes; the remaining
// fields come from the lifetime counters.
type Trends struct {
	Window int           `json:"window"`
	Hot    []NumberCount `json:"hot"`
	Cold   []NumberCount `json:"cold"`
	// Recent counts each attribute value (color, dozen, column, parity,
	// range, terminal, sector) over the window.
	Recent map[string]map[string]int64 `json:"recent"`

	Numbers   map[int]int64   `json:"numbers"`
	Terminals map[int]int64   `json:"terminals"`
	Sectors   map[int]int64   `json:"sectors"`
	Hours     map[int]int64   `json:"hours"`
	Minutes   map[int]int64   `json:"minutes"`
	Weekdays  map[int]int64   `json:"weekdays"`
	MeanGaps  map[int]float64 `json:"mean_gaps"`

	Groups     []HitRate `json:"groups"`
	Strategies []HitRate `json:"strategies"`
}
