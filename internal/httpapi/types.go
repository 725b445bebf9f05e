package httpapi

import "time"

// SymbolStatus is the per-symbol admin/observability payload returned by
// GET /symbols/{symbol}.
type SymbolStatus struct {
	Symbol string `json:"symbol"`

	BestBid string `json:"best_bid,omitempty"`
	BestAsk string `json:"best_ask,omitempty"`

	ActiveIcebergs int `json:"active_icebergs"`

	WhaleCVD     float64 `json:"whale_cvd"`
	DolphinCVD   float64 `json:"dolphin_cvd"`
	MinnowCVD    float64 `json:"minnow_cvd"`
	WhaleVolPct  float64 `json:"whale_volume_pct"`
	MinnowVolPct float64 `json:"minnow_volume_pct"`

	VPIN         float64 `json:"vpin,omitempty"`
	VPINReliable bool    `json:"vpin_reliable"`

	Derivatives DerivativesStatus `json:"derivatives"`
}

// DerivativesStatus mirrors types.DerivativesSnapshot's Optional fields as
// plain JSON, omitting anything not currently present in the cache.
type DerivativesStatus struct {
	BasisAPR  *float64  `json:"basis_apr,omitempty"`
	SkewPct   *float64  `json:"skew_pct,omitempty"`
	TotalGEX  *float64  `json:"total_gex,omitempty"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

// IcebergStatus is the admin-surface view of one tracked level, returned by
// GET /symbols/{symbol}/icebergs.
type IcebergStatus struct {
	Price             string  `json:"price"`
	Side              string  `json:"side"`
	Status            string  `json:"status"`
	TotalHiddenVolume string  `json:"total_hidden_volume"`
	RefillCount       int     `json:"refill_count"`
	ConfidenceScore   float64 `json:"confidence_score"`
	CreationTimeMs    int64   `json:"creation_time_ms"`
	LastUpdateTimeMs  int64   `json:"last_update_time_ms"`
}

// healthResponse backs GET /healthz.
type healthResponse struct {
	Status  string   `json:"status"`
	Symbols []string `json:"symbols"`
}
