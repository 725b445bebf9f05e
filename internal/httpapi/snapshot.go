package httpapi

import (
	"coreengine/internal/symbol"
	"coreengine/pkg/types"
)

// buildSymbolStatus aggregates state from every read-safe component of a
// symbol task into one admin response, grounded on the teacher's
// BuildSnapshot aggregation shape (internal/api/snapshot.go).
func buildSymbolStatus(symbolName string, eng *symbol.Engine) SymbolStatus {
	status := SymbolStatus{Symbol: symbolName}

	if bid, ok := eng.Book.BestBid(); ok {
		status.BestBid = bid.String()
	}
	if ask, ok := eng.Book.BestAsk(); ok {
		status.BestAsk = ask.String()
	}

	status.ActiveIcebergs = eng.Registry.CountActive()

	status.WhaleCVD = eng.CVD(types.CohortWhale)
	status.DolphinCVD = eng.CVD(types.CohortDolphin)
	status.MinnowCVD = eng.CVD(types.CohortMinnow)
	status.WhaleVolPct, status.MinnowVolPct = eng.CohortVolumePct()

	if vpin, ok := eng.CurrentVPIN(); ok {
		status.VPIN = vpin
		status.VPINReliable = true
	}

	status.Derivatives = buildDerivativesStatus(eng.LatestDerivatives())

	return status
}

func buildDerivativesStatus(snap types.DerivativesSnapshot) DerivativesStatus {
	d := DerivativesStatus{UpdatedAt: snap.UpdatedAt}
	if snap.BasisAPR.Valid {
		v := snap.BasisAPR.Value
		d.BasisAPR = &v
	}
	if snap.SkewPct.Valid {
		v := snap.SkewPct.Value
		d.SkewPct = &v
	}
	if snap.TotalGEX.Valid {
		v := snap.TotalGEX.Value
		d.TotalGEX = &v
	}
	return d
}
