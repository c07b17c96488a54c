package outcome

import (
	"time"

	"regime-tracker/internal/models"
)

// Horizon is one forward window a snapshot can be scored against.
type Horizon struct {
	Name   string
	Window time.Duration
}

// Params tune the classification thresholds.
type Params struct {
	// NoiseFloorPct is the percent of entry price treated as noise.
	NoiseFloorPct float64
	// Multiple scales the noise floor into the excursion threshold.
	Multiple float64
}

// Threshold returns the excursion (in percent of entry) a move must
// exceed to count as continuation or reversal.
func (p Params) Threshold() float64 {
	return p.NoiseFloorPct * p.Multiple
}

// Classification is the realized outcome of one snapshot. Label is nil
// for snapshots excluded from classification (no directional bias).
type Classification struct {
	Label         *string
	Reason        string
	RealizedPrice float64
	MovePct       float64
	MFE           float64
	MAE           float64
}

// Classify walks the forward candle path in time order and scores it
// against the snapshot's bias and entry price. The first excursion past
// the threshold decides the label: favorable first is CONTINUATION,
// adverse first is REVERSAL, neither is NOISE. MFE and MAE cover the
// whole window regardless of which came first.
func Classify(bias string, entry float64, path []models.Candle, p Params) Classification {
	cls := Classification{RealizedPrice: entry}
	if len(path) == 0 || entry == 0 {
		cls.Reason = "empty forward path"
		return cls
	}

	long := bias == models.BiasLong
	threshold := p.Threshold()

	var label, reason string
	for _, c := range path {
		up := (c.High - entry) / entry * 100
		down := (entry - c.Low) / entry * 100

		fav, adv := up, down
		if !long {
			fav, adv = down, up
		}
		if fav > cls.MFE {
			cls.MFE = fav
		}
		if adv > cls.MAE {
			cls.MAE = adv
		}

		if label != "" {
			continue
		}
		favHit, advHit := fav >= threshold, adv >= threshold
		switch {
		case favHit && advHit:
			// Both sides crossed inside one candle; intra-candle order is
			// unknowable, so the larger excursion wins and a tie is noise.
			if fav > adv {
				label, reason = models.LabelContinuation, "favorable excursion crossed threshold"
			} else if adv > fav {
				label, reason = models.LabelReversal, "adverse excursion crossed threshold"
			} else {
				label, reason = models.LabelNoise, "both excursions crossed threshold equally"
			}
		case favHit:
			label, reason = models.LabelContinuation, "favorable excursion crossed threshold"
		case advHit:
			label, reason = models.LabelReversal, "adverse excursion crossed threshold"
		}
	}

	last := path[len(path)-1]
	cls.RealizedPrice = last.Close
	cls.MovePct = (last.Close - entry) / entry * 100

	if bias != models.BiasLong && bias != models.BiasShort {
		// No directional opinion: keep realized fields for audit, no label.
		cls.Reason = "no directional bias"
		return cls
	}

	if label == "" {
		label, reason = models.LabelNoise, "no excursion crossed threshold within horizon"
	}
	cls.Label = &label
	cls.Reason = reason
	return cls
}
