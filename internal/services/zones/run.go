package zones

import "ClarityPull/internal/domain/models"

// CurrentRun returns the trailing same-zone stretch of an ascending history,
// or nil when no observation carries a score. Observations without a score
// neither start nor end a run. An operator override takes precedence.
func CurrentRun(history []models.Observation) *models.ZoneRun {
	start := -1
	zone := models.ZoneUndefined
	for i := len(history) - 1; i >= 0; i-- {
		z := Classify(history[i].EffectiveScore())
		if z == models.ZoneUndefined {
			continue
		}
		if zone == models.ZoneUndefined {
			zone = z
		} else if z != zone {
			break
		}
		start = i
	}
	if start < 0 {
		return nil
	}

	first := history[start]
	run := &models.ZoneRun{
		SymbolID:   first.SymbolID,
		Zone:       zone,
		SinceDate:  first.PriceTimestamp,
		EntryValue: *first.EffectiveScore(),
	}
	if zone != models.ZoneGreen {
		return run
	}
	for _, o := range history[start:] {
		if o.LeverageModerate != nil {
			run.LatestLeverageModerate = o.LeverageModerate
		}
		if o.LeverageAggressive != nil {
			run.LatestLeverageAggressive = o.LeverageAggressive
		}
	}
	return run
}
