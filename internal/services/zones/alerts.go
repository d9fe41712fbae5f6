package zones

import (
	"time"

	"ClarityPull/internal/domain/models"
	"ClarityPull/pkg/util"
)

// DetectAlerts walks an ascending history and emits one alert per zone
// change, newest first. The result depends on the history alone, so
// re-running it over re-ingested data yields the same keyed set.
func DetectAlerts(symbolID int64, history []models.Observation) []models.MomentumAlert {
	var (
		alerts    []models.MomentumAlert
		lastZone  = models.ZoneUndefined
		lastScore int
		lastAlert time.Time
	)
	for _, o := range history {
		score := o.EffectiveScore()
		z := Classify(score)
		if z == models.ZoneUndefined {
			continue
		}
		if lastZone != models.ZoneUndefined && z != lastZone {
			a := models.MomentumAlert{
				SymbolID:   symbolID,
				Date:       o.PriceTimestamp,
				FromScore:  lastScore,
				ToScore:    *score,
				ChangeType: ChangeTypeFor(z),
			}
			if len(alerts) > 0 {
				days := util.DaysBetween(lastAlert, a.Date)
				a.DaysSinceLastChange = &days
			}
			alerts = append(alerts, a)
			lastAlert = a.Date
		}
		lastZone = z
		lastScore = *score
	}

	for i, j := 0, len(alerts)-1; i < j; i, j = i+1, j-1 {
		alerts[i], alerts[j] = alerts[j], alerts[i]
	}
	return alerts
}

// NewAlerts returns the alerts in derived whose key is absent from stored.
func NewAlerts(stored, derived []models.MomentumAlert) []models.MomentumAlert {
	seen := make(map[int64]bool, len(stored))
	for _, a := range stored {
		seen[a.Key()] = true
	}
	var out []models.MomentumAlert
	for _, a := range derived {
		if !seen[a.Key()] {
			out = append(out, a)
		}
	}
	return out
}
