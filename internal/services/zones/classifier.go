// Package zones derives zone labels, zone runs and momentum alerts from an
// observation history. Everything here is pure and safe for concurrent use.
package zones

import "ClarityPull/internal/domain/models"

// Closed score intervals: RED [0,30], GREY (30,71), GREEN [71,100].
const (
	GreenFloor = 71
	RedCeiling = 30
)

// Classify maps a score to its zone. A nil score has no zone.
func Classify(score *int) models.Zone {
	switch {
	case score == nil:
		return models.ZoneUndefined
	case *score >= GreenFloor:
		return models.ZoneGreen
	case *score <= RedCeiling:
		return models.ZoneRed
	default:
		return models.ZoneGrey
	}
}

// ChangeTypeFor names a crossing by the zone it lands in.
func ChangeTypeFor(z models.Zone) models.ChangeType {
	switch z {
	case models.ZoneGreen:
		return models.ChangeBullish
	case models.ZoneRed:
		return models.ChangeBearish
	default:
		return models.ChangeNeutral
	}
}
