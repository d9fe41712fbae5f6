package zones

import (
	"testing"
	"time"

	"ClarityPull/internal/domain/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func score(v int) *int { return &v }

func lev(s string) *models.Leverage {
	l := models.Leverage(s)
	return &l
}

func d(n int) time.Time {
	return time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, n)
}

func history(scores ...*int) []models.Observation {
	out := make([]models.Observation, len(scores))
	for i, s := range scores {
		out[i] = models.Observation{SymbolID: 7, PriceTimestamp: d(i), Score: s}
	}
	return out
}

func TestClassifyBoundaries(t *testing.T) {
	cases := []struct {
		score *int
		want  models.Zone
	}{
		{score(71), models.ZoneGreen},
		{score(100), models.ZoneGreen},
		{score(70), models.ZoneGrey},
		{score(31), models.ZoneGrey},
		{score(30), models.ZoneRed},
		{score(0), models.ZoneRed},
		{nil, models.ZoneUndefined},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, Classify(c.score))
	}
}

func TestChangeTypeFor(t *testing.T) {
	assert.Equal(t, models.ChangeBullish, ChangeTypeFor(models.ZoneGreen))
	assert.Equal(t, models.ChangeBearish, ChangeTypeFor(models.ZoneRed))
	assert.Equal(t, models.ChangeNeutral, ChangeTypeFor(models.ZoneGrey))
}

func TestCurrentRunSkipsNullScores(t *testing.T) {
	run := CurrentRun(history(score(40), score(75), nil, score(80)))
	require.NotNil(t, run)
	assert.Equal(t, models.ZoneGreen, run.Zone)
	assert.True(t, run.SinceDate.Equal(d(1)))
	assert.Equal(t, 75, run.EntryValue)
}

func TestCurrentRunEmpty(t *testing.T) {
	assert.Nil(t, CurrentRun(nil))
	assert.Nil(t, CurrentRun(history(nil, nil)))
}

func TestCurrentRunLeverageOnlyWhenGreen(t *testing.T) {
	h := history(score(80), score(90), score(95))
	h[0].LeverageModerate = lev("3X")
	h[1].LeverageModerate = lev("2X")
	h[1].LeverageAggressive = lev("3X")

	run := CurrentRun(h)
	require.NotNil(t, run)
	assert.Equal(t, models.Leverage("2X"), *run.LatestLeverageModerate)
	assert.Equal(t, models.Leverage("3X"), *run.LatestLeverageAggressive)

	h = history(score(50), score(55))
	h[1].LeverageModerate = lev("1X")
	run = CurrentRun(h)
	require.NotNil(t, run)
	assert.Equal(t, models.ZoneGrey, run.Zone)
	assert.Nil(t, run.LatestLeverageModerate)
}

func TestEndToEndScenario(t *testing.T) {
	h := history(score(55), score(72), score(68))

	run := CurrentRun(h)
	require.NotNil(t, run)
	assert.Equal(t, models.ZoneGrey, run.Zone)
	assert.True(t, run.SinceDate.Equal(d(2)))
	assert.Equal(t, 68, run.EntryValue)

	alerts := DetectAlerts(7, h)
	require.Len(t, alerts, 2)

	assert.True(t, alerts[0].Date.Equal(d(2)))
	assert.Equal(t, 72, alerts[0].FromScore)
	assert.Equal(t, 68, alerts[0].ToScore)
	assert.Equal(t, models.ChangeNeutral, alerts[0].ChangeType)
	require.NotNil(t, alerts[0].DaysSinceLastChange)
	assert.Equal(t, 1, *alerts[0].DaysSinceLastChange)

	assert.True(t, alerts[1].Date.Equal(d(1)))
	assert.Equal(t, 55, alerts[1].FromScore)
	assert.Equal(t, 72, alerts[1].ToScore)
	assert.Equal(t, models.ChangeBullish, alerts[1].ChangeType)
	assert.Nil(t, alerts[1].DaysSinceLastChange)
}

func TestDetectAlertsIgnoresNullScores(t *testing.T) {
	alerts := DetectAlerts(7, history(score(20), nil, score(25), nil, score(90)))
	require.Len(t, alerts, 1)
	assert.Equal(t, 25, alerts[0].FromScore)
	assert.Equal(t, models.ChangeBullish, alerts[0].ChangeType)
}

func TestDetectAlertsDeterministic(t *testing.T) {
	h := history(score(10), score(50), score(80), score(20), score(75))
	assert.Equal(t, DetectAlerts(7, h), DetectAlerts(7, h))
}

func TestNewAlerts(t *testing.T) {
	h := history(score(10), score(50), score(80))
	all := DetectAlerts(7, h)
	require.Len(t, all, 2)

	fresh := NewAlerts(all[1:], all)
	require.Len(t, fresh, 1)
	assert.True(t, fresh[0].Date.Equal(d(2)))
	assert.Empty(t, NewAlerts(all, all))
}

func TestOverrideScoreDrivesRunAndAlerts(t *testing.T) {
	h := history(score(40), score(45), score(50))
	h[2].ScoreOverride = score(90)

	run := CurrentRun(h)
	require.NotNil(t, run)
	assert.Equal(t, models.ZoneGreen, run.Zone)
	assert.Equal(t, 90, run.EntryValue)

	alerts := DetectAlerts(7, h)
	require.Len(t, alerts, 1)
	assert.Equal(t, 45, alerts[0].FromScore)
	assert.Equal(t, 90, alerts[0].ToScore)
	assert.Equal(t, models.ChangeBullish, alerts[0].ChangeType)

	h[1].Score = nil
	h[1].ScoreOverride = score(10)
	alerts = DetectAlerts(7, h)
	require.Len(t, alerts, 2, "an override scores an otherwise unscored day")
}
