package cvss

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCalculateReferenceVectors(t *testing.T) {
	tests := []struct {
		name     string
		metrics  Metrics
		score    float64
		severity Rating
	}{
		{
			name: "network high confidentiality only",
			metrics: Metrics{
				AttackVector: AVNetwork, AttackComplexity: ACLow, PrivilegesRequired: PRNone,
				UserInteraction: UINone, Scope: ScopeUnchanged,
				Confidentiality: ImpactHigh, Integrity: ImpactNone, Availability: ImpactNone,
			},
			score:    7.5,
			severity: RatingHigh,
		},
		{
			name: "full compromise with scope change",
			metrics: Metrics{
				AttackVector: AVNetwork, AttackComplexity: ACLow, PrivilegesRequired: PRNone,
				UserInteraction: UINone, Scope: ScopeChanged,
				Confidentiality: ImpactHigh, Integrity: ImpactHigh, Availability: ImpactHigh,
			},
			score:    10.0,
			severity: RatingCritical,
		},
		{
			name: "reflected XSS profile",
			metrics: Metrics{
				AttackVector: AVNetwork, AttackComplexity: ACLow, PrivilegesRequired: PRNone,
				UserInteraction: UIRequired, Scope: ScopeChanged,
				Confidentiality: ImpactLow, Integrity: ImpactLow, Availability: ImpactNone,
			},
			score:    6.1,
			severity: RatingMedium,
		},
		{
			name: "physical access low impact",
			metrics: Metrics{
				AttackVector: AVPhysical, AttackComplexity: ACHigh, PrivilegesRequired: PRHigh,
				UserInteraction: UIRequired, Scope: ScopeUnchanged,
				Confidentiality: ImpactLow, Integrity: ImpactNone, Availability: ImpactNone,
			},
			score:    1.6,
			severity: RatingLow,
		},
		{
			name: "no impact scores zero",
			metrics: Metrics{
				AttackVector: AVNetwork, AttackComplexity: ACLow, PrivilegesRequired: PRNone,
				UserInteraction: UINone, Scope: ScopeUnchanged,
				Confidentiality: ImpactNone, Integrity: ImpactNone, Availability: ImpactNone,
			},
			score:    0,
			severity: RatingNone,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			res, err := Calculate(tc.metrics)
			require.NoError(t, err)
			assert.InDelta(t, tc.score, res.Score, 0.001)
			assert.Equal(t, tc.severity, res.Severity)
		})
	}
}

func TestCalculateScoreAlwaysInRange(t *testing.T) {
	avs := []AttackVector{AVNetwork, AVAdjacent, AVLocal, AVPhysical}
	acs := []AttackComplexity{ACLow, ACHigh}
	prs := []PrivilegesRequired{PRNone, PRLow, PRHigh}
	uis := []UserInteraction{UINone, UIRequired}
	scopes := []Scope{ScopeUnchanged, ScopeChanged}
	impacts := []Impact{ImpactNone, ImpactLow, ImpactHigh}

	for _, av := range avs {
		for _, ac := range acs {
			for _, pr := range prs {
				for _, ui := range uis {
					for _, sc := range scopes {
						for _, c := range impacts {
							for _, i := range impacts {
								for _, a := range impacts {
									m := Metrics{av, ac, pr, ui, sc, c, i, a}
									res, err := Calculate(m)
									require.NoError(t, err)
									assert.GreaterOrEqual(t, res.Score, 0.0, "vector %s", m.Vector())
									assert.LessOrEqual(t, res.Score, 10.0, "vector %s", m.Vector())
									assert.Equal(t, RatingFromScore(res.Score), res.Severity)
								}
							}
						}
					}
				}
			}
		}
	}
}

func TestCalculateRejectsInvalidMetrics(t *testing.T) {
	m := Metrics{
		AttackVector: "X", AttackComplexity: ACLow, PrivilegesRequired: PRNone,
		UserInteraction: UINone, Scope: ScopeUnchanged,
		Confidentiality: ImpactHigh, Integrity: ImpactNone, Availability: ImpactNone,
	}
	_, err := Calculate(m)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "attack vector")
}

func TestVectorRoundTrip(t *testing.T) {
	m := Metrics{
		AttackVector: AVAdjacent, AttackComplexity: ACHigh, PrivilegesRequired: PRLow,
		UserInteraction: UIRequired, Scope: ScopeChanged,
		Confidentiality: ImpactLow, Integrity: ImpactHigh, Availability: ImpactNone,
	}
	parsed, err := ParseVector(m.Vector())
	require.NoError(t, err)
	assert.Equal(t, m, parsed)
}

func TestParseVectorRejectsGarbage(t *testing.T) {
	for _, v := range []string{
		"",
		"CVSS:3.0/AV:N/AC:L/PR:N/UI:N/S:U/C:H/I:N/A:N",
		"CVSS:3.1/AV:N/AC:L/PR:N/UI:N/S:U/C:H/I:N",
		"CVSS:3.1/AV:Z/AC:L/PR:N/UI:N/S:U/C:H/I:N/A:N",
	} {
		_, err := ParseVector(v)
		assert.Error(t, err, "vector %q should not parse", v)
	}
}

func TestPresetFallback(t *testing.T) {
	known := ScoreCategory(CategoryXXE)
	assert.InDelta(t, 7.5, known.Score, 0.001)
	assert.Equal(t, RatingHigh, known.Severity)

	unknown := ScoreCategory("some-novel-category")
	fallback := ScoreCategory(CategorySensitiveDataExposure)
	assert.Equal(t, fallback, unknown)
}

func TestRatingThresholdEdges(t *testing.T) {
	assert.Equal(t, RatingNone, RatingFromScore(0))
	assert.Equal(t, RatingLow, RatingFromScore(0.1))
	assert.Equal(t, RatingLow, RatingFromScore(3.9))
	assert.Equal(t, RatingMedium, RatingFromScore(4.0))
	assert.Equal(t, RatingMedium, RatingFromScore(6.9))
	assert.Equal(t, RatingHigh, RatingFromScore(7.0))
	assert.Equal(t, RatingHigh, RatingFromScore(8.9))
	assert.Equal(t, RatingCritical, RatingFromScore(9.0))
	assert.Equal(t, RatingCritical, RatingFromScore(10.0))
}
