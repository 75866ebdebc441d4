// Package cvss implements the CVSS v3.1 base-score formula used to classify
// findings. It is a pure computation: eight ordinal factors in, a score in
// [0,10], a severity label and a canonical vector string out.
package cvss

import (
	"fmt"
	"math"
	"strings"
)

// Rating is the qualitative severity derived from the numeric base score.
type Rating string

const (
	RatingNone     Rating = "NONE"
	RatingLow      Rating = "LOW"
	RatingMedium   Rating = "MEDIUM"
	RatingHigh     Rating = "HIGH"
	RatingCritical Rating = "CRITICAL"
)

// Metric values follow the single-letter CVSS v3.1 abbreviations.
type (
	AttackVector       string
	AttackComplexity   string
	PrivilegesRequired string
	UserInteraction    string
	Scope              string
	Impact             string
)

const (
	AVNetwork  AttackVector = "N"
	AVAdjacent AttackVector = "A"
	AVLocal    AttackVector = "L"
	AVPhysical AttackVector = "P"

	ACLow  AttackComplexity = "L"
	ACHigh AttackComplexity = "H"

	PRNone PrivilegesRequired = "N"
	PRLow  PrivilegesRequired = "L"
	PRHigh PrivilegesRequired = "H"

	UINone     UserInteraction = "N"
	UIRequired UserInteraction = "R"

	ScopeUnchanged Scope = "U"
	ScopeChanged   Scope = "C"

	ImpactNone Impact = "N"
	ImpactLow  Impact = "L"
	ImpactHigh Impact = "H"
)

// Metrics is one complete CVSS v3.1 base vector.
type Metrics struct {
	AttackVector       AttackVector
	AttackComplexity   AttackComplexity
	PrivilegesRequired PrivilegesRequired
	UserInteraction    UserInteraction
	Scope              Scope
	Confidentiality    Impact
	Integrity          Impact
	Availability       Impact
}

// Result is the scored outcome of a vector.
type Result struct {
	Score    float64
	Severity Rating
	Vector   string
}

var (
	avWeight  = map[AttackVector]float64{AVNetwork: 0.85, AVAdjacent: 0.62, AVLocal: 0.55, AVPhysical: 0.2}
	acWeight  = map[AttackComplexity]float64{ACLow: 0.77, ACHigh: 0.44}
	uiWeight  = map[UserInteraction]float64{UINone: 0.85, UIRequired: 0.62}
	ciaWeight = map[Impact]float64{ImpactNone: 0, ImpactLow: 0.22, ImpactHigh: 0.56}

	// PR weights depend on whether the scope changes.
	prUnchanged = map[PrivilegesRequired]float64{PRNone: 0.85, PRLow: 0.62, PRHigh: 0.27}
	prChanged   = map[PrivilegesRequired]float64{PRNone: 0.85, PRLow: 0.68, PRHigh: 0.5}
)

// Validate rejects out-of-domain metric values. This is the scorer's only
// failure mode.
func (m Metrics) Validate() error {
	if _, ok := avWeight[m.AttackVector]; !ok {
		return fmt.Errorf("invalid attack vector %q", m.AttackVector)
	}
	if _, ok := acWeight[m.AttackComplexity]; !ok {
		return fmt.Errorf("invalid attack complexity %q", m.AttackComplexity)
	}
	if _, ok := prUnchanged[m.PrivilegesRequired]; !ok {
		return fmt.Errorf("invalid privileges required %q", m.PrivilegesRequired)
	}
	if _, ok := uiWeight[m.UserInteraction]; !ok {
		return fmt.Errorf("invalid user interaction %q", m.UserInteraction)
	}
	if m.Scope != ScopeUnchanged && m.Scope != ScopeChanged {
		return fmt.Errorf("invalid scope %q", m.Scope)
	}
	for _, imp := range []Impact{m.Confidentiality, m.Integrity, m.Availability} {
		if _, ok := ciaWeight[imp]; !ok {
			return fmt.Errorf("invalid impact %q", imp)
		}
	}
	return nil
}

// Vector renders the canonical CVSS:3.1 string encoding of the metrics.
func (m Metrics) Vector() string {
	return fmt.Sprintf("CVSS:3.1/AV:%s/AC:%s/PR:%s/UI:%s/S:%s/C:%s/I:%s/A:%s",
		m.AttackVector, m.AttackComplexity, m.PrivilegesRequired,
		m.UserInteraction, m.Scope, m.Confidentiality, m.Integrity, m.Availability)
}

// ParseVector is the inverse of Metrics.Vector. Parsing a vector produced by
// Vector yields the identical eight factors.
func ParseVector(vector string) (Metrics, error) {
	var m Metrics
	parts := strings.Split(vector, "/")
	if len(parts) != 9 || parts[0] != "CVSS:3.1" {
		return m, fmt.Errorf("malformed CVSS v3.1 vector %q", vector)
	}
	for _, part := range parts[1:] {
		key, value, found := strings.Cut(part, ":")
		if !found {
			return m, fmt.Errorf("malformed vector component %q", part)
		}
		switch key {
		case "AV":
			m.AttackVector = AttackVector(value)
		case "AC":
			m.AttackComplexity = AttackComplexity(value)
		case "PR":
			m.PrivilegesRequired = PrivilegesRequired(value)
		case "UI":
			m.UserInteraction = UserInteraction(value)
		case "S":
			m.Scope = Scope(value)
		case "C":
			m.Confidentiality = Impact(value)
		case "I":
			m.Integrity = Impact(value)
		case "A":
			m.Availability = Impact(value)
		default:
			return m, fmt.Errorf("unknown vector component %q", key)
		}
	}
	if err := m.Validate(); err != nil {
		return m, err
	}
	return m, nil
}

// roundUp rounds to one decimal, always toward +inf (CVSS "round up").
func roundUp(v float64) float64 {
	return math.Ceil(v*10) / 10
}

// Calculate applies the CVSS v3.1 base-score formula.
func Calculate(m Metrics) (Result, error) {
	if err := m.Validate(); err != nil {
		return Result{}, err
	}

	isc := 1 - (1-ciaWeight[m.Confidentiality])*(1-ciaWeight[m.Integrity])*(1-ciaWeight[m.Availability])

	var impact float64
	if m.Scope == ScopeUnchanged {
		impact = 6.42 * isc
	} else {
		impact = 7.52*(isc-0.029) - 3.25*math.Pow(isc-0.02, 15)
	}

	pr := prUnchanged[m.PrivilegesRequired]
	if m.Scope == ScopeChanged {
		pr = prChanged[m.PrivilegesRequired]
	}
	exploitability := 8.22 * avWeight[m.AttackVector] * acWeight[m.AttackComplexity] * pr * uiWeight[m.UserInteraction]

	var score float64
	switch {
	case impact <= 0:
		score = 0
	case m.Scope == ScopeUnchanged:
		score = math.Min(impact+exploitability, 10)
	default:
		score = math.Min(1.08*(impact+exploitability), 10)
	}
	score = roundUp(score)

	return Result{Score: score, Severity: RatingFromScore(score), Vector: m.Vector()}, nil
}

// RatingFromScore maps a base score onto the fixed qualitative thresholds.
func RatingFromScore(score float64) Rating {
	switch {
	case score == 0:
		return RatingNone
	case score < 4.0:
		return RatingLow
	case score < 7.0:
		return RatingMedium
	case score < 9.0:
		return RatingHigh
	default:
		return RatingCritical
	}
}
