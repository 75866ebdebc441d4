package cvss

// Category tags for the vulnerability classes the active probes detect.
// Unknown tags fall back to CategorySensitiveDataExposure, the most
// conservative non-trivial preset.
const (
	CategoryXSS                   = "reflected-script-injection"
	CategoryXXE                   = "xml-external-entity"
	CategorySSRF                  = "server-side-request-forgery"
	CategoryRCE                   = "remote-code-execution"
	CategoryDeserialization       = "insecure-deserialization"
	CategoryIDOR                  = "object-reference-exposure"
	CategorySensitiveDataExposure = "sensitive-data-exposure"
	CategorySQLInjection          = "sql-injection"
)

// presets maps each known vulnerability class to its fixed base vector.
var presets = map[string]Metrics{
	CategorySQLInjection: {
		AttackVector: AVNetwork, AttackComplexity: ACLow, PrivilegesRequired: PRNone,
		UserInteraction: UINone, Scope: ScopeChanged,
		Confidentiality: ImpactHigh, Integrity: ImpactHigh, Availability: ImpactHigh,
	},
	CategoryXSS: {
		AttackVector: AVNetwork, AttackComplexity: ACLow, PrivilegesRequired: PRNone,
		UserInteraction: UIRequired, Scope: ScopeChanged,
		Confidentiality: ImpactLow, Integrity: ImpactLow, Availability: ImpactNone,
	},
	CategoryXXE: {
		AttackVector: AVNetwork, AttackComplexity: ACLow, PrivilegesRequired: PRNone,
		UserInteraction: UINone, Scope: ScopeUnchanged,
		Confidentiality: ImpactHigh, Integrity: ImpactNone, Availability: ImpactNone,
	},
	CategorySSRF: {
		AttackVector: AVNetwork, AttackComplexity: ACLow, PrivilegesRequired: PRLow,
		UserInteraction: UINone, Scope: ScopeChanged,
		Confidentiality: ImpactHigh, Integrity: ImpactLow, Availability: ImpactLow,
	},
	CategoryRCE: {
		AttackVector: AVNetwork, AttackComplexity: ACLow, PrivilegesRequired: PRNone,
		UserInteraction: UINone, Scope: ScopeChanged,
		Confidentiality: ImpactHigh, Integrity: ImpactHigh, Availability: ImpactHigh,
	},
	CategoryDeserialization: {
		AttackVector: AVNetwork, AttackComplexity: ACLow, PrivilegesRequired: PRNone,
		UserInteraction: UINone, Scope: ScopeUnchanged,
		Confidentiality: ImpactHigh, Integrity: ImpactHigh, Availability: ImpactHigh,
	},
	CategoryIDOR: {
		AttackVector: AVNetwork, AttackComplexity: ACLow, PrivilegesRequired: PRLow,
		UserInteraction: UINone, Scope: ScopeUnchanged,
		Confidentiality: ImpactHigh, Integrity: ImpactLow, Availability: ImpactNone,
	},
	CategorySensitiveDataExposure: {
		AttackVector: AVNetwork, AttackComplexity: ACLow, PrivilegesRequired: PRNone,
		UserInteraction: UINone, Scope: ScopeUnchanged,
		Confidentiality: ImpactHigh, Integrity: ImpactNone, Availability: ImpactNone,
	},
}

// PresetFor returns the base vector for a vulnerability class tag, falling
// back to the sensitive-data-exposure preset for unknown tags.
func PresetFor(category string) Metrics {
	if m, ok := presets[category]; ok {
		return m
	}
	return presets[CategorySensitiveDataExposure]
}

// ScoreCategory scores the preset vector for a vulnerability class tag.
// Presets are all valid by construction, so the error path never fires for
// catalog inputs.
func ScoreCategory(category string) Result {
	res, err := Calculate(PresetFor(category))
	if err != nil {
		// Unreachable for table entries; keep the zero value honest.
		return Result{Severity: RatingNone}
	}
	return res
}
