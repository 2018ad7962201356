package inventory

// Labels recognised as opting a container into automatic updates. Any one of
// them set to "true" makes a container eligible.
const (
	LabelAutoUpdate           = "auto-update"
	LabelNamespacedAutoUpdate = "dockwarden.auto-update"
	LabelWatchtowerEnable     = "com.centurylinklabs.watchtower.enable"
	LabelOuroborosEnable      = "com.ouroboros.enable"
)

// EligibilityLabels lists the recognised eligibility labels
var EligibilityLabels = []string{
	LabelAutoUpdate,
	LabelNamespacedAutoUpdate,
	LabelWatchtowerEnable,
	LabelOuroborosEnable,
}

// IsEligible reports whether a label set opts a container into updates
func IsEligible(labels map[string]string) bool {
	for _, key := range EligibilityLabels {
		if labels[key] == "true" {
			return true
		}
	}
	return false
}
