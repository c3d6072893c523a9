package model

// Label keys understood by Labels.
const (
	LabelBuild       = "build"
	LabelBuilds      = "builds"
	LabelDeployment  = "deployment"
	LabelDeployments = "deployments"
	LabelInventory   = "inventory"
	LabelLocation    = "location"
)

var defaultLabels = map[string]string{
	LabelBuild:       "Build",
	LabelBuilds:      "Builds",
	LabelDeployment:  "Deployment",
	LabelDeployments: "Deployments",
	LabelInventory:   "Inventory",
	LabelLocation:    "Location",
}

// Labels maps label keys to display names. Missing keys fall back to the
// built-in English names.
type Labels map[string]string

// Get returns the display name for key.
func (l Labels) Get(key string) string {
	if v, ok := l[key]; ok && v != "" {
		return v
	}
	if v, ok := defaultLabels[key]; ok {
		return v
	}
	return key
}
