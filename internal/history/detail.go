package history

import (
	"context"
	"encoding/json"
	"fmt"

	jsonpatch "github.com/evanphx/json-patch/v5"

	"github.com/erazemk/rdb/internal/lifecycle"
	"github.com/erazemk/rdb/internal/model"
	"github.com/erazemk/rdb/internal/store"
)

func (r *run) locationName(ctx context.Context, id *int64) (string, error) {
	if id == nil {
		return "", nil
	}
	l, err := store.GetLocation(ctx, r.q, *id)
	if err != nil {
		return "", err
	}
	if l == nil {
		return fmt.Sprintf("%s #%d", r.labels.Get(model.LabelLocation), *id), nil
	}
	return l.Name, nil
}

// movedDetail describes a move between two locations.
func (r *run) movedDetail(ctx context.Context, to, from *int64) (string, error) {
	toName, err := r.locationName(ctx, to)
	if err != nil {
		return "", err
	}
	fromName, err := r.locationName(ctx, from)
	if err != nil {
		return "", err
	}
	switch {
	case toName != "" && fromName != "":
		return fmt.Sprintf("Moved to %s from %s.", toName, fromName), nil
	case toName != "":
		return fmt.Sprintf("Moved to %s.", toName), nil
	case fromName != "":
		return fmt.Sprintf("Removed from %s.", fromName), nil
	}
	return "Location cleared.", nil
}

func (r *run) serial(ctx context.Context, id int64) (string, error) {
	inv, err := store.GetInventory(ctx, r.q, id)
	if err != nil {
		return "", err
	}
	if inv == nil {
		return fmt.Sprintf("#%d", id), nil
	}
	return inv.SerialNumber, nil
}

func (r *run) buildName(b *model.Build) string {
	return r.labels.Get(model.LabelBuild) + " " + b.BuildNumber
}

var phaseVerb = map[lifecycle.Phase]string{
	lifecycle.Created:   "started",
	lifecycle.Burnin:    "burn in",
	lifecycle.ToField:   "deployed to field",
	lifecycle.Recovered: "recovered from field",
	lifecycle.Retired:   "ended",
}

// phaseDetail describes a deployment phase transition, naming the cruise
// for the phases that happen at sea.
func (r *run) phaseDetail(ctx context.Context, phase lifecycle.Phase, dep *model.Deployment, cruiseID *int64) (string, error) {
	name := r.labels.Get(model.LabelDeployment)
	if dep != nil {
		name += " " + dep.DeploymentNumber
	}
	detail := fmt.Sprintf("%s %s.", name, phaseVerb[phase])

	if cruiseID != nil && (phase == lifecycle.ToField || phase == lifecycle.Recovered) {
		c, err := store.GetCruise(ctx, r.q, *cruiseID)
		if err != nil {
			return "", err
		}
		if c != nil {
			detail += " Cruise: " + c.CruiseNumber
		}
	}
	return detail, nil
}

func testDetail(inv *model.Inventory) string {
	result := "Unknown"
	if inv.TestResult != nil {
		result = "Fail"
		if *inv.TestResult {
			result = "Pass"
		}
	}
	testType := inv.TestType
	if testType == "" {
		testType = "Test"
	}
	return testType + ": " + result
}

func flagDetail(on bool) string {
	if on {
		return "Flag on."
	}
	return "Flag off."
}

// fieldDiff renders the fields that differ between before and after as a
// JSON merge patch. It returns "" when nothing changed.
func fieldDiff(before, after any) (string, error) {
	original, err := json.Marshal(before)
	if err != nil {
		return "", fmt.Errorf("encoding previous fields: %w", err)
	}
	modified, err := json.Marshal(after)
	if err != nil {
		return "", fmt.Errorf("encoding new fields: %w", err)
	}
	patch, err := jsonpatch.CreateMergePatch(original, modified)
	if err != nil {
		return "", fmt.Errorf("diffing fields: %w", err)
	}
	if string(patch) == "{}" {
		return "", nil
	}
	return string(patch), nil
}

func csvDetail(label string, kind model.ActionKind, extra string) string {
	verb := "imported"
	if kind == model.ActionCSVUpdate {
		verb = "updated"
	}
	detail := fmt.Sprintf("%s %s via CSV.", label, verb)
	if extra != "" {
		detail += " " + extra
	}
	return detail
}
