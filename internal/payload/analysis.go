package payload

import (
	"fmt"
	"strings"

	"routeopt/internal/model"
)

// Analyze derives the objectives, constraints and preference notes sent with the request.
func Analyze(c model.OptimizationContext, p model.OptimizationPreferences) model.Analysis {
	a := model.Analysis{Objectives: []string{}, Constraints: []string{}, Preferences: []string{}}

	if cp := c.Campaign; cp != nil {
		if cp.ImpressionGoal > 0 {
			a.Objectives = append(a.Objectives, fmt.Sprintf("Reach %d impressions for %s", cp.ImpressionGoal, campaignLabel(cp)))
		}
		if cp.TargetAudience != "" {
			a.Objectives = append(a.Objectives, "Target audience: "+cp.TargetAudience)
		}
		if cp.VehicleType != "" {
			a.Constraints = append(a.Constraints, "Vehicle type: "+cp.VehicleType)
		}
		if cp.StartsAt != nil && cp.EndsAt != nil {
			a.Constraints = append(a.Constraints, fmt.Sprintf("Active window: %s to %s",
				cp.StartsAt.Format("2006-01-02"), cp.EndsAt.Format("2006-01-02")))
		}
		if len(cp.TargetZones) > 0 {
			a.Constraints = append(a.Constraints, "Stay within: "+strings.Join(cp.TargetZones, ", "))
		}
	}
	a.Objectives = append(a.Objectives, priorityObjective(p.Priority))
	if p.MaxDurationMinutes > 0 {
		a.Constraints = append(a.Constraints, fmt.Sprintf("Maximum duration: %d minutes", p.MaxDurationMinutes))
	}
	if n := len(c.CampaignZones); n > 0 {
		a.Constraints = append(a.Constraints, fmt.Sprintf("%d campaign zone(s) defined", n))
	}
	if n := len(c.HotZones); n > 0 {
		a.Objectives = append(a.Objectives, fmt.Sprintf("Pass through %d hot zone(s) while their bonus is active", n))
	}

	if p.AvoidTraffic {
		a.Preferences = append(a.Preferences, "Avoid heavy traffic")
	}
	if p.IncludeRestStops {
		a.Preferences = append(a.Preferences, "Include rest stops")
	}
	if p.WeatherConsideration {
		a.Preferences = append(a.Preferences, "Account for weather")
	}
	if p.TimeOfDay != "" {
		a.Preferences = append(a.Preferences, "Time of day: "+p.TimeOfDay)
	}
	return a
}

func campaignLabel(c *model.CampaignContext) string {
	if c.Name != "" {
		return c.Name
	}
	return "campaign " + c.ID
}

func priorityObjective(priority string) string {
	switch priority {
	case model.PriorityEfficiency:
		return "Minimize distance travelled"
	case model.PriorityDuration:
		return "Minimize total drive time"
	case model.PriorityCoverage:
		return "Maximize zone coverage"
	default:
		return "Maximize impressions"
	}
}
