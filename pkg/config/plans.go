package config

import (
	"fmt"

	"github.com/contentforge/contentforge/pkg/models"
)

// Unlimited and Forbidden are the sentinel monthly-cap values.
const (
	Unlimited = -1
	Forbidden = 0
)

// RetentionUnlimited marks a tier whose artifacts never expire.
const RetentionUnlimited = -1

// Plan describes one subscription tier: the model it resolves to, monthly
// caps per content kind, parallelism and retention. The table is data, not
// code — code paths look tiers up by name and never hard-code limits.
type Plan struct {
	Name             models.PlanName
	ModelName        string
	Limits           map[models.ContentKind]int
	ContentTypes     []models.ContentKind
	MaxParallelTasks int
	Features         []string
	RetentionDays    int
}

// Limit returns the monthly cap for a kind. Kinds missing from the table are
// forbidden.
func (p *Plan) Limit(kind models.ContentKind) int {
	if v, ok := p.Limits[kind]; ok {
		return v
	}
	return Forbidden
}

// AllowsKind reports whether the tier permits the content kind at all.
func (p *Plan) AllowsKind(kind models.ContentKind) bool {
	return p.Limit(kind) != Forbidden
}

// PlanTable maps tier name → tier definition.
type PlanTable map[string]*Plan

// Get returns the plan for a tier name, falling back to free for unknown
// names so a bad subscription row can never unlock unlimited access.
func (t PlanTable) Get(name models.PlanName) *Plan {
	if p, ok := t[string(name)]; ok {
		return p
	}
	return t[string(models.PlanFree)]
}

// Validate checks the table covers every tier the subscription model knows.
func (t PlanTable) Validate() error {
	for _, name := range []models.PlanName{models.PlanFree, models.PlanBasic, models.PlanPro, models.PlanEnterprise} {
		p, ok := t[string(name)]
		if !ok {
			return fmt.Errorf("plan table missing tier %q", name)
		}
		if p.MaxParallelTasks <= 0 {
			return fmt.Errorf("plan %q: max_parallel_tasks must be positive", name)
		}
		if p.RetentionDays == 0 {
			return fmt.Errorf("plan %q: retention_days must be positive or RetentionUnlimited", name)
		}
	}
	return nil
}

// DefaultPlanTable returns the built-in tier definitions.
func DefaultPlanTable() PlanTable {
	return PlanTable{
		"free": {
			Name:      models.PlanFree,
			ModelName: "gpt-4o-mini",
			Limits: map[models.ContentKind]int{
				models.KindBlog:        10,
				models.KindSocial:      10,
				models.KindAudio:       Forbidden,
				models.KindVideo:       Forbidden,
				models.KindVoiceover:   Forbidden,
				models.KindVideoRender: Forbidden,
			},
			ContentTypes:     []models.ContentKind{models.KindBlog, models.KindSocial},
			MaxParallelTasks: 1,
			Features:         []string{"content_generation"},
			RetentionDays:    30,
		},
		"basic": {
			Name:      models.PlanBasic,
			ModelName: "gpt-4o",
			Limits: map[models.ContentKind]int{
				models.KindBlog:        50,
				models.KindSocial:      50,
				models.KindAudio:       10,
				models.KindVideo:       Forbidden,
				models.KindVoiceover:   10,
				models.KindVideoRender: Forbidden,
			},
			ContentTypes:     []models.ContentKind{models.KindBlog, models.KindSocial, models.KindAudio},
			MaxParallelTasks: 2,
			Features:         []string{"content_generation", "voiceover"},
			RetentionDays:    90,
		},
		"pro": {
			Name:      models.PlanPro,
			ModelName: "gpt-4o",
			Limits: map[models.ContentKind]int{
				models.KindBlog:        200,
				models.KindSocial:      200,
				models.KindAudio:       200,
				models.KindVideo:       20,
				models.KindVoiceover:   200,
				models.KindVideoRender: 20,
			},
			ContentTypes:     models.GenerationKinds,
			MaxParallelTasks: 5,
			Features:         []string{"content_generation", "voiceover", "video_render", "priority_support"},
			RetentionDays:    365,
		},
		"enterprise": {
			Name:      models.PlanEnterprise,
			ModelName: "gpt-4o",
			Limits: map[models.ContentKind]int{
				models.KindBlog:        Unlimited,
				models.KindSocial:      Unlimited,
				models.KindAudio:       Unlimited,
				models.KindVideo:       Unlimited,
				models.KindVoiceover:   Unlimited,
				models.KindVideoRender: Unlimited,
			},
			ContentTypes:     models.GenerationKinds,
			MaxParallelTasks: 20,
			Features:         []string{"content_generation", "voiceover", "video_render", "priority_support", "sso"},
			RetentionDays:    RetentionUnlimited,
		},
	}
}
