// Package ranking scores, tags, filters, and orders the candidate pool for
// the Now list. It is pure: all inputs arrive as arguments, the clock is
// injected, and the same inputs always produce the same order.
package ranking

import (
	"fmt"
	"math"
	"sort"
	"time"

	"nextaction/internal/domain"
	"nextaction/internal/rankconfig"
)

// ProjectInfo carries the project fields scoring needs.
type ProjectInfo struct {
	ID             string     `json:"id"`
	Priority       int        `json:"priority"`
	FocusThisWeek  bool       `json:"focus_this_week"`
	DueDate        *time.Time `json:"due_date,omitempty"`
	LastProgressAt *time.Time `json:"last_progress_at,omitempty"`
}

// Candidate is one task in the pool with its relations resolved and its
// timestamps parsed.
type Candidate struct {
	Task         domain.Task `json:"task"`
	DueDate      *time.Time  `json:"-"`
	SnoozedUntil *time.Time  `json:"-"`
	CreatedAt    time.Time   `json:"-"`
	UpdatedAt    time.Time   `json:"-"`
	// Project is the owning project, when the task belongs to one.
	Project *ProjectInfo `json:"project,omitempty"`
	// NextActionOpenTasks is the count of open tasks in the project this task
	// is the designated next action of, zero otherwise.
	NextActionOpenTasks int `json:"-"`
}

func (c Candidate) blockedDependents() int {
	if c.NextActionOpenTasks > 1 {
		return c.NextActionOpenTasks - 1
	}
	return 0
}

type Filters struct {
	TimeAvailable int    `json:"time_available,omitempty"`
	Energy        string `json:"energy,omitempty"`
	Context       string `json:"context,omitempty"`
}

func (f Filters) empty() bool {
	return f.TimeAvailable == 0 && f.Energy == "" && f.Context == ""
}

type Options struct {
	Filters Filters
	// Mode overrides the configured filter mode ("strict" or "soft").
	Mode string
}

type Breakdown struct {
	Urgency     float64 `json:"urgency"`
	Importance  float64 `json:"importance"`
	Leverage    float64 `json:"leverage"`
	Staleness   float64 `json:"staleness"`
	Fit         float64 `json:"fit"`
	Friction    float64 `json:"friction"`
	RiskPenalty float64 `json:"riskPenalty"`
	Total       float64 `json:"total"`
	Pinned      bool    `json:"pinned"`
	ManualRank  *int    `json:"manualRank,omitempty"`
}

type Ranked struct {
	Candidate
	Score      float64   `json:"score"`
	ReasonTags []string  `json:"reasonTags"`
	Breakdown  Breakdown `json:"scoreBreakdown"`
}

type Excluded struct {
	Candidate
	Reason string `json:"reason"`
}

// Rank scores the eligible candidates, tags them, applies strict-mode
// exclusions, and returns both lists in deterministic order.
func Rank(now time.Time, cands []Candidate, opts Options, cfg rankconfig.Config) ([]Ranked, []Excluded) {
	mode := opts.Mode
	if mode == "" {
		mode = cfg.Filters.Mode
	}
	filters := opts.Filters

	var eligible []Candidate
	for _, c := range cands {
		if c.SnoozedUntil != nil && c.SnoozedUntil.After(now) {
			continue
		}
		eligible = append(eligible, c)
	}

	var excluded []Excluded
	toScore := eligible
	if mode == "strict" && !filters.empty() {
		toScore = nil
		for _, c := range eligible {
			if reason := strictExclusionReason(c, filters); reason != "" {
				excluded = append(excluded, Excluded{Candidate: c, Reason: reason})
			} else {
				toScore = append(toScore, c)
			}
		}
	}

	ranked := make([]Ranked, 0, len(toScore))
	for _, c := range toScore {
		b := scoreCandidate(now, c, filters, cfg)
		ranked = append(ranked, Ranked{
			Candidate:  c,
			Score:      b.Total,
			ReasonTags: reasonTags(now, c, cfg),
			Breakdown:  b,
		})
	}

	sort.SliceStable(ranked, func(i, j int) bool { return lessRanked(ranked[i], ranked[j]) })
	return ranked, excluded
}

func strictExclusionReason(c Candidate, f Filters) string {
	t := c.Task
	if f.TimeAvailable > 0 && t.EstimatedMinutes != nil && *t.EstimatedMinutes > f.TimeAvailable {
		return fmt.Sprintf("Time: needs %d min", *t.EstimatedMinutes)
	}
	if f.Energy != "" && t.Energy != "" && t.Energy != f.Energy {
		return fmt.Sprintf("Energy: doesn't match %s", f.Energy)
	}
	if f.Context != "" && t.Context != "" && t.Context != f.Context {
		return fmt.Sprintf("Context: doesn't match %s", f.Context)
	}
	return ""
}

func scoreCandidate(now time.Time, c Candidate, filters Filters, cfg rankconfig.Config) Breakdown {
	b := Breakdown{
		Urgency:     scoreUrgency(now, c, cfg),
		Importance:  scoreImportance(c, cfg),
		Leverage:    scoreLeverage(c, cfg),
		Staleness:   scoreStaleness(now, c, cfg),
		Fit:         scoreFit(c, filters, cfg),
		Friction:    scoreFriction(c, cfg),
		RiskPenalty: scoreRisk(c, cfg),
		Pinned:      c.Task.PinnedOrder != nil,
		ManualRank:  c.Task.ManualRank,
	}
	b.Total = b.Urgency + b.Importance + b.Leverage + b.Staleness + b.Fit - b.Friction - b.RiskPenalty
	return b
}

func scoreUrgency(now time.Time, c Candidate, cfg rankconfig.Config) float64 {
	u := cfg.Urgency
	w := cfg.Weights.Urgency
	due := c.DueDate
	cap := 40.0
	if due == nil && c.Project != nil {
		due = c.Project.DueDate
		cap = u.ProjectCap
	}
	if due == nil {
		return 0
	}
	hours := due.Sub(now).Hours()
	switch {
	case hours < 0:
		return w * math.Min(u.Overdue, cap)
	case hours <= 24:
		return w * math.Min(u.Due24h, cap)
	case hours <= 48:
		return w * math.Min(u.Due48h, cap)
	}
	days := math.Ceil(hours / 24)
	switch {
	case days <= 7:
		return w * math.Min(u.Due7d, cap)
	case days <= 30:
		return w * math.Min(u.Due30d, cap)
	}
	return w * math.Min(u.Else, cap)
}

func taskPriorityScore(priority int, cfg rankconfig.Config) float64 {
	m := cfg.Importance.TaskPriorityMap
	switch {
	case priority <= 2:
		return m["low"]
	case priority <= 5:
		return m["normal"]
	case priority <= 8:
		return m["high"]
	}
	return m["critical"]
}

func scoreImportance(c Candidate, cfg rankconfig.Config) float64 {
	w := cfg.Weights.Importance
	s := taskPriorityScore(c.Task.Priority, cfg)
	if c.Project != nil {
		s += math.Min(cfg.Importance.ProjectPriorityMax, float64(c.Project.Priority))
		if c.Project.FocusThisWeek {
			s += cfg.Importance.FocusBonus
		}
	}
	return w * math.Min(20, s)
}

func scoreLeverage(c Candidate, cfg rankconfig.Config) float64 {
	w := cfg.Weights.Leverage
	m := cfg.Leverage.DependentsMap
	blocked := c.blockedDependents()
	var score float64
	switch {
	case blocked >= 7:
		score = m["7+"]
	case blocked >= 4:
		score = m["4-6"]
	case blocked >= 2:
		score = m["2-3"]
	case blocked == 1:
		score = m["1"]
	}
	return w * score
}

func daysSince(now, t time.Time) float64 {
	return now.Sub(t).Hours() / 24
}

func scoreStaleness(now time.Time, c Candidate, cfg rankconfig.Config) float64 {
	w := cfg.Weights.Staleness
	touched := c.UpdatedAt
	if touched.IsZero() {
		touched = c.CreatedAt
	}
	days := daysSince(now, touched)
	var score float64
	for _, bin := range cfg.Staleness.Bins {
		if days <= bin.DaysMax {
			score = bin.Score
			break
		}
	}
	if c.Project != nil && c.Project.LastProgressAt != nil {
		if daysSince(now, *c.Project.LastProgressAt) > cfg.Staleness.ProjectStalledDays {
			score += cfg.Staleness.ProjectStalledBonus
		}
	}
	return w * math.Min(15, score)
}

func scoreFit(c Candidate, f Filters, cfg rankconfig.Config) float64 {
	if f.empty() {
		return 0
	}
	w := cfg.Weights.Fit
	t := c.Task
	var fit float64
	if f.TimeAvailable > 0 && t.EstimatedMinutes != nil {
		est := float64(*t.EstimatedMinutes)
		avail := float64(f.TimeAvailable)
		switch {
		case est <= avail:
			fit += cfg.Fit.Time.Fits
		case est <= avail*1.25:
			fit += cfg.Fit.Time.NearFits
		default:
			fit += cfg.Fit.Time.Over
		}
	}
	if f.Context != "" && t.Context != "" {
		if t.Context == f.Context {
			fit += cfg.Fit.Context.Match
		} else {
			fit += cfg.Fit.Context.Mismatch
		}
	}
	if f.Energy != "" && t.Energy != "" {
		ti, fi := energyIndex(t.Energy), energyIndex(f.Energy)
		switch {
		case ti == fi:
			fit += cfg.Fit.Energy.Match
		case abs(ti-fi) == 1:
			fit += cfg.Fit.Energy.OffByOne
		default:
			fit += cfg.Fit.Energy.ExtremeMismatch
		}
	}
	return w * fit
}

func energyIndex(e string) int {
	switch e {
	case "low":
		return 0
	case "medium":
		return 1
	case "high":
		return 2
	}
	return -1
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

func scoreFriction(c Candidate, cfg rankconfig.Config) float64 {
	w := cfg.Weights.Friction
	var minutes float64
	if c.Task.EstimatedMinutes != nil {
		minutes = float64(*c.Task.EstimatedMinutes)
	}
	var penalty float64
	for _, bin := range cfg.Friction.Bins {
		if minutes <= bin.MinutesMax {
			penalty = bin.Penalty
			break
		}
	}
	return w * penalty
}

// scoreRisk penalizes unverified completions only. Missing metadata already
// costs a task its fit and friction scores; it is not a risk signal.
func scoreRisk(c Candidate, cfg rankconfig.Config) float64 {
	w := cfg.Weights.Risk
	var penalty float64
	if c.Task.Unverified {
		penalty = cfg.Risk.UnverifiedPenalty
	}
	return w * penalty
}

var contextLabels = map[string]string{
	"calls":     "Calls",
	"errands":   "Errands",
	"computer":  "Computer",
	"deep_work": "Deep work",
}

type tagCandidate struct {
	key   string
	label string
}

func reasonTags(now time.Time, c Candidate, cfg rankconfig.Config) []string {
	t := c.Task
	var candidates []tagCandidate

	if c.DueDate != nil {
		dueDays := int(math.Ceil(c.DueDate.Sub(now).Hours() / 24))
		switch {
		case dueDays < 0:
			candidates = append(candidates, tagCandidate{"overdue", "Overdue"})
		case dueDays == 0:
			candidates = append(candidates, tagCandidate{"due_today", "Due today"})
		case dueDays == 1:
			candidates = append(candidates, tagCandidate{"due_tomorrow", "Due tomorrow"})
		case dueDays <= 2:
			candidates = append(candidates, tagCandidate{"due_in_2_days", "Due in 2 days"})
		case dueDays <= 7:
			candidates = append(candidates, tagCandidate{"due_this_week", "Due this week"})
		case dueDays <= 30:
			candidates = append(candidates, tagCandidate{"due_soon", "Due soon"})
		}
	}
	if blocked := c.blockedDependents(); blocked >= 1 {
		switch {
		case blocked >= 7:
			candidates = append(candidates, tagCandidate{"unblocks", "Unblocks 7+ tasks"})
		case blocked == 1:
			candidates = append(candidates, tagCandidate{"unblocks", "Unblocks 1 task"})
		default:
			candidates = append(candidates, tagCandidate{"unblocks", fmt.Sprintf("Unblocks %d tasks", blocked)})
		}
	}
	if c.Project != nil {
		if c.Project.FocusThisWeek {
			candidates = append(candidates, tagCandidate{"focus_project", "Focus project"})
		}
		if c.Project.DueDate != nil {
			if days := math.Ceil(c.Project.DueDate.Sub(now).Hours() / 24); days <= 7 {
				candidates = append(candidates, tagCandidate{"project_due_soon", "Project due soon"})
			}
		}
		if c.Project.LastProgressAt != nil && daysSince(now, *c.Project.LastProgressAt) > cfg.Staleness.ProjectStalledDays {
			candidates = append(candidates, tagCandidate{"project_stalled", "Project stalled"})
		}
	}
	touched := c.UpdatedAt
	if touched.IsZero() {
		touched = c.CreatedAt
	}
	switch days := daysSince(now, touched); {
	case days >= 30:
		candidates = append(candidates, tagCandidate{"stale", "Stale 30+ days"})
	case days >= 14:
		candidates = append(candidates, tagCandidate{"stale", "Stale 2+ weeks"})
	case days >= 7:
		candidates = append(candidates, tagCandidate{"stale", "Ignored 7 days"})
	}
	if t.EstimatedMinutes != nil {
		switch {
		case *t.EstimatedMinutes <= 10:
			candidates = append(candidates, tagCandidate{"fit", "Fits 10 min"})
		case *t.EstimatedMinutes <= 30:
			candidates = append(candidates, tagCandidate{"fit", "Fits 30 min"})
		}
	}
	if t.Context != "" {
		label := contextLabels[t.Context]
		if label == "" {
			label = t.Context
		}
		candidates = append(candidates, tagCandidate{"fit", "Matches " + label})
	}
	if t.Unverified {
		candidates = append(candidates, tagCandidate{"needs_review", "Needs review"})
	}

	var tags []string
	for _, key := range cfg.Tags.PriorityOrder {
		for _, tc := range candidates {
			if tc.key == key && !contains(tags, tc.label) {
				tags = append(tags, tc.label)
				break
			}
		}
		if len(tags) >= cfg.Tags.MaxTags {
			break
		}
	}
	// An unverified task always surfaces Needs review first.
	if t.Unverified && !contains(tags, "Needs review") {
		tags = append([]string{"Needs review"}, tags...)
		if len(tags) > cfg.Tags.MaxTags {
			tags = tags[:cfg.Tags.MaxTags]
		}
	}
	return tags
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

const (
	pinSentinel    = 9999
	manualSentinel = 999999
	dueSentinel    = int64(9999999999999)
)

func lessRanked(a, b Ranked) bool {
	pinA, pinB := pinSentinel, pinSentinel
	if a.Task.PinnedOrder != nil {
		pinA = *a.Task.PinnedOrder
	}
	if b.Task.PinnedOrder != nil {
		pinB = *b.Task.PinnedOrder
	}
	if pinA != pinB {
		return pinA < pinB
	}
	manA, manB := manualSentinel, manualSentinel
	if a.Task.ManualRank != nil {
		manA = *a.Task.ManualRank
	}
	if b.Task.ManualRank != nil {
		manB = *b.Task.ManualRank
	}
	if manA != manB {
		return manA < manB
	}
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	dueA, dueB := dueSentinel, dueSentinel
	if a.DueDate != nil {
		dueA = a.DueDate.UnixMilli()
	}
	if b.DueDate != nil {
		dueB = b.DueDate.UnixMilli()
	}
	if dueA != dueB {
		return dueA < dueB
	}
	focusA, focusB := 0, 0
	if a.Project != nil && a.Project.FocusThisWeek {
		focusA = 1
	}
	if b.Project != nil && b.Project.FocusThisWeek {
		focusB = 1
	}
	if focusA != focusB {
		return focusA > focusB
	}
	if !a.UpdatedAt.Equal(b.UpdatedAt) {
		return a.UpdatedAt.Before(b.UpdatedAt)
	}
	return a.CreatedAt.Before(b.CreatedAt)
}
