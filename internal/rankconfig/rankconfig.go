// Package rankconfig loads and caches the ranking configuration document.
// Missing or corrupt files never fail a request; scoring always falls back to
// the built-in defaults.
package rankconfig

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

type Weights struct {
	Urgency    float64 `json:"urgency"`
	Importance float64 `json:"importance"`
	Leverage   float64 `json:"leverage"`
	Staleness  float64 `json:"staleness"`
	Fit        float64 `json:"fit"`
	Friction   float64 `json:"friction"`
	Risk       float64 `json:"risk"`
}

type Urgency struct {
	Overdue    float64 `json:"overdue"`
	Due24h     float64 `json:"due_24h"`
	Due48h     float64 `json:"due_48h"`
	Due7d      float64 `json:"due_7d"`
	Due30d     float64 `json:"due_30d"`
	Else       float64 `json:"else"`
	ProjectCap float64 `json:"project_cap"`
}

type Importance struct {
	TaskPriorityMap    map[string]float64 `json:"task_priority_map"`
	ProjectPriorityMax float64            `json:"project_priority_max"`
	FocusBonus         float64            `json:"focus_bonus"`
}

type LeverageHeuristics struct {
	SendAskConfirm float64 `json:"send_ask_confirm"`
	ManualBlocking float64 `json:"manual_blocking"`
}

type Leverage struct {
	DependentsMap map[string]float64 `json:"dependents_map"`
	Heuristics    LeverageHeuristics `json:"heuristics"`
}

type StalenessBin struct {
	DaysMax float64 `json:"days_max"`
	Score   float64 `json:"score"`
}

type Staleness struct {
	// Bins are checked in order; the first bin whose days_max covers the age wins.
	Bins                []StalenessBin `json:"bins"`
	ProjectStalledDays  float64        `json:"project_stalled_days"`
	ProjectStalledBonus float64        `json:"project_stalled_bonus"`
}

type FitTime struct {
	Fits     float64 `json:"fits"`
	NearFits float64 `json:"near_fits"`
	Over     float64 `json:"over"`
}

type FitContext struct {
	Match    float64 `json:"match"`
	Mismatch float64 `json:"mismatch"`
}

type FitEnergy struct {
	Match           float64 `json:"match"`
	OffByOne        float64 `json:"off_by_one"`
	ExtremeMismatch float64 `json:"extreme_mismatch"`
}

type Fit struct {
	Time    FitTime    `json:"time"`
	Context FitContext `json:"context"`
	Energy  FitEnergy  `json:"energy"`
}

type FrictionBin struct {
	MinutesMax float64 `json:"minutes_max"`
	Penalty    float64 `json:"penalty"`
}

type Friction struct {
	Bins []FrictionBin `json:"bins"`
}

type Risk struct {
	UnverifiedPenalty      float64 `json:"unverified_penalty"`
	MissingMetadataPenalty float64 `json:"missing_metadata_penalty"`
}

type Filters struct {
	Mode               string `json:"mode" enum:"soft,strict"`
	StrictHideMismatch bool   `json:"strict_hide_mismatch"`
}

type Tags struct {
	MaxTags       int      `json:"max_tags"`
	PriorityOrder []string `json:"priority_order"`
}

type Config struct {
	Weights    Weights    `json:"weights"`
	Urgency    Urgency    `json:"urgency"`
	Importance Importance `json:"importance"`
	Leverage   Leverage   `json:"leverage"`
	Staleness  Staleness  `json:"staleness"`
	Fit        Fit        `json:"fit"`
	Friction   Friction   `json:"friction"`
	Risk       Risk       `json:"risk"`
	Filters    Filters    `json:"filters"`
	Tags       Tags       `json:"tags"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Weights: Weights{Urgency: 1.0, Importance: 1.0, Leverage: 1.0, Staleness: 1.0, Fit: 1.0, Friction: 1.0, Risk: 1.0},
		Urgency: Urgency{Overdue: 40, Due24h: 35, Due48h: 30, Due7d: 20, Due30d: 10, Else: 5, ProjectCap: 20},
		Importance: Importance{
			TaskPriorityMap:    map[string]float64{"low": 2, "normal": 5, "high": 8, "critical": 10},
			ProjectPriorityMax: 8,
			FocusBonus:         2,
		},
		Leverage: Leverage{
			DependentsMap: map[string]float64{"1": 5, "2-3": 10, "4-6": 15, "7+": 20},
			Heuristics:    LeverageHeuristics{SendAskConfirm: 5, ManualBlocking: 10},
		},
		Staleness: Staleness{
			Bins: []StalenessBin{
				{DaysMax: 2, Score: 0},
				{DaysMax: 6, Score: 3},
				{DaysMax: 13, Score: 7},
				{DaysMax: 29, Score: 12},
				{DaysMax: 9999, Score: 15},
			},
			ProjectStalledDays:  10,
			ProjectStalledBonus: 3,
		},
		Fit: Fit{
			Time:    FitTime{Fits: 5, NearFits: 2, Over: -10},
			Context: FitContext{Match: 5, Mismatch: -15},
			Energy:  FitEnergy{Match: 5, OffByOne: -5, ExtremeMismatch: -12},
		},
		Friction: Friction{Bins: []FrictionBin{
			{MinutesMax: 10, Penalty: 0},
			{MinutesMax: 30, Penalty: 2},
			{MinutesMax: 60, Penalty: 4},
			{MinutesMax: 120, Penalty: 7},
			{MinutesMax: 9999, Penalty: 10},
		}},
		Risk:    Risk{UnverifiedPenalty: 5, MissingMetadataPenalty: 2},
		Filters: Filters{Mode: "soft", StrictHideMismatch: true},
		Tags: Tags{
			MaxTags: 2,
			PriorityOrder: []string{
				"overdue", "due_today", "due_tomorrow", "unblocks", "focus_project",
				"project_due_soon", "stale", "fit", "needs_review",
			},
		},
	}
}

// Store caches the parsed configuration for the process. Get never fails.
type Store struct {
	Path string

	mu     sync.RWMutex
	cached *Config
}

func NewStore(path string) *Store {
	return &Store{Path: path}
}

// Get returns the cached config, loading it on first use.
func (s *Store) Get() Config {
	s.mu.RLock()
	if s.cached != nil {
		cfg := *s.cached
		s.mu.RUnlock()
		return cfg
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cached == nil {
		cfg := s.load()
		s.cached = &cfg
	}
	return *s.cached
}

// Invalidate drops the cache so the next Get re-reads the file.
func (s *Store) Invalidate() {
	s.mu.Lock()
	s.cached = nil
	s.mu.Unlock()
}

func (s *Store) load() Config {
	cfg := Default()
	if s.Path == "" {
		return cfg
	}
	data, err := os.ReadFile(s.Path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Printf("rankconfig: read %s: %v (using defaults)", s.Path, err)
		}
		return cfg
	}
	// Unmarshal over the defaults so missing fields keep their default value.
	if err := json.Unmarshal(data, &cfg); err != nil {
		log.Printf("rankconfig: parse %s: %v (using defaults)", s.Path, err)
		return Default()
	}
	return cfg
}

// Watch invalidates the cache whenever the config file changes. It blocks
// until ctx is done or the watcher fails.
func (s *Store) Watch(ctx context.Context) error {
	if s.Path == "" {
		<-ctx.Done()
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()
	// Watch the directory: editors and config writers replace the file.
	if err := watcher.Add(filepath.Dir(s.Path)); err != nil {
		return err
	}
	target := filepath.Clean(s.Path)
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) == target {
				s.Invalidate()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Printf("rankconfig: watch: %v", err)
		}
	}
}
