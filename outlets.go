package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/cor0nius/matguard/internal/schedule"
)

// Outlet switches one physical device.
type Outlet interface {
	SetState(ctx context.Context, on bool) error
}

// outletPlan binds an outlet to the schedules that drive it.
type outletPlan struct {
	name      string
	outlet    Outlet
	schedules []*schedule.Schedule
}

// schedulesFile is the layout of SCHEDULES_FILE:
//
//	outlets:
//	  - name: front-steps
//	    schedules:
//	      - name: Morning
//	        on:  {type: time, value: "05:30"}
//	        off: {type: solar, event: sunrise, offset: 30, fallback: "07:30"}
type schedulesFile struct {
	Outlets []outletEntry `yaml:"outlets" validate:"required,min=1,dive"`
}

type outletEntry struct {
	Name      string           `yaml:"name" validate:"required"`
	Schedules []map[string]any `yaml:"schedules" validate:"required,min=1"`
}

// loadOutlets reads and validates the schedules file. Every problem in the file
// is reported together.
func loadOutlets(path string, logger *slog.Logger) ([]*outletPlan, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read schedules file: %w", err)
	}
	return parseOutlets(raw, logger)
}

func parseOutlets(raw []byte, logger *slog.Logger) ([]*outletPlan, error) {
	var f schedulesFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse schedules file: %w", err)
	}
	if err := validate.Struct(f); err != nil {
		return nil, fmt.Errorf("invalid schedules file: %w", err)
	}

	var errs []error
	seen := make(map[string]bool, len(f.Outlets))
	plans := make([]*outletPlan, 0, len(f.Outlets))
	for _, entry := range f.Outlets {
		if seen[entry.Name] {
			errs = append(errs, fmt.Errorf("outlet %q: defined more than once", entry.Name))
			continue
		}
		seen[entry.Name] = true

		schedules, err := schedule.NewAll(entry.Schedules, logger.With("outlet", entry.Name))
		if err != nil {
			errs = append(errs, fmt.Errorf("outlet %q: %w", entry.Name, err))
			continue
		}
		plans = append(plans, &outletPlan{
			name:      entry.Name,
			outlet:    newDryRunOutlet(entry.Name, logger),
			schedules: schedules,
		})
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return plans, nil
}

// dryRunOutlet records the requested state and logs changes instead of driving
// hardware.
type dryRunOutlet struct {
	name   string
	logger *slog.Logger

	mu    sync.Mutex
	on    bool
	known bool
}

func newDryRunOutlet(name string, logger *slog.Logger) *dryRunOutlet {
	return &dryRunOutlet{name: name, logger: logger}
}

func (o *dryRunOutlet) SetState(_ context.Context, on bool) error {
	o.mu.Lock()
	changed := !o.known || o.on != on
	o.on, o.known = on, true
	o.mu.Unlock()

	if changed {
		o.logger.Info("outlet switched", "outlet", o.name, "on", on, "dry_run", true)
	}
	return nil
}

// State returns the last requested state and whether any was requested.
func (o *dryRunOutlet) State() (on, known bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.on, o.known
}
