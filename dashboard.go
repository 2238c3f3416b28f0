package main

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"
)

type dashboardConfig struct {
	View            MapView
	HistoryDuration time.Duration
	HistoryTimeout  time.Duration
}

// dashboard is one connected map. Its run loop is the only goroutine that
// touches the engine, the selection and the surface, so snapshot N is fully
// drawn before snapshot N+1 starts.
type dashboard struct {
	id        string
	cfg       dashboardConfig
	surface   MapSurface
	panel     Panel
	engine    *engine
	selection *selectionController

	snapshots chan Snapshot
	commands  chan clientCommand
	done      chan struct{}
}

// newDashboard wires a session around surface. panel may be nil.
func newDashboard(surface MapSurface, panel Panel, history HistorySource, cfg dashboardConfig) *dashboard {
	e := newEngine(surface)
	return &dashboard{
		id:        uuid.NewString(),
		cfg:       cfg,
		surface:   surface,
		panel:     panel,
		engine:    e,
		selection: newSelectionController(e, surface, history, cfg.HistoryDuration, cfg.HistoryTimeout),
		snapshots: make(chan Snapshot, 1),
		commands:  make(chan clientCommand),
		done:      make(chan struct{}),
	}
}

// deliver hands snap to the session, replacing one it has not picked up yet.
func (d *dashboard) deliver(snap Snapshot) {
	for {
		select {
		case d.snapshots <- snap:
			return
		default:
		}
		select {
		case old := <-d.snapshots:
			debugf("dashboard %s: snapshot %d skipped", d.id, old.Seq)
		default:
		}
	}
}

// send queues a command, giving up once the session has ended.
func (d *dashboard) send(cmd clientCommand) {
	select {
	case d.commands <- cmd:
	case <-d.done:
	}
}

func (d *dashboard) run(ctx context.Context) {
	defer close(d.done)
	defer d.teardown()

	if err := d.surface.Init(d.cfg.View); err != nil {
		log.Printf("dashboard %s: init map: %v", d.id, err)
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case snap := <-d.snapshots:
			if snap.Seq < d.engine.Latest().Seq {
				continue
			}
			d.engine.Reconcile(snap, d.selection.State())
			d.showVehicles()
			d.selection.Refresh(ctx)
		case cmd := <-d.commands:
			d.handle(ctx, cmd)
		case res := <-d.selection.Results():
			if err := d.selection.Apply(res); errors.Is(err, ErrStaleSelection) {
				debugf("dashboard %s: %v", d.id, err)
			}
		}
	}
}

func (d *dashboard) handle(ctx context.Context, cmd clientCommand) {
	switch cmd.Op {
	case cmdSelect:
		if err := d.selection.Select(ctx, cmd.ID); err != nil {
			log.Printf("dashboard %s: select: %v", d.id, err)
			return
		}
		d.showVehicles()
	case cmdClear:
		d.selection.Clear()
		d.showVehicles()
	case cmdStyleLoaded:
		if err := d.surface.SetupTerrain(); err != nil {
			log.Printf("dashboard %s: terrain: %v", d.id, err)
		}
	case cmdLogout:
		d.selection.Clear()
		if d.panel != nil {
			if err := d.panel.ForceLogout(); err != nil {
				log.Printf("dashboard %s: logout: %v", d.id, err)
			}
		}
	default:
		log.Printf("dashboard %s: unknown command %q", d.id, cmd.Op)
	}
}

func (d *dashboard) showVehicles() {
	if d.panel == nil {
		return
	}
	if err := d.panel.ShowVehicles(d.engine.Latest().List(), d.selection.State().ActiveID); err != nil {
		log.Printf("dashboard %s: vehicle list: %v", d.id, err)
	}
}

func (d *dashboard) teardown() {
	if err := d.surface.Close(); err != nil {
		debugf("dashboard %s: close: %v", d.id, err)
	}
}
