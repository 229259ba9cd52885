/*
 * RapidPhotoFlow
 * Copyright (C) 2025  RapidPhotoFlow contributors
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 */

package queue

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	"github.com/rapidphotoflow/photoflow/lib/photo"
)

// SimulationStep is one stage of the processing simulation. The actual
// duration is uniform random within [Min, Max].
type SimulationStep struct {
	Min     time.Duration
	Max     time.Duration
	Message string
}

// DefaultSimulationSteps is the standard four stage pipeline.
var DefaultSimulationSteps = []SimulationStep{
	{Min: 500 * time.Millisecond, Max: time.Second, Message: "File validation completed"},
	{Min: 500 * time.Millisecond, Max: time.Second, Message: "Metadata extracted"},
	{Min: time.Second, Max: 2 * time.Second, Message: "Thumbnail created"},
	{Min: 500 * time.Millisecond, Max: time.Second, Message: "Image optimization completed"},
}

// PhotoGetter looks photos up in the metadata store. Trashed photos are
// still returned; processing continues for them.
type PhotoGetter interface {
	Get(ctx context.Context, id string) (*photo.Photo, error)
}

// Transitioner applies lifecycle transitions.
type Transitioner interface {
	Transition(ctx context.Context, photoID string, target photo.Status, message string) (*photo.Photo, error)
}

// StepRecorder appends processing sub-step events.
type StepRecorder interface {
	Step(ctx context.Context, photoID, message string) error
}

// WorkerConfig configures the processing worker.
type WorkerConfig struct {
	// Photos resolves job photo ids to rows.
	Photos PhotoGetter
	// Lifecycle applies the Processing/Completed/Failed transitions.
	Lifecycle Transitioner
	// Events records per-step progress.
	Events StepRecorder
	// Steps overrides the simulation stages, mostly for tests.
	Steps []SimulationStep
	// Clock paces the simulation.
	Clock clockwork.Clock
	// Logger emits worker diagnostics.
	Logger *slog.Logger
}

// CheckAndSetDefaults validates the config and fills in defaults.
func (c *WorkerConfig) CheckAndSetDefaults() error {
	if c.Photos == nil {
		return trace.BadParameter("missing parameter Photos")
	}
	if c.Lifecycle == nil {
		return trace.BadParameter("missing parameter Lifecycle")
	}
	if c.Events == nil {
		return trace.BadParameter("missing parameter Events")
	}
	if len(c.Steps) == 0 {
		c.Steps = DefaultSimulationSteps
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	c.Logger = c.Logger.With("component", "worker")
	return nil
}

// Worker is the Processor that runs the processing simulation against each
// dequeued job and drives the photo to a terminal state.
type Worker struct {
	cfg WorkerConfig
}

// NewWorker creates a worker processor.
func NewWorker(cfg WorkerConfig) (*Worker, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &Worker{cfg: cfg}, nil
}

// Process implements Processor. Jobs whose photo has been permanently
// deleted, or already sits in a terminal state from an earlier delivery, are
// discarded. A simulation failure lands the photo in Failed and still
// reports success so the message is acknowledged and never replayed; only
// when the Failed transition itself cannot be recorded does the job stay
// pending for another attempt.
func (w *Worker) Process(ctx context.Context, job Job) error {
	p, err := w.cfg.Photos.Get(ctx, job.PhotoID)
	if err != nil {
		if trace.IsNotFound(err) {
			w.cfg.Logger.InfoContext(ctx, "Photo deleted before processing, discarding job.", "photo_id", job.PhotoID)
			return nil
		}
		return trace.Wrap(err)
	}
	if p.Status.IsTerminal() {
		return nil
	}

	if _, err := w.cfg.Lifecycle.Transition(ctx, job.PhotoID, photo.StatusProcessing, "Processing started"); err != nil {
		return trace.Wrap(err)
	}

	if err := w.simulate(ctx, job.PhotoID); err != nil {
		return w.fail(ctx, job.PhotoID, err)
	}

	if _, err := w.cfg.Photos.Get(ctx, job.PhotoID); err != nil {
		if trace.IsNotFound(err) {
			w.cfg.Logger.InfoContext(ctx, "Photo deleted during processing, discarding job.", "photo_id", job.PhotoID)
			return nil
		}
		return trace.Wrap(err)
	}

	if _, err := w.cfg.Lifecycle.Transition(ctx, job.PhotoID, photo.StatusCompleted, "Processing completed"); err != nil {
		return w.fail(ctx, job.PhotoID, err)
	}
	return nil
}

func (w *Worker) simulate(ctx context.Context, photoID string) error {
	for _, step := range w.cfg.Steps {
		select {
		case <-w.cfg.Clock.After(stepDuration(step)):
		case <-ctx.Done():
			return trace.Wrap(ctx.Err())
		}
		if err := w.cfg.Events.Step(ctx, photoID, step.Message); err != nil {
			return trace.Wrap(err)
		}
	}
	return nil
}

// fail records the terminal Failed state. The original cause is resolved by
// the transition; it only propagates when the transition itself fails, which
// leaves the message pending for a retry once the store recovers.
func (w *Worker) fail(ctx context.Context, photoID string, cause error) error {
	if _, err := w.cfg.Lifecycle.Transition(ctx, photoID, photo.StatusFailed, cause.Error()); err != nil {
		return trace.NewAggregate(cause, err)
	}
	w.cfg.Logger.WarnContext(ctx, "Photo processing failed.", "photo_id", photoID, "error", cause)
	return nil
}

func stepDuration(step SimulationStep) time.Duration {
	if step.Max <= step.Min {
		return step.Min
	}
	return step.Min + rand.N(step.Max-step.Min)
}
