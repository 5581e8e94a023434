// Package pipeline runs the server-camera loop: read, annotate, distribute.
package pipeline

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/mbsj-sdds/stray-dog-monitor/streaming-server/internal/annotate"
	"github.com/mbsj-sdds/stray-dog-monitor/streaming-server/internal/logger"
	"github.com/mbsj-sdds/stray-dog-monitor/streaming-server/pkg/types"
)

// Source yields frames from a camera.
type Source interface {
	Read(ctx context.Context) (types.Frame, error)
}

// Pipeline moves frames from a Source through a Stage to Sinks. Stages hand
// off over buffered channels and drop frames rather than block.
type Pipeline struct {
	source Source
	stage  *Stage
	camera string
	fps    int
	sinks  []Sink

	wg sync.WaitGroup

	processChan    chan types.Frame
	distributeChan chan annotate.Result
}

// New creates a pipeline reading source at fps frames per second.
func New(source Source, stage *Stage, camera string, fps int, sinks ...Sink) *Pipeline {
	if fps <= 0 {
		fps = 10
	}
	return &Pipeline{
		source:         source,
		stage:          stage,
		camera:         camera,
		fps:            fps,
		sinks:          sinks,
		processChan:    make(chan types.Frame, 2),
		distributeChan: make(chan annotate.Result, 4),
	}
}

// Start launches the stage goroutines. They stop when ctx is cancelled.
func (p *Pipeline) Start(ctx context.Context) {
	logger.Info("Pipeline", "Starting camera %q at %d fps", p.camera, p.fps)

	p.wg.Add(3)
	go p.readFrames(ctx)
	go p.processFrames(ctx)
	go p.distributeFrames(ctx)
}

// Wait blocks until all stage goroutines have returned.
func (p *Pipeline) Wait() {
	p.wg.Wait()
}

func (p *Pipeline) readFrames(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(time.Second / time.Duration(p.fps))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			frame, err := p.source.Read(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				p.stage.metrics.DecodeErrors.Add(1)
				p.stage.warnf("Reader", "Read error: %v", err)
				continue
			}

			select {
			case p.processChan <- frame:
			default:
				p.stage.metrics.FramesDropped.Add(1)
			}
		}
	}
}

func (p *Pipeline) processFrames(ctx context.Context) {
	defer p.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case frame := <-p.processChan:
			res := p.stage.Annotate("Processor", frame)

			select {
			case p.distributeChan <- res:
			default:
				p.stage.metrics.FramesDropped.Add(1)
			}
		}
	}
}

func (p *Pipeline) distributeFrames(ctx context.Context) {
	defer p.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case res := <-p.distributeChan:
			if len(p.sinks) == 0 {
				continue
			}
			data, err := p.stage.Encode(res.Frame)
			if err != nil {
				p.stage.warnf("Distributor", "Encode error: %v", err)
				continue
			}
			for _, sink := range p.sinks {
				sink.Publish(p.camera, data, res)
			}
		}
	}
}

// Run starts the pipeline and blocks until ctx is done.
func (p *Pipeline) Run(ctx context.Context) error {
	p.Start(ctx)
	p.Wait()
	if err := ctx.Err(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
