package capture

import (
	"context"
	"errors"
	"log/slog"
	"runtime"
	"sync"
)

// ErrActorClosed is returned once the capture worker has shut down.
var ErrActorClosed = errors.New("capture worker is not running")

// Session is the result of one start→stop cycle. A zero Session means nothing
// was captured.
type Session struct {
	Format  AudioFormat
	Samples []int16
	Device  string
}

type command interface{ isCommand() }

type startCmd struct{ reply chan error }

type stopResult struct {
	session Session
	err     error
}

type stopCmd struct{ reply chan stopResult }

type devicesResult struct {
	devices []DeviceInfo
	err     error
}

type devicesCmd struct{ reply chan devicesResult }

func (startCmd) isCommand()   {}
func (stopCmd) isCommand()    {}
func (devicesCmd) isCommand() {}

// Actor owns the Engine and the open Handle. Every engine call happens on the
// actor's goroutine, in the order commands were sent.
type Actor struct {
	engine *Engine
	errs   *ErrorSlot
	log    *slog.Logger

	cmds      chan command
	done      chan struct{}
	closeOnce sync.Once
	exited    chan struct{}
}

// NewActor starts the worker goroutine. Close stops it.
func NewActor(engine *Engine, errs *ErrorSlot, logger *slog.Logger) *Actor {
	a := &Actor{
		engine: engine,
		errs:   errs,
		log:    logger.With(slog.String("component", "capture-actor")),
		cmds:   make(chan command),
		done:   make(chan struct{}),
		exited: make(chan struct{}),
	}
	go a.run()
	return a
}

// Close stops the worker, releasing any open stream.
func (a *Actor) Close() {
	a.closeOnce.Do(func() { close(a.done) })
	<-a.exited
}

// Start opens a capture unless one is already open.
func (a *Actor) Start(ctx context.Context) error {
	reply := make(chan error, 1)
	if err := a.send(ctx, startCmd{reply: reply}); err != nil {
		return err
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop closes the open capture and returns what it recorded.
func (a *Actor) Stop(ctx context.Context) (Session, error) {
	reply := make(chan stopResult, 1)
	if err := a.send(ctx, stopCmd{reply: reply}); err != nil {
		return Session{}, err
	}
	select {
	case res := <-reply:
		return res.session, res.err
	case <-ctx.Done():
		return Session{}, ctx.Err()
	}
}

// Devices lists the host's input devices.
func (a *Actor) Devices(ctx context.Context) ([]DeviceInfo, error) {
	reply := make(chan devicesResult, 1)
	if err := a.send(ctx, devicesCmd{reply: reply}); err != nil {
		return nil, err
	}
	select {
	case res := <-reply:
		return res.devices, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// DroppedBlocks forwards the engine's drop counter.
func (a *Actor) DroppedBlocks() uint64 {
	return a.engine.DroppedBlocks()
}

func (a *Actor) send(ctx context.Context, cmd command) error {
	select {
	case a.cmds <- cmd:
		return nil
	case <-a.done:
		return ErrActorClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *Actor) run() {
	// Some audio backends expect a stream to be opened and closed from the
	// same OS thread.
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer close(a.exited)

	var handle *Handle
	defer func() {
		if handle != nil {
			a.log.Info("releasing open capture on shutdown")
			handle.StopAndTake()
		}
	}()

	for {
		select {
		case <-a.done:
			return
		case cmd := <-a.cmds:
			switch c := cmd.(type) {
			case startCmd:
				handle = a.handleStart(handle, c)
			case stopCmd:
				handle = a.handleStop(handle, c)
			case devicesCmd:
				devices, err := a.engine.Devices()
				c.reply <- devicesResult{devices: devices, err: err}
			}
		}
	}
}

func (a *Actor) handleStart(handle *Handle, c startCmd) *Handle {
	if handle != nil {
		c.reply <- nil
		return handle
	}
	// A fresh capture starts with no stale failure from an earlier one.
	_ = a.errs.Take()
	h, err := a.engine.StartCapture()
	if err != nil {
		a.log.Warn("capture start failed", slogError(err))
		a.errs.Set(err)
		c.reply <- err
		return nil
	}
	c.reply <- nil
	return h
}

func (a *Actor) handleStop(handle *Handle, c stopCmd) *Handle {
	if handle == nil {
		c.reply <- stopResult{}
		return nil
	}
	format := handle.Format()
	device := handle.DeviceName()
	samples := handle.StopAndTake()

	pending := a.errs.Take()
	if len(samples) == 0 && pending != nil {
		c.reply <- stopResult{err: pending}
		return nil
	}
	if pending != nil {
		a.log.Debug("discarding capture error superseded by recorded audio", slogError(pending))
	}
	a.log.Info("capture stopped", slog.Int("samples", len(samples)), slog.Int("sample_rate", int(format.SampleRate)))
	c.reply <- stopResult{session: Session{Format: format, Samples: samples, Device: device}}
	return nil
}
