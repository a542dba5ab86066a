/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package decoder supervises the external process that turns a source URL
// into raw PCM and feeds it, frame by frame, to the sink.
package decoder

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/radiorelay/internal/pcm"
	"github.com/friendsincode/radiorelay/internal/telemetry"
)

// ErrPauseUnsupported is returned by Pause/Resume on platforms without job control signals.
var ErrPauseUnsupported = errors.New("decoder: pause not supported on this platform")

const (
	defaultStopTimeout = 5 * time.Second
	defaultReadFrames  = 4
	defaultStderrLimit = 4096
)

// Config controls how decode processes are launched and torn down.
type Config struct {
	FFmpegBin   string
	StopTimeout time.Duration
	// ReadFrames is how many frames worth of bytes one read may return.
	ReadFrames  int
	StderrLimit int

	// Command overrides process construction; nil runs FFmpegBin with Args.
	Command func(url string) *exec.Cmd
}

// DefaultConfig returns the production settings.
func DefaultConfig() Config {
	return Config{
		FFmpegBin:   "ffmpeg",
		StopTimeout: defaultStopTimeout,
		ReadFrames:  defaultReadFrames,
		StderrLimit: defaultStderrLimit,
	}
}

// Args returns the ffmpeg arguments used for url: reconnect-tolerant input,
// minimal buffering, raw s16le output at the fixed relay format.
func Args(url string) []string {
	return []string{
		"-hide_banner",
		"-loglevel", "error",
		"-reconnect", "1",
		"-reconnect_streamed", "1",
		"-reconnect_delay_max", "5",
		"-fflags", "+nobuffer",
		"-i", url,
		"-vn",
		"-f", "s16le",
		"-ar", fmt.Sprint(pcm.SampleRate),
		"-ac", fmt.Sprint(pcm.Channels),
		"pipe:1",
	}
}

// process is one decode process lifetime.
type process struct {
	gen    uint64
	url    string
	cmd    *exec.Cmd
	stdout *os.File
	stderr *tailBuffer
	cancel context.CancelFunc

	readDone chan struct{}
	exited   chan struct{}
	waitErr  error
	paused   bool
}

// Supervisor owns at most one decode process at a time. Every teardown
// bumps the generation; output tagged with an older generation is dropped.
type Supervisor struct {
	cfg    Config
	sink   pcm.Sink
	logger zerolog.Logger

	mu   sync.Mutex // serializes Spawn/Stop/Pause/Resume
	proc *process

	// emitMu makes "check generation, deliver frame" atomic with respect
	// to the generation increment in Stop.
	emitMu sync.Mutex
	gen    atomic.Uint64

	hooksMu     sync.RWMutex
	gain        func() int
	onExhausted func(gen uint64)
}

// NewSupervisor creates a supervisor delivering frames to sink.
func NewSupervisor(cfg Config, sink pcm.Sink, logger zerolog.Logger) *Supervisor {
	if cfg.FFmpegBin == "" {
		cfg.FFmpegBin = "ffmpeg"
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = defaultStopTimeout
	}
	if cfg.ReadFrames <= 0 {
		cfg.ReadFrames = defaultReadFrames
	}
	if cfg.StderrLimit <= 0 {
		cfg.StderrLimit = defaultStderrLimit
	}

	return &Supervisor{
		cfg:    cfg,
		sink:   sink,
		logger: logger.With().Str("component", "decoder").Logger(),
	}
}

// SetGain registers the volume source consulted for every frame.
func (s *Supervisor) SetGain(fn func() int) {
	s.hooksMu.Lock()
	s.gain = fn
	s.hooksMu.Unlock()
}

// OnExhausted registers the handler called when the current process ends
// on its own. It runs on its own goroutine.
func (s *Supervisor) OnExhausted(fn func(gen uint64)) {
	s.hooksMu.Lock()
	s.onExhausted = fn
	s.hooksMu.Unlock()
}

// Generation returns the current decode generation.
func (s *Supervisor) Generation() uint64 {
	return s.gen.Load()
}

// Spawn tears down the current process and starts decoding url. It returns
// the generation the new process runs under.
func (s *Supervisor) Spawn(url string) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopLocked()
	gen := s.gen.Load()

	cmd := s.command(url)
	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		telemetry.DecoderSpawnsTotal.WithLabelValues("failed").Inc()
		return gen, fmt.Errorf("decoder stdout pipe: %w", err)
	}
	stderr := newTailBuffer(s.cfg.StderrLimit)
	cmd.Stdout = stdoutW
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		stdoutR.Close()
		stdoutW.Close()
		telemetry.DecoderSpawnsTotal.WithLabelValues("failed").Inc()
		return gen, fmt.Errorf("start decoder: %w", err)
	}
	// The child holds its own copy of the write end; EOF arrives when it exits.
	stdoutW.Close()

	ctx, cancel := context.WithCancel(context.Background())
	p := &process{
		gen:      gen,
		url:      url,
		cmd:      cmd,
		stdout:   stdoutR,
		stderr:   stderr,
		cancel:   cancel,
		readDone: make(chan struct{}),
		exited:   make(chan struct{}),
	}

	go func() {
		p.waitErr = cmd.Wait()
		close(p.exited)
	}()
	go s.readLoop(ctx, p)

	s.proc = p
	telemetry.DecoderSpawnsTotal.WithLabelValues("started").Inc()
	s.logger.Info().
		Int("pid", cmd.Process.Pid).
		Uint64("generation", gen).
		Str("url", url).
		Msg("decoder started")

	return gen, nil
}

// Stop tears down the current process. After it returns no frame from
// that process can reach the sink. Stop always advances the generation.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
}

func (s *Supervisor) stopLocked() {
	p := s.proc
	if p != nil {
		// Unblocks a sink waiting on back-pressure.
		p.cancel()
	}

	s.emitMu.Lock()
	gen := s.gen.Add(1)
	s.emitMu.Unlock()
	telemetry.Generation.Set(float64(gen))

	if p == nil {
		return
	}
	s.proc = nil

	_ = p.stdout.Close()
	<-p.readDone

	s.terminate(p)
	s.logger.Debug().
		Uint64("generation", p.gen).
		Str("url", p.url).
		Msg("decoder stopped")
}

func (s *Supervisor) terminate(p *process) {
	select {
	case <-p.exited:
		return
	default:
	}

	if err := terminateProcess(p.cmd.Process); err != nil && !errors.Is(err, os.ErrProcessDone) {
		s.logger.Debug().Err(err).Msg("signal decoder to terminate")
	}

	timer := time.NewTimer(s.cfg.StopTimeout)
	defer timer.Stop()

	select {
	case <-p.exited:
	case <-timer.C:
		s.logger.Warn().
			Int("pid", p.cmd.Process.Pid).
			Dur("timeout", s.cfg.StopTimeout).
			Msg("decoder ignored termination, killing")
		_ = p.cmd.Process.Kill()
		telemetry.DecoderForcedKillsTotal.Inc()
		<-p.exited
	}
}

// Pause suspends the current process in place.
func (s *Supervisor) Pause() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := s.liveLocked()
	if p == nil || p.paused {
		return nil
	}
	if err := suspendProcess(p.cmd.Process); err != nil {
		return fmt.Errorf("pause decoder: %w", err)
	}
	p.paused = true
	return nil
}

// Resume continues a paused process.
func (s *Supervisor) Resume() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := s.liveLocked()
	if p == nil || !p.paused {
		return nil
	}
	if err := resumeProcess(p.cmd.Process); err != nil {
		return fmt.Errorf("resume decoder: %w", err)
	}
	p.paused = false
	return nil
}

func (s *Supervisor) liveLocked() *process {
	p := s.proc
	if p == nil {
		return nil
	}
	select {
	case <-p.exited:
		return nil
	default:
		return p
	}
}

func (s *Supervisor) command(url string) *exec.Cmd {
	if s.cfg.Command != nil {
		return s.cfg.Command(url)
	}
	return exec.Command(s.cfg.FFmpegBin, Args(url)...)
}

func (s *Supervisor) current(gen uint64) bool {
	return s.gen.Load() == gen
}

func (s *Supervisor) readLoop(ctx context.Context, p *process) {
	defer close(p.readDone)

	slicer := pcm.NewSlicer(pcm.FrameBytes)
	buf := make([]byte, pcm.FrameBytes*s.cfg.ReadFrames)

	for {
		n, err := p.stdout.Read(buf)
		if n > 0 {
			if !s.current(p.gen) {
				return
			}
			slicer.Write(buf[:n])
			for {
				frame, ok := slicer.Next()
				if !ok {
					break
				}
				if !s.emit(ctx, p.gen, frame) {
					return
				}
			}
		}
		if err != nil {
			if s.current(p.gen) && !errors.Is(err, io.EOF) && !errors.Is(err, os.ErrClosed) {
				s.logger.Warn().Err(err).Uint64("generation", p.gen).Msg("decoder read failed")
			}
			break
		}
	}

	if !s.current(p.gen) {
		return
	}

	select {
	case <-p.exited:
	case <-ctx.Done():
		return
	}
	if !s.current(p.gen) {
		return
	}

	evt := s.logger.Info()
	if p.waitErr != nil {
		evt = s.logger.Warn().Err(p.waitErr)
	}
	evt.Uint64("generation", p.gen).
		Str("url", p.url).
		Str("stderr", p.stderr.String()).
		Msg("decoder exited")
	telemetry.DecoderExitsTotal.Inc()

	s.hooksMu.RLock()
	handler := s.onExhausted
	s.hooksMu.RUnlock()
	if handler != nil {
		go handler(p.gen)
	}
}

// emit delivers one frame if gen is still current. It returns false when
// the read loop should stop.
func (s *Supervisor) emit(ctx context.Context, gen uint64, frame []byte) bool {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()

	if !s.current(gen) {
		telemetry.FramesDiscardedTotal.Inc()
		return false
	}

	frame = pcm.ApplyGain(frame, s.volume())

	if err := s.sink.WriteFrame(ctx, frame); err != nil {
		if ctx.Err() != nil {
			return false
		}
		telemetry.SinkErrorsTotal.WithLabelValues("write").Inc()
		s.logger.Debug().Err(err).Msg("sink rejected frame")
		return true
	}

	telemetry.FramesEmittedTotal.Inc()
	return true
}

func (s *Supervisor) volume() int {
	s.hooksMu.RLock()
	fn := s.gain
	s.hooksMu.RUnlock()
	if fn == nil {
		return pcm.MaxVolume
	}
	return fn()
}
