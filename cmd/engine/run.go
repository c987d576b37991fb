package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"pipelined.dev/engine"
	"pipelined.dev/engine/internal/rt"
)

type runCommand struct {
	engineFlags
	listen   string
	duration time.Duration
}

func (cmd *runCommand) Name() string {
	return "run"
}

func (cmd *runCommand) Help() string {
	return "Play input files through the audio backend"
}

func (cmd *runCommand) Register(fs *flag.FlagSet) {
	cmd.engineFlags.register(fs)
	fs.StringVar(&cmd.listen, "listen", "", "address to serve prometheus metrics on, e.g. :9090")
	fs.DurationVar(&cmd.duration, "duration", 0, "stop after duration, runs until interrupted by default")
}

func (cmd *runCommand) Run() error {
	c, err := cmd.config()
	if err != nil {
		return err
	}
	if err := rt.LockMemory(); err != nil {
		logger.WithError(err).Warn("memory is not locked")
	} else {
		defer func() {
			_ = rt.UnlockMemory()
		}()
	}

	registry := prometheus.NewRegistry()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if cmd.duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cmd.duration)
		defer cancel()
	}

	s, _, err := cmd.newSession(ctx, c, engine.WithRegisterer(registry))
	if err != nil {
		return err
	}
	if cmd.listen != "" {
		srv := &http.Server{
			Addr:              cmd.listen,
			Handler:           promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
			ReadHeaderTimeout: time.Second,
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.WithError(err).Error("metrics server")
			}
		}()
		defer srv.Close()
	}

	if err := s.Start(); err != nil {
		return closeOnError(s, err)
	}
	e := s.Engine()
	logger.WithFields(logrus.Fields{
		"audio":   e.AudioBackend().Kind(),
		"midi":    e.MIDIBackend().Kind(),
		"rate":    e.Config().SampleRate,
		"block":   e.Config().BlockLength,
		"latency": e.Graph().MaxRoutePlaybackLatency,
	}).Info("running")
	s.Play()
	<-ctx.Done()
	s.Stop()

	logger.WithFields(logrus.Fields{
		"skipped":  e.SkippedCycles(),
		"failures": e.Failures(),
		"max":      e.MaxTimeTaken(),
	}).Info("stopped")
	return s.Close()
}
