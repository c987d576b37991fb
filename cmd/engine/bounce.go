package main

import (
	"context"
	"errors"
	"flag"
	"time"

	"github.com/sirupsen/logrus"

	"pipelined.dev/engine/export"
)

type bounceCommand struct {
	engineFlags
	out      string
	duration time.Duration
}

func (cmd *bounceCommand) Name() string {
	return "bounce"
}

func (cmd *bounceCommand) Help() string {
	return "Render input files mixed together into a wav or mp3 file"
}

func (cmd *bounceCommand) Register(fs *flag.FlagSet) {
	cmd.engineFlags.register(fs)
	fs.StringVar(&cmd.out, "out", "", "output file, .wav or .mp3 (required)")
	fs.DurationVar(&cmd.duration, "duration", 0, "length of the bounce, defaults to the longest track")
}

func (cmd *bounceCommand) Run() error {
	if cmd.out == "" {
		return errors.New("missing -out required flag")
	}
	c, err := cmd.config()
	if err != nil {
		return err
	}
	ctx := context.Background()
	s, length, err := cmd.newSession(ctx, c)
	if err != nil {
		return err
	}
	if cmd.duration > 0 {
		length = int64(cmd.duration.Seconds() * float64(c.SampleRate))
	}
	enc, err := export.Create(cmd.out, c.SampleRate)
	if err != nil {
		return closeOnError(s, err)
	}
	start := time.Now()
	if err := export.Bounce(ctx, s.Engine(), enc, length); err != nil {
		return closeOnError(s, err)
	}
	logger.WithFields(logrus.Fields{
		"out":    cmd.out,
		"frames": length,
		"took":   time.Since(start),
	}).Info("bounced")
	return s.Close()
}
