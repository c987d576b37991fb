package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"pipelined.dev/engine"
	"pipelined.dev/engine/backend"
)

type listCommand struct {
	out io.Writer
}

func (cmd *listCommand) Name() string {
	return "list"
}

func (cmd *listCommand) Help() string {
	return "Show available backends and supported settings"
}

func (cmd *listCommand) Register(*flag.FlagSet) {}

func (cmd *listCommand) Run() error {
	out := cmd.out
	if out == nil {
		out = os.Stdout
	}
	fmt.Fprintf(out, "Audio backends:\n %v\n", backend.AudioKinds())
	fmt.Fprintf(out, "MIDI backends:\n %v\n", backend.MIDIKinds())
	fmt.Fprintf(out, "Sample rates:\n %v\n", engine.SampleRates)
	fmt.Fprintf(out, "Block lengths:\n %v\n", engine.BufferSizes)
	return nil
}
