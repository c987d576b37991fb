package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"

	_ "pipelined.dev/engine/backend/dummy"
	_ "pipelined.dev/engine/backend/jack"
	_ "pipelined.dev/engine/backend/portaudio"
	_ "pipelined.dev/engine/backend/portmidi"
	_ "pipelined.dev/engine/backend/rtmidi"
	"pipelined.dev/engine/log"
)

type config struct {
	args []string
}

type command interface {
	Name() string
	Help() string
	Run() error
	Register(*flag.FlagSet)
}

func (config *config) run() int {
	cmdName, args := parseArgs(config.args)
	if cmdName == "" {
		printUsage()
		return errorExitCode
	}

	for _, cmd := range commands {
		if cmd.Name() != cmdName {
			continue
		}
		flags := flag.NewFlagSet(cmdName, flag.ContinueOnError)
		cmd.Register(flags)
		if err := flags.Parse(args); err != nil {
			return errorExitCode
		}
		if err := cmd.Run(); err != nil {
			logger.WithError(err).Errorf("%s failed", cmdName)
			return errorExitCode
		}
		return successExitCode
	}
	printUsage()
	return errorExitCode
}

var (
	successExitCode = 0
	errorExitCode   = 1
	commands        = []command{
		&listCommand{},
		&bounceCommand{},
		&runCommand{},
	}
	logger logrus.FieldLogger = log.GetLogger()
)

func main() {
	c := config{
		args: os.Args,
	}
	os.Exit(c.run())
}

func parseArgs(args []string) (string, []string) {
	if len(args) < 2 {
		return "", nil
	}
	return args[1], args[2:]
}

func printUsage() {
	fmt.Println("engine runs and bounces audio sessions")
	fmt.Println()
	fmt.Println("Usage: engine <command> [flags]")
	fmt.Println()
	fmt.Println("Commands:")
	for _, cmd := range commands {
		fmt.Printf("\t%s\t%s\n", cmd.Name(), cmd.Help())
	}
}
