package main

import (
	"flag"
	"fmt"
	"io"
	"strings"
)

type options struct {
	useDefault bool
	delay      bool
	list       bool
	input      string
	output     string
}

// parseArgs reads the command line. Besides the usual flags it accepts the
// bare words default, d, delay and dly in any case.
func parseArgs(args []string, stderr io.Writer) (options, error) {
	var opts options
	fs := flag.NewFlagSet("chemic", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.BoolVar(&opts.useDefault, "default", false, "use the default input and output devices")
	fs.BoolVar(&opts.useDefault, "d", false, "shorthand for --default")
	fs.BoolVar(&opts.delay, "delay", false, "play the microphone back after CHEMIC_DELAY (default 2s)")
	fs.BoolVar(&opts.delay, "dly", false, "shorthand for --delay")
	fs.BoolVar(&opts.list, "list", false, "list devices and exit")
	fs.StringVar(&opts.input, "input", "", "input device `name` (exact or unique substring)")
	fs.StringVar(&opts.output, "output", "", "output device `name` (exact or unique substring)")
	fs.Usage = func() {
		fmt.Fprintln(fs.Output(), "Usage: chemic [--default|-d] [--delay|-dly] [--input NAME] [--output NAME] [--list]")
		fs.PrintDefaults()
	}

	if err := fs.Parse(normalize(args)); err != nil {
		return options{}, err
	}
	if fs.NArg() > 0 {
		fs.Usage()
		return options{}, fmt.Errorf("unexpected argument %q", fs.Arg(0))
	}
	return opts, nil
}

func normalize(args []string) []string {
	out := make([]string, len(args))
	for i, arg := range args {
		if i > 0 && takesValue(args[i-1]) {
			out[i] = arg
			continue
		}
		switch strings.ToLower(arg) {
		case "default", "--default", "d", "-d":
			out[i] = "-default"
		case "delay", "--delay", "dly", "-dly":
			out[i] = "-delay"
		default:
			out[i] = arg
		}
	}
	return out
}

func takesValue(arg string) bool {
	switch arg {
	case "-input", "--input", "-output", "--output":
		return true
	}
	return false
}
