// fqdemux demultiplexes MGI FASTQ files into per-sample files using the
// sample indexes at the end of the barcode read.
package main

import (
	"fmt"
	"os"

	"github.com/pkg/profile"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var version = "dev"

const (
	exitSuccess = 0
	exitError   = 1
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	root := newRootCommand()
	root.SetArgs(args)
	if err := root.Execute(); err != nil {
		log.Errorf("%v", err)
		return exitError
	}
	return exitSuccess
}

// globals are the flags shared by every subcommand.
type globals struct {
	verbose bool
	quiet   bool
	profile string
	stopper interface{ Stop() }
}

func newRootCommand() *cobra.Command {
	g := &globals{}
	root := &cobra.Command{
		Use:           "fqdemux",
		Short:         "Demultiplex MGI FASTQ files by sample index",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return g.setup()
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if g.stopper != nil {
				g.stopper.Stop()
			}
		},
	}
	root.PersistentFlags().BoolVarP(&g.verbose, "verbose", "v", false, "log debug messages")
	root.PersistentFlags().BoolVarP(&g.quiet, "quiet", "q", false, "log warnings and errors only")
	root.PersistentFlags().StringVar(&g.profile, "profile", "", "write a cpu or mem profile to the working directory")

	root.AddCommand(newDemultiplexCommand(), newReportsCommand(), newTemplateCommand(), newVersionCommand())
	return root
}

func (g *globals) setup() error {
	log.SetOutput(os.Stderr)
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	switch {
	case g.verbose && g.quiet:
		return fmt.Errorf("--verbose and --quiet are mutually exclusive")
	case g.verbose:
		log.SetLevel(log.DebugLevel)
	case g.quiet:
		log.SetLevel(log.WarnLevel)
	default:
		log.SetLevel(log.InfoLevel)
	}

	switch g.profile {
	case "":
	case "cpu":
		g.stopper = profile.Start(profile.CPUProfile, profile.ProfilePath("."), profile.Quiet)
	case "mem":
		g.stopper = profile.Start(profile.MemProfile, profile.ProfilePath("."), profile.Quiet)
	default:
		return fmt.Errorf("unknown profile %q, use cpu or mem", g.profile)
	}
	return nil
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "fqdemux version %s\n", version)
		},
	}
}
