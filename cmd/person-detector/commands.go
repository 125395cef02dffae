package main

import (
	"bufio"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mikeyg42/person-detector/internal/config"
	"github.com/mikeyg42/person-detector/internal/crypto"
	"github.com/mikeyg42/person-detector/internal/detector"
	"github.com/mikeyg42/person-detector/internal/events"
)

const defaultConfigPath = "/etc/person-detector/config.yaml"

var (
	cfgFile string
	debug   bool
)

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "person-detector",
		Short:         "Detects persons filmed by Unifi cameras",
		Long:          "Follows the Unifi Video recording log, runs object detection on every finished motion recording and notifies Home Assistant when a person is found.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDetector(cfgFile, debug)
		},
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", defaultConfigPath, "config file")
	rootCmd.PersistentFlags().BoolVarP(&debug, "debug", "d", false, "print lots of debugging statements")

	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newCheckCmd())
	rootCmd.AddCommand(newParseCmd())
	rootCmd.AddCommand(newSecretCmd())
	return rootCmd
}

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Follow the recording log and process recordings (default)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDetector(cfgFile, debug)
		},
	}
}

func newCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check <report-file>",
		Short: "Evaluate a detector report and print the decision",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadToolConfig()
			if err != nil {
				return err
			}

			eval := detector.NewEvaluator(cfg.Evaluation.Label, cfg.Evaluation.Threshold, logger)
			decision, err := eval.EvaluateFile(args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if decision.Detected {
				fmt.Fprintf(out, "%s detected: %d%% (line %d)\n", eval.Label, decision.Confidence, decision.Line)
			} else {
				fmt.Fprintf(out, "%s not detected above %d%%\n", eval.Label, eval.Threshold)
			}
			return nil
		},
	}
}

func newParseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "parse <log-file>",
		Short: "Print the recording events a log file contains",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadToolConfig()
			if err != nil {
				return err
			}
			loc, err := cfg.EventLocation()
			if err != nil {
				return err
			}

			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			parser := events.NewParser(loc)
			out, errOut := cmd.OutOrStdout(), cmd.ErrOrStderr()
			scanner := bufio.NewScanner(f)
			for n := 1; scanner.Scan(); n++ {
				ev, ok, err := parser.Parse(scanner.Text())
				switch {
				case err != nil:
					fmt.Fprintf(errOut, "line %d: %v\n", n, err)
				case ok:
					fmt.Fprintf(out, "%s\t%s\t%s\t%s\n",
						ev.EventTime.Format("2006-01-02 15:04:05"), ev.CameraID, ev.CameraName, ev.RecordingID)
				}
			}
			return scanner.Err()
		},
	}
}

// loadToolConfig prepares the one-shot commands the same way run does: .env
// files first, then the config file. Logging stays off unless --debug.
func loadToolConfig() (*config.Config, *zap.Logger, error) {
	logger := zap.NewNop()
	if debug {
		dev, err := zap.NewDevelopment()
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create logger: %w", err)
		}
		logger = dev
	}

	config.LoadEnv(logger)
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

func newSecretCmd() *cobra.Command {
	secretCmd := &cobra.Command{
		Use:   "secret",
		Short: "Manage sealed config values",
	}

	secretCmd.AddCommand(&cobra.Command{
		Use:   "keygen",
		Short: "Print a new master key for " + config.MasterKeyEnv,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := crypto.GenerateMasterKey()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), key)
			return nil
		},
	})

	secretCmd.AddCommand(&cobra.Command{
		Use:   "seal <value>",
		Short: "Seal a credential with the key in " + config.MasterKeyEnv,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			config.LoadEnv(nil)
			sealed, err := crypto.Seal(args[0], os.Getenv(config.MasterKeyEnv))
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), sealed)
			return nil
		},
	})

	return secretCmd
}
