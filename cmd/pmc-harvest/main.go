// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package main is the entry point for the pmc-harvest CLI.
//
// Subcommands: collect harvests records into a checkpoint and a document
// directory, search runs an Entrez query, status inspects or edits a
// checkpoint, and index queries the full-text index.
package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pdiddy/pmc-harvest/internal/logging"
	"github.com/pdiddy/pmc-harvest/internal/secrets"
)

// version is set at build time via ldflags.
var version = "dev"

// app carries state shared by the subcommands of one invocation.
type app struct {
	v       *viper.Viper
	secrets map[string]string
}

func newRootCmd() *cobra.Command {
	a := &app{v: viper.New()}

	root := &cobra.Command{
		Use:   "pmc-harvest",
		Short: "Harvest structured full-text records from PubMed Central",
		Long: `pmc-harvest turns lists of PMCIDs, PMIDs and DOIs into structured
documents fetched from the NCBI E-utilities API. Runs respect the NCBI rate
limit, retry transient failures, and checkpoint progress so an interrupted
run resumes where it stopped.`,
		SilenceUsage:      true,
		PersistentPreRunE: a.setup,
	}

	pf := root.PersistentFlags()
	pf.String("config", "", "config file (default: ./pmc-harvest.yaml or ~/.config/pmc-harvest/pmc-harvest.yaml)")
	pf.String("log-level", "info", "log level: debug, info, warn, error")
	pf.Bool("log-pretty", false, "human-readable log output")
	pf.String("secrets-dir", ".secrets", "directory holding ncbi-api-key and ncbi-email files")

	root.AddCommand(
		a.collectCmd(),
		a.searchCmd(),
		a.statusCmd(),
		a.indexCmd(),
		versionCmd(),
	)
	return root
}

// setup reads configuration, installs the logger and loads secrets.
func (a *app) setup(cmd *cobra.Command, args []string) error {
	if err := a.initConfig(cmd); err != nil {
		return err
	}

	if err := a.bind(cmd, map[string]string{"log-level": "log.level", "log-pretty": "log.pretty"}); err != nil {
		return err
	}
	logging.Setup(logging.Config{
		Level:  a.v.GetString("log.level"),
		Pretty: a.v.GetBool("log.pretty"),
		Output: cmd.ErrOrStderr(),
	})

	if used := a.v.ConfigFileUsed(); used != "" {
		log.Info().Str("file", used).Msg("using config file")
	}

	dir, _ := cmd.Flags().GetString("secrets-dir")
	s, err := secrets.Load(dir)
	if err != nil {
		return err
	}
	a.secrets = s
	if len(s) > 0 {
		keys := make([]string, 0, len(s))
		for k := range s {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		log.Debug().Strs("keys", keys).Msg("loaded secrets")
	}
	return nil
}

func (a *app) initConfig(cmd *cobra.Command) error {
	setDefaults(a.v)

	cfgFile, _ := cmd.Flags().GetString("config")
	if cfgFile != "" {
		a.v.SetConfigFile(cfgFile)
	} else {
		a.v.SetConfigName("pmc-harvest")
		a.v.SetConfigType("yaml")
		a.v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			a.v.AddConfigPath(filepath.Join(home, ".config", "pmc-harvest"))
		}
	}

	a.v.SetEnvPrefix("PMC_HARVEST")
	a.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	a.v.AutomaticEnv()

	if err := a.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return fmt.Errorf("reading config: %w", err)
		}
	}
	return nil
}

// bind ties command flags to configuration keys. Binding happens per run
// so commands sharing a key do not steal each other's flags.
func (a *app) bind(cmd *cobra.Command, flagToKey map[string]string) error {
	for flag, key := range flagToKey {
		f := cmd.Flags().Lookup(flag)
		if f == nil {
			return fmt.Errorf("unknown flag %q", flag)
		}
		if err := a.v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("binding flag %s: %w", flag, err)
		}
	}
	return nil
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version of pmc-harvest",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "pmc-harvest %s\n", version)
		},
	}
}

func run(args []string, stdout, stderr io.Writer) error {
	root := newRootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	return root.Execute()
}

func main() {
	if err := run(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		os.Exit(1)
	}
}
