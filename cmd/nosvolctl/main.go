package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	Version   = "dev"
	GitCommit = "unknown"
)

type options struct {
	cfgFile    string
	baseURL    string
	outputJSON bool
	verbose    bool
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:   "nosvolctl",
		Short: "Manage NithronOS volume drafts from the terminal",
		Long: `nosvolctl talks to the nosvold volume service.

It lists server volumes and client drafts, edits draft topologies,
and submits or destroys volumes.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig(cmd, opts)
		},
	}

	root.PersistentFlags().StringVar(&opts.cfgFile, "config", "", "config file (default is $HOME/.config/nos/nosvolctl.yaml)")
	root.PersistentFlags().StringVar(&opts.baseURL, "url", "", "nosvold API URL")
	root.PersistentFlags().BoolVar(&opts.outputJSON, "json", false, "output in JSON format")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "verbose output")

	root.AddCommand(
		newStatusCmd(opts),
		newDraftCmd(opts),
		newFocusCmd(opts),
		newDestroyCmd(opts),
		newRefreshCmd(opts),
		newPresetsCmd(opts),
		newVersionCmd(),
	)
	return root
}

func initConfig(cmd *cobra.Command, opts *options) error {
	v := viper.New()
	if opts.cfgFile != "" {
		v.SetConfigFile(opts.cfgFile)
	} else {
		v.SetConfigName("nosvolctl")
		v.SetConfigType("yaml")
		v.AddConfigPath("$HOME/.config/nos")
		v.AddConfigPath(".")
	}
	v.SetEnvPrefix("NOS_VOL")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	v.SetDefault("url", "http://127.0.0.1:9100")
	if err := v.BindPFlag("url", cmd.Flags().Lookup("url")); err != nil {
		return err
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if opts.cfgFile != "" || !errors.As(err, &notFound) {
			return fmt.Errorf("read config: %w", err)
		}
	} else if opts.verbose {
		fmt.Fprintf(cmd.ErrOrStderr(), "Using config file: %s\n", v.ConfigFileUsed())
	}
	opts.baseURL = strings.TrimRight(v.GetString("url"), "/")
	return nil
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func printJSON(w io.Writer, data any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(data)
}

func printTable(w io.Writer, headers []string, rows [][]string) {
	for _, h := range headers {
		fmt.Fprintf(w, "%-20s", h)
	}
	fmt.Fprintln(w)
	for _, row := range rows {
		for _, col := range row {
			fmt.Fprintf(w, "%-20s", col)
		}
		fmt.Fprintln(w)
	}
}

func formatBytes(b int64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(b)/float64(div), "KMGTPE"[exp])
}
