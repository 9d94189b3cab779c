package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/nethalo/sqlforge/internal/config"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "sqlforge",
	Short: "Decompose SELECT statements into editable query templates",
	Long: `sqlforge turns SQL SELECT statements into structural templates.

Each statement is decomposed into its select columns, fixed joins and
editable WHERE conditions, classified by how many entities it joins, and
stored with a full history of earlier versions. New SQL is generated by
swapping the WHERE conditions while the joins stay exactly as written.

Templates can be browsed from the command line, an HTTP API, or an MCP
tool server for assistants.`,
	SilenceUsage: true,
}

// Execute is called by main.main(). It adds all child commands to the root
// command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.sqlforge/config.yaml)")
	rootCmd.PersistentFlags().StringP("format", "f", "text", "Output format: text, plain, json, markdown")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Show additional debug info")
	rootCmd.PersistentFlags().String("log-level", "warn", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().String("driver", "sqlite", "Template store backend: sqlite or mysql")
	rootCmd.PersistentFlags().String("db", "", "Template store file (sqlite)")
	rootCmd.PersistentFlags().String("generated-db", "", "Derived template store file (sqlite)")

	bindFlags(viper.GetViper())
}

func bindFlags(v *viper.Viper) {
	flags := rootCmd.PersistentFlags()
	v.BindPFlag("defaults.format", flags.Lookup("format"))
	v.BindPFlag("verbose", flags.Lookup("verbose"))
	v.BindPFlag("log.level", flags.Lookup("log-level"))
	v.BindPFlag("store.driver", flags.Lookup("driver"))
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else if dir, err := config.Dir(); err == nil {
		viper.AddConfigPath(dir)
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	config.BindEnv(viper.GetViper())

	// Silently ignore missing config file; it's optional
	_ = viper.ReadInConfig()

	// Path flags only override the file when given, since their defaults
	// depend on $HOME.
	if f := rootCmd.PersistentFlags().Lookup("db"); f != nil && f.Changed {
		viper.Set("store.path", absPath(f.Value.String()))
	}
	if f := rootCmd.PersistentFlags().Lookup("generated-db"); f != nil && f.Changed {
		viper.Set("store.generated_path", absPath(f.Value.String()))
	}
	if viper.GetBool("verbose") && !rootCmd.PersistentFlags().Changed("log-level") {
		viper.Set("log.level", "debug")
	}
}

func absPath(p string) string {
	if p == ":memory:" {
		return p
	}
	if abs, err := filepath.Abs(p); err == nil {
		return abs
	}
	return p
}
