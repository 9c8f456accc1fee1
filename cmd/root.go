// Package cmd is the command line of the scaler.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/pagescaler/pagescaler/settings"
)

var (
	v       = viper.New()
	cfgFile string
)

var rootCmd = &cobra.Command{
	Use:   "pagescaler",
	Short: "Serve scaled page images of scanned documents",
	Long: `pagescaler serves the pages of scanned documents as scaled images.

Documents live in one or more parallel base directories; the first holds the
full resolution originals and the others pre-scaled copies. Each request picks
the cheapest copy that satisfies it and either streams it unmodified or
renders it on a bounded pool of workers.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve(cmd.Context())
	},
}

func init() {
	settings.SetDefaults(v)

	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&cfgFile, "config", "c", "", "config file (yaml, toml or json)")
	pf.StringSliceP("basedirs", "b", nil, "base directories in priority order, full resolution first")
	pf.String("metafile", "", "directory metadata file name")
	pf.String("ignorefile", "", "file with listing ignore patterns in the primary base dir")
	pf.StringSlice("aliases", nil, "logical path aliases as alias=target")
	pf.String("jwtsecret", "", "HMAC secret for bearer tokens")
	pf.String("log.dir", "", "directory for rotating log files")
	pf.String("log.level", "", "log level: debug, info, warn or error")

	f := rootCmd.Flags()
	f.StringP("address", "a", "", "address to listen on")
	f.IntP("port", "p", 0, "port to listen on")
	f.IntP("workers", "w", 0, "number of transform workers")
	f.Int("maxwaiting", 0, "transform jobs allowed to wait for a worker")
	f.Int("busymargin", 0, "refuse work this many slots before the job center is full")
	f.Bool("sendfile", true, "allow sending original files with mo=file and mo=rawfile")
	f.Duration("recheck", 0, "minimum interval between staleness checks of a directory")
	f.Bool("watch", false, "watch the primary base dir and refresh cached directories")
	f.String("authfile", "", "YAML file with path and host role rules")
	f.Duration("resultcache.ttl", 0, "lifetime of cached renders")
	f.Uint64("resultcache.size", 0, "number of cached renders")
	f.Int("jpegquality", 0, "JPEG output quality")

	bindFlags(pf)
	bindFlags(f)

	rootCmd.AddCommand(probeCmd, tokenCmd)
}

// bindFlags binds every flag to the viper key of the same name. Only flags
// set on the command line override the config file and environment.
func bindFlags(fs *pflag.FlagSet) {
	fs.VisitAll(func(fl *pflag.Flag) {
		if fl.Name == "config" {
			return
		}
		if err := v.BindPFlag(fl.Name, fl); err != nil {
			panic(err)
		}
	})
}

// loadSettings resolves the settings for a command.
func loadSettings() (*settings.Settings, error) {
	return settings.Load(v, cfgFile)
}

// Execute runs the command line.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
