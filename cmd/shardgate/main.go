// Command shardgate runs a shardgate router as a standalone process.
//
// The serve command keeps the router following the HA control plane and
// exposes /metrics, /health, /stats and /topology. The exec and health
// commands run one statement or one health check and exit.
//
// Configuration comes from a YAML file (--config) overlaid with SHARDGATE_*
// environment variables:
//
//	shardgate serve --config shardgate.yaml --web-address :9091
//	SHARDGATE_COORDINATOR_HOST=pg-a shardgate exec --read "SELECT 1"
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/arloliu/shardgate/config"
)

var rootCmd = &cobra.Command{
	Use:           "shardgate",
	Short:         "Connection routing and failover for sharded PostgreSQL",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var (
	cfgFile string
	v       = config.NewViper()
)

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "specifies a config file to load")

	flags := pflag.NewFlagSet("", pflag.ContinueOnError)
	flags.String("log-level", "info", "the log level to run at")
	flags.Bool("debug", false, "log in development format")
	rootCmd.PersistentFlags().AddFlagSet(flags)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	_ = v.BindPFlags(flags)

	rootCmd.AddCommand(serveCmd, execCmd, healthCmd)
}

// loadConfig reads --config, when given, into the shared viper instance.
func loadConfig() (*config.Config, error) {
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading %s: %w", cfgFile, err)
		}
	}

	return config.Load(v)
}

func newLogger(vp *viper.Viper) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(vp.GetString("log-level"))
	if err != nil {
		return nil, err
	}

	var zc zap.Config
	if vp.GetBool("debug") {
		zc = zap.NewDevelopmentConfig()
	} else {
		zc = zap.NewProductionConfig()
		zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}
	zc.Level = zap.NewAtomicLevelAt(level)

	return zc.Build(zap.AddStacktrace(zapcore.ErrorLevel))
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "shardgate:", err)
		os.Exit(1)
	}
}
