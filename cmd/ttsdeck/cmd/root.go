package cmd

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"ttsdeck/internal/config"
	"ttsdeck/internal/scryfall"
)

// cfgFile holds the path to the config file specified by the user
var cfgFile string

var logLevelFlag string
var logFormatFlag string
var savePathFlag string
var apiDelayFlag int
var logApiFlag bool

// globalConfig holds the loaded configuration
var globalConfig config.Config

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "ttsdeck",
	Short: "Build Tabletop Simulator decks from Magic decklists",
	Long: `ttsdeck turns decklists (site URLs or plain text) into Tabletop
Simulator saved objects, downloading and caching card images locally.`,
	PersistentPreRunE: loadGlobalConfig,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error executing command: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Configuration file path (default is ./config.toml or ~/.config/ttsdeck/config.toml)")
	rootCmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", "", "Logging level (trace, debug, info, warn, error, fatal, panic)")
	rootCmd.PersistentFlags().StringVar(&logFormatFlag, "log-format", "", "Logging format (text, json)")
	rootCmd.PersistentFlags().StringVar(&savePathFlag, "save-path", "", "Directory for all local data (overrides config)")
	rootCmd.PersistentFlags().IntVar(&apiDelayFlag, "api-delay", -1, "Delay between API calls in ms (overrides config, -1 uses config default)")
	rootCmd.PersistentFlags().BoolVar(&logApiFlag, "log-api", false, "Log API requests/responses to api.log (overrides config)")

	_ = viper.BindPFlag("loglevel", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("logapirequests", rootCmd.PersistentFlags().Lookup("log-api"))
	_ = viper.BindPFlag("logformat", rootCmd.PersistentFlags().Lookup("log-format"))
	_ = viper.BindPFlag("savepath", rootCmd.PersistentFlags().Lookup("save-path"))
	_ = viper.BindPFlag("apidelayms", rootCmd.PersistentFlags().Lookup("api-delay"))
}

// loadGlobalConfig loads the configuration and initializes logging before
// any command runs.
func loadGlobalConfig(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(viper.GetViper(), cfgFile)
	if err != nil {
		return err
	}
	globalConfig = cfg

	initLogging(globalConfig.LogLevel, globalConfig.LogFormat)
	return nil
}

func initLogging(level, format string) {
	parsed, err := log.ParseLevel(level)
	if err != nil {
		log.Warnf("Unknown log level %q, using info", level)
		parsed = log.InfoLevel
	}
	log.SetLevel(parsed)

	if format == "json" {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}
}

// newHTTPClient builds the shared client for upstream requests, wrapping
// the transport with request logging when enabled. The returned closer is
// nil when no log file was opened.
func newHTTPClient() (*http.Client, io.Closer) {
	timeout := time.Duration(globalConfig.APIClientTimeoutSec) * time.Second
	client := &http.Client{Timeout: timeout}

	if globalConfig.LogAPIRequests {
		logPath := filepath.Join(globalConfig.SavePath, "api.log")
		transport, err := scryfall.NewLoggingTransport(nil, logPath)
		if err != nil {
			log.WithError(err).Error("Failed to initialize API logging transport, logging disabled")
			return client, nil
		}
		log.Infof("API logging to file: %s", logPath)
		client.Transport = transport
		return client, transport
	}
	return client, nil
}
