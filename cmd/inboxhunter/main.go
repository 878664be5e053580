package main

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"runtime/debug"

	"github.com/inboxhunter/inboxhunter/internal/log"
	"github.com/inboxhunter/inboxhunter/internal/model"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/spf13/cobra"
)

const configFileName = "inboxhunter.yaml"

var (
	userConfigPath string // /default/config/path/inboxhunter on given OS
	configPath     string // actual config file used (if loaded)
	config         model.Config
	dataDir        string // config.DataDir or userConfigPath
	logCloser      io.Closer

	flagConfigFilePath string // value of --config flag
	flagVerbose        bool   // value of --verbose flag
)

func init() {
	d, err := os.UserConfigDir()
	if err != nil {
		panic(err)
	}
	userConfigPath = filepath.Join(d, "inboxhunter")
}

func main() {
	// root flags
	rootCmd.PersistentFlags().StringVar(&flagConfigFilePath, "config", "", "Config file to load - default is "+configFileName+" in current directory or in "+userConfigPath)
	rootCmd.PersistentFlags().BoolVar(&flagVerbose, "verbose", false, "verbose logging")

	// never print messages
	rootCmd.SilenceErrors = true

	// parse or create a config, setup logging
	rootCmd.PersistentPreRunE = initInboxHunter

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(locateCmd)
	rootCmd.AddCommand(queueCmd)
	rootCmd.AddCommand(resultsCmd)
	rootCmd.AddCommand(usageCmd)
	rootCmd.AddCommand(settingsCmd)
	rootCmd.AddCommand(logsCmd)
	rootCmd.AddCommand(versionCmd)

	err := rootCmd.Execute()
	if err != nil {
		slog.Error("inboxhunter failed", "err", err)
	}
	if logCloser != nil {
		_ = logCloser.Close()
	}
	if err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:          "inboxhunter",
	Short:        "Host for the InboxHunter signup automation worker",
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "version provide version of an inboxhunter",
	Run: func(cmd *cobra.Command, args []string) {
		info, ok := debug.ReadBuildInfo()
		if !ok {
			fmt.Println("inboxhunter: version info not available")
			return
		}

		if configPath != "" {
			fmt.Printf("config:      %s\n", configPath)
		}
		fmt.Printf("data:        %s\n", dataDir)
		fmt.Printf("inboxhunter: %s\n", info.Main.Version)
		fmt.Printf("go:          %s\n", info.GoVersion)
		for _, s := range info.Settings {
			switch s.Key {
			case "vcs.revision":
				fmt.Printf("commit:      %s\n", s.Value)
			case "vcs.time":
				fmt.Printf("date:        %s\n", s.Value)
			case "vcs.modified":
				fmt.Printf("dirty:       %s\n", s.Value)
			}
		}
		fmt.Println()
	},
}

// version is passed to the worker and reported with submitted logs.
func version() string {
	info, ok := debug.ReadBuildInfo()
	if !ok || info.Main.Version == "" {
		return "(devel)"
	}
	return info.Main.Version
}

func initInboxHunter(cmd *cobra.Command, _ []string) error {
	if envConfig, ok := os.LookupEnv("INBOXHUNTER_CONFIG"); ok {
		configPath = envConfig
	} else if flagConfigFilePath != "" {
		configPath = flagConfigFilePath
	} else {
		for _, d := range []string{userConfigPath, "."} {
			path := filepath.Join(d, configFileName)
			if exists(path) {
				configPath = path
				break
			}
		}
	}

	// store default configuration
	if configPath == "" {
		config = model.DefaultConfig("")
		configPath = filepath.Join(userConfigPath, configFileName)
		err := os.MkdirAll(filepath.Dir(configPath), 0755)
		if err != nil {
			return fmt.Errorf("creating directory %s: %w", filepath.Dir(configPath), err)
		}

		f, err := os.Create(configPath)
		if err != nil {
			return fmt.Errorf("creating file %s: %w", configPath, err)
		}
		defer func() {
			_ = f.Close()
		}()
		enc := yaml.NewEncoder(f)
		err = enc.Encode(config)
		if err != nil {
			return fmt.Errorf("storing configuration: %w", err)
		}
	} else {
		f, err := os.Open(configPath)
		if err != nil {
			return fmt.Errorf("opening config file: %w", err)
		}
		defer func() {
			_ = f.Close()
		}()
		cfg, err := model.LoadConfig(f)
		if err != nil {
			for _, d := range model.CueErrDetails(err) {
				slog.Error("invalid config", d.Attr("detail"))
			}
			return fmt.Errorf("parsing config: %w", err)
		}
		config = *cfg
	}

	// --verbose has a precedence over config file
	if flagVerbose {
		config.Verbose = true
	}

	dataDir = config.DataDir
	if dataDir == "" {
		dataDir = userConfigPath
	}

	// .env is optional, variables already set win
	for _, p := range []string{filepath.Join(dataDir, ".env"), ".env"} {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("loading %s: %w", p, err)
		}
	}

	// initialize logging
	logger, closer := log.New(log.Options{
		Verbose:    config.Verbose,
		Dir:        logDir(),
		MaxSizeMB:  config.Log.MaxSizeMB,
		MaxBackups: config.Log.MaxBackups,
		MaxAgeDays: config.Log.MaxAgeDays,
	})
	slog.SetDefault(logger)
	logCloser = closer

	ctx := log.ContextAttrs(cmd.Context(), slog.Group("inboxhunter",
		slog.String("cmd", cmd.Name()),
		slog.Int("pid", os.Getpid()),
	))
	cmd.SetContext(ctx)

	slog.DebugContext(ctx, "inboxhunter run", "configPath", configPath, "dataDir", dataDir)
	slog.DebugContext(ctx, "inboxhunter run", "config", config)
	return nil
}

func logDir() string {
	return filepath.Join(dataDir, "logs")
}

func exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
