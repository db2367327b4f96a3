package cmd

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"reflect"
	"strings"

	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mvalgard/threadkeeper/threadkeeper"
)

var (
	cfgFile string
	envFile string

	rootCmd = &cobra.Command{
		Use:   "threadkeeper",
		Short: "Support forum lifecycle bot for Discord",
		Long: `threadkeeper tracks support forum posts through their lifecycle:
it tags new posts, nudges authors who've gone quiet, closes and archives
resolved posts, and keeps the forum's managed tags in sync.`,
	}
)

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(
		&cfgFile,
		"config",
		"",
		"config file (default is ./threadkeeper.yaml)",
	)
	rootCmd.PersistentFlags().StringVar(
		&envFile,
		"env-file",
		"",
		"env file to load before reading config",
	)
}

func initConfig() {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			fmt.Fprintf(os.Stderr, "error loading env file: %v\n", err)
			os.Exit(1)
		}
	} else {
		_ = godotenv.Load()
	}

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName("threadkeeper")
	}

	envPrefix := os.Getenv(threadkeeper.EnvvarSetEnvPrefix)
	if envPrefix == "" {
		envPrefix = threadkeeper.DefaultEnvPrefix
	}
	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setConfigDefaults(threadkeeper.DefaultConfig())

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			fmt.Fprintf(os.Stderr, "error reading config: %v\n", err)
			os.Exit(1)
		}
	}
}

// loadConfig unmarshals the resolved viper state into a Config
func loadConfig() (*threadkeeper.Config, error) {
	config := threadkeeper.DefaultConfig()
	err := viper.Unmarshal(
		config,
		viper.DecodeHook(
			mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToTimeDurationHookFunc(),
				mapstructure.StringToSliceHookFunc(","),
				stringToLogLevelHookFunc(),
			),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	return config, nil
}

// setConfigDefaults registers the default config's values with viper so
// env vars resolve even without a config file.
func setConfigDefaults(config *threadkeeper.Config) {
	defaults := map[string]any{}
	flattenConfig("", reflect.ValueOf(config).Elem(), defaults)
	for key, value := range defaults {
		viper.SetDefault(key, value)
	}
}

func flattenConfig(prefix string, rv reflect.Value, out map[string]any) {
	rt := rv.Type()
	for i := 0; i < rt.NumField(); i++ {
		field := rt.Field(i)
		if !field.IsExported() {
			continue
		}
		tag, _, _ := strings.Cut(field.Tag.Get("mapstructure"), ",")
		if tag == "" || tag == "-" {
			continue
		}
		key := tag
		if prefix != "" {
			key = prefix + "." + tag
		}
		fv := rv.Field(i)
		if fv.Kind() == reflect.Pointer {
			if fv.IsNil() {
				continue
			}
			fv = fv.Elem()
		}
		if fv.Kind() == reflect.Struct {
			if lv, ok := fv.Addr().Interface().(*slog.LevelVar); ok {
				out[key] = lv.Level().String()
				continue
			}
			flattenConfig(key, fv, out)
			continue
		}
		out[key] = fv.Interface()
	}
}

// stringToLogLevelHookFunc decodes strings like "DEBUG" into
// *slog.LevelVar fields.
func stringToLogLevelHookFunc() mapstructure.DecodeHookFuncType {
	return func(
		f reflect.Type,
		t reflect.Type,
		data any,
	) (any, error) {
		if t != reflect.TypeOf(&slog.LevelVar{}) {
			return data, nil
		}
		var name string
		switch v := data.(type) {
		case string:
			name = v
		case fmt.Stringer:
			name = v.String()
		default:
			return data, nil
		}
		var level slog.Level
		if err := level.UnmarshalText([]byte(name)); err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", name, err)
		}
		lv := &slog.LevelVar{}
		lv.Set(level)
		return lv, nil
	}
}
