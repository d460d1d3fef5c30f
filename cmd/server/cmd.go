package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"whosaid/internal/config"
	"whosaid/internal/identity"
)

// flagKeys maps command line flags onto configuration keys
var flagKeys = map[string]string{
	"host":       "SERVER_HOST",
	"port":       "SERVER_PORT",
	"store":      "STORE_DRIVER",
	"store-path": "STORE_PATH",
	"store-dsn":  "STORE_DSN",
	"prompts":    "GAME_PROMPTS_FILE",
	"log-level":  "LOG_LEVEL",
	"log-format": "LOG_FORMAT",
}

type rootFlags struct {
	configFile string
	envFile    string
}

func newRootCmd() *cobra.Command {
	var flags rootFlags

	cmd := &cobra.Command{
		Use:           "whosaid",
		Short:         "Party game server: answer anonymously, guess who said it.",
		Args:          cobra.NoArgs,
		Version:       version,
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, flags)
			if err != nil {
				return err
			}
			ctx, stop := signalContext(cmd.Context())
			defer stop()
			return serve(ctx, cfg)
		},
	}

	pfs := cmd.PersistentFlags()
	pfs.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})
	pfs.StringVarP(&flags.configFile, "config", "c", "", "config file (yaml, toml or json)")
	pfs.StringVar(&flags.envFile, "env-file", "", "dotenv file (default .env if present)")

	fs := cmd.Flags()
	fs.SetNormalizeFunc(pfs.GetNormalizeFunc())
	fs.String("host", "0.0.0.0", "address to bind to (env: WHOSAID_SERVER_HOST)")
	fs.IntP("port", "p", 8080, "port to listen on (env: WHOSAID_SERVER_PORT)")
	fs.String("store", "memory", "document store: memory, sqlite or postgres (env: WHOSAID_STORE_DRIVER)")
	fs.String("store-path", "whosaid.db", "sqlite database path (env: WHOSAID_STORE_PATH)")
	fs.String("store-dsn", "", "postgres connection string (env: WHOSAID_STORE_DSN)")
	fs.String("prompts", "", "prompt bank file, one prompt per line (env: WHOSAID_GAME_PROMPTS_FILE)")
	fs.String("log-level", "info", "debug, info, warn or error (env: WHOSAID_LOG_LEVEL)")
	fs.String("log-format", "text", "text or json (env: WHOSAID_LOG_FORMAT)")

	cmd.AddCommand(newTokenCmd(&flags))

	cmd.CompletionOptions.HiddenDefaultCmd = true
	cmd.SetVersionTemplate("whosaid {{.Version}}\n")

	return cmd
}

func newTokenCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "token <user-id>",
		Short: "Mint a player token for token authentication",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, *flags)
			if err != nil {
				return err
			}
			if cfg.Auth.TokenSecret == "" {
				return errors.New("WHOSAID_AUTH_TOKEN_SECRET is not set")
			}
			tokens, err := identity.NewToken(cfg.Auth.TokenSecret, cfg.Auth.TokenIssuer, cfg.Auth.TokenTTL)
			if err != nil {
				return err
			}
			token, err := tokens.Issue(args[0])
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), token)
			return err
		},
	}
}

// loadConfig reads every configuration source; flags set explicitly on
// the command line win.
func loadConfig(cmd *cobra.Command, flags rootFlags) (*config.Config, error) {
	overrides := make(map[string]string)
	cmd.Flags().Visit(func(f *pflag.Flag) {
		if key, ok := flagKeys[f.Name]; ok {
			overrides[key] = f.Value.String()
		}
	})
	return config.Load(config.Options{
		ConfigFile: flags.configFile,
		EnvFile:    flags.envFile,
		Overrides:  overrides,
	})
}
