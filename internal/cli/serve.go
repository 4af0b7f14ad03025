package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"chtbtr/internal/app"
	"chtbtr/internal/config"
)

const stopTimeout = 15 * time.Second

type serveOptions struct {
	configPath string

	profileID    string
	chatDomain   string
	reviewDomain string
	username     string
	password     string
	dataDir      string
	clientID     string
	addr         string
	logLevel     string
}

func newServeCmd() *cobra.Command { return serveCmd(&serveOptions{}) }

func serveCmd(o *serveOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the relay server",
		Long: `Run the relay server.

Settings come from --config (YAML, TOML or JSON) and may be overridden by
flags. Without --config the flags below are required. The chat password may
also come from ` + config.EnvChatPassword + `.`,
		Example: `  chtbtr serve --chat-bot-profile-id "PROFILE,1234" \
               --just-domain "just.installation.social" \
               --gerrit-domain "gerrit.installation.com" \
               --username "user.name+chatbot@domain.com" \
               --password "mysecretpassword" \
               --data-dir "/home/user/data_dir" \
               --client-id "myclientid"`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, o)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&o.configPath, "config", "c", "", "path to the config file")
	f.StringVar(&o.profileID, "chat-bot-profile-id", "", "the profile id the bot sends from, 'PROFILE,n'")
	f.StringVar(&o.chatDomain, "just-domain", "", "the chat backend domain, e.g. 'just.installation.social'")
	f.StringVar(&o.reviewDomain, "gerrit-domain", "", "the review server domain used to build links")
	f.StringVar(&o.username, "username", "", "the account used to obtain an OAuth token")
	f.StringVar(&o.password, "password", "", "the password used to obtain an OAuth token")
	f.StringVar(&o.dataDir, "data-dir", "", "directory where user data is stored")
	f.StringVar(&o.clientID, "client-id", "", "the OAuth client id configured in the backend")
	f.StringVar(&o.addr, "addr", "", "listen address; localhost:8088 when unset")
	f.StringVar(&o.logLevel, "log-level", "", "debug, info, warn or error")
	return cmd
}

// override applies the flags that were set on the command line.
func (o *serveOptions) override(fs *pflag.FlagSet) func(*config.Config) {
	return func(cfg *config.Config) {
		set := func(name string, dst *string, v string) {
			if fs.Changed(name) {
				*dst = strings.TrimSpace(v)
			}
		}
		set("chat-bot-profile-id", &cfg.Chat.BotProfileID, o.profileID)
		set("just-domain", &cfg.Chat.Domain, o.chatDomain)
		set("gerrit-domain", &cfg.Chat.ReviewDomain, o.reviewDomain)
		set("username", &cfg.Chat.Username, o.username)
		set("password", &cfg.Chat.Password, o.password)
		set("client-id", &cfg.Chat.ClientID, o.clientID)
		set("addr", &cfg.Server.Addr, o.addr)
		set("log-level", &cfg.Logging.Level, o.logLevel)
		if fs.Changed("data-dir") {
			if cfg.Storage.Driver == "" {
				cfg.Storage.Driver = "file"
			}
			cfg.Storage.Path = strings.TrimSpace(o.dataDir)
		}
	}
}

// defaultConfig is the starting point when no config file is given.
func defaultConfig() *config.Config {
	return &config.Config{
		Chat:    config.ChatConfig{TokenRefresh: "@every 30m"},
		Storage: config.StorageConfig{Driver: "file"},
		Logging: config.LoggingConfig{Level: "info", Console: true},
	}
}

func loadConfig(cmd *cobra.Command, o *serveOptions) (*config.Config, *config.Manager, error) {
	ov := o.override(cmd.Flags())
	if strings.TrimSpace(o.configPath) == "" {
		cfg := defaultConfig()
		config.ApplyEnv(cfg, os.Getenv)
		ov(cfg)
		return cfg, nil, nil
	}
	cfgm := config.NewManager(o.configPath)
	cfgm.SetOverride(ov)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, nil, err
	}
	return cfg, cfgm, nil
}

func runServe(cmd *cobra.Command, o *serveOptions) error {
	cfg, cfgm, err := loadConfig(cmd, o)
	if err != nil {
		return err
	}
	if err := config.Validate(cfg); err != nil {
		return usageError{fmt.Errorf("invalid config:\n%w", err)}
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	a, err := app.New(ctx, cfg, cfgm)
	if err != nil {
		return err
	}
	if err := a.Start(ctx); err != nil {
		_ = a.Stop(context.Background(), app.StopFatalError)
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Starting chtbtr %s\n... for '%s'.\n... using profile '%s' on '%s'.\n",
		Version, cfg.Chat.ReviewDomain, cfg.Chat.BotProfileID, cfg.Chat.Domain)

	var reason app.StopReason
	select {
	case s := <-sigCh:
		reason = app.StopSIGINT
		if s == syscall.SIGTERM {
			reason = app.StopSIGTERM
		}
	case <-a.Done():
		reason = app.StopFatalError
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), stopTimeout)
	defer stopCancel()
	runErr := a.Err()
	if err := a.Stop(stopCtx, reason); err != nil && runErr == nil {
		runErr = err
	}
	fmt.Fprintln(out, "Server is done.")
	return runErr
}
