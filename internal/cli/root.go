// Package cli implements the campusmarket command line.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/tOgg1/campusmarket/internal/api"
	"github.com/tOgg1/campusmarket/internal/cache"
	"github.com/tOgg1/campusmarket/internal/chat"
	"github.com/tOgg1/campusmarket/internal/config"
	"github.com/tOgg1/campusmarket/internal/events"
	"github.com/tOgg1/campusmarket/internal/logging"
)

var _ chat.API = (*api.Client)(nil)

// Execute runs the root command.
func Execute(version string) error {
	return newRootCmd(version).Execute()
}

type rootOptions struct {
	configFile string
	jsonOutput bool
	noCache    bool
}

// flagKeys binds persistent flags to config keys.
var flagKeys = map[string]string{
	"base-url":  "api.base_url",
	"token":     "auth.session_token",
	"user":      "auth.user_id",
	"log-level": "logging.level",
}

func newRootCmd(version string) *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "campusmarket",
		Short:         "Campus marketplace conversations from the terminal",
		Long:          "campusmarket lists, follows and answers marketplace conversations, and completes trades.",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version,
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.configFile, "config", "", "config file (default is $HOME/.config/campusmarket/config.yaml)")
	flags.String("base-url", "", "marketplace backend URL")
	flags.String("token", "", "session token (prefer "+config.EnvPrefix+"_TOKEN)")
	flags.String("user", "", "user id (default: read from the token)")
	flags.String("log-level", "", "override logging level (debug, info, warn, error)")
	flags.BoolVar(&opts.jsonOutput, "json", false, "machine-readable JSON output")
	flags.BoolVar(&opts.noCache, "no-cache", false, "do not read or write the local cache")

	cmd.AddCommand(
		newConversationsCmd(opts),
		newHistoryCmd(opts),
		newSendCmd(opts),
		newReadCmd(opts),
		newCompleteCmd(opts),
		newWatchCmd(opts),
		newEventsCmd(opts),
		newUseCmd(opts),
		newChatCmd(opts),
		newConfigCmd(opts),
	)
	return cmd
}

// runtime is what a command needs once flags and config are resolved.
type runtime struct {
	cfg       *config.Config
	loader    *config.Loader
	client    *api.Client
	cache     *cache.Store
	contexts  *config.ContextStore
	publisher *events.InMemoryPublisher
	userID    string
	logger    zerolog.Logger
	opts      *rootOptions
	out       io.Writer
}

// loadConfig resolves configuration with flags taking precedence.
func loadConfig(cmd *cobra.Command, opts *rootOptions) (*config.Config, *config.Loader, error) {
	loader := config.NewLoader()
	if opts.configFile != "" {
		loader.SetConfigFile(opts.configFile)
	}
	for name, key := range flagKeys {
		if err := loader.BindFlag(key, cmd.Flags().Lookup(name)); err != nil {
			return nil, nil, err
		}
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, nil, Exitf(ExitCodeFailure, "load config: %v", err)
	}
	return cfg, loader, nil
}

// newRuntime loads config, sets up logging and builds the API client.
// The cache is opened unless disabled; callers must Close the runtime.
func newRuntime(cmd *cobra.Command, opts *rootOptions) (*runtime, error) {
	cfg, loader, err := loadConfig(cmd, opts)
	if err != nil {
		return nil, err
	}

	logCfg := cfg.LoggingConfig()
	logCfg.Output = cmd.ErrOrStderr()
	logging.Init(logCfg)
	logger := logging.Component("cli")

	if err := cfg.EnsureDirectories(); err != nil {
		logger.Warn().Err(err).Msg("failed to create directories")
	}

	token := strings.TrimSpace(cfg.Auth.SessionToken)
	if token == "" {
		return nil, Exitf(ExitCodeAuth, "no session token: set %s_TOKEN or pass --token", config.EnvPrefix)
	}

	userID := strings.TrimSpace(cfg.Auth.UserID)
	if userID == "" {
		claims, err := api.InspectToken(token)
		if err != nil {
			return nil, Exitf(ExitCodeAuth, "cannot read the user id from the token, pass --user: %v", err)
		}
		userID = claims.Identity()
	}
	if userID == "" {
		return nil, Exitf(ExitCodeAuth, "token carries no user id, pass --user")
	}

	client, err := api.NewClient(api.Config{
		BaseURL:           cfg.API.BaseURL,
		SessionToken:      token,
		UserAgent:         cfg.API.UserAgent,
		Timeout:           cfg.API.Timeout,
		RequestsPerSecond: cfg.API.RequestsPerSecond,
		Burst:             cfg.API.Burst,
		BreakerFailures:   uint32(cfg.API.BreakerFailures),
		BreakerTimeout:    cfg.API.BreakerTimeout,
	})
	if err != nil {
		return nil, Exitf(ExitCodeFailure, "%v", err)
	}

	rt := &runtime{
		cfg:      cfg,
		loader:   loader,
		client:   client,
		contexts: config.NewContextStore(cfg.ContextPath()),
		userID:   userID,
		logger:   logger,
		opts:     opts,
		out:      cmd.OutOrStdout(),
	}

	if cfg.Cache.Enabled && !opts.noCache {
		store, err := cache.Open(cfg.CachePath())
		if err != nil {
			logger.Warn().Err(err).Str("path", cfg.CachePath()).Msg("cache unavailable, continuing without it")
		} else {
			rt.cache = store
		}
	}

	publisherOpts := []events.PublisherOption{}
	if rt.cache != nil {
		publisherOpts = append(publisherOpts, events.WithSink(rt.cache))
	}
	rt.publisher = events.NewInMemoryPublisher(publisherOpts...)

	return rt, nil
}

// Close releases the cache.
func (rt *runtime) Close() {
	if rt.cache != nil {
		_ = rt.cache.Close()
	}
}

// chatCache returns the cache as a session cache, or nil.
func (rt *runtime) chatCache() chat.Cache {
	if rt.cache == nil {
		return nil
	}
	return rt.cache
}

// newSession wires a chat session from config.
func (rt *runtime) newSession() *chat.Session {
	tokens := api.NewTokenProvider(rt.client, api.TokenProviderOptions{
		SessionToken:         rt.client.SessionToken(),
		AllowSessionFallback: rt.cfg.Stream.AllowSessionTokenFallback,
	})
	return chat.NewSession(rt.client, tokens, rt.client, chat.SessionOptions{
		UserID:         rt.userID,
		PollInterval:   rt.cfg.Sync.PollInterval,
		IndexInterval:  rt.cfg.Sync.IndexInterval,
		ReconnectDelay: rt.cfg.Sync.ReconnectDelay,
		ReadWindow:     rt.cfg.Sync.ReadWindow,
		Publisher:      rt.publisher,
		Cache:          rt.chatCache(),
	})
}

// resolveConversation picks the conversation from args or the sticky
// context set by "use".
func (rt *runtime) resolveConversation(args []string) (string, error) {
	if len(args) > 0 && strings.TrimSpace(args[0]) != "" {
		return strings.TrimSpace(args[0]), nil
	}
	current, err := rt.contexts.Load()
	if err != nil {
		return "", Exitf(ExitCodeFailure, "load context: %v", err)
	}
	if current.IsEmpty() {
		return "", Exitf(ExitCodeUsage, "no conversation given and none selected; run \"campusmarket use <id>\"")
	}
	return current.ConversationID, nil
}

func commandContext(cmd *cobra.Command, timeout time.Duration) (context.Context, context.CancelFunc) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}

// describe turns a command error into its exit error.
func describe(action string, err error) error {
	if err == nil {
		return nil
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return err
	}
	return &ExitError{Code: exitCodeFor(err), Err: fmt.Errorf("%s: %w", action, err)}
}
