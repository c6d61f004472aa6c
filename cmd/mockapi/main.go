package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/MarcoPoloResearchLab/mockapi/internal/app"
	"github.com/MarcoPoloResearchLab/mockapi/internal/auth"
	"github.com/MarcoPoloResearchLab/mockapi/internal/config"
	"github.com/MarcoPoloResearchLab/mockapi/internal/dispatch"
	"github.com/MarcoPoloResearchLab/mockapi/internal/logging"
	"github.com/MarcoPoloResearchLab/mockapi/internal/seed"
	"github.com/MarcoPoloResearchLab/mockapi/internal/server"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var (
	cfgFile string
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "mockapi",
		Short:         "In-process mock REST backend",
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
	}

	setupFlags(rootCmd)
	rootCmd.AddCommand(
		newServeCommand(),
		newSeedCommand(),
		newResetCommand(),
		newRequestCommand(),
		newTokenCommand(),
	)
	return rootCmd
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("base-url", defaults.GetString("mock.base_url"), "Mock host intercepted by the client")
	cmd.PersistentFlags().Duration("latency-min", defaults.GetDuration("latency.min"), "Minimum simulated latency")
	cmd.PersistentFlags().Duration("latency-max", defaults.GetDuration("latency.max"), "Maximum simulated latency")
	cmd.PersistentFlags().String("token-secret", defaults.GetString("token.secret"), "Token signing secret")
	cmd.PersistentFlags().Duration("token-ttl", defaults.GetDuration("token.ttl"), "Token lifetime")
	cmd.PersistentFlags().String("store-driver", defaults.GetString("store.driver"), "Storage driver (memory, sqlite, redis, file)")
	cmd.PersistentFlags().String("store-path", defaults.GetString("store.path"), "Storage path for the sqlite and file drivers")
	cmd.PersistentFlags().String("redis-address", defaults.GetString("redis.address"), "Redis address")
	cmd.PersistentFlags().Int("redis-db", defaults.GetInt("redis.db"), "Redis database index")
	cmd.PersistentFlags().String("seed-path", defaults.GetString("seed.path"), "Seed bundle applied at startup (embedded bundle when empty)")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("log-format", defaults.GetString("log.format"), "Log format (json, console)")

	bindFlag(cmd, "mock.base_url", "base-url")
	bindFlag(cmd, "latency.min", "latency-min")
	bindFlag(cmd, "latency.max", "latency-max")
	bindFlag(cmd, "token.secret", "token-secret")
	bindFlag(cmd, "token.ttl", "token-ttl")
	bindFlag(cmd, "store.driver", "store-driver")
	bindFlag(cmd, "store.path", "store-path")
	bindFlag(cmd, "redis.address", "redis-address")
	bindFlag(cmd, "redis.db", "redis-db")
	bindFlag(cmd, "seed.path", "seed-path")
	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "log.format", "log-format")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

// runEnv bundles the loaded configuration with its logger.
type runEnv struct {
	config config.AppConfig
	logger *zap.Logger
}

func loadRuntime() (runEnv, error) {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return runEnv{}, err
	}
	logger, err := logging.NewLogger(appConfig.LogLevel, appConfig.LogFormat)
	if err != nil {
		return runEnv{}, err
	}
	return runEnv{config: appConfig, logger: logger}, nil
}

func withApp(ctx context.Context, opts app.Options, fn func(runEnv, *app.App) error) error {
	rt, err := loadRuntime()
	if err != nil {
		return err
	}
	defer rt.logger.Sync() //nolint:errcheck

	opts.Logger = rt.logger
	assembled, err := app.New(ctx, rt.config, opts)
	if err != nil {
		return err
	}
	defer assembled.Close()

	return fn(rt, assembled)
}

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the mock backend over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), app.Options{}, runServer)
		},
	}
}

func runServer(rt runEnv, assembled *app.App) error {
	handler, err := server.NewHTTPHandler(server.Dependencies{
		Dispatcher: assembled.Dispatcher,
		Feed:       assembled.Feed,
		Logger:     rt.logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              rt.config.HTTPAddress,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	signalCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		rt.logger.Info("server starting",
			zap.String("address", rt.config.HTTPAddress),
			zap.String("store_driver", rt.config.StoreDriver))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func newSeedCommand() *cobra.Command {
	var (
		file   string
		asUser bool
	)
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Apply a seed bundle to the configured store",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), app.Options{}, func(rt runEnv, assembled *app.App) error {
				bundle, err := app.LoadBundle(file)
				if err != nil {
					return err
				}
				if err := seed.Apply(cmd.Context(), bundle, assembled.Store, assembled.Registry, asUser); err != nil {
					return err
				}
				names, err := assembled.Store.EnumerateNames(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "collections: %s\n", strings.Join(names, ", "))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "Seed bundle (YAML or JSON); embedded bundle when empty")
	cmd.Flags().BoolVar(&asUser, "user", false, "Seed as user data, shadowing defaults and replacing rules")
	return cmd
}

func newResetCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Drop user data so defaults are visible again",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), app.Options{SkipSeed: true}, func(rt runEnv, assembled *app.App) error {
				names, err := assembled.Dispatcher.Reset(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "reset %d collection(s)\n", len(names))
				return nil
			})
		},
	}
}

func newRequestCommand() *cobra.Command {
	var (
		data  string
		token string
	)
	cmd := &cobra.Command{
		Use:   "request METHOD URL",
		Short: "Send a request through the intercepting client and print the response",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), app.Options{}, func(rt runEnv, assembled *app.App) error {
				client, err := dispatch.NewClient(assembled.Dispatcher)
				if err != nil {
					return err
				}
				target := args[1]
				if strings.HasPrefix(target, "/") {
					target = assembled.Dispatcher.BaseURL() + target
				}
				var body io.Reader = http.NoBody
				if data != "" {
					body = bytes.NewBufferString(data)
				}
				request, err := http.NewRequestWithContext(cmd.Context(), strings.ToUpper(args[0]), target, body)
				if err != nil {
					return err
				}
				request.Header.Set(dispatch.HeaderContentType, "application/json")
				if token != "" {
					request.Header.Set(dispatch.HeaderAuthorization, "Bearer "+auth.StripScheme(token))
				}
				response, err := client.Do(request)
				if err != nil {
					return err
				}
				defer response.Body.Close()
				payload, err := io.ReadAll(response.Body)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintln(out, response.Status)
				if total := response.Header.Get(dispatch.HeaderTotalCount); total != "" {
					fmt.Fprintf(out, "%s: %s\n", dispatch.HeaderTotalCount, total)
				}
				fmt.Fprintln(out, string(payload))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&data, "data", "", "JSON request body")
	cmd.Flags().StringVar(&token, "token", "", "Bearer token")
	return cmd
}

func newTokenCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "token USER_ID",
		Short: "Issue a bearer token for a user id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid user id %q: %w", args[0], err)
			}
			rt, err := loadRuntime()
			if err != nil {
				return err
			}
			tokens, err := auth.NewTokenService(auth.TokenServiceConfig{
				SigningSecret: []byte(rt.config.TokenSecret),
				TokenTTL:      rt.config.TokenTTL,
			})
			if err != nil {
				return err
			}
			token, err := tokens.Issue(auth.UserID(userID))
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
}
