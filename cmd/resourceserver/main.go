// Command resourceserver is a protected API that validates bearer tokens by
// calling the authorization server's introspection endpoint.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"

	oauth "github.com/giantswarm/mcp-authserver"
	"github.com/giantswarm/mcp-authserver/internal/config"
	"github.com/giantswarm/mcp-authserver/internal/logging"
	"github.com/giantswarm/mcp-authserver/introspection"
)

var version = "dev"

type serveOptions struct {
	addr               string
	authServerURL      string
	introspectionToken string
	clientID           string
	clientSecret       string
	requiredScopes     []string
	timeout            time.Duration
	logLevel           string
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "resourceserver",
		Short:         "Resource server protected by token introspection",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	opts := serveOptions{}
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the resource server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), opts)
		},
	}
	flags := serveCmd.Flags()
	flags.StringVar(&opts.addr, "addr", ":8001", "listen address")
	flags.StringVar(&opts.authServerURL, "auth-server-url", "http://localhost:9000", "base URL of the authorization server")
	flags.StringVar(&opts.introspectionToken, "introspection-token", os.Getenv("INTROSPECTION_TOKEN"), "bearer token presented at the introspection endpoint")
	flags.StringVar(&opts.clientID, "client-id", "", "confidential client id used for introspection (HTTP Basic)")
	flags.StringVar(&opts.clientSecret, "client-secret", os.Getenv("INTROSPECTION_CLIENT_SECRET"), "confidential client secret used for introspection")
	flags.StringSliceVar(&opts.requiredScopes, "required-scope", nil, "scope every request must carry (repeatable)")
	flags.DurationVar(&opts.timeout, "introspection-timeout", introspection.DefaultTimeout, "timeout for a single introspection call")
	flags.StringVar(&opts.logLevel, "log-level", "info", "log level: debug, info, warn, error")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print the version number of resourceserver",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "resourceserver version %s\n", version)
		},
	}

	rootCmd.AddCommand(serveCmd, versionCmd)
	return rootCmd
}

func runServe(ctx context.Context, opts serveOptions) error {
	logger, flush, err := logging.New(config.LoggerConfig{Level: opts.logLevel, Format: "json", Output: "stdout"})
	if err != nil {
		return err
	}
	defer flush()

	client, err := introspection.NewClient(introspection.ClientConfig{
		Endpoint:     strings.TrimSuffix(opts.authServerURL, "/") + oauth.PathIntrospect,
		ClientID:     opts.clientID,
		ClientSecret: opts.clientSecret,
		BearerToken:  opts.introspectionToken,
		Timeout:      opts.timeout,
		Logger:       logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create introspection client: %w", err)
	}

	httpServer := &http.Server{
		Addr:              opts.addr,
		Handler:           otelhttp.NewHandler(newResourceHandler(client, logger, time.Now, opts.requiredScopes...), "resourceserver"),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("Resource server listening", "addr", opts.addr, "auth_server", opts.authServerURL)
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
