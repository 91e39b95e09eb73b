// Package serve provides the command to run the resolution HTTP server.
package serve

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/apereo/persondir/cmd"
	"github.com/apereo/persondir/cmd/util"
	"github.com/apereo/persondir/internal/build"
	"github.com/apereo/persondir/pkg/logger"
	"github.com/apereo/persondir/pkg/server"
	"github.com/apereo/persondir/pkg/telemetry"
)

const (
	httpAddrFlag           = "http-addr"
	httpCORSAllowedOrigins = "http-cors-allowed-origins"
	httpCORSAllowedHeaders = "http-cors-allowed-headers"
	logFormatFlag          = "log-format"
	logLevelFlag           = "log-level"
	metricsEnabledFlag     = "metrics-enabled"
	traceEnabledFlag       = "trace-enabled"
	traceOTLPEndpointFlag  = "trace-otlp-endpoint"
	traceSampleRatioFlag   = "trace-sample-ratio"
	traceServiceNameFlag   = "trace-service-name"
)

// NewServeCommand returns the command that serves resolution requests over
// HTTP until interrupted.
func NewServeCommand() *cobra.Command {
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve person attribute resolution over HTTP",
		Long:  "Serve the resolution API over HTTP against the sources listed in the configuration file.",
		RunE:  runServe,
		Args:  cobra.NoArgs,
		PreRun: func(cmd *cobra.Command, args []string) {
			flags := cmd.Flags()

			util.MustBindPFlag(httpAddrFlag, flags.Lookup(httpAddrFlag))
			util.MustBindPFlag(httpCORSAllowedOrigins, flags.Lookup(httpCORSAllowedOrigins))
			util.MustBindPFlag(httpCORSAllowedHeaders, flags.Lookup(httpCORSAllowedHeaders))
			util.MustBindPFlag(logFormatFlag, flags.Lookup(logFormatFlag))
			util.MustBindPFlag(logLevelFlag, flags.Lookup(logLevelFlag))
			util.MustBindPFlag(metricsEnabledFlag, flags.Lookup(metricsEnabledFlag))
			util.MustBindPFlag(traceEnabledFlag, flags.Lookup(traceEnabledFlag))
			util.MustBindPFlag(traceOTLPEndpointFlag, flags.Lookup(traceOTLPEndpointFlag))
			util.MustBindPFlag(traceSampleRatioFlag, flags.Lookup(traceSampleRatioFlag))
			util.MustBindPFlag(traceServiceNameFlag, flags.Lookup(traceServiceNameFlag))
		},
	}

	flags := serveCmd.Flags()

	flags.String(httpAddrFlag, ":8080", "the host:port address to serve the HTTP server on")

	flags.StringSlice(httpCORSAllowedOrigins, []string{"*"}, "specifies the CORS allowed origins")

	flags.StringSlice(httpCORSAllowedHeaders, []string{"*"}, "specifies the CORS allowed headers")

	flags.String(logFormatFlag, "json", "the log format to output logs in")

	flags.String(logLevelFlag, "info", "the log level to use")

	flags.Bool(metricsEnabledFlag, false, "enable/disable prometheus metrics on the '/metrics' endpoint")

	flags.Bool(traceEnabledFlag, false, "enable tracing")

	flags.String(traceOTLPEndpointFlag, "0.0.0.0:4317", "the endpoint of the trace collector")

	flags.Float64(traceSampleRatioFlag, 0.2, "the fraction of traces to sample. 1 means all, 0 means none.")

	flags.String(traceServiceNameFlag, build.ProjectName, "the service name included in sampled traces")

	// NOTE: if you add a new flag here, add the binding in PreRun

	return serveCmd
}

func runServe(command *cobra.Command, _ []string) error {
	log := logger.MustNewLogger(viper.GetString(logFormatFlag), viper.GetString(logLevelFlag))

	tracerProviderCloser := telemetryConfig(log)

	composite, closeSources, err := cmd.BuildComposite(log)
	if err != nil {
		return err
	}
	defer closeSources()

	opts := []server.ServerOption{
		server.WithAddr(viper.GetString(httpAddrFlag)),
		server.WithCORSAllowedOrigins(viper.GetStringSlice(httpCORSAllowedOrigins)),
		server.WithCORSAllowedHeaders(viper.GetStringSlice(httpCORSAllowedHeaders)),
		server.WithLogger(log),
	}
	if viper.GetBool(metricsEnabledFlag) {
		opts = append(opts, server.WithMetrics())
	}
	if viper.GetBool(traceEnabledFlag) {
		opts = append(opts, server.WithTracing())
	}

	srv, err := server.New(composite, server.NewConfig(opts...))
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(command.Context(), os.Interrupt, os.Kill, syscall.SIGTERM)
	defer stop()

	if err := srv.Run(ctx); err != nil {
		return err
	}

	if err := tracerProviderCloser(); err != nil {
		log.Error("failed to shutdown tracing", zap.Error(err))
	}

	log.Info("server exited. goodbye 👋")

	return nil
}

// telemetryConfig returns the function that must be called to shut down tracing.
func telemetryConfig(log logger.Logger) func() error {
	if viper.GetBool(traceEnabledFlag) {
		log.Info(fmt.Sprintf("🕵 tracing enabled: sampling ratio is %v and sending traces to '%s'",
			viper.GetFloat64(traceSampleRatioFlag), viper.GetString(traceOTLPEndpointFlag)))

		tp := telemetry.MustNewTracerProvider(
			telemetry.WithOTLPEndpoint(viper.GetString(traceOTLPEndpointFlag)),
			telemetry.WithServiceName(viper.GetString(traceServiceNameFlag)),
			telemetry.WithSamplingRatio(viper.GetFloat64(traceSampleRatioFlag)),
		)
		return func() error {
			// flushing can take up to 5 seconds to complete
			ctx, cancel := context.WithTimeout(context.Background(), 6*time.Second)
			defer cancel()
			return errors.Join(tp.ForceFlush(ctx), tp.Shutdown(ctx))
		}
	}
	otel.SetTracerProvider(noop.NewTracerProvider())
	return func() error {
		return nil
	}
}
