// Command demo evaluates one flag through the LaunchDarkly OpenFeature provider
// and optionally keeps running to report provider events.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	ld "github.com/launchdarkly/go-server-sdk/v7"
	"github.com/open-feature/go-sdk/openfeature"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/ldopenfeature/openfeature-provider/go/launchdarkly"
	"github.com/ldopenfeature/openfeature-provider/go/launchdarkly/internal/config"
	"github.com/ldopenfeature/openfeature-provider/go/launchdarkly/internal/logging"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand(os.Stdout).ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// result is the JSON document printed for an evaluation
type result struct {
	Flag      string      `json:"flag"`
	Type      string      `json:"type"`
	Value     interface{} `json:"value"`
	Variant   string      `json:"variant,omitempty"`
	Reason    string      `json:"reason"`
	ErrorCode string      `json:"error_code,omitempty"`
}

func newRootCommand(stdout io.Writer) *cobra.Command {
	var watch time.Duration

	cmd := &cobra.Command{
		Use:          "demo",
		Short:        "Evaluate a LaunchDarkly flag through OpenFeature",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cmd.Flags())
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			return run(cmd.Context(), cfg, watch, stdout)
		},
	}

	config.RegisterFlags(cmd.Flags())
	cmd.Flags().DurationVar(&watch, "watch", 0, "keep running and log provider events for this long")

	return cmd
}

func run(ctx context.Context, cfg *config.Config, watch time.Duration, stdout io.Writer) error {
	logger := logging.New(cfg.LogLevel, cfg.LogFormat)

	registry := prometheus.NewRegistry()
	if cfg.MetricsAddr != "" {
		srv := serveMetrics(cfg.MetricsAddr, registry, logger)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	provider, err := launchdarkly.NewProvider(ctx, launchdarkly.ProviderConfig{
		SDKKey:            cfg.SDKKey,
		LDConfig:          ld.Config{Offline: cfg.Offline},
		Logger:            logger,
		InitTimeout:       cfg.InitTimeout,
		MetricsRegisterer: registry,
	})
	if err != nil {
		return fmt.Errorf("failed to create provider: %w", err)
	}

	for _, eventType := range []openfeature.EventType{
		openfeature.ProviderReady,
		openfeature.ProviderError,
		openfeature.ProviderStale,
		openfeature.ProviderConfigChange,
	} {
		openfeature.AddHandler(eventType, eventLogger(logger, eventType))
	}

	if err := openfeature.SetProviderAndWait(provider); err != nil {
		return fmt.Errorf("failed to register provider: %w", err)
	}
	defer openfeature.Shutdown()

	client := openfeature.NewClient("launchdarkly-demo")
	evalCtx := evaluationContext(cfg)

	res, err := evaluate(ctx, client, cfg, evalCtx)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(res); err != nil {
		return fmt.Errorf("failed to write result: %w", err)
	}

	if watch > 0 {
		logger.Info("Watching provider events", "duration", watch)
		select {
		case <-ctx.Done():
		case <-time.After(watch):
		}
	}
	return nil
}

func evaluationContext(cfg *config.Config) openfeature.EvaluationContext {
	attributes := map[string]interface{}{}
	if cfg.ContextKind != "" {
		attributes["kind"] = cfg.ContextKind
	}
	return openfeature.NewEvaluationContext(cfg.ContextKey, attributes)
}

// evaluate runs the evaluation matching cfg.FlagType. Evaluation errors are
// reported in the result, only an unparsable default is returned as an error.
func evaluate(ctx context.Context, client *openfeature.Client, cfg *config.Config, evalCtx openfeature.EvaluationContext) (result, error) {
	res := result{Flag: cfg.Flag, Type: cfg.FlagType}

	var details openfeature.EvaluationDetails
	switch cfg.FlagType {
	case "boolean":
		def, err := parseDefault(cfg.Default, strconv.ParseBool)
		if err != nil {
			return res, err
		}
		d, _ := client.BooleanValueDetails(ctx, cfg.Flag, def, evalCtx)
		res.Value, details = d.Value, d.EvaluationDetails
	case "string":
		d, _ := client.StringValueDetails(ctx, cfg.Flag, cfg.Default, evalCtx)
		res.Value, details = d.Value, d.EvaluationDetails
	case "int":
		def, err := parseDefault(cfg.Default, func(s string) (int64, error) { return strconv.ParseInt(s, 10, 64) })
		if err != nil {
			return res, err
		}
		d, _ := client.IntValueDetails(ctx, cfg.Flag, def, evalCtx)
		res.Value, details = d.Value, d.EvaluationDetails
	case "float":
		def, err := parseDefault(cfg.Default, func(s string) (float64, error) { return strconv.ParseFloat(s, 64) })
		if err != nil {
			return res, err
		}
		d, _ := client.FloatValueDetails(ctx, cfg.Flag, def, evalCtx)
		res.Value, details = d.Value, d.EvaluationDetails
	case "object":
		def, err := parseDefault(cfg.Default, func(s string) (interface{}, error) {
			var v interface{}
			err := json.Unmarshal([]byte(s), &v)
			return v, err
		})
		if err != nil {
			return res, err
		}
		d, _ := client.ObjectValueDetails(ctx, cfg.Flag, def, evalCtx)
		res.Value, details = d.Value, d.EvaluationDetails
	default:
		return res, fmt.Errorf("unsupported flag type %q", cfg.FlagType)
	}

	res.Variant = details.Variant
	res.Reason = string(details.Reason)
	res.ErrorCode = string(details.ErrorCode)
	return res, nil
}

func parseDefault[T any](raw string, parse func(string) (T, error)) (T, error) {
	var zero T
	if raw == "" {
		return zero, nil
	}
	v, err := parse(raw)
	if err != nil {
		return zero, fmt.Errorf("invalid default value %q: %w", raw, err)
	}
	return v, nil
}

func eventLogger(logger *slog.Logger, eventType openfeature.EventType) openfeature.EventCallback {
	callback := func(details openfeature.EventDetails) {
		logger.Info("Provider event",
			"event", string(eventType),
			"provider", details.ProviderName,
			"message", details.Message,
			"flags", details.FlagChanges,
		)
	}
	return &callback
}

func serveMetrics(addr string, registry *prometheus.Registry, logger *slog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Metrics server failed", "error", err)
		}
	}()
	logger.Info("Serving metrics", "addr", addr)
	return srv
}
