package launchdarkly

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	ld "github.com/launchdarkly/go-server-sdk/v7"
	"github.com/launchdarkly/go-server-sdk/v7/ldcomponents"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/ldopenfeature/openfeature-provider/go/launchdarkly/internal/logging"
	"github.com/ldopenfeature/openfeature-provider/go/launchdarkly/internal/metrics"
)

// InitTimeoutEnv overrides ProviderConfig.InitTimeout when the config leaves it zero
const InitTimeoutEnv = "LAUNCHDARKLY_OPENFEATURE_INIT_TIMEOUT_SECONDS"

type ProviderConfig struct {
	// SDKKey is the LaunchDarkly server-side SDK key. Required unless Backend
	// is set or the client is offline.
	SDKKey string
	// LDConfig is passed to the LaunchDarkly client. When its Logging is unset
	// the client logs through Logger.
	LDConfig ld.Config
	// Backend replaces the LaunchDarkly client, mainly for tests.
	Backend Backend
	Logger  *slog.Logger
	// InitTimeout bounds Init. Zero waits until the client settles.
	InitTimeout time.Duration
	// MetricsRegisterer receives the provider collectors when non-nil.
	MetricsRegisterer prometheus.Registerer
}

// NewProvider creates a provider. The LaunchDarkly client is started here but
// Init is what waits for it.
func NewProvider(ctx context.Context, config ProviderConfig) (*Provider, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if config.Backend == nil && config.SDKKey == "" && !config.LDConfig.Offline {
		return nil, fmt.Errorf("SDKKey is required unless LDConfig.Offline is set")
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		}))
	}

	m, err := metrics.New(config.MetricsRegisterer)
	if err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}

	backend := config.Backend
	if backend == nil {
		ldConfig := config.LDConfig
		if ldConfig.Logging == nil {
			ldConfig.Logging = ldcomponents.Logging().Loggers(logging.LDLoggers(logger))
		}

		// a zero wait returns at once; Init does the waiting
		client, err := ld.MakeCustomClient(config.SDKKey, ldConfig, 0)
		if err != nil && client == nil {
			return nil, fmt.Errorf("failed to create LaunchDarkly client: %w", err)
		}
		backend = newLDBackend(client)
	}

	initTimeout := config.InitTimeout
	if initTimeout == 0 {
		initTimeout = getInitTimeout()
	}

	return newProvider(backend, logger, m, initTimeout), nil
}

// getInitTimeout gets the init timeout from environment or returns zero
func getInitTimeout() time.Duration {
	if envVal := os.Getenv(InitTimeoutEnv); envVal != "" {
		if seconds, err := strconv.ParseInt(envVal, 10, 64); err == nil && seconds > 0 {
			return time.Duration(seconds) * time.Second
		}
	}
	return 0
}
