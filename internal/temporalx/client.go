package temporalx

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"time"

	"go.temporal.io/api/serviceerror"
	"go.temporal.io/api/workflowservice/v1"
	temporalsdkclient "go.temporal.io/sdk/client"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/durationpb"

	"github.com/yungbote/docingest-backend/internal/platform/logger"
)

const namespaceEnsureTimeout = 10 * time.Second

// NewClient connects to the ingest cluster. A nil client with a nil error means the scheduler
// is switched off and the caller should fall back to the in-process loop.
func NewClient(log *logger.Logger, cfg Config) (temporalsdkclient.Client, error) {
	if !cfg.Enabled() {
		log.Info("temporal scheduler off; TEMPORAL_ADDRESS empty")
		return nil, nil
	}
	opts, err := clientOptions(log, cfg, cfg.Namespace)
	if err != nil {
		return nil, err
	}

	var c temporalsdkclient.Client
	attempts := 0
	dial := func() error {
		attempts++
		ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
		defer cancel()
		var derr error
		c, derr = temporalsdkclient.DialContext(ctx, opts)
		return derr
	}
	if err := withRetry(log, cfg, time.Now().Add(cfg.DialMaxWait), "dial", dial, func(error) bool { return true }); err != nil {
		return nil, fmt.Errorf("temporal dial %s/%s: %w", cfg.Address, cfg.Namespace, err)
	}
	log.Info("temporal connected", "address", cfg.Address, "namespace", cfg.Namespace, "attempts", attempts)

	if cfg.AutoRegisterNamespace {
		if err := EnsureNamespace(context.Background(), log, cfg); err != nil {
			c.Close()
			return nil, err
		}
	}
	return c, nil
}

// EnsureNamespace creates the namespace on a self-hosted cluster when it is missing.
func EnsureNamespace(ctx context.Context, log *logger.Logger, cfg Config) error {
	if !cfg.Enabled() || cfg.Namespace == "" {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, namespaceEnsureTimeout)
	defer cancel()

	// Namespace operations must not carry a namespace header.
	opts, err := clientOptions(log, cfg, "")
	if err != nil {
		return err
	}
	ns, err := temporalsdkclient.NewNamespaceClient(opts)
	if err != nil {
		return fmt.Errorf("temporal namespace client: %w", err)
	}
	defer ns.Close()

	deadline, _ := ctx.Deadline()
	err = withRetry(log, cfg, deadline, "namespace", func() error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return registerIfMissing(ctx, ns, cfg)
	}, isRetryableRPC)
	if err != nil {
		return fmt.Errorf("temporal namespace %s: %w", cfg.Namespace, err)
	}
	return nil
}

func registerIfMissing(ctx context.Context, ns temporalsdkclient.NamespaceClient, cfg Config) error {
	_, err := ns.Describe(ctx, cfg.Namespace)
	var notFound *serviceerror.NamespaceNotFound
	if err == nil || !errors.As(err, &notFound) {
		return err
	}
	err = ns.Register(ctx, &workflowservice.RegisterNamespaceRequest{
		Namespace:                        cfg.Namespace,
		Description:                      "document ingest cycles",
		WorkflowExecutionRetentionPeriod: durationpb.New(time.Duration(retentionDays(cfg.RetentionDays)) * 24 * time.Hour),
	})
	var exists *serviceerror.NamespaceAlreadyExists
	if errors.As(err, &exists) {
		return nil
	}
	return err
}

func retentionDays(d int) int {
	if d < 1 || d > 365 {
		return 7
	}
	return d
}

func clientOptions(log *logger.Logger, cfg Config, namespace string) (temporalsdkclient.Options, error) {
	opts := temporalsdkclient.Options{HostPort: cfg.Address, Namespace: namespace, Logger: log}
	if !cfg.mTLS() {
		return opts, nil
	}
	tlsCfg, err := loadTLSConfig(cfg)
	if err != nil {
		return opts, err
	}
	opts.ConnectionOptions.TLS = tlsCfg
	return opts, nil
}

// withRetry runs op until it succeeds, returns a non-retryable error, or the deadline passes.
// A zero deadline allows a single attempt.
func withRetry(log *logger.Logger, cfg Config, deadline time.Time, what string, op func() error, retryable func(error) bool) error {
	for attempt := 1; ; attempt++ {
		err := op()
		if err == nil {
			return nil
		}
		if !retryable(err) || deadline.IsZero() || time.Now().After(deadline) {
			return err
		}
		log.Warn("temporal retrying", "op", what, "address", cfg.Address, "attempt", attempt, "error", err)
		time.Sleep(clampBackoff(cfg.Backoff, cfg.BackoffMax, attempt))
	}
}

func loadTLSConfig(cfg Config) (*tls.Config, error) {
	if cfg.ClientCertPath == "" || cfg.ClientKeyPath == "" {
		return nil, errors.New("temporal tls: TEMPORAL_CLIENT_CERT_PATH and TEMPORAL_CLIENT_KEY_PATH must be set together")
	}
	pair, err := tls.LoadX509KeyPair(cfg.ClientCertPath, cfg.ClientKeyPath)
	if err != nil {
		return nil, fmt.Errorf("temporal tls: %w", err)
	}
	out := &tls.Config{MinVersion: tls.VersionTLS12, Certificates: []tls.Certificate{pair}}
	if cfg.ClientCAPath == "" {
		return out, nil
	}
	caPEM, err := os.ReadFile(cfg.ClientCAPath)
	if err != nil {
		return nil, fmt.Errorf("temporal tls: %w", err)
	}
	roots := x509.NewCertPool()
	if !roots.AppendCertsFromPEM(caPEM) {
		return nil, fmt.Errorf("temporal tls: no certificates in %s", cfg.ClientCAPath)
	}
	out.RootCAs = roots
	return out, nil
}

func clampBackoff(base, ceiling time.Duration, attempt int) time.Duration {
	if base <= 0 {
		base = 250 * time.Millisecond
	}
	d := base << min(attempt-1, 20)
	if ceiling > 0 && d > ceiling {
		return ceiling
	}
	return d
}

func isRetryableRPC(err error) bool {
	if err == nil {
		return false
	}
	if s, ok := status.FromError(err); ok {
		c := s.Code()
		return c == codes.Unavailable || c == codes.DeadlineExceeded || c == codes.ResourceExhausted
	}
	return errors.Is(err, context.DeadlineExceeded)
}
