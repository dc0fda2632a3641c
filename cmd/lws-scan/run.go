package main

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/Abdullah1738/lws-scan/internal/api"
	"github.com/Abdullah1738/lws-scan/internal/broker"
	"github.com/Abdullah1738/lws-scan/internal/config"
	"github.com/Abdullah1738/lws-scan/internal/daemon"
	"github.com/Abdullah1738/lws-scan/internal/metrics"
	"github.com/Abdullah1738/lws-scan/internal/publisher"
	"github.com/Abdullah1738/lws-scan/internal/scanner"
	"github.com/Abdullah1738/lws-scan/internal/zmq"
	"github.com/hashicorp/go-multierror"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func runCommand(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Scan the chain for registered accounts and serve the REST API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := cfg.Validate(); err != nil {
				return err
			}
			e, err := open(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			return serve(cmd.Context(), e)
		},
	}
	cfg.BindRun(cmd.Flags())
	return cmd
}

// serve runs every component until ctx is done or one of them fails, then
// shuts the rest down and reports all errors together.
func serve(ctx context.Context, e *env) (err error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	cfg := e.cfg
	log := e.log

	var (
		mu     sync.Mutex
		result *multierror.Error
	)
	record := func(component string, err error) {
		if err == nil {
			return
		}
		log.Error("component failed", zap.String("component", component), zap.Error(err))
		mu.Lock()
		result = multierror.Append(result, err)
		mu.Unlock()
		cancel()
	}
	defer func() {
		record("store", e.close())
		err = result.ErrorOrNil()
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	genesis, gerr := daemon.Genesis(e.network)
	if gerr != nil {
		record("daemon", gerr)
		return
	}
	node, nerr := daemon.NewZMQClient(daemon.Config{
		RequestConfig: zmq.RequestConfig{
			Endpoint:     cfg.DaemonRPC,
			ReadTimeout:  cfg.DaemonTimeout,
			WriteTimeout: cfg.DaemonTimeout,
		},
		Genesis: genesis,
	})
	if nerr != nil {
		record("daemon", nerr)
		return
	}
	defer func() { record("daemon", node.Close()) }()

	var notify chan struct{}
	if cfg.DaemonSub != "" {
		notify = make(chan struct{}, 1)
	}
	sc, serr := scanner.New(e.st, node, scanner.Config{
		Network:       e.network,
		Workers:       cfg.Workers,
		BatchSize:     cfg.BatchSize,
		PollInterval:  cfg.PollInterval,
		AutoAccept:    cfg.AutoAccept,
		Notify:        notify,
		MaxReorgDepth: cfg.MaxReorgDepth,
	}, log.Named("scanner"), metrics.NewScanner(reg))
	if serr != nil {
		record("scanner", serr)
		return
	}

	srv, aerr := api.New(e.st, e.network,
		api.WithLogger(log.Named("api")),
		api.WithBearerToken(cfg.APIToken),
		api.WithMetrics(metrics.NewAPI(reg), reg),
		api.WithFeePerKB(cfg.FeePerKB),
	)
	if aerr != nil {
		record("api", aerr)
		return
	}
	httpSrv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	br, berr := broker.Open(ctx, broker.Config{Driver: cfg.BrokerDriver, URL: cfg.BrokerURL, Topic: cfg.BrokerTopic})
	if berr != nil {
		record("broker", berr)
		return
	}
	var pub *publisher.Publisher
	if br != nil {
		defer func() { record("broker", br.Close()) }()
		p, perr := publisher.New(e.st, br, publisher.Config{
			Network:      e.network,
			PollInterval: cfg.BrokerPollInterval,
			BatchSize:    cfg.BrokerBatchSize,
		}, log.Named("publisher"))
		if perr != nil {
			record("publisher", perr)
			return
		}
		pub = p
	}

	var wg sync.WaitGroup
	goRun := func(component string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			record(component, fn(ctx))
		}()
	}

	if notify != nil {
		goRun("notify", func(ctx context.Context) error {
			return zmq.Notify(ctx, zmq.NotifyConfig{Endpoint: cfg.DaemonSub}, notify, log.Named("notify"))
		})
	}
	goRun("scanner", sc.Run)
	if pub != nil {
		goRun("publisher", pub.Run)
	}
	goRun("http", func(ctx context.Context) error {
		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = httpSrv.Shutdown(shutdownCtx)
		}()
		log.Info("listening", zap.String("addr", cfg.ListenAddr), zap.Bool("tls", cfg.TLS()))
		var err error
		if cfg.TLS() {
			err = httpSrv.ListenAndServeTLS(cfg.TLSCert, cfg.TLSKey)
		} else {
			err = httpSrv.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})

	<-ctx.Done()
	wg.Wait()
	log.Info("stopped")
	return
}
