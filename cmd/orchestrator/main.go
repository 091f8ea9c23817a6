package main

import (
	"context"
	"fmt"
	"log"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ahmadhassan44/stream-orchestrator/internal/executor"
	"github.com/ahmadhassan44/stream-orchestrator/internal/orchestrator"
	"github.com/ahmadhassan44/stream-orchestrator/internal/transport"
	"github.com/ahmadhassan44/stream-orchestrator/pkg/config"
)

type runFlags struct {
	datastreamDir        string
	trainingURI          string
	testURI              string
	recommendationTarget string
	keepInfra            bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cfg := config.LoadConfig()
	flags := &runFlags{}

	root := &cobra.Command{
		Use:   "orchestrator",
		Short: "Drive a computing environment through training and testing",
	}

	run := &cobra.Command{
		Use:          "run",
		Short:        "Bootstrap, train, test and wait for the recommendation managers",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runOrchestrator(ctx, cfg, flags)
		},
	}

	f := run.Flags()
	f.StringVar(&flags.datastreamDir, "datastreammanager", ".", "datastream manager directory holding "+config.DatastreamConfigFile)
	f.StringVar(&flags.trainingURI, "training-uri", "", "uri of the training data")
	f.StringVar(&flags.testURI, "test-uri", "", "uri of the test data")
	f.StringVar(&flags.recommendationTarget, "recommendation-target", "", "where recommendation managers deliver recommendations (path or kafka:<topic>)")
	f.BoolVar(&flags.keepInfra, "keep-infra", false, "leave containers running after the run")
	f.IntVar(&cfg.Workers, "workers", cfg.Workers, "number of concurrently running recommendation managers")
	f.DurationVar(&cfg.CompEnvStartup, "startup-timeout", cfg.CompEnvStartup, "time the computing environment has to answer HELLO")
	f.StringVar(&cfg.CompEnvAddress, "comp-env-address", cfg.CompEnvAddress, "request address of the computing environment")
	f.IntVar(&cfg.OrchestratorPort, "port", cfg.OrchestratorPort, "port recommendation managers report to")
	f.IntVar(&cfg.StatusPort, "status-port", cfg.StatusPort, "status HTTP port, 0 disables it")
	for _, name := range []string{"training-uri", "test-uri", "recommendation-target"} {
		run.MarkFlagRequired(name)
	}

	root.AddCommand(run)
	return root
}

func runOrchestrator(ctx context.Context, cfg *config.Config, flags *runFlags) error {
	log.Println("Starting Stream Orchestrator")
	log.Println("========================================")
	log.Printf("[Config] Computing environment: %s (startup %s)", cfg.CompEnvAddress, cfg.CompEnvStartup)
	log.Printf("[Config] Recommendation managers: %d", cfg.Workers)
	log.Printf("[Config] Report port: %d", cfg.OrchestratorPort)

	endpoints, err := config.ReadEndpoints(flags.datastreamDir)
	if err != nil {
		return err
	}
	log.Printf("[Config] Zookeeper: %s", endpoints.ZookeeperHostPort())

	compEnvPort, err := portOf(cfg.CompEnvAddress)
	if err != nil {
		return err
	}

	run := orchestrator.NewRun()
	docker, err := executor.NewDocker(executor.Options{
		RunID:           run.ID[:8],
		DatastreamImage: cfg.DatastreamImage,
		CompEnvImage:    cfg.CompEnvImage,
		WorkerImage:     cfg.WorkerImage,
		ZookeeperPort:   endpoints.ZookeeperPort(),
		CompEnvPort:     compEnvPort,
		DeliveryPort:    cfg.DeliveryPort,
		FlumeConfigDir:  cfg.FlumeConfigDir,
	})
	if err != nil {
		return fmt.Errorf("executor initialization failed: %w", err)
	}
	if err := docker.CheckConnectivity(ctx); err != nil {
		return err
	}
	if !flags.keepInfra {
		defer func() {
			cleanupCtx, cancel := context.WithTimeout(context.Background(), time.Minute)
			defer cancel()
			docker.Close(cleanupCtx)
		}()
	}

	reports, err := transport.ListenReplier(fmt.Sprintf("tcp://*:%d", cfg.OrchestratorPort))
	if err != nil {
		return err
	}

	dial := func(ctx context.Context) (transport.RequestChannel, error) {
		return transport.DialRequester(ctx, cfg.CompEnvAddress, time.Second)
	}
	coordinator := orchestrator.NewCoordinator(reports, cfg.WorkerPrefix,
		orchestrator.ContainerWorkers(docker, orchestrator.WorkerSettings{
			ConfigDir:        cfg.FlumeConfigDir,
			LogDir:           cfg.FlumeLogDir,
			OrchestratorPort: cfg.OrchestratorPort,
			IntakeBasePort:   cfg.WorkerIntakePort,
			DeliveryPort:     cfg.DeliveryPort,
		}))

	seq := orchestrator.NewSequencer(orchestrator.Options{
		TrainingURI:          flags.trainingURI,
		TestURI:              flags.testURI,
		RecommendationTarget: flags.recommendationTarget,
		Workers:              cfg.Workers,
		Topic:                cfg.DataTopic,
		StartupTimeout:       cfg.CompEnvStartup,
		FlumeConfigDir:       cfg.FlumeConfigDir,
		FlumeLogDir:          cfg.FlumeLogDir,
	}, docker, endpoints, dial, coordinator, reports).WithRun(run)
	defer seq.Close()

	if cfg.StatusPort > 0 {
		server := orchestrator.NewServer(seq, cfg.StatusPort)
		if _, err := server.Start(); err != nil {
			log.Printf("[WARNING] Status server disabled: %v", err)
		} else {
			defer server.Shutdown(context.Background())
		}
	}

	if err := seq.Execute(ctx); err != nil {
		log.Printf("[FATAL] %v", err)
		return err
	}
	log.Println("========================================")
	return nil
}

// portOf extracts the port of a "tcp://host:port" address.
func portOf(address string) (int, error) {
	u, err := url.Parse(address)
	if err != nil {
		return 0, fmt.Errorf("invalid address %q: %w", address, err)
	}
	port, err := strconv.Atoi(u.Port())
	if err != nil {
		return 0, fmt.Errorf("invalid port in %q", address)
	}
	return port, nil
}
