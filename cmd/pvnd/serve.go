package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethan-vanderheijden/pvn-project/pkg/agent"
	"github.com/ethan-vanderheijden/pvn-project/pkg/api"
	"github.com/ethan-vanderheijden/pvn-project/pkg/config"
	"github.com/ethan-vanderheijden/pvn-project/pkg/containerrt"
	"github.com/ethan-vanderheijden/pvn-project/pkg/log"
	"github.com/ethan-vanderheijden/pvn-project/pkg/metrics"
	"github.com/ethan-vanderheijden/pvn-project/pkg/netapi"
	"github.com/ethan-vanderheijden/pvn-project/pkg/orchestrator"
	"github.com/ethan-vanderheijden/pvn-project/pkg/ovsbridge"
	"github.com/ethan-vanderheijden/pvn-project/pkg/pvnmodel"
	"github.com/ethan-vanderheijden/pvn-project/pkg/steeringbus"
	"github.com/ethan-vanderheijden/pvn-project/pkg/steeringplugin"
	"github.com/ethan-vanderheijden/pvn-project/pkg/steeringstore"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the PVN orchestrator, flow agent, and HTTP API",
	Long: `serve runs the orchestrator and the flow agent embedded in one process,
sharing a single steering store and steering bus: the store is a local
bbolt file that only one process may hold open, and SteeringBus is an
in-process pub/sub with no wire transport (spec §4.6), so the two halves
cannot be split across processes. Seeds the ingress/egress gateway ports
and their default DROP rules before the API starts accepting requests.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().String("config", "", "Path to YAML config file (uses built-in defaults if empty)")
	serveCmd.Flags().String("data-dir", "./pvnd-data", "Steering store data directory")
	serveCmd.Flags().String("containerd-socket", "/run/containerd/containerd.sock", "containerd socket path")
	serveCmd.Flags().String("netapi-url", "http://127.0.0.1:9696", "Network API base URL")
	serveCmd.Flags().String("bridge", "br-int", "OVS integration bridge name")
}

func runServe(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	dataDir, _ := cmd.Flags().GetString("data-dir")
	containerdSocket, _ := cmd.Flags().GetString("containerd-socket")
	netapiURL, _ := cmd.Flags().GetString("netapi-url")
	bridgeName, _ := cmd.Flags().GetString("bridge")

	var cfg config.Config
	var err error
	if configPath != "" {
		cfg, err = config.Load(configPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
	} else {
		cfg = config.Default()
	}

	metrics.SetVersion(Version)
	metrics.RegisterComponent("netapi", false, "initializing")
	metrics.RegisterComponent("containerd", false, "initializing")
	metrics.RegisterComponent("steeringstore", false, "initializing")

	store, err := steeringstore.Open(dataDir)
	if err != nil {
		return fmt.Errorf("failed to open steering store: %w", err)
	}
	defer store.Close()
	metrics.RegisterComponent("steeringstore", true, "ready")

	bus := steeringbus.NewBus()
	bus.Start()
	defer bus.Stop()

	plugin := steeringplugin.New(store, bus)

	bridge := ovsbridge.New(bridgeName)
	flowAgent := agent.New(plugin, bridge)
	flowAgent.Start(bus)
	defer flowAgent.Stop(bus)

	containerAPI, err := containerrt.NewContainerdAPI(containerdSocket)
	if err != nil {
		return fmt.Errorf("failed to connect to containerd: %w", err)
	}
	metrics.RegisterComponent("containerd", true, "ready")

	netAPI := netapi.NewRESTClient(netapiURL)
	metrics.RegisterComponent("netapi", true, "ready")

	model := pvnmodel.New()
	o := orchestrator.New(cfg, model, netAPI, containerAPI, plugin)

	seeder := orchestrator.NewGatewaySeeder(plugin)
	if err := seeder.Seed(cfg.Network.IngressPort, cfg.Network.EgressPort); err != nil {
		return fmt.Errorf("failed to seed gateway ports: %w", err)
	}
	log.Logger.Info().Str("ingress", cfg.Network.IngressPort).Str("egress", cfg.Network.EgressPort).Msg("gateway ports seeded")

	collector := metrics.NewCollector(model, flowAgent)
	collector.Start()
	defer collector.Stop()

	server := api.NewServer(o, model)
	addr := fmt.Sprintf("%s:%d", cfg.API.HostIP, cfg.API.Port)

	errCh := make(chan error, 1)
	go func() {
		if err := server.Start(addr); err != nil {
			errCh <- fmt.Errorf("API server error: %w", err)
		}
	}()

	log.Logger.Info().Str("addr", addr).Msg("pvnd serving")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		log.Logger.Info().Msg("shutting down")
	case err := <-errCh:
		return err
	}

	time.Sleep(100 * time.Millisecond)
	return nil
}
