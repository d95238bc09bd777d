package cli

// Node runner: wires discovery, router, executor, Web4 registry and the QUIC
// RPC listener into one long-lived process.

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"zhtp-network/core"
	"zhtp-network/pkg/utils"
)

func handleNodeStart(cmd *cobra.Command, _ []string) error {
	listen, _ := cmd.Flags().GetString("listen")
	meshPort, _ := cmd.Flags().GetUint16("mesh-port")

	identity, err := core.LoadOrCreateKeystore(keystoreDir())
	if err != nil {
		return fail(err)
	}
	cliLogger.Infof("node identity %s", identity.Public.DID())

	store, err := core.NewFileStore(filepath.Join(configDir(), "state"))
	if err != nil {
		return fail(err)
	}
	core.InitStore(store)

	registry := core.NewDomainRegistry(store)
	blobs := core.NewBlobStore(store)
	executor := core.NewContractExecutor(store)
	executor.BindWeb4(registry)

	router := core.NewMultiHopRouter()

	discovery := core.NewDiscoveryService(core.DiscoveryConfig{
		AnnounceInterval: time.Duration(utils.EnvOrDefaultInt("ZHTP_ANNOUNCE_SEC", 30)) * time.Second,
		MeshPort:         meshPort,
		EnablePortScan:   utils.EnvOrDefaultBool("ZHTP_ENABLE_PORT_SCAN", false),
	})
	if err := discovery.Start(); err != nil {
		return fail(err)
	}
	defer discovery.Stop()

	// Verified peers feed the router's topology on a fixed cadence.
	topoTicker := time.NewTicker(30 * time.Second)
	defer topoTicker.Stop()
	go func() {
		for range topoTicker.C {
			peers := discovery.VerifiedPeers()
			conns := make([]core.MeshConnection, 0, len(peers))
			for _, p := range peers {
				if p.PublicKey == nil {
					continue
				}
				conns = append(conns, core.MeshConnection{
					Peer:              *p.PublicKey,
					Protocol:          p.Protocol.String(),
					LatencyMS:         50,
					BandwidthCapacity: 10_000_000,
					StabilityScore:    0.9,
					ConnectedAt:       p.DiscoveredAt,
				})
			}
			router.UpdateTopology([]core.NodeConnections{{
				Source:      identity.Public,
				Connections: conns,
			}})
		}
	}()

	node := core.NewWeb4Node(identity, registry, blobs)
	if err := node.Listen(listen); err != nil {
		return fail(err)
	}
	defer node.Close()

	// HTTP gateway: serves manifest-resolved content through the ordered
	// middleware pipeline.
	httpAddr, _ := cmd.Flags().GetString("http")
	if httpAddr != "" {
		pipeline := core.DefaultPipeline(utils.EnvOrDefaultUint64("ZHTP_MIN_DAO_FEE", 1000), 600)
		gateway := pipeline.Build(core.GatewayHandler(registry, blobs))
		go func() {
			srv := &http.Server{
				Addr:         httpAddr,
				Handler:      gateway,
				ReadTimeout:  5 * time.Second,
				WriteTimeout: 15 * time.Second,
				IdleTimeout:  30 * time.Second,
			}
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				cliLogger.Errorf("http gateway: %v", err)
			}
		}()
	}

	fmt.Printf("ZHTP node up: rpc %s, http %s, mesh port %d\n", listen, httpAddr, meshPort)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	cliLogger.Info("shutting down")
	return nil
}

// NodeCmd exports the node command tree.
func NodeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:               "node",
		Short:             "Run a ZHTP node",
		PersistentPreRunE: initCliMiddleware,
	}
	start := &cobra.Command{
		Use:           "start",
		Short:         "Start the node",
		RunE:          handleNodeStart,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	start.Flags().String("listen", "0.0.0.0:9443", "QUIC RPC listen address")
	start.Flags().String("http", "0.0.0.0:8080", "HTTP gateway listen address (empty to disable)")
	start.Flags().Uint16("mesh-port", 37700, "mesh data-plane port")
	cmd.AddCommand(start)
	return cmd
}
