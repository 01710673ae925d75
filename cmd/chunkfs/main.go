// Command chunkfs runs a single node of either half of the distributed
// chunk filesystem: the Raft-replicated metadata plane (the metadata
// subcommand) or a storage-node agent (the storage subcommand).
//
// Logging:
//   - Base logger is created here with output format and level
//   - Logger is passed to all components via dependency injection
//   - No global slog configuration (no slog.SetDefault)
//   - Components scope loggers with their own attributes
package main

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"time"

	"chunkfs/internal/auth"
	"chunkfs/internal/cluster"
	"chunkfs/internal/config"
	"chunkfs/internal/home"
	"chunkfs/internal/metadata"
	"chunkfs/internal/metadata/httpapi"
	"chunkfs/internal/storage"

	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	rootCmd := &cobra.Command{
		Use:   "chunkfs",
		Short: "Distributed chunk-based filesystem node",
	}

	metadataCmd := &cobra.Command{
		Use:   "metadata",
		Short: "Run a metadata-plane node",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := metadataConfigFromFlags(cmd)
			if err != nil {
				return err
			}
			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
			defer cancel()
			return runMetadata(ctx, logger, cfg)
		},
	}
	bindMetadataFlags(metadataCmd)

	storageCmd := &cobra.Command{
		Use:   "storage",
		Short: "Run a storage-node agent",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := storageConfigFromFlags(cmd)
			if err != nil {
				return err
			}
			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
			defer cancel()
			return runStorage(ctx, logger, cfg)
		},
	}
	bindStorageFlags(storageCmd)

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version)
		},
	}

	rootCmd.AddCommand(metadataCmd, storageCmd, versionCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func bindMetadataFlags(cmd *cobra.Command) {
	cmd.Flags().String("node-id", "", "unique Raft server ID for this node (required)")
	cmd.Flags().String("cluster-addr", ":4565", "listen address for the Raft/cluster gRPC port")
	cmd.Flags().String("advertise-addr", "", "address other nodes use to reach this node's cluster port (defaults to cluster-addr)")
	cmd.Flags().String("api-addr", ":4564", "listen address for the client-facing HTTP control channel")
	cmd.Flags().String("home", "", "home directory for Raft log/snapshot/bolt data (default: platform config dir)")
	cmd.Flags().Bool("bootstrap", false, "bootstrap a brand-new single-node cluster")
	cmd.Flags().String("join", "", "cluster address of an existing member to join instead of bootstrapping")
	cmd.Flags().Int("replication-factor", 0, "override the chunk replication factor (0 = package default)")
	cmd.Flags().String("auth-secret", "", "base64-encoded HMAC secret for bearer tokens (empty disables auth)")
	cmd.Flags().String("cluster-tls-file", "", "path to mTLS material for the cluster port (required to --join an existing cluster)")
}

func bindStorageFlags(cmd *cobra.Command) {
	cmd.Flags().String("server-id", "", "unique storage-node identifier (required)")
	cmd.Flags().String("data-addr", ":4580", "listen address for the chunk data HTTP channel")
	cmd.Flags().String("advertise-addr", "", "address other nodes use to reach this storage node (defaults to data-addr)")
	cmd.Flags().String("data-dir", "", "local directory backing the on-disk chunk store")
	cmd.Flags().String("zone", "default", "availability zone reported in heartbeats")
	cmd.Flags().Int64("capacity", 100<<30, "total byte capacity reported in heartbeats")
	cmd.Flags().StringSlice("metadata-addrs", nil, "client-facing API addresses of metadata nodes (required)")
	cmd.Flags().String("backend", "local", "chunk storage backend: local or s3")
	cmd.Flags().String("s3-bucket", "", "S3 bucket name (backend=s3)")
	cmd.Flags().String("s3-region", "", "S3 region (backend=s3)")
	cmd.Flags().String("s3-prefix", "", "S3 key prefix (backend=s3)")
}

func metadataConfigFromFlags(cmd *cobra.Command) (config.Metadata, error) {
	nodeID, _ := cmd.Flags().GetString("node-id")
	if nodeID == "" {
		return config.Metadata{}, fmt.Errorf("--node-id is required")
	}
	clusterAddr, _ := cmd.Flags().GetString("cluster-addr")
	advertiseAddr, _ := cmd.Flags().GetString("advertise-addr")
	apiAddr, _ := cmd.Flags().GetString("api-addr")
	homeFlag, _ := cmd.Flags().GetString("home")
	bootstrap, _ := cmd.Flags().GetBool("bootstrap")
	joinAddr, _ := cmd.Flags().GetString("join")
	replicationFactor, _ := cmd.Flags().GetInt("replication-factor")
	authSecretFlag, _ := cmd.Flags().GetString("auth-secret")
	clusterTLSFile, _ := cmd.Flags().GetString("cluster-tls-file")

	hd, err := resolveHome(homeFlag)
	if err != nil {
		return config.Metadata{}, fmt.Errorf("resolve home directory: %w", err)
	}
	if err := hd.EnsureExists(); err != nil {
		return config.Metadata{}, fmt.Errorf("create home directory: %w", err)
	}

	var authSecret []byte
	if authSecretFlag != "" {
		authSecret, err = base64.StdEncoding.DecodeString(authSecretFlag)
		if err != nil {
			return config.Metadata{}, fmt.Errorf("decode --auth-secret: %w", err)
		}
	}

	return config.Metadata{
		NodeID:            nodeID,
		ClusterAddr:       clusterAddr,
		AdvertiseAddr:     advertiseAddr,
		APIAddr:           apiAddr,
		DataDir:           hd.Root(),
		Bootstrap:         bootstrap,
		JoinAddr:          joinAddr,
		ReplicationFactor: replicationFactor,
		AuthSecret:        authSecret,
		ClusterTLSFile:    clusterTLSFile,
	}, nil
}

func storageConfigFromFlags(cmd *cobra.Command) (config.Storage, error) {
	serverID, _ := cmd.Flags().GetString("server-id")
	if serverID == "" {
		return config.Storage{}, fmt.Errorf("--server-id is required")
	}
	dataAddr, _ := cmd.Flags().GetString("data-addr")
	advertiseAddr, _ := cmd.Flags().GetString("advertise-addr")
	dataDir, _ := cmd.Flags().GetString("data-dir")
	zone, _ := cmd.Flags().GetString("zone")
	capacity, _ := cmd.Flags().GetInt64("capacity")
	metadataAddrs, _ := cmd.Flags().GetStringSlice("metadata-addrs")
	backend, _ := cmd.Flags().GetString("backend")
	s3Bucket, _ := cmd.Flags().GetString("s3-bucket")
	s3Region, _ := cmd.Flags().GetString("s3-region")
	s3Prefix, _ := cmd.Flags().GetString("s3-prefix")

	if len(metadataAddrs) == 0 {
		return config.Storage{}, fmt.Errorf("--metadata-addrs is required")
	}
	if backend == "local" && dataDir == "" {
		return config.Storage{}, fmt.Errorf("--data-dir is required for backend=local")
	}

	return config.Storage{
		ServerID:      serverID,
		Zone:          zone,
		DataAddr:      dataAddr,
		AdvertiseAddr: advertiseAddr,
		DataDir:       dataDir,
		Capacity:      capacity,
		MetadataAddrs: metadataAddrs,
		Backend:       backend,
		S3Bucket:      s3Bucket,
		S3Region:      s3Region,
		S3Prefix:      s3Prefix,
	}, nil
}

// resolveHome returns a Dir from the flag value, or the platform default.
func resolveHome(flagValue string) (home.Dir, error) {
	if flagValue != "" {
		return home.New(flagValue), nil
	}
	return home.Default()
}

func runMetadata(ctx context.Context, logger *slog.Logger, cfg config.Metadata) error {
	var ctls *cluster.ClusterTLS
	if cfg.ClusterTLSFile != "" {
		ctls = cluster.NewClusterTLS()
		loaded, err := ctls.LoadFile(cfg.ClusterTLSFile)
		if err != nil {
			return fmt.Errorf("load cluster TLS material: %w", err)
		}
		if !loaded {
			return fmt.Errorf("cluster TLS file %s does not exist; generate and distribute mTLS material out of band before starting this node", cfg.ClusterTLSFile)
		}
	} else if cfg.JoinAddr != "" {
		return fmt.Errorf("--join requires --cluster-tls-file: joining an existing cluster over an unauthenticated channel is refused")
	}

	clusterSrv, err := cluster.New(cluster.Config{
		ClusterAddr: cfg.ClusterAddr,
		LocalAddr:   cfg.AdvertiseAddr,
		NodeID:      cfg.NodeID,
		TLS:         ctls,
		Logger:      logger,
	})
	if err != nil {
		return fmt.Errorf("start cluster server: %w", err)
	}

	transport := clusterSrv.Transport()

	node, err := metadata.NewNode(metadata.NodeConfig{
		NodeID:       cfg.NodeID,
		DataDir:      cfg.DataDir,
		Bootstrap:    cfg.Bootstrap,
		ApplyTimeout: cfg.ApplyTimeout,
		Logger:       logger,
	}, transport)
	if err != nil {
		return fmt.Errorf("start raft node: %w", err)
	}
	clusterSrv.SetRaft(node.Raft())

	if err := clusterSrv.Start(); err != nil {
		return fmt.Errorf("start cluster gRPC server: %w", err)
	}
	defer clusterSrv.Stop()

	if cfg.JoinAddr != "" && !cfg.Bootstrap {
		joinAddr := cfg.AdvertiseAddr
		if joinAddr == "" {
			joinAddr = clusterSrv.Addr()
		}
		logger.Info("joining cluster", "leader", cfg.JoinAddr)
		if err := cluster.JoinCluster(ctx, cfg.JoinAddr, cfg.NodeID, joinAddr, ctls); err != nil {
			logger.Warn("join cluster failed, continuing as standalone until an operator adds this voter", "error", err)
		}
	}

	svc := metadata.NewService(node, metadata.ServiceConfig{
		ReplicationFactor: cfg.ReplicationFactor,
		UploadSessionTTL:  0,
		Logger:            logger,
	})

	storageClient := metadata.NewHTTPStorageClient()
	collector := metadata.NewCollector(svc, storageClient, cfg.GCGracePeriod, logger)
	repairer := metadata.NewRepairer(svc, storageClient, cfg.ReplicationFactor, logger)

	sched, err := metadata.NewScheduler(svc, collector, repairer, logger)
	if err != nil {
		return fmt.Errorf("create gc/repair scheduler: %w", err)
	}
	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("start gc/repair scheduler: %w", err)
	}
	defer func() {
		if err := sched.Stop(); err != nil {
			logger.Error("scheduler stop error", "error", err)
		}
	}()

	var tokens *auth.TokenService
	if len(cfg.AuthSecret) > 0 {
		tokens = auth.NewTokenService(cfg.AuthSecret, 0)
	} else {
		logger.Warn("no --auth-secret set; client-facing API runs without bearer-token authentication")
	}

	router := httpapi.NewRouter(svc, httpapi.Config{Tokens: tokens, Logger: logger})
	httpSrv := &http.Server{
		Addr:              cfg.APIAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("metadata API listening", "addr", cfg.APIAddr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metadata API server error", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down metadata node")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("metadata API shutdown error", "error", err)
	}
	if err := node.Shutdown(); err != nil {
		logger.Error("raft shutdown error", "error", err)
	}
	return nil
}

func runStorage(ctx context.Context, logger *slog.Logger, cfg config.Storage) error {
	backend, err := buildStorageBackend(ctx, cfg)
	if err != nil {
		return fmt.Errorf("build storage backend: %w", err)
	}

	advertiseAddr := cfg.AdvertiseAddr
	if advertiseAddr == "" {
		advertiseAddr = cfg.DataAddr
	}

	agent, err := storage.NewAgent(ctx, storage.AgentConfig{
		ServerID: cfg.ServerID,
		Address:  advertiseAddr,
		Zone:     cfg.Zone,
		Capacity: cfg.Capacity,
		Backend:  backend,
		Metadata: storage.NewHTTPMetadataClient(cfg.MetadataAddrs),
		Logger:   logger,
	})
	if err != nil {
		return fmt.Errorf("create storage agent: %w", err)
	}

	if err := agent.Start(ctx); err != nil {
		return fmt.Errorf("start storage agent: %w", err)
	}
	defer func() {
		if err := agent.Stop(); err != nil {
			logger.Error("agent stop error", "error", err)
		}
	}()

	router := storage.NewRouter(agent, logger)
	httpSrv := &http.Server{
		Addr:              cfg.DataAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("storage data channel listening", "addr", cfg.DataAddr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("storage data channel server error", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down storage node")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpSrv.Shutdown(shutdownCtx)
}

func buildStorageBackend(ctx context.Context, cfg config.Storage) (storage.Backend, error) {
	switch strings.ToLower(cfg.Backend) {
	case "", "local":
		return storage.NewLocalBackend(cfg.DataDir)
	case "s3":
		return storage.NewS3Backend(ctx, cfg.S3Bucket, cfg.S3Region, cfg.S3Prefix)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}
