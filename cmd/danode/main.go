package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/Pauli-Group/Hegemon-sub002/common"
	"github.com/Pauli-Group/Hegemon-sub002/da"
	"github.com/Pauli-Group/Hegemon-sub002/log"
	"github.com/Pauli-Group/Hegemon-sub002/node"
	"github.com/Pauli-Group/Hegemon-sub002/telemetry"
	"github.com/spf13/cobra"
)

var (
	Version   = node.Version
	Commit    = "none"
	BuildTime = "unknown"
)

func printJSON(v interface{}) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "marshal: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(string(b))
}

func fatal(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

func initLogging(cfg *node.Config) error {
	var err error
	if cfg.LogJSON {
		err = log.InitJSONLogger(os.Stderr, cfg.LogLevel)
	} else {
		err = log.InitLogger(cfg.LogLevel)
	}
	if err != nil {
		return err
	}
	log.EnableModules(cfg.DebugModules)
	return nil
}

func main() {
	var rootCmd = &cobra.Command{
		Use:   "danode",
		Short: "Data-availability node: erasure-coded blob storage, chunk serving and sampling",
	}
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	var (
		configPath string
		nodeName   string
		dataDir    string
		engine     string
		peers      []string
		telemAddr  string
		otlp       string
		debug      string
		logJSON    bool
	)
	loadConfig := func(cmd *cobra.Command) (node.Config, error) {
		cfg := node.DefaultConfig()
		if configPath != "" {
			var err error
			if cfg, err = node.LoadConfig(configPath); err != nil {
				return cfg, err
			}
		}
		flags := cmd.Flags()
		if flags.Changed("name") {
			cfg.NodeName = nodeName
		}
		if flags.Changed("datadir") {
			cfg.DataDir = dataDir
		}
		if flags.Changed("engine") {
			cfg.StoreEngine = engine
		}
		if flags.Changed("peers") {
			cfg.Peers = peers
		}
		if flags.Changed("telemetry") {
			cfg.TelemetryAddr = telemAddr
		}
		if flags.Changed("otlp") {
			cfg.OTLPEndpoint = otlp
		}
		if flags.Changed("debug") {
			cfg.DebugModules = debug
		}
		if flags.Changed("logjson") {
			cfg.LogJSON = logJSON
		}
		return cfg, cfg.Validate()
	}
	addNodeFlags := func(cmd *cobra.Command) {
		cmd.Flags().StringVarP(&configPath, "config", "c", "", "JSON config file")
		cmd.Flags().StringVar(&nodeName, "name", "", "node name")
		cmd.Flags().StringVar(&dataDir, "datadir", "", "data directory")
		cmd.Flags().StringVar(&engine, "engine", "", "store engine: leveldb, bolt or memory")
		cmd.Flags().StringSliceVar(&peers, "peers", nil, "QUIC addresses of sampling peers")
		cmd.Flags().StringVar(&telemAddr, "telemetry", "", "telemetry server host:port")
		cmd.Flags().StringVar(&otlp, "otlp", "", "OTLP/HTTP trace endpoint")
		cmd.Flags().StringVar(&debug, "debug", "", "comma separated log modules to enable, or all")
		cmd.Flags().BoolVar(&logJSON, "logjson", false, "log as JSON")
	}

	var runCmd = &cobra.Command{
		Use:   "run",
		Short: "Start a DA node",
		Run: func(cmd *cobra.Command, args []string) {
			cfg, err := loadConfig(cmd)
			if err != nil {
				fatal("config: %v", err)
			}
			if err := initLogging(&cfg); err != nil {
				fatal("logging: %v", err)
			}
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			shutdownTracing, err := node.InitTracing(ctx, cfg.OTLPEndpoint, cfg.NodeName)
			if err != nil {
				log.Crit(log.Node, "tracing", "err", err)
			}
			defer shutdownTracing(context.Background())

			n, err := node.NewNode(cfg)
			if err != nil {
				log.Crit(log.Node, "create node", "err", err)
			}
			if err := n.Start(); err != nil {
				n.Stop()
				log.Crit(log.Node, "start node", "err", err)
			}
			log.Info(log.Node, "danode running", "version", Version, "commit", Commit,
				"quic", n.QuicAddr(), "rpc", n.RPCAddr(), "http", n.HTTPAddr())
			<-ctx.Done()
			log.Info(log.Node, "shutting down")
			if err := n.Stop(); err != nil {
				log.Error(log.Node, "stop", "err", err)
			}
		},
	}
	addNodeFlags(runCmd)

	var pruneHeight uint64
	var pruneCmd = &cobra.Command{
		Use:   "prune",
		Short: "Prune a stopped node's store as of a chain height",
		Run: func(cmd *cobra.Command, args []string) {
			cfg, err := loadConfig(cmd)
			if err != nil {
				fatal("config: %v", err)
			}
			if err := initLogging(&cfg); err != nil {
				fatal("logging: %v", err)
			}
			n, err := node.NewNode(cfg)
			if err != nil {
				fatal("open node: %v", err)
			}
			defer n.Stop()
			stats, err := n.PruneAt(pruneHeight)
			if err != nil {
				fatal("prune: %v", err)
			}
			printJSON(stats)
		},
	}
	addNodeFlags(pruneCmd)
	pruneCmd.Flags().Uint64Var(&pruneHeight, "height", 0, "current chain height")
	pruneCmd.MarkFlagRequired("height")

	var chunkSize, sampleCount uint32
	var encodeCmd = &cobra.Command{
		Use:   "encode <file>",
		Short: "Erasure-code a file and print its DaRoot and layout",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			blob, err := os.ReadFile(args[0])
			if err != nil {
				fatal("read %s: %v", args[0], err)
			}
			enc, err := da.EncodeBlob(blob, da.Params{ChunkSize: chunkSize, SampleCount: sampleCount})
			if err != nil {
				fatal("encode: %v", err)
			}
			printJSON(struct {
				Root      common.Hash48   `json:"root"`
				DataLen   int             `json:"data_len"`
				Chunks    int             `json:"chunks"`
				PageRoots []common.Hash48 `json:"page_roots"`
				Layout    *da.Layout      `json:"layout"`
			}{enc.Root(), enc.DataLen(), enc.Layout().TotalChunks(), enc.PageRoots(), enc.Layout()})
		},
	}
	defaults := da.DefaultParams()
	encodeCmd.Flags().Uint32Var(&chunkSize, "chunk-size", defaults.ChunkSize, "chunk size in bytes")
	encodeCmd.Flags().Uint32Var(&sampleCount, "samples", defaults.SampleCount, "sample count")

	var rpcAddr string
	dial := func() *node.NodeClient {
		client, err := node.DialNodeClient(rpcAddr)
		if err != nil {
			fatal("%v", err)
		}
		return client
	}

	var chunkCmd = &cobra.Command{
		Use:   "chunk <root> <index>",
		Short: "Fetch one chunk over RPC and verify its proof",
		Args:  cobra.ExactArgs(2),
		Run: func(cmd *cobra.Command, args []string) {
			root, err := common.ParseHash48(args[0])
			if err != nil {
				fatal("root: %v", err)
			}
			index, err := strconv.ParseUint(args[1], 10, 32)
			if err != nil {
				fatal("index: %v", err)
			}
			client := dial()
			defer client.Close()
			proof, err := client.GetChunk(root, uint32(index))
			if err != nil {
				fatal("get chunk: %v", err)
			}
			if err := da.VerifyMultiChunk(root, proof); err != nil {
				fatal("proof rejected: %v", err)
			}
			printJSON(proof)
		},
	}

	var paramsCmd = &cobra.Command{
		Use:   "params",
		Short: "Print a node's DA parameters",
		Run: func(cmd *cobra.Command, args []string) {
			client := dial()
			defer client.Close()
			info, err := client.GetParams()
			if err != nil {
				fatal("get params: %v", err)
			}
			printJSON(info)
		},
	}

	var blockCmd = &cobra.Command{
		Use:   "block <hash>",
		Short: "Print the DaRoot a node stored for a block",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			raw, err := common.DecodeHex(args[0])
			if err != nil || len(raw) != 32 {
				fatal("block hash must be 32 bytes of hex")
			}
			client := dial()
			defer client.Close()
			br, err := client.GetBlockRoot(common.BytesToHash(raw))
			if err != nil {
				fatal("get block root: %v", err)
			}
			printJSON(br)
		},
	}
	for _, c := range []*cobra.Command{chunkCmd, paramsCmd, blockCmd} {
		c.Flags().StringVar(&rpcAddr, "rpc", node.DefaultRPCAddr, "node RPC address")
	}

	var telemetryListen, telemetryOut string
	var telemetryCmd = &cobra.Command{
		Use:   "telemetry",
		Short: "Collect node telemetry and write it as JSON lines",
		Run: func(cmd *cobra.Command, args []string) {
			if err := log.InitLogger("info"); err != nil {
				fatal("logging: %v", err)
			}
			srv := telemetry.NewTelemetryServerWithWriter(telemetryListen, os.Stdout)
			if telemetryOut != "" {
				var err error
				if srv, err = telemetry.NewTelemetryServer(telemetryListen, telemetryOut); err != nil {
					fatal("telemetry: %v", err)
				}
			}
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			go func() {
				<-ctx.Done()
				srv.Stop()
			}()
			if err := srv.Start(); err != nil {
				fatal("telemetry: %v", err)
			}
		},
	}
	telemetryCmd.Flags().StringVar(&telemetryListen, "addr", "127.0.0.1:9999", "listen address")
	telemetryCmd.Flags().StringVar(&telemetryOut, "out", "", "output file, stdout when empty")

	var versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("danode %s (commit %s, built %s)\n", Version, Commit, strings.TrimSpace(BuildTime))
		},
	}

	rootCmd.AddCommand(runCmd, pruneCmd, encodeCmd, chunkCmd, paramsCmd, blockCmd, telemetryCmd, versionCmd)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
