package node

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tendermint/tendermint/libs/log"
	"github.com/tendermint/tendermint/libs/service"
	"github.com/tendermint/tendermint/p2p"
	rpcserver "github.com/tendermint/tendermint/rpc/jsonrpc/server"

	cfg "pocbft/config"
	"pocbft/consensus"
	"pocbft/libs/metric"
	"pocbft/privval"
	"pocbft/rpc"
	"pocbft/state"
	"pocbft/store"
	"pocbft/types"
)

// GenesisDocProvider returns a GenesisDoc.
type GenesisDocProvider func() (*types.GenesisDoc, error)

// DefaultGenesisDocProviderFunc 从配置的genesis文件读取
func DefaultGenesisDocProviderFunc(config *cfg.Config) GenesisDocProvider {
	return func() (*types.GenesisDoc, error) {
		return types.GenesisDocFromFile(config.GenesisFile())
	}
}

type Provider func(*cfg.Config, log.Logger) (*Node, error)

type Node struct {
	service.BaseService

	// config
	config  *cfg.Config
	genDoc  *types.GenesisDoc
	privVal *privval.FilePV

	// network
	transport *p2p.MultiplexTransport
	sw        *p2p.Switch // p2p connections
	nodeInfo  p2p.NodeInfo
	nodeKey   *p2p.NodeKey // our node privkey

	// services
	store            *store.KVStore
	chain            *state.Chain
	blockExec        *state.BlockExecutor
	consensusState   *consensus.ConsensusState
	consensusReactor *consensus.Reactor
	metricSet        *metric.MetricSet

	rpcListeners  []net.Listener
	prometheusSrv *http.Server
}

type Option func(*Node)

// DefaultNewNode 使用配置目录下的私钥、节点密钥和创世文件
func DefaultNewNode(config *cfg.Config, logger log.Logger) (*Node, error) {
	nodeKey, err := p2p.LoadOrGenNodeKey(config.NodeKeyFile())
	if err != nil {
		return nil, fmt.Errorf("failed to load or gen node key %s: %w", config.NodeKeyFile(), err)
	}
	pv, err := privval.LoadOrGenFilePV(config.PrivValidatorKeyFile())
	if err != nil {
		return nil, fmt.Errorf("failed to load private validator: %w", err)
	}
	return NewNode(config, pv, nodeKey, DefaultGenesisDocProviderFunc(config), logger)
}

func createTransport(config *cfg.Config, nodeInfo p2p.NodeInfo, nodeKey *p2p.NodeKey) *p2p.MultiplexTransport {
	var (
		mConnConfig = p2p.MConnConfig(config.P2P)
		transport   = p2p.NewMultiplexTransport(nodeInfo, *nodeKey, mConnConfig)
	)
	p2p.MultiplexTransportMaxIncomingConnections(config.P2P.MaxNumInboundPeers)(transport)
	return transport
}

func createSwitch(config *cfg.Config,
	transport p2p.Transport,
	consensusReactor *consensus.Reactor,
	nodeInfo p2p.NodeInfo,
	nodeKey *p2p.NodeKey,
	p2pLogger log.Logger) *p2p.Switch {

	sw := p2p.NewSwitch(
		config.P2P,
		transport,
	)
	sw.SetLogger(p2pLogger)
	sw.AddReactor("CONSENSUS", consensusReactor)

	sw.SetNodeInfo(nodeInfo)
	sw.SetNodeKey(nodeKey)

	p2pLogger.Info("P2P Node ID", "ID", nodeKey.ID(), "file", config.NodeKeyFile())
	return sw
}

// createMetrics 开启prometheus时共识指标带chain_id标签
func createMetrics(config *cfg.Config, chainID string) *consensus.Metrics {
	if config.Instrumentation.Prometheus {
		return consensus.PrometheusMetrics(config.Instrumentation.Namespace, "chain_id", chainID)
	}
	return consensus.NopMetrics()
}

func NewNode(
	config *cfg.Config,
	pv *privval.FilePV,
	nodeKey *p2p.NodeKey,
	genesisDocProvider GenesisDocProvider,
	logger log.Logger,
	options ...Option,
) (*Node, error) {
	genDoc, err := genesisDocProvider()
	if err != nil {
		return nil, err
	}
	if err := config.Consensus.CheckInterval(genDoc.ConsensusParams.PackingInterval); err != nil {
		return nil, err
	}

	kv, err := store.NewKVStore("blockstore", config.DBBackend, config.DBDir(),
		logger.With("module", "store"))
	if err != nil {
		return nil, errors.Wrap(err, "open block store")
	}
	chain, err := state.NewChain(genDoc, kv, logger.With("module", "state"))
	if err != nil {
		return nil, err
	}
	blockExec := state.NewBlockExecutor(chain, pv)
	blockExec.SetLogger(logger.With("module", "state"))

	consensusLogger := logger.With("module", "consensus")
	consensusState := consensus.NewConsensusState(
		config.Consensus,
		genDoc,
		chain,
		blockExec,
		blockExec,
		consensus.SetPrivValidator(pv),
		consensus.StateMetrics(createMetrics(config, genDoc.ChainID)),
	)
	consensusState.SetLogger(consensusLogger)

	consensusReactor := consensus.NewReactor(consensusState, false, consensus.WithMinPeers(config.Consensus.MinPeers))
	consensusReactor.SetLogger(consensusLogger)

	metricSet := metric.NewMetricSet()
	if err := metricSet.SetMetrics("consensus", consensusState.Metric()); err != nil {
		return nil, err
	}
	if err := metricSet.SetMetrics("consensus_reactor", consensusReactor.Metric()); err != nil {
		return nil, err
	}

	nodeInfo, err := makeNodeInfo(config, nodeKey, genDoc)
	if err != nil {
		return nil, err
	}

	// Setup Transport.
	transport := createTransport(config, nodeInfo, nodeKey)

	// Setup Switch.
	p2pLogger := logger.With("module", "p2p")
	sw := createSwitch(
		config, transport, consensusReactor, nodeInfo, nodeKey, p2pLogger,
	)

	node := &Node{
		config:           config,
		genDoc:           genDoc,
		privVal:          pv,
		transport:        transport,
		sw:               sw,
		nodeInfo:         nodeInfo,
		nodeKey:          nodeKey,
		store:            kv,
		chain:            chain,
		blockExec:        blockExec,
		consensusState:   consensusState,
		consensusReactor: consensusReactor,
		metricSet:        metricSet,
	}
	node.BaseService = *service.NewBaseService(logger, "Node", node)

	for _, option := range options {
		option(node)
	}

	return node, nil
}

func (n *Node) OnStart() error {
	now := time.Now()
	genTime := n.genDoc.GenesisTime
	if genTime.After(now) {
		n.Logger.Info("Genesis time is in the future. Sleeping until then...", "genTime", genTime)
		time.Sleep(genTime.Sub(now))
	}

	if n.config.RPC.ListenAddress != "" {
		listeners, err := n.startRPC()
		if err != nil {
			return err
		}
		n.rpcListeners = listeners
	}

	if n.config.Instrumentation.Prometheus && n.config.Instrumentation.PrometheusListenAddr != "" {
		n.prometheusSrv = n.startPrometheusServer(n.config.Instrumentation.PrometheusListenAddr)
	}

	// start the transport
	addr, err := p2p.NewNetAddressString(p2p.IDAddressString(n.nodeKey.ID(), n.config.P2P.ListenAddress))
	if err != nil {
		return err
	}
	if err := n.transport.Listen(*addr); err != nil {
		return err
	}

	// start the Switch
	if err := n.sw.Start(); err != nil {
		return err
	}

	n.Logger.Info("Dialing persistent peers", "peers", n.config.P2P.PersistentPeers)
	err = n.sw.DialPeersAsync(splitAndTrimEmpty(n.config.P2P.PersistentPeers, ",", " "))
	if err != nil {
		return fmt.Errorf("could not dial peers from persistent_peers field: %w", err)
	}

	return nil
}

func (n *Node) OnStop() {
	n.BaseService.OnStop()
	n.Logger.Info("Stopping Node")

	// reactor由switch停止，同时停止共识
	if err := n.sw.Stop(); err != nil {
		n.Logger.Error("Error closing switch", "err", err)
	}
	if err := n.transport.Close(); err != nil {
		n.Logger.Error("Error closing transport", "err", err)
	}

	for _, l := range n.rpcListeners {
		n.Logger.Info("Closing rpc listener", "listener", l)
		if err := l.Close(); err != nil {
			n.Logger.Error("Error closing listener", "listener", l, "err", err)
		}
	}

	if n.prometheusSrv != nil {
		if err := n.prometheusSrv.Shutdown(context.Background()); err != nil {
			n.Logger.Error("Prometheus HTTP server Shutdown", "err", err)
		}
	}

	if err := n.store.Close(); err != nil {
		n.Logger.Error("Error closing store", "err", err)
	}
}

// ConfigureRPC 设置rpc模块使用的环境
func (n *Node) ConfigureRPC() {
	rpc.SetEnvironment(&rpc.Environment{
		Consensus: n.consensusState,
		Chain:     n.chain,
		Store:     n.store,
		P2PPeers:  n.sw,
		MetricSet: n.metricSet,
		Logger:    n.Logger.With("module", "rpc"),
	})
}

func (n *Node) startRPC() ([]net.Listener, error) {
	n.ConfigureRPC()

	config := rpcserver.DefaultConfig()
	config.MaxBodyBytes = n.config.RPC.MaxBodyBytes
	config.MaxHeaderBytes = n.config.RPC.MaxHeaderBytes
	config.MaxOpenConnections = n.config.RPC.MaxOpenConnections

	listenAddrs := splitAndTrimEmpty(n.config.RPC.ListenAddress, ",", " ")
	listeners := make([]net.Listener, 0, len(listenAddrs))
	rpcLogger := n.Logger.With("module", "rpc-server")
	for _, listenAddr := range listenAddrs {
		mux := http.NewServeMux()
		wmLogger := rpcLogger.With("protocol", "websocket")
		wm := rpcserver.NewWebsocketManager(rpc.Routes,
			rpcserver.ReadLimit(config.MaxBodyBytes),
		)
		wm.SetLogger(wmLogger)
		mux.HandleFunc("/websocket", wm.WebsocketHandler)
		rpcserver.RegisterRPCFuncs(mux, rpc.Routes, rpcLogger)

		listener, err := rpcserver.Listen(listenAddr, config)
		if err != nil {
			return nil, err
		}
		go func() {
			if err := rpcserver.Serve(listener, mux, rpcLogger, config); err != nil {
				n.Logger.Error("Error serving server", "err", err)
			}
		}()
		listeners = append(listeners, listener)
	}
	return listeners, nil
}

// startPrometheusServer starts a Prometheus HTTP server, listening for metrics
// collectors on addr.
func (n *Node) startPrometheusServer(addr string) *http.Server {
	srv := &http.Server{
		Addr: addr,
		Handler: promhttp.InstrumentMetricHandler(
			prometheus.DefaultRegisterer, promhttp.HandlerFor(
				prometheus.DefaultGatherer,
				promhttp.HandlerOpts{MaxRequestsInFlight: n.config.Instrumentation.MaxOpenConnections},
			),
		),
	}
	go func() {
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			n.Logger.Error("Prometheus HTTP server ListenAndServe", "err", err)
		}
	}()
	return srv
}

func (n *Node) Switch() *p2p.Switch {
	return n.sw
}

func (n *Node) NodeInfo() p2p.NodeInfo {
	return n.nodeInfo
}

func (n *Node) ConsensusState() *consensus.ConsensusState {
	return n.consensusState
}

func (n *Node) ConsensusReactor() *consensus.Reactor {
	return n.consensusReactor
}

func (n *Node) Chain() *state.Chain {
	return n.chain
}

func (n *Node) GenesisDoc() *types.GenesisDoc {
	return n.genDoc
}

func (n *Node) MetricSet() *metric.MetricSet {
	return n.metricSet
}

// splitAndTrimEmpty slices s into all subslices separated by sep and returns a
// slice of the string s with all leading and trailing Unicode code points
// contained in cutset removed. If sep is empty, SplitAndTrim splits after each
// UTF-8 sequence. First part is equivalent to strings.SplitN with a count of
// -1.  also filter out empty strings, only return non-empty strings.
func splitAndTrimEmpty(s, sep, cutset string) []string {
	if s == "" {
		return []string{}
	}

	spl := strings.Split(s, sep)
	nonEmptyStrings := make([]string, 0, len(spl))
	for i := 0; i < len(spl); i++ {
		element := strings.Trim(spl[i], cutset)
		if element != "" {
			nonEmptyStrings = append(nonEmptyStrings, element)
		}
	}
	return nonEmptyStrings
}
