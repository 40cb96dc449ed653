package config

import (
	"time"

	"github.com/pkg/errors"
	tmcfg "github.com/tendermint/tendermint/config"
)

const (
	// DefaultDirName 节点的默认home目录名
	DefaultDirName = ".pocbft"
	// EnvPrefix 环境变量前缀，例如POC_CONSENSUS_MIN_PEERS
	EnvPrefix = "POC"
)

// Config 节点配置，除共识部分外都复用tendermint的配置段
type Config struct {
	tmcfg.BaseConfig `mapstructure:",squash"`

	RPC             *tmcfg.RPCConfig             `mapstructure:"rpc"`
	P2P             *tmcfg.P2PConfig             `mapstructure:"p2p"`
	Consensus       *ConsensusConfig             `mapstructure:"consensus"`
	Instrumentation *tmcfg.InstrumentationConfig `mapstructure:"instrumentation"`
}

func DefaultConfig() *Config {
	return &Config{
		BaseConfig:      tmcfg.DefaultBaseConfig(),
		RPC:             tmcfg.DefaultRPCConfig(),
		P2P:             tmcfg.DefaultP2PConfig(),
		Consensus:       DefaultConsensusConfig(),
		Instrumentation: tmcfg.DefaultInstrumentationConfig(),
	}
}

func TestConfig() *Config {
	return &Config{
		BaseConfig:      tmcfg.TestBaseConfig(),
		RPC:             tmcfg.TestRPCConfig(),
		P2P:             tmcfg.TestP2PConfig(),
		Consensus:       TestConsensusConfig(),
		Instrumentation: tmcfg.TestInstrumentationConfig(),
	}
}

// SetRoot sets the RootDir for all Config structs
func (cfg *Config) SetRoot(root string) *Config {
	cfg.BaseConfig.RootDir = root
	cfg.RPC.RootDir = root
	cfg.P2P.RootDir = root
	return cfg
}

// ValidateBasic performs basic validation (checking param bounds, etc.) and
// returns an error if any check fails.
func (cfg *Config) ValidateBasic() error {
	if err := cfg.BaseConfig.ValidateBasic(); err != nil {
		return err
	}
	if err := cfg.RPC.ValidateBasic(); err != nil {
		return errors.Wrap(err, "error in [rpc] section")
	}
	if err := cfg.P2P.ValidateBasic(); err != nil {
		return errors.Wrap(err, "error in [p2p] section")
	}
	if err := cfg.Consensus.ValidateBasic(); err != nil {
		return errors.Wrap(err, "error in [consensus] section")
	}
	if err := cfg.Instrumentation.ValidateBasic(); err != nil {
		return errors.Wrap(err, "error in [instrumentation] section")
	}
	return nil
}

//-----------------------------------------------------------------------------
// ConsensusConfig

// ConsensusConfig 只影响本节点的等待时间，出块间隔和信用窗口在创世文件中
type ConsensusConfig struct {
	// 出块必须在slot结束前ReservedDrain完成，留给投票
	ReservedDrain time.Duration `mapstructure:"reserved_drain"`
	// 每个投票阶段最多等待的时间
	MaxStageWait time.Duration `mapstructure:"max_stage_wait"`
	// 轮次计算失败或者网络没有就绪时的重试间隔
	PollInterval time.Duration `mapstructure:"poll_interval"`
	// 开始共识前至少连接的节点数
	MinPeers int `mapstructure:"min_peers"`

	RoundCacheSize int `mapstructure:"round_cache_size"`
	QueueSize      int `mapstructure:"queue_size"`
}

func DefaultConsensusConfig() *ConsensusConfig {
	return &ConsensusConfig{
		ReservedDrain:  2 * time.Second,
		MaxStageWait:   6 * time.Second,
		PollInterval:   500 * time.Millisecond,
		MinPeers:       1,
		RoundCacheSize: 64,
		QueueSize:      1024,
	}
}

func TestConsensusConfig() *ConsensusConfig {
	cfg := DefaultConsensusConfig()
	cfg.MaxStageWait = 4 * time.Second
	cfg.PollInterval = 100 * time.Millisecond
	cfg.MinPeers = 0
	cfg.RoundCacheSize = 16
	return cfg
}

func (cfg *ConsensusConfig) ValidateBasic() error {
	if cfg.ReservedDrain < 0 {
		return errors.New("reserved_drain can't be negative")
	}
	if cfg.MaxStageWait <= 0 {
		return errors.New("max_stage_wait must be positive")
	}
	if cfg.PollInterval <= 0 {
		return errors.New("poll_interval must be positive")
	}
	if cfg.MinPeers < 0 {
		return errors.New("min_peers can't be negative")
	}
	if cfg.RoundCacheSize < 0 {
		return errors.New("round_cache_size can't be negative")
	}
	if cfg.QueueSize <= 0 {
		return errors.New("queue_size must be positive")
	}
	return nil
}

// CheckInterval 出块间隔必须大于ReservedDrain，否则没有时间出块
func (cfg *ConsensusConfig) CheckInterval(packingInterval uint64) error {
	if time.Duration(packingInterval)*time.Second <= cfg.ReservedDrain {
		return errors.Errorf("packing interval %ds must exceed reserved_drain %v", packingInterval, cfg.ReservedDrain)
	}
	return nil
}
