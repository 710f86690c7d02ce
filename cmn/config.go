package cmn

import (
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/openmetaverse/spaceloc/cmn/atomic"
)

// Config replaces the prototype's constructor-time OptionValue globals
// (spec §9 "Global option registration... replaced by an explicit
// configuration value passed at construction") with one explicit,
// atomically-swapped value — the same clone-modify-put shape the
// teacher uses for its cluster map and bucket metadata.
type Config struct {
	Proxy     ProxyConfig     `json:"proxy"`
	Poll      PollConfig      `json:"poll"`
	Loc       LocConfig       `json:"loc"`
	Transport TransportConfig `json:"transport"`
}

type ProxyConfig struct {
	// HandlerType is the factory string (spec §6): one of brute, rtree,
	// rtreedist (dist), rtreecut, rtreecutagg, level.
	HandlerType       string        `json:"handler_type"`
	Branching         uint32        `json:"branching"`
	RebuildBatchSize  uint32        `json:"rebuild_batch_size"`
	RebuildPeriod     time.Duration `json:"rebuild_period"`
	Rebuilding        bool          `json:"rebuilding"`
}

type PollConfig struct {
	Interval time.Duration `json:"interval"`
}

type LocConfig struct {
	// DelayApplyUpdate mirrors the build-time
	// SIRIKATA_SPACE_DELAY_APPLY_LOC_UPDATE toggle (spec §6), now a
	// runtime config value used deterministically by tests.
	DelayApplyUpdate time.Duration `json:"delay_apply_update"`
	RequireSessionToken bool       `json:"require_session_token"`
}

type TransportConfig struct {
	FlushCoalesceInterval time.Duration `json:"flush_coalesce_interval"`
	CompressThreshold     int           `json:"compress_threshold_bytes"`
}

func DefaultConfig() *Config {
	return &Config{
		Proxy: ProxyConfig{
			HandlerType:      "rtree",
			Branching:        10,
			RebuildBatchSize: 10,
			RebuildPeriod:    time.Minute,
			Rebuilding:       true,
		},
		Poll: PollConfig{Interval: 10 * time.Millisecond},
		Loc:  LocConfig{},
		Transport: TransportConfig{
			FlushCoalesceInterval: 10 * time.Millisecond,
			CompressThreshold:     4096,
		},
	}
}

// globalConfigOwner is the "GCO" singleton: an atomically swapped pointer
// to the current Config, mirrored from the teacher's smapOwner/bmdOwner
// clone-modify-put pattern (ais/clustermap.go): lock -- clone() -- modify
// -- put(clone) -- unlock. Readers never take the lock.
type globalConfigOwner struct {
	mtx sync.Mutex
	cur atomic.Pointer
}

var GCO = &globalConfigOwner{}

func init() { GCO.put(DefaultConfig()) }

func (o *globalConfigOwner) put(c *Config) { o.cur.Store(c) }

// Get returns the current immutable config snapshot.
func (o *globalConfigOwner) Get() *Config {
	if v := o.cur.Load(); v != nil {
		return v.(*Config)
	}
	return DefaultConfig()
}

// BeginUpdate locks and returns a clone the caller may mutate freely.
func (o *globalConfigOwner) BeginUpdate() *Config {
	o.mtx.Lock()
	clone := *o.Get()
	return &clone
}

// CommitUpdate publishes the clone and releases the lock acquired by
// BeginUpdate.
func (o *globalConfigOwner) CommitUpdate(clone *Config) {
	o.put(clone)
	o.mtx.Unlock()
}

// DiscardUpdate releases the lock without publishing (e.g. validation
// failed mid-update).
func (o *globalConfigOwner) DiscardUpdate() {
	o.mtx.Unlock()
}

func MustMarshal(v any) []byte {
	b, err := jsoniter.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}
