// Package ops loads and validates the controller's runtime configuration:
// hardware resources (CPU cores, ring sizes), the per-kind feed layout and
// the symbol name/ID table used to derive ring names.
package ops

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/RishiDarkDevil/binance-spot-controller/internal/feed"
)

// DefaultEndpoint is the exchange stream endpoint used when the config
// leaves it empty.
const DefaultEndpoint = "wss://stream.binance.com:9443/ws"

// Default channel capacities for command/feedback queues.
const (
	DefaultCommandCapacity  = 1024
	DefaultFeedbackCapacity = 1024
)

// Medium is a protocol/parser combination describing how a feed's bytes
// are produced and decoded.
type Medium struct {
	Protocol string `json:"protocol"`
	Parser   string `json:"parser"`
}

// Name returns the "protocol/parser" label.
func (m Medium) Name() string {
	return m.Protocol + "/" + m.Parser
}

func (m Medium) validate() error {
	if m.Protocol == "" {
		return fmt.Errorf("ops: medium protocol cannot be empty")
	}
	if m.Parser == "" {
		return fmt.Errorf("ops: medium parser cannot be empty")
	}
	return nil
}

// FeedConfig is the JSON layout of one feed kind.
type FeedConfig struct {
	Kind     string   `json:"kind"`
	Symbols  []string `json:"symbols"`
	RingSize uint64   `json:"ringSize"`
	NumCPUs  int      `json:"numCpus"`
	Medium   Medium   `json:"medium"`
}

// FileConfig mirrors the JSON config file.
type FileConfig struct {
	MainCPU                 int          `json:"mainCpu"`
	WorkerCPUs              string       `json:"workerCpus"`
	Endpoint                string       `json:"endpoint"`
	Feeds                   []FeedConfig `json:"feeds"`
	CommandChannelCapacity  int          `json:"commandChannelCapacity"`
	FeedbackChannelCapacity int          `json:"feedbackChannelCapacity"`
}

// FeedSpec is one validated feed kind entry.
type FeedSpec struct {
	Kind     feed.Kind
	Symbols  []string
	RingSize uint64
	NumCPUs  int
	Medium   Medium
}

// Loaded is the validated configuration ready for use.
type Loaded struct {
	MainCPU                 int
	WorkerCPUs              []int
	Endpoint                string
	Feeds                   []FeedSpec
	CommandChannelCapacity  int
	FeedbackChannelCapacity int
}

// Load reads and validates the config file.
func Load(path string) (*Loaded, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("ops: read config %q: %w", path, err)
	}
	var cfg FileConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("ops: parse config %q: %w", path, err)
	}
	return Validate(cfg)
}

// Validate resolves and checks a raw file config.
func Validate(cfg FileConfig) (*Loaded, error) {
	workerCPUs, err := ParseCPURange(cfg.WorkerCPUs)
	if err != nil {
		return nil, err
	}
	if len(workerCPUs) == 0 {
		return nil, fmt.Errorf("ops: worker cpu list cannot be empty")
	}
	for _, cpu := range workerCPUs {
		if cpu == cfg.MainCPU {
			return nil, fmt.Errorf("ops: main cpu %d overlaps worker cpus %q", cfg.MainCPU, cfg.WorkerCPUs)
		}
	}

	if len(cfg.Feeds) == 0 {
		return nil, fmt.Errorf("ops: feed list cannot be empty")
	}

	loaded := &Loaded{
		MainCPU:                 cfg.MainCPU,
		WorkerCPUs:              workerCPUs,
		Endpoint:                cfg.Endpoint,
		CommandChannelCapacity:  cfg.CommandChannelCapacity,
		FeedbackChannelCapacity: cfg.FeedbackChannelCapacity,
	}
	if loaded.Endpoint == "" {
		loaded.Endpoint = DefaultEndpoint
	}
	if loaded.CommandChannelCapacity == 0 {
		loaded.CommandChannelCapacity = DefaultCommandCapacity
	}
	if loaded.FeedbackChannelCapacity == 0 {
		loaded.FeedbackChannelCapacity = DefaultFeedbackCapacity
	}
	if loaded.CommandChannelCapacity < 0 || loaded.FeedbackChannelCapacity < 0 {
		return nil, fmt.Errorf("ops: channel capacity cannot be negative")
	}

	seenKinds := make(map[feed.Kind]string)
	requiredCPUs := 0
	for _, fc := range cfg.Feeds {
		spec, err := validateFeed(fc)
		if err != nil {
			return nil, err
		}
		if prev, ok := seenKinds[spec.Kind]; ok {
			return nil, fmt.Errorf("ops: duplicate feed kind %q (already configured as %q)", fc.Kind, prev)
		}
		seenKinds[spec.Kind] = fc.Kind
		requiredCPUs += spec.NumCPUs
		loaded.Feeds = append(loaded.Feeds, spec)
	}
	if requiredCPUs > len(workerCPUs) {
		return nil, fmt.Errorf("ops: feeds require %d worker cpus but only %d configured", requiredCPUs, len(workerCPUs))
	}

	return loaded, nil
}

func validateFeed(fc FeedConfig) (FeedSpec, error) {
	if fc.Kind == "" {
		return FeedSpec{}, fmt.Errorf("ops: feed kind cannot be empty")
	}
	kind, err := feed.ParseKind(fc.Kind)
	if err != nil {
		return FeedSpec{}, err
	}

	if !isPowerOfTwo(fc.RingSize) {
		return FeedSpec{}, fmt.Errorf("ops: ring size %d for feed %q must be a power of 2", fc.RingSize, fc.Kind)
	}

	if len(fc.Symbols) == 0 {
		return FeedSpec{}, fmt.Errorf("ops: feed %q must have at least one symbol", fc.Kind)
	}
	seen := make(map[string]struct{}, len(fc.Symbols))
	symbols := make([]string, 0, len(fc.Symbols))
	for _, symbol := range fc.Symbols {
		if symbol == "" {
			return FeedSpec{}, fmt.Errorf("ops: feed %q contains an empty symbol", fc.Kind)
		}
		lower := strings.ToLower(symbol)
		if _, dup := seen[lower]; dup {
			return FeedSpec{}, fmt.Errorf("ops: duplicate symbol %q in feed %q", symbol, fc.Kind)
		}
		seen[lower] = struct{}{}
		symbols = append(symbols, lower)
	}

	if fc.NumCPUs <= 0 {
		return FeedSpec{}, fmt.Errorf("ops: feed %q must have at least one cpu", fc.Kind)
	}
	if err := fc.Medium.validate(); err != nil {
		return FeedSpec{}, err
	}

	return FeedSpec{
		Kind:     kind,
		Symbols:  symbols,
		RingSize: fc.RingSize,
		NumCPUs:  fc.NumCPUs,
		Medium:   fc.Medium,
	}, nil
}

// ParseCPURange parses "3", "1-12" or "1-4,7,9-10" into a cpu list.
func ParseCPURange(spec string) ([]int, error) {
	if strings.TrimSpace(spec) == "" {
		return nil, nil
	}
	var out []int
	for _, part := range strings.Split(spec, ",") {
		part = strings.TrimSpace(part)
		lo, hi, ranged := strings.Cut(part, "-")
		start, err := strconv.Atoi(strings.TrimSpace(lo))
		if err != nil || start < 0 {
			return nil, fmt.Errorf("ops: invalid cpu range %q", spec)
		}
		end := start
		if ranged {
			end, err = strconv.Atoi(strings.TrimSpace(hi))
			if err != nil || end < start {
				return nil, fmt.Errorf("ops: invalid cpu range %q", spec)
			}
		}
		for cpu := start; cpu <= end; cpu++ {
			out = append(out, cpu)
		}
	}
	return out, nil
}

func isPowerOfTwo(v uint64) bool {
	return v != 0 && v&(v-1) == 0
}
