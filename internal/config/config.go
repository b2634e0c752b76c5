package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config models tracecheck.yml: the expectations a trace is validated
// against. Every field is optional. The threshold fields are pointers
// so an explicit zero in the file is honored; when a field is absent
// the accessor methods supply the documented default.
type Config struct {
	// RequiredNodes must each appear in a node_init event.
	RequiredNodes []string `yaml:"required_nodes" json:"required_nodes,omitempty"`
	// InitializationOrder lists groups of node ids; every node in a
	// group must initialize before any node of a later group.
	InitializationOrder [][]string `yaml:"initialization_order" json:"initialization_order,omitempty"`
	// RequiredTopics must each see at least one publish event.
	RequiredTopics []string `yaml:"required_topics" json:"required_topics,omitempty"`
	// PublishRateTargets maps topic to expected publish frequency in Hz.
	PublishRateTargets map[string]float64 `yaml:"publish_rate_targets" json:"publish_rate_targets,omitempty"`
	// PublishRateTolerance is the allowed fraction of deviation from a
	// rate target. Default 0.1.
	PublishRateTolerance *float64 `yaml:"publish_rate_tolerance" json:"publish_rate_tolerance,omitempty"`
	// LatencyBoundMs caps publish-to-delivery latency. Default 100.
	LatencyBoundMs *float64 `yaml:"latency_bound_ms" json:"latency_bound_ms,omitempty"`
	// DeliveryWindowMs bounds how long after a publish a delivery must
	// be observed for the message-flow rule. Default 1000.
	DeliveryWindowMs *float64 `yaml:"delivery_window_ms" json:"delivery_window_ms,omitempty"`
	// CallbackBoundMs caps callback execution time. Default 100.
	CallbackBoundMs *float64 `yaml:"callback_bound_ms" json:"callback_bound_ms,omitempty"`
	// ThroughputMinimums maps topic to a minimum publish rate in Hz.
	ThroughputMinimums map[string]float64 `yaml:"throughput_minimums" json:"throughput_minimums,omitempty"`
	// QoSRequirements maps topic to minimum QoS policy constraints.
	QoSRequirements map[string]QoSRequirement `yaml:"qos_requirements" json:"qos_requirements,omitempty"`
	// MaxEntities bounds the total node+endpoint count observed in the
	// trace. 0 means unbounded.
	MaxEntities int `yaml:"max_entities" json:"max_entities,omitempty"`
}

// QoSRequirement is the minimum policy a topic's endpoints must declare.
type QoSRequirement struct {
	Reliability string `yaml:"reliability,omitempty" json:"reliability,omitempty"`
	Durability  string `yaml:"durability,omitempty" json:"durability,omitempty"`
	MinDepth    int    `yaml:"min_depth,omitempty" json:"min_depth,omitempty"`
}

// Default returns a config with no expectations configured.
func Default() *Config {
	return &Config{}
}

// Load reads and validates a config file. An empty path yields the
// defaults rather than an error.
func Load(path string) (*Config, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// FromYAML parses and validates raw yaml config bytes.
func FromYAML(data []byte) (*Config, error) {
	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate ensures configured expectations are coherent.
func (c *Config) Validate() error {
	if t := c.PublishRateTolerance; t != nil && (*t < 0 || *t >= 1) {
		return fmt.Errorf("publish_rate_tolerance must be in [0,1), got %v", *t)
	}
	if b := c.LatencyBoundMs; b != nil && *b < 0 {
		return fmt.Errorf("latency_bound_ms must be >= 0")
	}
	if w := c.DeliveryWindowMs; w != nil && *w < 0 {
		return fmt.Errorf("delivery_window_ms must be >= 0")
	}
	if b := c.CallbackBoundMs; b != nil && *b < 0 {
		return fmt.Errorf("callback_bound_ms must be >= 0")
	}
	for topic, hz := range c.PublishRateTargets {
		if hz <= 0 {
			return fmt.Errorf("publish_rate_targets.%s must be > 0, got %v", topic, hz)
		}
	}
	for topic, hz := range c.ThroughputMinimums {
		if hz <= 0 {
			return fmt.Errorf("throughput_minimums.%s must be > 0, got %v", topic, hz)
		}
	}
	for topic, req := range c.QoSRequirements {
		if req.Reliability != "" && req.Reliability != "reliable" && req.Reliability != "best_effort" {
			return fmt.Errorf("qos_requirements.%s.reliability must be reliable or best_effort", topic)
		}
		if req.Durability != "" && req.Durability != "volatile" && req.Durability != "transient_local" {
			return fmt.Errorf("qos_requirements.%s.durability must be volatile or transient_local", topic)
		}
		if req.MinDepth < 0 {
			return fmt.Errorf("qos_requirements.%s.min_depth must be >= 0", topic)
		}
	}
	for i, group := range c.InitializationOrder {
		if len(group) == 0 {
			return fmt.Errorf("initialization_order group %d is empty", i)
		}
	}
	if c.MaxEntities < 0 {
		return fmt.Errorf("max_entities must be >= 0")
	}
	return nil
}

// RateTolerance applies the default tolerance when unset.
func (c *Config) RateTolerance() float64 {
	if c.PublishRateTolerance == nil {
		return 0.1
	}
	return *c.PublishRateTolerance
}

// LatencyBound applies the default latency bound (ms) when unset.
func (c *Config) LatencyBound() float64 {
	if c.LatencyBoundMs == nil {
		return 100
	}
	return *c.LatencyBoundMs
}

// DeliveryWindow applies the default delivery window (ms) when unset.
func (c *Config) DeliveryWindow() float64 {
	if c.DeliveryWindowMs == nil {
		return 1000
	}
	return *c.DeliveryWindowMs
}

// CallbackBound applies the default callback bound (ms) when unset.
func (c *Config) CallbackBound() float64 {
	if c.CallbackBoundMs == nil {
		return 100
	}
	return *c.CallbackBoundMs
}
