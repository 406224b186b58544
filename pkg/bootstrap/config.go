package bootstrap

import (
    "errors"
    "fmt"
    "log"
    "net"
    "os"
    "strconv"
    "time"

    "github.com/go-playground/validator/v10"
    "github.com/goccy/go-yaml"

    tlsx "github.com/amirimatin/go-usage/pkg/security/tlsconfig"
)

// Config defines high-level inputs to assemble a usage node. It is read
// from YAML by LoadConfig or filled from CLI flags.
type Config struct {
    NodeID string `yaml:"node_id" validate:"required"`

    Endpoint   EndpointConfig   `yaml:"endpoint"`
    Membership MembershipConfig `yaml:"membership"`
    Raft       RaftConfig       `yaml:"raft"`
    Discovery  DiscoveryConfig  `yaml:"discovery"`
    TLS        tlsx.Options     `yaml:"tls"`
    Log        LogConfig        `yaml:"log"`

    // Trace enables the stdout OpenTelemetry exporter.
    Trace bool `yaml:"trace"`

    // Logger (optional). If nil, log.Default() is used.
    Logger *log.Logger `yaml:"-" validate:"-"`
}

// EndpointConfig is the node's transport endpoint, where peers and
// producers send usage messages.
type EndpointConfig struct {
    Addr      string `yaml:"addr" validate:"required,hostport"`
    Advertise string `yaml:"advertise" validate:"omitempty,hostport"`
    Proto     string `yaml:"proto" validate:"oneof=http grpc"`
}

type MembershipConfig struct {
    Bind          string        `yaml:"bind" validate:"required,hostport"`
    Advertise     string        `yaml:"advertise" validate:"omitempty,hostport"`
    ProbeInterval time.Duration `yaml:"probe_interval" validate:"gte=0"`
}

type RaftConfig struct {
    // Addr is the raft TCP address. Empty selects an in-memory transport,
    // usable only for a single bootstrapped node.
    Addr      string `yaml:"addr" validate:"omitempty,hostport"`
    DataDir   string `yaml:"data_dir"`
    Bootstrap bool   `yaml:"bootstrap"`
}

type DiscoveryConfig struct {
    Kind     string        `yaml:"kind" validate:"oneof=static dns file"`
    Seeds    []string      `yaml:"seeds" validate:"dive,hostport"`
    DNSNames []string      `yaml:"dns_names" validate:"required_if=Kind dns"`
    DNSPort  int           `yaml:"dns_port" validate:"omitempty,min=1,max=65535"`
    File     string        `yaml:"file"`
    Env      string        `yaml:"env"`
    Refresh  time.Duration `yaml:"refresh" validate:"gte=0"`
}

type LogConfig struct {
    Level string `yaml:"level" validate:"omitempty,oneof=debug info"`
    JSON  bool   `yaml:"json"`
}

// Default returns a config for a single development node on the default
// ports.
func Default() Config {
    return Config{
        Endpoint:   EndpointConfig{Addr: "127.0.0.1:17946", Proto: "http"},
        Membership: MembershipConfig{Bind: "127.0.0.1:7946"},
        Raft:       RaftConfig{Addr: "127.0.0.1:9520"},
        Discovery:  DiscoveryConfig{Kind: "static"},
        Log:        LogConfig{Level: "info"},
    }
}

var validate = newValidator()

func newValidator() *validator.Validate {
    v := validator.New()
    // host:port where the host may be empty or an IP and the port may be 0
    _ = v.RegisterValidation("hostport", func(fl validator.FieldLevel) bool {
        _, port, err := net.SplitHostPort(fl.Field().String())
        if err != nil { return false }
        p, err := strconv.Atoi(port)
        return err == nil && p >= 0 && p <= 65535
    })
    return v
}

// Validate checks the config after defaults are applied.
func (c Config) Validate() error {
    if err := validate.Struct(c); err != nil {
        var verrs validator.ValidationErrors
        if errors.As(err, &verrs) && len(verrs) > 0 {
            fe := verrs[0]
            return fmt.Errorf("bootstrap: invalid config: %s fails %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value())
        }
        return fmt.Errorf("bootstrap: invalid config: %w", err)
    }
    if c.Discovery.Kind == "file" && c.Discovery.File == "" && c.Discovery.Env == "" {
        return errors.New("bootstrap: invalid config: file discovery needs discovery.file or discovery.env")
    }
    return nil
}

// LoadConfig reads a YAML config file on top of Default and validates it.
func LoadConfig(path string) (Config, error) {
    cfg := Default()
    data, err := os.ReadFile(path)
    if err != nil { return cfg, fmt.Errorf("bootstrap: read config: %w", err) }
    if err := yaml.Unmarshal(data, &cfg); err != nil {
        return cfg, fmt.Errorf("bootstrap: parse config %s: %w", path, err)
    }
    if err := cfg.Validate(); err != nil { return cfg, err }
    return cfg, nil
}
