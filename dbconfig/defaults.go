package dbconfig

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults is an optional YAML file of connection-manager defaults layered
// under URL/functional-option configuration: pipelining on/off and the
// timeouts pool-adjacent code would otherwise hardcode.
type Defaults struct {
	PipeliningEnabled bool     `yaml:"pipelining_enabled"`
	ConnectTimeout    Duration `yaml:"connect_timeout"`
	HandshakeTimeout  Duration `yaml:"handshake_timeout"`
}

// Duration is a time.Duration that unmarshals from YAML the way operators
// expect to write it ("5m", "30s") rather than as raw nanoseconds.
type Duration time.Duration

// UnmarshalYAML accepts either a duration string ("5m") or a bare integer
// (nanoseconds).
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value.Tag == "!!int" {
		var n int64
		if err := value.Decode(&n); err != nil {
			return err
		}
		*d = Duration(n)
		return nil
	}
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("dbconfig: invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

func substituteEnvVars(data []byte) []byte {
	return envVarPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		name := envVarPattern.FindSubmatch(match)[1]
		if val, ok := os.LookupEnv(string(name)); ok {
			return []byte(val)
		}
		return match
	})
}

// LoadDefaults reads and parses a YAML defaults file, substituting
// ${VAR_NAME} references against the process environment before parsing.
func LoadDefaults(path string) (*Defaults, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("dbconfig: reading defaults file: %w", err)
	}
	data = substituteEnvVars(data)

	d := &Defaults{}
	if err := yaml.Unmarshal(data, d); err != nil {
		return nil, fmt.Errorf("dbconfig: parsing defaults file: %w", err)
	}
	applyBuiltinDefaults(d)
	return d, nil
}

func applyBuiltinDefaults(d *Defaults) {
	if d.ConnectTimeout == 0 {
		d.ConnectTimeout = Duration(10 * time.Second)
	}
	if d.HandshakeTimeout == 0 {
		d.HandshakeTimeout = Duration(5 * time.Second)
	}
}
