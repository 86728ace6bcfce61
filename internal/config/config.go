// Package config models adimport.yml, the declarative run configuration.
// Defaults are applied through struct tags before the file is overlaid, so a
// minimal config only names the input file and the directory to import into.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/creasty/defaults"
	"gopkg.in/yaml.v3"

	"github.com/isometry/adimport/internal/directory"
	"github.com/isometry/adimport/internal/engine"
)

// Config models adimport.yml.
type Config struct {
	Input     InputConfig     `yaml:"input"`
	Defaults  DefaultsConfig  `yaml:"defaults"`
	Match     MatchConfig     `yaml:"match"`
	Policies  PoliciesConfig  `yaml:"policies"`
	Directory DirectoryConfig `yaml:"directory"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// InputConfig describes the delimited input file.
type InputConfig struct {
	Path                string `yaml:"path"`
	FieldDelimiter      string `yaml:"field_delimiter" default:","`
	MultiValueDelimiter string `yaml:"multivalue_delimiter" default:";"`
	ReferenceDelimiter  string `yaml:"reference_delimiter" default:"|"`
	Encoding            string `yaml:"encoding" default:"auto"`
}

// DefaultsConfig supplies the object type, state and operation for rows that
// carry no per-row override columns.
type DefaultsConfig struct {
	ObjectType string `yaml:"object_type" default:"user"`
	State      string `yaml:"state" default:"Put"`
	Operation  string `yaml:"operation" default:"Replace"`
}

// MatchConfig names the attribute rows are matched on. The reserved value
// ObjectID matches on directory identifiers instead of an attribute.
type MatchConfig struct {
	Attribute string `yaml:"attribute" default:"ObjectID"`
}

// PoliciesConfig tunes edge-case handling.
type PoliciesConfig struct {
	EmptyValues      string `yaml:"empty_values" default:"omit"`
	ReferenceFailure string `yaml:"reference_failure" default:"abort"`
}

// CreationSpec overrides how new objects of a type are composed.
type CreationSpec struct {
	Classes []string `yaml:"classes"`
	RDN     string   `yaml:"rdn"`
}

// DirectoryConfig describes the directory service connection.
type DirectoryConfig struct {
	Domain         string   `yaml:"domain"`
	URLs           []string `yaml:"urls"`
	BaseDN         string   `yaml:"base_dn"`
	Container      string   `yaml:"container"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	KerberosRealm  string   `yaml:"kerberos_realm"`
	KerberosKeytab string   `yaml:"kerberos_keytab"`
	KerberosCCache string   `yaml:"kerberos_ccache"`
	KerberosConfig string   `yaml:"kerberos_config"`
	KerberosSPN    string   `yaml:"kerberos_spn"`
	UseTLS         *bool    `yaml:"use_tls" default:"true"`
	SkipTLSVerify  bool     `yaml:"skip_tls_verify"`
	Timeout        string   `yaml:"timeout" default:"30s"`
	HealthCheck    string   `yaml:"health_check" default:"30s"`
	MaxConnections int      `yaml:"max_connections" default:"10"`
	MaxRetries     int      `yaml:"max_retries" default:"3"`

	// SchemaCache is accepted but not yet acted on. Schemas are cached in
	// process memory for the run either way.
	SchemaCache bool `yaml:"schema_cache"`

	// ObjectClasses maps object type names to a directory class name or,
	// when the value starts with "(", a raw search filter clause.
	ObjectClasses map[string]string `yaml:"object_classes"`

	// Creation overrides the objectClass values and naming attribute used
	// when creating objects of a type.
	Creation map[string]CreationSpec `yaml:"creation"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level  string `yaml:"level" default:"info"`
	Format string `yaml:"format" default:"text"`
}

// Default returns the config with all defaults applied and nothing else set.
func Default() *Config {
	cfg := &Config{}
	_ = defaults.Set(cfg)
	return cfg
}

// FromYAML parses and validates config from raw YAML bytes. File values
// overlay the defaults.
func FromYAML(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := defaults.Set(cfg); err != nil {
		return nil, fmt.Errorf("failed to set default values: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; generate one with adimport config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config is internally consistent. Connectivity is not
// checked here.
func (c *Config) Validate() error {
	if _, err := ParseDelimiter(c.Input.FieldDelimiter); err != nil {
		return fmt.Errorf("input.field_delimiter: %w", err)
	}
	if _, err := ParseDelimiter(c.Input.MultiValueDelimiter); err != nil {
		return fmt.Errorf("input.multivalue_delimiter: %w", err)
	}
	if _, err := ParseDelimiter(c.Input.ReferenceDelimiter); err != nil {
		return fmt.Errorf("input.reference_delimiter: %w", err)
	}

	if c.Defaults.State != "" {
		if _, err := engine.ParseObjectState(c.Defaults.State); err != nil {
			return fmt.Errorf("defaults.state: %w", err)
		}
	}
	if c.Defaults.Operation != "" {
		if _, err := engine.ParseValueOperation(c.Defaults.Operation); err != nil {
			return fmt.Errorf("defaults.operation: %w", err)
		}
	}

	if _, err := engine.ParseEmptyValuePolicy(c.Policies.EmptyValues); err != nil {
		return fmt.Errorf("policies.empty_values: %w", err)
	}
	if _, err := engine.ParseReferenceFailurePolicy(c.Policies.ReferenceFailure); err != nil {
		return fmt.Errorf("policies.reference_failure: %w", err)
	}

	if c.Match.Attribute == "" {
		return fmt.Errorf("match.attribute is required")
	}

	if c.Directory.Domain == "" && len(c.Directory.URLs) == 0 {
		return fmt.Errorf("directory.domain or directory.urls is required")
	}
	if _, err := time.ParseDuration(c.Directory.Timeout); err != nil {
		return fmt.Errorf("directory.timeout: %w", err)
	}
	if _, err := time.ParseDuration(c.Directory.HealthCheck); err != nil {
		return fmt.Errorf("directory.health_check: %w", err)
	}
	if c.Directory.MaxConnections < 1 {
		return fmt.Errorf("directory.max_connections must be positive")
	}

	for objectType, spec := range c.Directory.Creation {
		if len(spec.Classes) == 0 {
			return fmt.Errorf("directory.creation.%s.classes is required", objectType)
		}
		if spec.RDN == "" {
			return fmt.Errorf("directory.creation.%s.rdn is required", objectType)
		}
	}

	return nil
}

// ConnectionConfig translates the directory section into connection settings,
// starting from the secure defaults.
func (c *Config) ConnectionConfig() (*directory.ConnectionConfig, error) {
	conn := directory.DefaultConnectionConfig()
	conn.Domain = c.Directory.Domain
	conn.LDAPURLs = c.Directory.URLs
	conn.BaseDN = c.Directory.BaseDN
	conn.Username = c.Directory.Username
	conn.Password = c.Directory.Password
	conn.KerberosRealm = c.Directory.KerberosRealm
	conn.KerberosKeytab = c.Directory.KerberosKeytab
	conn.KerberosCCache = c.Directory.KerberosCCache
	conn.KerberosConfig = c.Directory.KerberosConfig
	conn.KerberosSPN = c.Directory.KerberosSPN

	if c.Directory.UseTLS != nil {
		conn.UseTLS = *c.Directory.UseTLS
	}
	if c.Directory.SkipTLSVerify {
		conn.TLSConfig.InsecureSkipVerify = true
	}

	timeout, err := time.ParseDuration(c.Directory.Timeout)
	if err != nil {
		return nil, fmt.Errorf("directory.timeout: %w", err)
	}
	conn.Timeout = timeout

	healthCheck, err := time.ParseDuration(c.Directory.HealthCheck)
	if err != nil {
		return nil, fmt.Errorf("directory.health_check: %w", err)
	}
	conn.HealthCheck = healthCheck

	conn.MaxConnections = c.Directory.MaxConnections
	conn.MaxRetries = c.Directory.MaxRetries
	return conn, nil
}

// EngineOptions translates the run sections into pipeline options.
func (c *Config) EngineOptions() (engine.Options, error) {
	state, err := engine.ParseObjectState(c.Defaults.State)
	if err != nil {
		return engine.Options{}, fmt.Errorf("defaults.state: %w", err)
	}
	operation, err := engine.ParseValueOperation(c.Defaults.Operation)
	if err != nil {
		return engine.Options{}, fmt.Errorf("defaults.operation: %w", err)
	}
	emptyValues, err := engine.ParseEmptyValuePolicy(c.Policies.EmptyValues)
	if err != nil {
		return engine.Options{}, fmt.Errorf("policies.empty_values: %w", err)
	}
	referenceFailure, err := engine.ParseReferenceFailurePolicy(c.Policies.ReferenceFailure)
	if err != nil {
		return engine.Options{}, fmt.Errorf("policies.reference_failure: %w", err)
	}
	multiDelim, err := ParseDelimiter(c.Input.MultiValueDelimiter)
	if err != nil {
		return engine.Options{}, fmt.Errorf("input.multivalue_delimiter: %w", err)
	}
	refDelim, err := ParseDelimiter(c.Input.ReferenceDelimiter)
	if err != nil {
		return engine.Options{}, fmt.Errorf("input.reference_delimiter: %w", err)
	}

	return engine.Options{
		Defaults: engine.Defaults{
			ObjectType: c.Defaults.ObjectType,
			State:      state,
			Operation:  operation,
		},
		MatchAttribute:      c.Match.Attribute,
		MultiValueDelimiter: multiDelim,
		ReferenceDelimiter:  refDelim,
		EmptyValues:         emptyValues,
		ReferenceFailure:    referenceFailure,
	}, nil
}

// FieldDelimiter returns the parsed field delimiter.
func (c *Config) FieldDelimiter() (rune, error) {
	return ParseDelimiter(c.Input.FieldDelimiter)
}

// CreationSpecs translates creation overrides into submitter specs, merged
// over the well-known types.
func (c *Config) CreationSpecs() map[string]directory.ObjectClassSpec {
	if len(c.Directory.Creation) == 0 {
		return nil
	}
	specs := directory.DefaultObjectClassSpecs()
	for objectType, spec := range c.Directory.Creation {
		specs[strings.ToLower(objectType)] = directory.ObjectClassSpec{
			Classes: spec.Classes,
			RDN:     spec.RDN,
		}
	}
	return specs
}

// ParseDelimiter interprets a config delimiter token as a rune. Single
// characters stand for themselves; the names tab, comma, semicolon, pipe and
// space are accepted for characters awkward to quote in YAML.
func ParseDelimiter(value string) (rune, error) {
	switch strings.ToLower(value) {
	case "":
		return 0, fmt.Errorf("delimiter cannot be empty")
	case "tab", "\\t":
		return '\t', nil
	case "comma":
		return ',', nil
	case "semicolon":
		return ';', nil
	case "pipe":
		return '|', nil
	case "space":
		return ' ', nil
	}

	r, size := utf8.DecodeRuneInString(value)
	if r == utf8.RuneError || size != len(value) {
		return 0, fmt.Errorf("delimiter %q must be a single character or a known name", value)
	}
	return r, nil
}

// GenerateDefault returns a commented default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

const defaultTemplate = `# adimport run configuration.

input:
  # Path to the delimited input file. May also be given on the command line.
  path: ""
  # Column separator: a single character or one of tab, comma, semicolon,
  # pipe, space.
  field_delimiter: ","
  # Separator between the values of a multi-valued field.
  multivalue_delimiter: ";"
  # Separator inside (ObjectType|AttributeName|AttributeValue) references.
  reference_delimiter: "|"
  # Input encoding: auto, utf-8, utf-16, utf-16le, utf-16be or latin-1.
  encoding: auto

defaults:
  # Object type for rows without a !ObjectType column.
  object_type: user
  # State for rows without a !State column: Create, Put or Delete.
  state: Put
  # Multi-value operation for rows without an !Operation column:
  # Add, Replace or Delete.
  operation: Replace

match:
  # Attribute existing objects are located by. The reserved name ObjectID
  # matches on directory identifiers (DN, GUID, SID, UPN or SAM) instead.
  attribute: ObjectID

policies:
  # Handling of empty field values: omit leaves the attribute untouched,
  # clear removes it from existing objects.
  empty_values: omit
  # Handling of reference values matching zero or several objects:
  # abort stops the run, skip drops the row and continues.
  reference_failure: abort

directory:
  # Domain furnishes servers through SRV discovery; urls pins them directly.
  domain: ""
  urls: []
  # Search base. Discovered from the directory when empty.
  base_dn: ""
  # Parent container for created objects.
  container: ""
  # Simple bind credentials. Leave the password empty to use Kerberos.
  username: ""
  password: ""
  kerberos_realm: ""
  kerberos_keytab: ""
  kerberos_ccache: ""
  kerberos_config: ""
  kerberos_spn: ""
  use_tls: true
  # Accepted for forward compatibility; schemas are cached in memory per run.
  schema_cache: false
  skip_tls_verify: false
  timeout: 30s
  health_check: 30s
  max_connections: 10
  max_retries: 3

logging:
  # trace, debug, info, warn or error.
  level: info
  # text or json.
  format: text
`
