package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	KindGeneric = "generic"
	KindCompose = "compose"
	KindSpanner = "spanner"
)

// Stack is a set of containers started and stopped together.
type Stack struct {
	Name       string      `yaml:"name" validate:"required"`
	Containers []Container `yaml:"containers" validate:"required,min=1,unique=Name,dive"`
}

// Container describes one member of a stack.
type Container struct {
	Name           string            `yaml:"name" validate:"required"`
	Kind           string            `yaml:"kind" validate:"oneof=generic compose spanner"`
	Image          string            `yaml:"image" validate:"required_if=Kind generic"`
	Entrypoint     []string          `yaml:"entrypoint"`
	Command        []string          `yaml:"command"`
	WorkingDir     string            `yaml:"working_dir" validate:"omitempty,unix_path"`
	Env            []string          `yaml:"env" validate:"dive,env_spec"`
	Labels         map[string]string `yaml:"labels"`
	Ports          []string          `yaml:"ports" validate:"dive,port_spec"`
	Mounts         []string          `yaml:"mounts" validate:"dive,mount_spec"`
	WaitLog        string            `yaml:"wait_log"`
	WaitPort       string            `yaml:"wait_port" validate:"omitempty,port_spec"`
	StartupTimeout time.Duration     `yaml:"startup_timeout"`

	ComposeFile  string   `yaml:"compose_file" validate:"required_if=Kind compose"`
	LocalCompose bool     `yaml:"local_compose"`
	Options      []string `yaml:"options"`
	RemoveImages string   `yaml:"remove_images" validate:"omitempty,oneof=none local all"`
}

// getDefaultConfig retrieves a copy of the default container (if present),
// then applies the provided version to the Image.
func getDefaultConfig(baseName, version string) (*Container, bool) {
	baseName = strings.ToLower(baseName)
	def, found := defaultConfigs[baseName]
	if !found {
		return nil, false
	}
	def.Env = append([]string(nil), def.Env...)
	def.Ports = append([]string(nil), def.Ports...)

	if version != "" && def.Image != "" {
		if i := strings.LastIndex(def.Image, ":"); i > strings.LastIndex(def.Image, "/") {
			def.Image = def.Image[:i]
		}
		def.Image += ":" + version
	}
	return &def, true
}

// UnmarshalYAML accepts either a shorthand string such as "spanner" or
// "redis:7" or a full map.
func (c *Container) UnmarshalYAML(node *yaml.Node) error {
	switch node.Tag {
	case "!!str":
		base, version, _ := strings.Cut(node.Value, ":")
		def, ok := getDefaultConfig(base, version)
		if !ok {
			c.Name = base
			c.Kind = KindGeneric
			c.Image = node.Value
			return nil
		}
		if err := expandEnv(def.Env); err != nil {
			return fmt.Errorf("failed expanding env in default config for %q: %w", base, err)
		}
		*c = *def
		return nil

	case "!!map":
		type containerAlias Container
		var tmp containerAlias
		if err := node.Decode(&tmp); err != nil {
			return fmt.Errorf("failed to decode container map: %w", err)
		}
		if tmp.Kind == "" {
			tmp.Kind = KindGeneric
		}
		*c = Container(tmp)
		return nil

	default:
		return fmt.Errorf("unsupported YAML type for container: %s", node.Tag)
	}
}

func expandEnv(env []string) error {
	for i, line := range env {
		expanded, err := expandWithEnvAndDefault(line)
		if err != nil {
			return err
		}
		env[i] = expanded
	}
	return nil
}

// expandWithEnvAndDefault expands environment variables within a single string.
// It handles `${VAR:-default}` and `${VAR:?error message}` syntax. If a required
// variable is missing, it returns an error.
func expandWithEnvAndDefault(input string) (string, error) {
	var expansionErr error

	expanded := os.Expand(input, func(key string) string {
		val, err := expandOneVar(key)
		if err != nil && expansionErr == nil {
			expansionErr = err
		}
		return val
	})

	return expanded, expansionErr
}

// expandOneVar handles a single ${...} expression inside os.Expand.
func expandOneVar(key string) (string, error) {
	if envKey, defaultVal, ok := strings.Cut(key, ":-"); ok {
		if val, ok := os.LookupEnv(envKey); ok {
			return val, nil
		}
		return defaultVal, nil
	}

	if envKey, errMsg, ok := strings.Cut(key, ":?"); ok {
		if val, ok := os.LookupEnv(envKey); ok {
			return val, nil
		}
		return "", fmt.Errorf("required environment variable %s not set: %s", envKey, errMsg)
	}

	return os.Getenv(key), nil
}

// ParseConfig expands environment references in data, decodes it and
// validates the result.
func ParseConfig(data []byte) (*Stack, error) {
	// Load any .env file from the current directory
	_ = godotenv.Load()

	expandedData, err := expandWithEnvAndDefault(string(data))
	if err != nil {
		return nil, fmt.Errorf("error expanding environment variables: %w", err)
	}

	var stack Stack
	if err := yaml.Unmarshal([]byte(expandedData), &stack); err != nil {
		return nil, fmt.Errorf("error parsing YAML: %w", err)
	}

	if err := newValidator().Struct(stack); err != nil {
		return nil, fmt.Errorf("validation error: %w", err)
	}

	return &stack, nil
}

// Load reads a stack file. A .env file next to it is loaded first, and
// relative compose files and mount sources resolve against the stack file's directory.
func Load(path string) (*Stack, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read stack file: %w", err)
	}

	dir, err := filepath.Abs(filepath.Dir(path))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve stack directory: %w", err)
	}
	envPath := filepath.Join(dir, ".env")
	if _, err := os.Stat(envPath); err == nil {
		if err := godotenv.Load(envPath); err != nil {
			return nil, fmt.Errorf("failed to read .env file: %w", err)
		}
	}

	stack, err := ParseConfig(data)
	if err != nil {
		return nil, err
	}

	for i := range stack.Containers {
		c := &stack.Containers[i]
		if c.ComposeFile != "" && !filepath.IsAbs(c.ComposeFile) {
			c.ComposeFile = filepath.Join(dir, c.ComposeFile)
		}
		for j, spec := range c.Mounts {
			m, _ := ParseMount(spec)
			if !filepath.IsAbs(m.HostPath) {
				c.Mounts[j] = filepath.Join(dir, m.HostPath) + strings.TrimPrefix(spec, m.HostPath)
			}
		}
	}
	return stack, nil
}

func newValidator() *validator.Validate {
	validate := validator.New()

	_ = validate.RegisterValidation("port_spec", func(fl validator.FieldLevel) bool {
		_, err := ParsePort(fl.Field().String())
		return err == nil
	})

	_ = validate.RegisterValidation("mount_spec", func(fl validator.FieldLevel) bool {
		_, err := ParseMount(fl.Field().String())
		return err == nil
	})

	_ = validate.RegisterValidation("env_spec", func(fl validator.FieldLevel) bool {
		key, _, ok := strings.Cut(fl.Field().String(), "=")
		return ok && key != ""
	})

	_ = validate.RegisterValidation("unix_path", func(fl validator.FieldLevel) bool {
		return strings.HasPrefix(fl.Field().String(), "/")
	})

	return validate
}

// Port is a parsed port entry: "9020", "9020/udp" or "19020:9020".
type Port struct {
	Port     nat.Port
	HostPort string
}

func ParsePort(spec string) (Port, error) {
	hostPort, port, fixed := strings.Cut(spec, ":")
	if !fixed {
		port, hostPort = hostPort, ""
	}

	proto, portNum := nat.SplitProtoPort(port)
	if _, err := nat.ParsePort(portNum); err != nil || portNum == "" {
		return Port{}, fmt.Errorf("invalid port %q", spec)
	}
	if fixed {
		if _, err := nat.ParsePort(hostPort); err != nil || hostPort == "" {
			return Port{}, fmt.Errorf("invalid host port in %q", spec)
		}
	}

	p, err := nat.NewPort(proto, portNum)
	if err != nil {
		return Port{}, fmt.Errorf("invalid port %q: %w", spec, err)
	}
	return Port{Port: p, HostPort: hostPort}, nil
}

// Mount is a parsed mount entry: "host:/container[:ro|rw]".
type Mount struct {
	HostPath      string
	ContainerPath string
	ReadOnly      bool
}

func ParseMount(spec string) (Mount, error) {
	parts := strings.Split(spec, ":")
	if len(parts) < 2 || len(parts) > 3 || parts[0] == "" || !strings.HasPrefix(parts[1], "/") {
		return Mount{}, fmt.Errorf("invalid mount %q", spec)
	}

	m := Mount{HostPath: parts[0], ContainerPath: parts[1]}
	if len(parts) == 3 {
		switch parts[2] {
		case "ro":
			m.ReadOnly = true
		case "rw":
		default:
			return Mount{}, fmt.Errorf("invalid mount mode in %q", spec)
		}
	}
	return m, nil
}
