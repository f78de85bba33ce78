package compose

import (
	"fmt"
	"path/filepath"

	"github.com/yarlson/ephemera/pkg/container"
)

// RemoveImages selects which images "docker compose down" removes.
type RemoveImages int

const (
	// RemoveImagesUnset leaves the choice to a later merge; it behaves as
	// RemoveImagesNone.
	RemoveImagesUnset RemoveImages = iota
	RemoveImagesNone
	RemoveImagesLocal
	RemoveImagesAll
)

func (r RemoveImages) String() string {
	switch r {
	case RemoveImagesUnset:
		return "unset"
	case RemoveImagesNone:
		return "none"
	case RemoveImagesLocal:
		return "local"
	case RemoveImagesAll:
		return "all"
	default:
		return fmt.Sprintf("RemoveImages(%d)", int(r))
	}
}

// ParseRemoveImages maps "none", "local" and "all" to a RemoveImages value.
// An empty string is RemoveImagesUnset.
func ParseRemoveImages(s string) (RemoveImages, error) {
	switch s {
	case "":
		return RemoveImagesUnset, nil
	case "none":
		return RemoveImagesNone, nil
	case "local":
		return RemoveImagesLocal, nil
	case "all":
		return RemoveImagesAll, nil
	default:
		return RemoveImagesUnset, fmt.Errorf("unknown remove images policy %q", s)
	}
}

func (r RemoveImages) valid() bool {
	return r >= RemoveImagesUnset && r <= RemoveImagesAll
}

// Config is the configuration of a compose container: the generic container
// settings plus the compose stack to bring up.
type Config struct {
	container.ContainerConfig `validate:"-"`

	ComposeFile  string `validate:"required"`
	LocalCompose *bool
	Options      []string
	RemoveImages RemoveImages
}

var _ container.Config[Config] = Config{}

func (c Config) Container() container.ContainerConfig {
	return container.FromContainerConfig(c.ContainerConfig)
}

func (c Config) CloneResource(delta container.ResourceConfig) Config {
	return Config{ContainerConfig: container.FromResourceConfig(delta)}
}

func (c Config) CloneContainer(delta container.ContainerConfig) Config {
	return Config{ContainerConfig: container.FromContainerConfig(delta)}
}

// Merge combines c with newer. Options are appended; every other compose field
// takes newer's value when set.
func (c Config) Merge(newer Config) Config {
	merged := Config{
		ContainerConfig: container.Merge(c.ContainerConfig, newer.ContainerConfig),
		ComposeFile:     c.ComposeFile,
		LocalCompose:    copyBool(c.LocalCompose),
		RemoveImages:    c.RemoveImages,
	}
	if newer.ComposeFile != "" {
		merged.ComposeFile = newer.ComposeFile
	}
	if newer.LocalCompose != nil {
		merged.LocalCompose = copyBool(newer.LocalCompose)
	}
	if newer.RemoveImages != RemoveImagesUnset {
		merged.RemoveImages = newer.RemoveImages
	}
	if len(c.Options)+len(newer.Options) > 0 {
		merged.Options = make([]string, 0, len(c.Options)+len(newer.Options))
		merged.Options = append(merged.Options, c.Options...)
		merged.Options = append(merged.Options, newer.Options...)
	}
	return merged
}

// Validate checks the generic container fields first, then the compose ones.
func (c Config) Validate() error {
	if err := c.ContainerConfig.Validate(); err != nil {
		return err
	}
	return container.ValidateStruct(c)
}

// IsLocal reports whether a compose binary on the host is used instead of the
// one inside the container.
func (c Config) IsLocal() bool {
	return c.LocalCompose != nil && *c.LocalCompose
}

// StartCommand is the command bringing the stack up inside the container. The
// compose file is referenced by its base name, relative to the container
// working directory it was copied to.
func (c Config) StartCommand() []string {
	return append(c.command(), "up", "--detach")
}

// StopCommand is the command tearing the stack down again.
func (c Config) StopCommand() []string {
	cmd := append(c.command(), "down")
	switch c.RemoveImages {
	case RemoveImagesLocal:
		cmd = append(cmd, "--rmi", "local")
	case RemoveImagesAll:
		cmd = append(cmd, "--rmi", "all")
	}
	return cmd
}

func (c Config) command() []string {
	cmd := make([]string, 0, len(c.Options)+6)
	cmd = append(cmd, "docker", "compose")
	cmd = append(cmd, c.Options...)
	return append(cmd, "-f", filepath.Base(c.ComposeFile))
}

func copyBool(b *bool) *bool {
	if b == nil {
		return nil
	}
	v := *b
	return &v
}
