package main

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"

	"notirun/internal/config"
)

// backendValue is the --backend flag. Unknown names are rejected while
// flags are parsed.
type backendValue string

var _ pflag.Value = (*backendValue)(nil)

func (b *backendValue) String() string { return string(*b) }

func (b *backendValue) Set(s string) error {
	s = strings.ToLower(strings.TrimSpace(s))
	for _, name := range config.BackendNames {
		if s == name {
			*b = backendValue(s)
			return nil
		}
	}
	return fmt.Errorf("must be one of: %s", strings.Join(config.BackendNames, ", "))
}

func (b *backendValue) Type() string { return "backend" }
