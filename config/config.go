// Package config holds the machine and kernel parameters of a nachosvm
// instance.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config describes the simulated machine and the kernel limits.
type Config struct {
	// PageSize is the size of a page and of a disk sector, in bytes.
	PageSize int

	// NumPhysPages is the number of physical frames.
	NumPhysPages int

	// NumSectors is the number of sectors on the swap disk.
	NumSectors int

	// UserStackSize is the stack allowance added to every address space.
	UserStackSize int

	// FDTableSize is the capacity of a per-process descriptor table.
	FDTableSize int

	// MaxArgs caps argc, the program name included.
	MaxArgs int

	// StringCap bounds NUL-terminated strings read from user memory.
	StringCap int

	// RecordPath is the SQLite file paging events are recorded to. Empty
	// disables recording.
	RecordPath string

	// MonitorPort is the port of the monitoring server. 0 picks a random
	// port.
	MonitorPort int
}

// Default returns the classic Nachos configuration.
func Default() Config {
	return Config{
		PageSize:      128,
		NumPhysPages:  32,
		NumSectors:    1024,
		UserStackSize: 1024,
		FDTableSize:   512,
		MaxArgs:       19,
		StringCap:     1000,
	}
}

// ErrInvalid is returned when a configuration value is out of range.
var ErrInvalid = errors.New("invalid configuration")

type intField struct {
	env string
	dst *int
}

// Load reads the given .env files (".env" when none is given), then applies
// NACHOS_* environment variables on top of the defaults.
func Load(files ...string) (Config, error) {
	c := Default()

	if len(files) == 0 {
		if _, err := os.Stat(".env"); err == nil {
			files = []string{".env"}
		}
	}

	if len(files) > 0 {
		if err := godotenv.Load(files...); err != nil {
			return c, fmt.Errorf("loading env files: %w", err)
		}
	}

	fields := []intField{
		{"NACHOS_PAGE_SIZE", &c.PageSize},
		{"NACHOS_NUM_PHYS_PAGES", &c.NumPhysPages},
		{"NACHOS_NUM_SECTORS", &c.NumSectors},
		{"NACHOS_USER_STACK_SIZE", &c.UserStackSize},
		{"NACHOS_FD_TABLE_SIZE", &c.FDTableSize},
		{"NACHOS_MAX_ARGS", &c.MaxArgs},
		{"NACHOS_STRING_CAP", &c.StringCap},
		{"NACHOS_MONITOR_PORT", &c.MonitorPort},
	}

	for _, f := range fields {
		v, ok := os.LookupEnv(f.env)
		if !ok || v == "" {
			continue
		}

		n, err := strconv.Atoi(v)
		if err != nil {
			return c, fmt.Errorf("%s: %w", f.env, err)
		}

		*f.dst = n
	}

	if v, ok := os.LookupEnv("NACHOS_RECORD_PATH"); ok {
		c.RecordPath = v
	}

	return c, c.Validate()
}

// Validate checks that every size is usable.
func (c Config) Validate() error {
	positive := map[string]int{
		"page size":       c.PageSize,
		"physical pages":  c.NumPhysPages,
		"sectors":         c.NumSectors,
		"fd table size":   c.FDTableSize,
		"max args":        c.MaxArgs,
		"string capacity": c.StringCap,
	}

	for name, v := range positive {
		if v <= 0 {
			return fmt.Errorf("%w: %s must be positive, got %d",
				ErrInvalid, name, v)
		}
	}

	if c.UserStackSize < 0 {
		return fmt.Errorf("%w: negative user stack size", ErrInvalid)
	}

	if c.FDTableSize < 2 {
		return fmt.Errorf("%w: fd table must hold the console slots",
			ErrInvalid)
	}

	return nil
}
