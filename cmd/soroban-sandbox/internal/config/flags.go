package config

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// AddFlags binds the command line flags of every option to cmd. Flags only
// take effect once SetValues is called.
func (cfg *Config) AddFlags(cmd *cobra.Command) error {
	flagset := cmd.PersistentFlags()
	for _, option := range cfg.options() {
		if err := option.AddFlag(flagset); err != nil {
			return err
		}
	}
	cfg.flagset = flagset
	return nil
}

// AddFlag adds a CLI flag for this option to the given flagset.
func (o *Option) AddFlag(flagset *pflag.FlagSet) error {
	// config options that has no names do not represent a valid flag.
	if len(o.Name) == 0 {
		return nil
	}
	// Treat any option with a custom parser as a string option.
	if o.CustomSetValue != nil {
		flagset.String(o.Name, defaultString(o.DefaultValue), o.Usage)
		return nil
	}

	switch o.ConfigKey.(type) {
	case *bool:
		def, _ := o.DefaultValue.(bool)
		flagset.Bool(o.Name, def, o.Usage)
	case *string:
		flagset.String(o.Name, defaultString(o.DefaultValue), o.Usage)
	case *uint32:
		def, _ := o.DefaultValue.(uint32)
		flagset.Uint32(o.Name, def, o.Usage)
	case *uint64:
		def, _ := o.DefaultValue.(uint64)
		flagset.Uint64(o.Name, def, o.Usage)
	case *time.Duration:
		def, _ := o.DefaultValue.(time.Duration)
		flagset.Duration(o.Name, def, o.Usage)
	case *[]string:
		def, _ := o.DefaultValue.([]string)
		flagset.StringSlice(o.Name, def, o.Usage)
	default:
		flagset.String(o.Name, defaultString(o.DefaultValue), o.Usage)
	}
	return nil
}

func defaultString(value any) string {
	if value == nil {
		return ""
	}
	return fmt.Sprint(value)
}
