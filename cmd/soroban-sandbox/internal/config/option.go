package config

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
)

// Options is a list of Option
type Options []*Option

// Option is a complete description of the configuration of a command line option
type Option struct {
	// e.g. "database-path"
	Name string
	// e.g. "DATABASE_PATH"
	EnvVar string
	// e.g. "DATABASE_PATH". Defaults to EnvVar; "-" hides the option from the TOML file.
	TomlKey string
	// Help text
	Usage string
	// A default if no option is provided. Omit or set to `nil` if no default
	DefaultValue any
	// Pointer to the final key in the linked Config struct
	ConfigKey any
	// Optional function for custom validation/transformation
	CustomSetValue func(*Option, any) error
	// Function called after loading all options, to validate the configuration
	Validate func(*Option) error
	// Optional function to marshal the value into TOML
	MarshalTOML func(*Option) (any, error)
}

func (o *Option) getTomlKey() (string, bool) {
	if o.TomlKey == "-" {
		return "", false
	}
	if o.TomlKey != "" {
		return o.TomlKey, true
	}
	if o.EnvVar != "" {
		return o.EnvVar, true
	}
	return "", false
}

// setValue sets a value in the linked Config struct
//
//nolint:cyclop
func (o *Option) setValue(i any) (err error) {
	if o.CustomSetValue != nil {
		return o.CustomSetValue(o, i)
	}
	defer func() {
		if recoverRes := recover(); recoverRes != nil {
			var ok bool
			if err, ok = recoverRes.(error); ok {
				return
			}
			err = errors.Errorf("config option setting error ('%s') %v", o.Name, recoverRes)
		}
	}()
	parser := func(option *Option, i any) error {
		return errors.Errorf("no parser for config option '%s' of type %T", option.Name, option.ConfigKey)
	}
	switch o.ConfigKey.(type) {
	case *bool:
		parser = parseBool
	case *string:
		parser = parseString
	case *uint32:
		parser = parseUint32
	case *uint64:
		parser = parseUint64
	case *time.Duration:
		parser = parseDuration
	case *[]string:
		parser = parseStringSlice
	case *logrus.Level:
		parser = parseLogLevel
	case *LogFormat:
		parser = parseLogFormat
	}
	return parser(o, i)
}

func (o *Option) GetFlag(flagset *pflag.FlagSet) (any, error) {
	switch o.ConfigKey.(type) {
	case *bool:
		return flagset.GetBool(o.Name)
	case *uint32:
		return flagset.GetUint32(o.Name)
	case *uint64:
		return flagset.GetUint64(o.Name)
	case *time.Duration:
		return flagset.GetDuration(o.Name)
	case *[]string:
		return flagset.GetStringSlice(o.Name)
	default:
		// strings, and anything with a custom setter, travel as strings
		return flagset.GetString(o.Name)
	}
}

func parseBool(option *Option, i any) error {
	switch v := i.(type) {
	case nil:
		return nil
	case bool:
		*option.ConfigKey.(*bool) = v
	case string:
		lower := strings.ToLower(v)
		b, err := strconv.ParseBool(lower)
		if err != nil {
			return errors.Errorf("invalid boolean value %s: %s", option.Name, v)
		}
		*option.ConfigKey.(*bool) = b
	default:
		return errors.Errorf("could not parse boolean %s: %v", option.Name, i)
	}
	return nil
}

func parseString(option *Option, i any) error {
	switch v := i.(type) {
	case nil:
		return nil
	case string:
		*option.ConfigKey.(*string) = v
	default:
		return errors.Errorf("could not parse string %s: %v", option.Name, i)
	}
	return nil
}

func parseUint32(option *Option, i any) error {
	v, err := parseUnsigned(option, i, 32)
	if err != nil {
		return err
	}
	*option.ConfigKey.(*uint32) = uint32(v)
	return nil
}

func parseUint64(option *Option, i any) error {
	v, err := parseUnsigned(option, i, 64)
	if err != nil {
		return err
	}
	*option.ConfigKey.(*uint64) = v
	return nil
}

func parseUnsigned(option *Option, i any, bitSize int) (uint64, error) {
	var v uint64
	switch n := i.(type) {
	case string:
		parsed, err := strconv.ParseUint(n, 10, bitSize)
		if err != nil {
			return 0, errors.Wrapf(err, "could not parse %s", option.Name)
		}
		return parsed, nil
	case int:
		if n < 0 {
			return 0, errors.Errorf("%s cannot be negative", option.Name)
		}
		v = uint64(n)
	case int64:
		if n < 0 {
			return 0, errors.Errorf("%s cannot be negative", option.Name)
		}
		v = uint64(n)
	case uint:
		v = uint64(n)
	case uint32:
		v = uint64(n)
	case uint64:
		v = n
	default:
		return 0, errors.Errorf("could not parse unsigned integer %s: %v", option.Name, i)
	}
	if bitSize < 64 && v >= 1<<uint(bitSize) {
		return 0, errors.Errorf("%s is too large, must be less than %d", option.Name, uint64(1)<<uint(bitSize))
	}
	return v, nil
}

func parseDuration(option *Option, i any) error {
	switch v := i.(type) {
	case nil:
		return nil
	case string:
		d, err := time.ParseDuration(v)
		if err != nil {
			return errors.Wrapf(err, "could not parse duration: %q", v)
		}
		*option.ConfigKey.(*time.Duration) = d
	case time.Duration:
		*option.ConfigKey.(*time.Duration) = v
	case *time.Duration:
		*option.ConfigKey.(*time.Duration) = *v
	default:
		return errors.Errorf("%s is not a duration", option.Name)
	}
	return nil
}

func parseStringSlice(option *Option, i any) error {
	switch v := i.(type) {
	case nil:
		return nil
	case string:
		if v == "" {
			*option.ConfigKey.(*[]string) = nil
		} else {
			*option.ConfigKey.(*[]string) = strings.Split(v, ",")
		}
	case []string:
		*option.ConfigKey.(*[]string) = v
	case []any:
		result := make([]string, len(v))
		for j, s := range v {
			str, ok := s.(string)
			if !ok {
				return errors.Errorf("could not parse %s: %v is not a string", option.Name, s)
			}
			result[j] = str
		}
		*option.ConfigKey.(*[]string) = result
	default:
		return errors.Errorf("could not parse %s: %v", option.Name, v)
	}
	return nil
}

func parseLogLevel(option *Option, i any) error {
	switch v := i.(type) {
	case nil:
		return nil
	case string:
		level, err := logrus.ParseLevel(v)
		if err != nil {
			return err
		}
		*option.ConfigKey.(*logrus.Level) = level
	case logrus.Level:
		*option.ConfigKey.(*logrus.Level) = v
	default:
		return errors.Errorf("could not parse %s: %q", option.Name, v)
	}
	return nil
}

func parseLogFormat(option *Option, i any) error {
	switch v := i.(type) {
	case nil:
		return nil
	case string:
		return option.ConfigKey.(*LogFormat).UnmarshalText([]byte(v))
	case LogFormat:
		*option.ConfigKey.(*LogFormat) = v
	default:
		return errors.Errorf("could not parse %s: %q", option.Name, v)
	}
	return nil
}

// marshalTOML returns the TOML representation of the option's current value.
func (o *Option) marshalTOML() (any, error) {
	if o.MarshalTOML != nil {
		return o.MarshalTOML(o)
	}
	value := reflect.ValueOf(o.ConfigKey).Elem()
	switch v := value.Interface().(type) {
	case time.Duration:
		return v.String(), nil
	case logrus.Level:
		return v.String(), nil
	case LogFormat:
		text, err := v.MarshalText()
		return string(text), err
	case uint32:
		return int64(v), nil
	case uint64:
		return int64(v), nil
	case []string:
		if v == nil {
			return []string{}, nil
		}
		return v, nil
	case string, bool:
		return v, nil
	default:
		return nil, fmt.Errorf("cannot marshal %s of type %T", o.Name, v)
	}
}

type LogFormat int

const (
	LogFormatText LogFormat = iota
	LogFormatJSON
)

func (f LogFormat) MarshalText() ([]byte, error) {
	switch f {
	case LogFormatText:
		return []byte("text"), nil
	case LogFormatJSON:
		return []byte("json"), nil
	default:
		return nil, errors.Errorf("unknown log format: %d", f)
	}
}

func (f *LogFormat) UnmarshalText(text []byte) error {
	switch strings.ToLower(string(text)) {
	case "text":
		*f = LogFormatText
	case "json":
		*f = LogFormatJSON
	default:
		return errors.Errorf("invalid log format: %s", text)
	}
	return nil
}

func (f LogFormat) String() string {
	text, err := f.MarshalText()
	if err != nil {
		return err.Error()
	}
	return string(text)
}
