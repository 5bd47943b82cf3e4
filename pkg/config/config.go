// Package config loads YAML or TOML configuration files and applies
// environment variable overrides declared with `env` struct tags.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

var durationType = reflect.TypeOf(time.Duration(0))

// Load reads the file at path into out. The format follows the extension:
// .toml is TOML, anything else is YAML. ${VAR} references in the file are
// expanded before parsing, and `env` tags are applied afterwards.
func Load(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}
	expanded := os.ExpandEnv(string(data))

	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.Decode(expanded, out); err != nil {
			return fmt.Errorf("parse config file %s: %w", path, err)
		}
	default:
		if err := yaml.Unmarshal([]byte(expanded), out); err != nil {
			return fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	return ApplyEnv(out)
}

// LoadOrDefault behaves like Load but leaves out untouched, apart from env
// overrides, when path does not exist.
func LoadOrDefault(path string, out any) error {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return ApplyEnv(out)
	}
	return Load(path, out)
}

// ApplyEnv sets struct fields from the environment variables named by their
// `env` tags, recursing into nested structs. Strings, ints, floats, bools
// and time.Duration are supported.
func ApplyEnv(v any) error {
	val := reflect.ValueOf(v)
	if val.Kind() == reflect.Ptr {
		val = val.Elem()
	}
	if val.Kind() != reflect.Struct {
		return nil
	}

	t := val.Type()
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		fv := val.Field(i)
		if !fv.CanSet() {
			continue
		}

		if fv.Kind() == reflect.Struct {
			if err := ApplyEnv(fv.Addr().Interface()); err != nil {
				return err
			}
			continue
		}

		name := field.Tag.Get("env")
		if name == "" {
			continue
		}
		raw, ok := os.LookupEnv(name)
		if !ok {
			continue
		}
		if err := setField(fv, raw); err != nil {
			return fmt.Errorf("env %s: %w", name, err)
		}
	}
	return nil
}

func setField(fv reflect.Value, raw string) error {
	if fv.Type() == durationType {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return err
		}
		fv.SetInt(int64(d))
		return nil
	}

	switch fv.Kind() {
	case reflect.String:
		fv.SetString(raw)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, fv.Type().Bits())
		if err != nil {
			return err
		}
		fv.SetInt(n)
	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(strings.TrimSpace(raw), fv.Type().Bits())
		if err != nil {
			return err
		}
		fv.SetFloat(f)
	case reflect.Bool:
		b, err := strconv.ParseBool(strings.TrimSpace(raw))
		if err != nil {
			return err
		}
		fv.SetBool(b)
	default:
		return fmt.Errorf("unsupported field kind %s", fv.Kind())
	}
	return nil
}
