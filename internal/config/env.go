package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
)

// EnvPrefix is the prefix for all configuration environment variables
const EnvPrefix = "EVTAIL"

// LoadEnv overrides configuration fields from environment variables. The
// variable name is the uppercased yaml tag path, joined with underscores:
// stream.url becomes EVTAIL_STREAM_URL.
func LoadEnv(cfg *Config) error {
	return loadEnvStruct(reflect.ValueOf(cfg).Elem(), EnvPrefix)
}

// loadEnvStruct recursively loads environment variables into a struct
func loadEnvStruct(v reflect.Value, prefix string) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		if !field.CanSet() {
			continue
		}

		yamlTag := fieldType.Tag.Get("yaml")
		if yamlTag == "" || yamlTag == "-" {
			continue
		}
		envName := strings.Split(yamlTag, ",")[0]
		envKey := fmt.Sprintf("%s_%s", prefix, strings.ToUpper(envName))

		switch field.Kind() {
		case reflect.String:
			if val := os.Getenv(envKey); val != "" {
				field.SetString(val)
			}

		case reflect.Int:
			if val := os.Getenv(envKey); val != "" {
				intVal, err := strconv.ParseInt(val, 10, 64)
				if err != nil {
					return fmt.Errorf("invalid int value for %s: %v", envKey, err)
				}
				field.SetInt(intVal)
			}

		case reflect.Float64:
			if val := os.Getenv(envKey); val != "" {
				floatVal, err := strconv.ParseFloat(val, 64)
				if err != nil {
					return fmt.Errorf("invalid float value for %s: %v", envKey, err)
				}
				field.SetFloat(floatVal)
			}

		case reflect.Bool:
			if val := os.Getenv(envKey); val != "" {
				boolVal, err := strconv.ParseBool(val)
				if err != nil {
					return fmt.Errorf("invalid bool value for %s: %v", envKey, err)
				}
				field.SetBool(boolVal)
			}

		case reflect.Struct:
			if err := loadEnvStruct(field, envKey); err != nil {
				return err
			}

		case reflect.Ptr:
			if !field.IsNil() && field.Elem().Kind() == reflect.Struct {
				if err := loadEnvStruct(field.Elem(), envKey); err != nil {
					return err
				}
			}

		case reflect.Map:
			// Header maps are file-only; no env representation.
			continue
		}
	}

	return nil
}
