// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package settings validates the flat key/value configuration of a queue
// against a data driven rule table.
package settings

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/z5labs/mq/queue"
)

// Kind is the type a configuration value must coerce to.
type Kind int

const (
	String Kind = iota
	NonBlankString
	Int
	Int16
	Int32
	Int64
	Uint16
	Bool
	Enum
)

// Applies restricts a rule to a single direction.
type Applies int

const (
	Both Applies = iota
	InboundOnly
	OutboundOnly
)

func (a Applies) allows(dir queue.Direction) bool {
	switch a {
	case InboundOnly:
		return dir == queue.Inbound
	case OutboundOnly:
		return dir == queue.Outbound
	default:
		return true
	}
}

// Rule describes a single supported configuration key.
type Rule struct {
	Key  string
	Kind Kind

	// Values lists the accepted values of an Enum, matched case insensitively.
	Values []string

	Required bool
	Default  string
	Applies  Applies

	// RequiresKey makes this key not applicable unless RequiresKey is present.
	RequiresKey string

	// RequiredWith makes this key required whenever RequiredWith is present.
	RequiredWith string
}

// Schema is the rule table of a backend.
type Schema []Rule

var commonKeys = []string{
	queue.AddressConfigKey,
	queue.QueueNameConfigKey,
	queue.ImplementationConfigKey,
}

func (s Schema) check() error {
	seen := make(map[string]bool, len(s))
	for _, r := range s {
		k := strings.ToLower(r.Key)
		if r.Key == "" || seen[k] {
			return fmt.Errorf("settings: duplicate or empty key %q", r.Key)
		}
		seen[k] = true
		if r.Kind == Enum && len(r.Values) == 0 {
			return fmt.Errorf("settings: enum key %q has no values", r.Key)
		}
	}
	return nil
}

// Validate checks raw against schema for the given direction and returns the
// coerced values. raw is never mutated.
//
// Keys are matched exactly. Checks are applied in order: unsupported keys,
// missing required keys, invalid values, conditional applicability. A key
// restricted to the other direction is reported as not applicable. Defaults
// are filled in last.
func Validate(raw map[string]string, dir queue.Direction, schema Schema) (vals Values, err error) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		vals = Values{}
		err = queue.NewError(queue.GeneralConfigurationParsingError, fmt.Errorf("%v", r))
	}()

	err = schema.check()
	if err != nil {
		return Values{}, queue.NewError(queue.FailedToExtractConstantFields, err)
	}

	rules := make(map[string]Rule, len(schema)+len(commonKeys))
	for _, key := range commonKeys {
		rules[key] = Rule{Key: key}
	}
	for _, r := range schema {
		rules[r.Key] = r
	}

	present := make(map[string]string, len(raw))
	var unsupported []string
	for k, v := range raw {
		if _, ok := rules[k]; !ok {
			unsupported = append(unsupported, k)
			continue
		}
		present[k] = v
	}
	if len(unsupported) > 0 {
		slices.Sort(unsupported)
		return Values{}, queue.NewError(
			queue.NotSupportedConfigurationParameters,
			nil,
			queue.NotSupportedParametersKey, strings.Join(unsupported, ","),
		)
	}

	applicable := schemaFor(schema, dir)
	for _, r := range applicable {
		if !r.Required {
			continue
		}
		if strings.TrimSpace(present[r.Key]) == "" {
			return Values{}, missing(r.Key)
		}
	}

	coerced := make(map[string]string, len(present))
	for k, v := range present {
		coerced[k] = v
	}
	for _, r := range applicable {
		v, ok := present[r.Key]
		if !ok {
			continue
		}
		cv, err := coerce(r, v)
		if err != nil {
			return Values{}, queue.NewError(queue.InvalidValueForConfigurationParameter, err, queue.ParameterNameKey, r.Key)
		}
		coerced[r.Key] = cv
	}

	for _, r := range schema {
		if _, has := present[r.Key]; has && !r.Applies.allows(dir) {
			return Values{}, queue.NewError(queue.ParameterNotApplicationInCurrentConfiguration, nil, queue.ParameterNameKey, r.Key)
		}
	}
	for _, r := range applicable {
		_, has := present[r.Key]
		if has && r.RequiresKey != "" {
			if _, ok := present[r.RequiresKey]; !ok {
				return Values{}, queue.NewError(queue.ParameterNotApplicationInCurrentConfiguration, nil, queue.ParameterNameKey, r.Key)
			}
		}
		if !has && r.RequiredWith != "" {
			if _, ok := present[r.RequiredWith]; ok {
				return Values{}, queue.NewError(queue.ParameterRequiredInCurrentConfiguration, nil, queue.ParameterNameKey, r.Key)
			}
		}
	}

	for _, r := range applicable {
		if _, ok := coerced[r.Key]; ok || r.Default == "" {
			continue
		}
		coerced[r.Key] = r.Default
	}

	return Values{m: coerced, present: present}, nil
}

func schemaFor(schema Schema, dir queue.Direction) Schema {
	out := make(Schema, 0, len(schema))
	for _, r := range schema {
		if r.Applies.allows(dir) {
			out = append(out, r)
		}
	}
	return out
}

func missing(key string) *queue.Error {
	return queue.NewError(queue.MissingRequiredConfigurationParameter, nil, queue.ParameterNameKey, key)
}

func coerce(r Rule, v string) (string, error) {
	s := strings.TrimSpace(v)
	switch r.Kind {
	case String:
		return v, nil
	case NonBlankString:
		if s == "" {
			return "", fmt.Errorf("value must not be blank")
		}
		return v, nil
	case Int:
		return parseInt(s, strconv.IntSize)
	case Int16:
		return parseInt(s, 16)
	case Int32:
		return parseInt(s, 32)
	case Int64:
		return parseInt(s, 64)
	case Uint16:
		n, err := strconv.ParseUint(s, 10, 16)
		if err != nil {
			return "", err
		}
		return strconv.FormatUint(n, 10), nil
	case Bool:
		b, err := strconv.ParseBool(s)
		if err != nil {
			return "", err
		}
		return strconv.FormatBool(b), nil
	case Enum:
		for _, allowed := range r.Values {
			if strings.EqualFold(allowed, s) {
				return allowed, nil
			}
		}
		return "", fmt.Errorf("value must be one of %s", strings.Join(r.Values, ", "))
	default:
		panic(fmt.Sprintf("settings: unknown kind %d for key %s", r.Kind, r.Key))
	}
}

func parseInt(s string, bits int) (string, error) {
	n, err := strconv.ParseInt(s, 10, bits)
	if err != nil {
		return "", err
	}
	return strconv.FormatInt(n, 10), nil
}

// Values holds validated configuration with defaults applied.
type Values struct {
	m       map[string]string
	present map[string]string
}

// Has reports whether key was set explicitly in the raw configuration.
func (v Values) Has(key string) bool {
	_, ok := v.present[key]
	return ok
}

// String returns the value of key or an empty string.
func (v Values) String(key string) string {
	return v.m[key]
}

// Int returns the value of key or zero.
func (v Values) Int(key string) int {
	n, _ := strconv.Atoi(v.m[key])
	return n
}

// Int16 returns the value of key or zero.
func (v Values) Int16(key string) int16 {
	n, _ := strconv.ParseInt(v.m[key], 10, 16)
	return int16(n)
}

// Int32 returns the value of key or zero.
func (v Values) Int32(key string) int32 {
	n, _ := strconv.ParseInt(v.m[key], 10, 32)
	return int32(n)
}

// Int64 returns the value of key or zero.
func (v Values) Int64(key string) int64 {
	n, _ := strconv.ParseInt(v.m[key], 10, 64)
	return n
}

// Uint16 returns the value of key or zero.
func (v Values) Uint16(key string) uint16 {
	n, _ := strconv.ParseUint(v.m[key], 10, 16)
	return uint16(n)
}

// Bool returns the value of key or false.
func (v Values) Bool(key string) bool {
	b, _ := strconv.ParseBool(v.m[key])
	return b
}

// Duration interprets the integer value of key as a number of units.
func (v Values) Duration(key string, unit time.Duration) time.Duration {
	return time.Duration(v.Int64(key)) * unit
}
