package session

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// ErrUnknownOption is returned when setting a key outside the option whitelist.
var ErrUnknownOption = errors.New("unknown session option")

// Options are the per-session generation and retrieval parameters.
type Options struct {
	Temperature      float64 `json:"temperature"`
	MaxTokens        int     `json:"max_tokens"`
	TopP             float64 `json:"top_p"`
	PresencePenalty  float64 `json:"presence_penalty"`
	FrequencyPenalty float64 `json:"frequency_penalty"`
	RAG              bool    `json:"rag"`
	TopK             int     `json:"top_k"`
	Hybrid           bool    `json:"hybrid"`
}

// DefaultOptions returns the generation defaults with the retrieval defaults taken from config.
func DefaultOptions(rag bool, topK int, hybrid bool) Options {
	return Options{
		Temperature: 0.7,
		MaxTokens:   2048,
		TopP:        0.9,
		RAG:         rag,
		TopK:        topK,
		Hybrid:      hybrid,
	}
}

type optionSetter func(o *Options, value string) error

func floatIn(lo, hi float64, dst func(*Options) *float64) optionSetter {
	return func(o *Options, value string) error {
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("expected a number: %w", err)
		}
		if math.IsNaN(f) || f < lo || f > hi {
			return fmt.Errorf("%v out of range [%v, %v]", f, lo, hi)
		}
		*dst(o) = f
		return nil
	}
}

func intIn(lo, hi int, dst func(*Options) *int) optionSetter {
	return func(o *Options, value string) error {
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("expected an integer: %w", err)
		}
		if n < lo || (hi > 0 && n > hi) {
			return fmt.Errorf("%d out of range", n)
		}
		*dst(o) = n
		return nil
	}
}

func boolean(dst func(*Options) *bool) optionSetter {
	return func(o *Options, value string) error {
		switch strings.ToLower(value) {
		case "on", "yes":
			value = "true"
		case "off", "no":
			value = "false"
		}
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("expected a boolean: %w", err)
		}
		*dst(o) = b
		return nil
	}
}

var setters = map[string]optionSetter{
	"temperature":       floatIn(0, 2, func(o *Options) *float64 { return &o.Temperature }),
	"max_tokens":        intIn(1, 0, func(o *Options) *int { return &o.MaxTokens }),
	"top_p":             floatIn(0, 1, func(o *Options) *float64 { return &o.TopP }),
	"presence_penalty":  floatIn(-2, 2, func(o *Options) *float64 { return &o.PresencePenalty }),
	"frequency_penalty": floatIn(-2, 2, func(o *Options) *float64 { return &o.FrequencyPenalty }),
	"rag":               boolean(func(o *Options) *bool { return &o.RAG }),
	"top_k":             intIn(1, 50, func(o *Options) *int { return &o.TopK }),
	"hybrid":            boolean(func(o *Options) *bool { return &o.Hybrid }),
}

// IsOptionKey reports whether key is a settable option.
func IsOptionKey(key string) bool {
	_, ok := setters[key]
	return ok
}

// OptionKeys returns the settable option names, sorted.
func OptionKeys() []string {
	keys := make([]string, 0, len(setters))
	for k := range setters {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Set parses value and assigns it to the named option.
func (o *Options) Set(key, value string) error {
	set, ok := setters[key]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownOption, key)
	}
	if err := set(o, strings.TrimSpace(value)); err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	return nil
}

// Map returns the options as display strings keyed by option name.
func (o Options) Map() map[string]string {
	return map[string]string{
		"temperature":       strconv.FormatFloat(o.Temperature, 'g', -1, 64),
		"max_tokens":        strconv.Itoa(o.MaxTokens),
		"top_p":             strconv.FormatFloat(o.TopP, 'g', -1, 64),
		"presence_penalty":  strconv.FormatFloat(o.PresencePenalty, 'g', -1, 64),
		"frequency_penalty": strconv.FormatFloat(o.FrequencyPenalty, 'g', -1, 64),
		"rag":               strconv.FormatBool(o.RAG),
		"top_k":             strconv.Itoa(o.TopK),
		"hybrid":            strconv.FormatBool(o.Hybrid),
	}
}
