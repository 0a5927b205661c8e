// Package config loads mvnwatch's properties-stream configuration (spec.md
// §6): a flat key=value file reachable either on disk (file:<path>) or
// bundled into the binary (classpath:<path>, resolved against an embedded
// default). This is deliberately a small bespoke scanner rather than the
// teacher's general please-build/gcfg INI reader: the wire format here has
// no sections, so gcfg's section/subsection machinery would add structure
// this format doesn't have (see DESIGN.md).
package config

import (
	"bufio"
	"embed"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/op/go-logging.v1"

	"github.com/thought-machine/mvnwatch/src/mvnerr"
)

var log = logging.MustGetLogger("config")

//go:embed default.properties
var embedded embed.FS

const defaultPropertiesName = "default.properties"

// Config holds the recognized keys from spec.md §6.
type Config struct {
	UpdateDelayAfterFailure time.Duration
	UpdateDelayAfterSuccess time.Duration
	BGUpdateCheckInterval   time.Duration
	BlacklistedGroupIDs     []string
}

// Default returns the built-in configuration, the same values the embedded
// default.properties file encodes, used when no properties stream is
// configured at all.
func Default() Config {
	return Config{
		UpdateDelayAfterFailure: time.Hour,
		UpdateDelayAfterSuccess: 24 * time.Hour,
		BGUpdateCheckInterval:   time.Minute,
	}
}

// Load resolves uri (a "file:<path>" or "classpath:<path>" reference) and
// parses its properties stream on top of Default(), so any key the stream
// doesn't mention keeps its default value.
func Load(uri string) (Config, error) {
	data, err := resolve(uri)
	if err != nil {
		return Config{}, err
	}
	return Parse(data)
}

func resolve(uri string) ([]byte, error) {
	switch {
	case strings.HasPrefix(uri, "file:"):
		return readFile(strings.TrimPrefix(uri, "file:"))
	case strings.HasPrefix(uri, "classpath:"):
		return readClasspath(strings.TrimPrefix(uri, "classpath:"))
	default:
		return nil, mvnerr.New(mvnerr.Config, "unrecognized config URI %q: must start with file: or classpath:", uri)
	}
}

func readFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, mvnerr.Wrap(mvnerr.IO, err, "reading config file %q", path)
	}
	return data, nil
}

func readClasspath(path string) ([]byte, error) {
	name := path
	if name == "" {
		name = defaultPropertiesName
	}
	data, err := embedded.ReadFile(name)
	if err != nil {
		return nil, mvnerr.Wrap(mvnerr.Config, err, "reading embedded classpath resource %q", name)
	}
	return data, nil
}

// Parse parses a properties stream already read into memory.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	scanner := bufio.NewScanner(strings.NewReader(string(data)))
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "!") {
			continue
		}
		key, value, ok := splitKeyValue(line)
		if !ok {
			return Config{}, mvnerr.New(mvnerr.Config, "line %d: malformed property %q, expected key=value", lineNo, line)
		}
		if err := apply(&cfg, key, value); err != nil {
			return Config{}, mvnerr.Wrap(mvnerr.Config, err, "line %d: key %q", lineNo, key)
		}
	}
	if err := scanner.Err(); err != nil {
		return Config{}, mvnerr.Wrap(mvnerr.IO, err, "scanning properties stream")
	}
	return cfg, nil
}

func splitKeyValue(line string) (key, value string, ok bool) {
	i := strings.IndexByte(line, '=')
	if i < 0 {
		return "", "", false
	}
	return strings.TrimSpace(line[:i]), strings.TrimSpace(line[i+1:]), true
}

func apply(cfg *Config, key, value string) error {
	switch key {
	case "updateDelayAfterFailure":
		d, err := ParseDuration(value)
		if err != nil {
			return err
		}
		cfg.UpdateDelayAfterFailure = d
	case "updateDelayAfterSuccess":
		d, err := ParseDuration(value)
		if err != nil {
			return err
		}
		cfg.UpdateDelayAfterSuccess = d
	case "bgUpdateCheckInterval":
		d, err := ParseDuration(value)
		if err != nil {
			return err
		}
		cfg.BGUpdateCheckInterval = d
	case "blacklistedGroupIds":
		cfg.BlacklistedGroupIDs = splitGroupIDs(value)
	default:
		log.Warningf("ignoring unrecognized config key %q", key)
	}
	return nil
}

func splitGroupIDs(value string) []string {
	fields := strings.FieldsFunc(value, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t'
	})
	var out []string
	for _, f := range fields {
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}

// ParseDuration parses the <integer><s|m|h|d> literal format from spec.md
// §6, case-insensitive on the unit.
func ParseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, mvnerr.New(mvnerr.Config, "empty duration literal")
	}
	unit := s[len(s)-1:]
	numeric := s[:len(s)-1]
	n, err := strconv.ParseInt(numeric, 10, 64)
	if err != nil {
		return 0, mvnerr.Wrap(mvnerr.Config, err, "invalid duration literal %q", s)
	}
	if n < 0 {
		return 0, mvnerr.New(mvnerr.Config, "negative duration literal %q", s)
	}
	var unitDuration time.Duration
	switch strings.ToLower(unit) {
	case "s":
		unitDuration = time.Second
	case "m":
		unitDuration = time.Minute
	case "h":
		unitDuration = time.Hour
	case "d":
		unitDuration = 24 * time.Hour
	default:
		return 0, mvnerr.New(mvnerr.Config, "unrecognized duration unit %q in %q, expected one of s,m,h,d", unit, s)
	}
	return time.Duration(n) * unitDuration, nil
}
