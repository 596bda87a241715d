package config

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"go.yaml.in/yaml/v3"
)

// Get returns the raw value under the dotted key k, or nil.
func (c *C) Get(k string) any {
	return c.get(k, c.Settings)
}

func (c *C) IsSet(k string) bool {
	return c.get(k, c.Settings) != nil
}

func (c *C) get(k string, v any) any {
	for _, p := range strings.Split(k, ".") {
		m, ok := v.(map[string]any)
		if !ok {
			return nil
		}
		if v, ok = m[p]; !ok {
			return nil
		}
	}
	return v
}

// GetString will get the string for k or return the default d if not found or invalid
func (c *C) GetString(k, d string) string {
	r := c.Get(k)
	if r == nil {
		return d
	}
	return fmt.Sprintf("%v", r)
}

// GetMap will get the map for k or return the default d if not found or invalid
func (c *C) GetMap(k string, d map[string]any) map[string]any {
	v, ok := c.Get(k).(map[string]any)
	if !ok {
		return d
	}
	return v
}

// GetInt will get the int for k or return the default d if not found or invalid
func (c *C) GetInt(k string, d int) int {
	v, err := strconv.Atoi(c.GetString(k, strconv.Itoa(d)))
	if err != nil {
		return d
	}
	return v
}

// GetUint32 will get the uint32 for k or return the default d if not found or
// invalid. Hex values with a 0x prefix are accepted.
func (c *C) GetUint32(k string, d uint32) uint32 {
	v, err := strconv.ParseUint(c.GetString(k, ""), 0, 32)
	if err != nil {
		return d
	}
	return uint32(v)
}

// GetUint16 will get the uint16 for k or return the default d if not found or invalid
func (c *C) GetUint16(k string, d uint16) uint16 {
	r := c.GetInt(k, int(d))
	if r < 0 || r > math.MaxUint16 {
		return d
	}
	return uint16(r)
}

// GetBool will get the bool for k or return the default d if not found or invalid
func (c *C) GetBool(k string, d bool) bool {
	r := strings.ToLower(c.GetString(k, strconv.FormatBool(d)))
	if v, err := strconv.ParseBool(r); err == nil {
		return v
	}

	switch r {
	case "y", "yes":
		return true
	case "n", "no":
		return false
	}
	return d
}

// GetDuration will get the duration for k or return the default d if not found or invalid
func (c *C) GetDuration(k string, d time.Duration) time.Duration {
	v, err := time.ParseDuration(c.GetString(k, ""))
	if err != nil {
		return d
	}
	return v
}

// Decode copies the value under k into v, which is usually a pointer to a
// struct or slice with yaml tags. A missing key leaves v untouched.
func (c *C) Decode(k string, v any) error {
	r := c.Get(k)
	if r == nil {
		return nil
	}

	b, err := yaml.Marshal(r)
	if err != nil {
		return fmt.Errorf("%s: %w", k, err)
	}
	if err := yaml.Unmarshal(b, v); err != nil {
		return fmt.Errorf("%s: %w", k, err)
	}
	return nil
}
