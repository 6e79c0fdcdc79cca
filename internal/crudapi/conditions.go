package crudapi

import (
	"net/url"
	"slices"
	"strings"
)

// singleValued keys hold one value; a later Add replaces it.
var singleValued = []string{"include", "exclude", "page", "size"}

// collapsed keys are sent as one comma-joined parameter instead of one
// parameter per value.
var collapsed = []string{"include", "exclude", "page", "size", "join"}

// Conditions is the query model of a list or read call. Keys keep their
// insertion order so the encoded query is deterministic.
type Conditions struct {
	keys   []string
	values map[string][]string
}

// Add appends value under key. For single-valued keys (include, exclude,
// page, size) the previous value is replaced.
func (c *Conditions) Add(key, value string) {
	if c.values == nil {
		c.values = make(map[string][]string)
	}
	if _, ok := c.values[key]; !ok {
		c.keys = append(c.keys, key)
	}
	if slices.Contains(singleValued, key) {
		c.values[key] = []string{value}
		return
	}
	c.values[key] = append(c.values[key], value)
}

// Filter adds a structured filter triple.
func (c *Conditions) Filter(field, op, value string) {
	c.Add("filter", field+","+op+","+value)
}

// Order adds an ordering on field, direction "asc" or "desc".
func (c *Conditions) Order(field, direction string) {
	c.Add("order", field+","+direction)
}

// Len returns the number of distinct keys.
func (c *Conditions) Len() int {
	if c == nil {
		return 0
	}
	return len(c.keys)
}

// Keys returns the keys in insertion order.
func (c *Conditions) Keys() []string {
	if c == nil {
		return nil
	}
	return slices.Clone(c.keys)
}

// Get returns the values stored for key.
func (c *Conditions) Get(key string) []string {
	if c == nil {
		return nil
	}
	return c.values[key]
}

// Encode renders the query string without the leading '?'. Repeatable keys
// yield one key=value per value; collapsed keys yield a single comma-joined
// parameter. Commas are left unescaped.
func (c *Conditions) Encode() string {
	if c.Len() == 0 {
		return ""
	}
	var args []string
	for _, k := range c.keys {
		vals := c.values[k]
		if slices.Contains(collapsed, k) {
			args = append(args, escape(k)+"="+escape(strings.Join(vals, ",")))
			continue
		}
		for _, v := range vals {
			args = append(args, escape(k)+"="+escape(v))
		}
	}
	return strings.Join(args, "&")
}

func escape(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "%2C", ",")
}

// ParseConditions reads a raw query string into Conditions, keeping the order
// in which keys first appear.
func ParseConditions(rawQuery string) (*Conditions, error) {
	c := &Conditions{}
	for rawQuery != "" {
		var part string
		part, rawQuery, _ = strings.Cut(rawQuery, "&")
		if part == "" {
			continue
		}
		k, v, _ := strings.Cut(part, "=")
		key, err := url.QueryUnescape(k)
		if err != nil {
			return nil, err
		}
		val, err := url.QueryUnescape(v)
		if err != nil {
			return nil, err
		}
		c.Add(key, val)
	}
	return c, nil
}
