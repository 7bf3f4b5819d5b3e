package models

import (
	"encoding/json"
	"slices"
	"strings"
)

// Filter selects events on a relay. Tag conditions are keyed by the single
// letter tag name ("e", "p", "d", ...) and serialized as "#e" on the wire.
type Filter struct {
	IDs     []string
	Kinds   []int
	Authors []string
	Tags    map[string][]string
	Since   int64
	Until   int64
	Limit   int
}

// MarshalJSON renders the relay wire form of the filter.
func (f Filter) MarshalJSON() ([]byte, error) {
	m := make(map[string]any)
	if len(f.IDs) > 0 {
		m["ids"] = f.IDs
	}
	if len(f.Kinds) > 0 {
		m["kinds"] = f.Kinds
	}
	if len(f.Authors) > 0 {
		m["authors"] = f.Authors
	}
	for k, v := range f.Tags {
		m["#"+k] = v
	}
	if f.Since > 0 {
		m["since"] = f.Since
	}
	if f.Until > 0 {
		m["until"] = f.Until
	}
	if f.Limit > 0 {
		m["limit"] = f.Limit
	}
	return json.Marshal(m)
}

// UnmarshalJSON parses the relay wire form of the filter.
func (f *Filter) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*f = Filter{}
	for k, v := range raw {
		var err error
		switch {
		case k == "ids":
			err = json.Unmarshal(v, &f.IDs)
		case k == "kinds":
			err = json.Unmarshal(v, &f.Kinds)
		case k == "authors":
			err = json.Unmarshal(v, &f.Authors)
		case k == "since":
			err = json.Unmarshal(v, &f.Since)
		case k == "until":
			err = json.Unmarshal(v, &f.Until)
		case k == "limit":
			err = json.Unmarshal(v, &f.Limit)
		case strings.HasPrefix(k, "#") && len(k) > 1:
			var vals []string
			err = json.Unmarshal(v, &vals)
			if f.Tags == nil {
				f.Tags = make(map[string][]string)
			}
			f.Tags[k[1:]] = vals
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// Matches reports whether evt satisfies every condition of the filter.
func (f Filter) Matches(evt Event) bool {
	if len(f.IDs) > 0 && !slices.Contains(f.IDs, evt.ID) {
		return false
	}
	if len(f.Kinds) > 0 && !slices.Contains(f.Kinds, evt.Kind) {
		return false
	}
	if len(f.Authors) > 0 && !slices.Contains(f.Authors, evt.PubKey) {
		return false
	}
	for name, want := range f.Tags {
		found := false
		for _, v := range evt.Tags.Values(name) {
			if slices.Contains(want, v) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.Since > 0 && evt.CreatedAt < f.Since {
		return false
	}
	if f.Until > 0 && evt.CreatedAt > f.Until {
		return false
	}
	return true
}

// MatchAny reports whether evt satisfies at least one filter.
func MatchAny(filters []Filter, evt Event) bool {
	for _, f := range filters {
		if f.Matches(evt) {
			return true
		}
	}
	return false
}
