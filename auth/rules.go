// Package auth decides which roles a document path requires and which roles
// a caller holds.
package auth

import (
	"errors"
	"fmt"
	"io/fs"
	"net/netip"
	"strings"

	"github.com/samber/lo"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"

	"github.com/pagescaler/pagescaler/docpath"
)

// Checker returns the roles required for a canonical path. An empty result
// means the path is unrestricted.
type Checker interface {
	RequiredRoles(p string) []string
}

// Rules is a Checker loaded from a YAML rules file:
//
//	paths:
//	  - path: manuscripts/restricted
//	    roles: [scholar, admin]
//	hosts:
//	  - address: 10.0.0.0/8
//	    roles: [scholar]
//
// A path rule covers the path and everything below it; the deepest rule
// wins. Host rules grant roles to callers by network address.
type Rules struct {
	paths map[string][]string
	hosts []hostRule
}

type hostRule struct {
	prefix netip.Prefix
	roles  []string
}

type rulesFile struct {
	Paths []struct {
		Path  string   `yaml:"path"`
		Roles []string `yaml:"roles"`
	} `yaml:"paths"`
	Hosts []struct {
		Address string   `yaml:"address"`
		Roles   []string `yaml:"roles"`
	} `yaml:"hosts"`
}

// LoadRules reads a rules file. A missing file yields empty rules.
func LoadRules(fsys afero.Fs, p string) (*Rules, error) {
	r := &Rules{paths: make(map[string][]string)}
	data, err := afero.ReadFile(fsys, p)
	if errors.Is(err, fs.ErrNotExist) {
		return r, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read auth rules: %w", err)
	}

	var f rulesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse auth rules %s: %w", p, err)
	}
	for _, pr := range f.Paths {
		cp, err := docpath.Canonicalize(pr.Path)
		if err != nil {
			return nil, fmt.Errorf("auth rule path %q: %w", pr.Path, err)
		}
		r.paths[cp] = lo.Uniq(append(r.paths[cp], pr.Roles...))
	}
	for _, hr := range f.Hosts {
		prefix, err := parsePrefix(hr.Address)
		if err != nil {
			return nil, fmt.Errorf("auth rule address %q: %w", hr.Address, err)
		}
		r.hosts = append(r.hosts, hostRule{prefix: prefix, roles: hr.Roles})
	}
	return r, nil
}

func parsePrefix(s string) (netip.Prefix, error) {
	if strings.Contains(s, "/") {
		return netip.ParsePrefix(s)
	}
	a, err := netip.ParseAddr(s)
	if err != nil {
		return netip.Prefix{}, err
	}
	return netip.PrefixFrom(a, a.BitLen()), nil
}

// RequiredRoles implements Checker.
func (r *Rules) RequiredRoles(p string) []string {
	if r == nil {
		return nil
	}
	for {
		if roles, ok := r.paths[p]; ok {
			return roles
		}
		if p == "" {
			return nil
		}
		p = docpath.Parent(p)
	}
}

// HostRoles returns the roles granted to a caller address.
func (r *Rules) HostRoles(addr string) []string {
	if r == nil || len(r.hosts) == 0 {
		return nil
	}
	a, err := netip.ParseAddr(addr)
	if err != nil {
		return nil
	}
	a = a.Unmap()
	var roles []string
	for _, h := range r.hosts {
		if h.prefix.Contains(a) {
			roles = append(roles, h.roles...)
		}
	}
	return lo.Uniq(roles)
}

// Caller is the identity a request runs as.
type Caller struct {
	Subject string
	Addr    string
	Roles   []string
}

// Authorized reports whether the caller holds one of the required roles.
// No required roles means everyone is authorized.
func Authorized(required []string, c Caller) bool {
	if len(required) == 0 {
		return true
	}
	return lo.Some(c.Roles, required)
}
