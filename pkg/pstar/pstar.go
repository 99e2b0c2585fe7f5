// Package pstar implements the five-dimension addressing scheme
// (Platform, Service, Type, Account, Region) used to name document-store
// collections, and the platform/account listings advertised by agent nodes.
package pstar

import (
	"sort"
	"strings"
)

// Address locates records in the document store.
type Address struct {
	Platform string `json:"platform"`
	Service  string `json:"service"`
	Type     string `json:"type"`
	Account  string `json:"account,omitempty"`
	Region   string `json:"region,omitempty"`
}

// Collection returns the collection holding records for this address:
// platform.service.type. Account and region live inside the records.
func (a Address) Collection() string {
	return strings.Join([]string{a.Platform, a.Service, a.Type}, ".")
}

// Valid reports whether the collection dimensions are all set.
func (a Address) Valid() bool {
	return a.Platform != "" && a.Service != "" && a.Type != ""
}

// Filter returns equality matches for the account and region dimensions
// that are set, in match syntax.
func (a Address) Filter() []string {
	var out []string
	if a.Account != "" {
		out = append(out, "Harvest.Account=="+a.Account)
	}
	if a.Region != "" {
		out = append(out, "Harvest.Region=="+a.Region)
	}
	return out
}

// Account is one platform account advertised by an agent.
type Account struct {
	Platform string `json:"platform"`
	Account  string `json:"account"`
}

// Accounts parses "platform:account" entries, dropping malformed ones,
// and returns them deduplicated and sorted.
func Accounts(entries []string) []Account {
	seen := make(map[Account]struct{})
	for _, e := range entries {
		platform, account, ok := strings.Cut(e, ":")
		if !ok || platform == "" {
			continue
		}
		seen[Account{Platform: platform, Account: account}] = struct{}{}
	}

	out := make([]Account, 0, len(seen))
	for a := range seen {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Platform != out[j].Platform {
			return out[i].Platform < out[j].Platform
		}
		return out[i].Account < out[j].Account
	})
	return out
}

// Platforms returns the distinct platforms among entries, sorted.
func Platforms(entries []string) []string {
	seen := make(map[string]struct{})
	for _, a := range Accounts(entries) {
		seen[a.Platform] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for p := range seen {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// FirstAccount returns the first advertised account on platform.
func FirstAccount(entries []string, platform string) (string, bool) {
	for _, a := range Accounts(entries) {
		if a.Platform == platform {
			return a.Account, true
		}
	}
	return "", false
}
