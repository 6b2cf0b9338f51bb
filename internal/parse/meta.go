package parse

import (
	"regexp"
	"strings"
)

// Meta is the startup detail the node announces in its banner. Fields
// fill in one by one as the matching lines appear.
type Meta struct {
	Version   string `json:"version,omitempty"`
	ChainSpec string `json:"chain_spec,omitempty"`
	NodeName  string `json:"node_name,omitempty"`
	Role      string `json:"role,omitempty"`
	Database  string `json:"database,omitempty"`
	RPCAddr   string `json:"rpc_addr,omitempty"`
}

var (
	versionPattern   = regexp.MustCompile(`(?i)\bversion (\d[\w.+-]*)`)
	chainSpecPattern = regexp.MustCompile(`(?i)chain specification: (.+)$`)
	nodeNamePattern  = regexp.MustCompile(`(?i)node name: (.+)$`)
	rolePattern      = regexp.MustCompile(`(?i)\brole: (\S+)`)
	databasePattern  = regexp.MustCompile(`(?i)\bdatabase: (.+)$`)
	rpcAddrPattern   = regexp.MustCompile(`(?i)json-?rpc server.*addr=([^\s,]+)`)
)

// MetaCollector accumulates Meta across a run's output. Each field keeps
// its first match; later lines never overwrite it.
type MetaCollector struct {
	meta Meta
}

// Scan inspects one line and reports the collected Meta plus whether
// this line filled in a new field.
func (mc *MetaCollector) Scan(line string) (Meta, bool) {
	changed := false
	fill := func(dst *string, pattern *regexp.Regexp) {
		if *dst != "" {
			return
		}
		if m := pattern.FindStringSubmatch(line); m != nil {
			*dst = strings.TrimSpace(m[1])
			changed = true
		}
	}
	fill(&mc.meta.Version, versionPattern)
	fill(&mc.meta.ChainSpec, chainSpecPattern)
	fill(&mc.meta.NodeName, nodeNamePattern)
	fill(&mc.meta.Role, rolePattern)
	fill(&mc.meta.Database, databasePattern)
	fill(&mc.meta.RPCAddr, rpcAddrPattern)
	return mc.meta, changed
}

// Meta returns the fields collected so far.
func (mc *MetaCollector) Meta() Meta { return mc.meta }

// Reset clears all collected fields for a fresh run.
func (mc *MetaCollector) Reset() { mc.meta = Meta{} }
