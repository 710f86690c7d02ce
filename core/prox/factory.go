package prox

import "github.com/openmetaverse/spaceloc/core/loccache"

// FactoryOptions mirrors the options block spec §6 describes: keys
// "branching" (default 10) and "rebuild-batch-size" (default 10, read
// by core/rebuild, not here) plus the handler type string itself.
type FactoryOptions struct {
	Type       string
	Branching  int
	Rebuilding bool
}

// New builds the query handler named by opts.Type (spec §6 factory
// string): "brute", "rtree", "rtreedist" (alias "dist"), "rtreecut",
// "rtreecutagg", "level". An unknown type string produces a nil
// handler, matching "Unknown type strings produce a null handler."
func New(cache *loccache.Cache, opts FactoryOptions) Handler {
	branching := opts.Branching
	if branching <= 0 {
		branching = 10
	}
	switch opts.Type {
	case "brute":
		return NewBrute(cache)
	case "rtree":
		return NewRTreeAngle(cache, branching)
	case "rtreedist", "dist":
		return NewRTreeDistance(cache, branching)
	case "rtreecut":
		return NewRTreeCut(NewRTreeAngle(cache, branching), false)
	case "rtreecutagg":
		return NewRTreeCut(NewRTreeAngle(cache, branching), true)
	case "level":
		return NewLevel(cache)
	default:
		return nil
	}
}
