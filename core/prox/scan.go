package prox

import (
	"github.com/openmetaverse/spaceloc/cmn/cos"
	"github.com/openmetaverse/spaceloc/core/loccache"
)

// scanAll visits every live cache entry. Used by Brute.
func scanAll(cache *loccache.Cache, fn func(cos.ObjectID, *loccache.Entry)) {
	cache.Range(func(e *loccache.Entry) { fn(e.ID, e) })
}
