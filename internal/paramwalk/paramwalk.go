// Package paramwalk extracts (token contract, token id, price) triples out
// of the opaque Michelson-parameter JSON blobs attached to marketplace
// listing calls. Entrypoint schemas vary across marketplaces and versions,
// so the walker probes a fixed set of known shapes rather than binding to
// one schema — grounded on gjson's path-query style as used in
// other_examples' blockwatch-cc-tzgo manifest, the one pack dependency
// built specifically for walking untyped Tezos parameter JSON.
package paramwalk

import (
	"github.com/tidwall/gjson"
)

// Listing is the (token identity, optional price) pair extracted from a
// listing-call parameter payload.
type Listing struct {
	TokenContract string
	TokenID       string
	Price         *int64 // nil when no price field was found
	Found         bool
}

// contractKeys/tokenIDKeys/priceKeys are tried in order against both the
// top level of the payload and each of the nested shapes in nestedKeys.
var (
	contractKeys = []string{"contract", "fa2_address", "token_contract", "address"}
	tokenIDKeys  = []string{"token_id", "tokenId", "objkt_id"}
	priceKeys    = []string{"price", "xtz_per_objkt", "amount", "mutez_per_token"}
	nestedKeys   = []string{"ask", "listing", "asks.0"}
)

// Walk extracts token identity and price from a listing call's parameter
// payload. Returns Found=false when no (contract, token-id) pair could be
// located in any of the known shapes; the deriver counts this as a skip.
func Walk(raw []byte) Listing {
	if !gjson.ValidBytes(raw) {
		return Listing{}
	}
	root := gjson.ParseBytes(raw)

	if l, ok := extractAt(root); ok {
		return l
	}
	for _, prefix := range nestedKeys {
		nested := root.Get(prefix)
		if !nested.Exists() {
			continue
		}
		if l, ok := extractAt(nested); ok {
			return l
		}
	}

	// editions probe: a list of per-edition objects, each with its own
	// token id / price; take the first edition with a usable pair.
	editions := root.Get("editions")
	if editions.IsArray() {
		var result Listing
		editions.ForEach(func(_, edition gjson.Result) bool {
			if l, ok := extractAt(edition); ok {
				result = l
				return false
			}
			return true
		})
		if result.Found {
			return result
		}
	}

	return Listing{}
}

// extractAt tries every known key combination against one JSON object.
func extractAt(v gjson.Result) (Listing, bool) {
	contract := firstString(v, contractKeys)
	tokenID := firstString(v, tokenIDKeys)
	if contract == "" || tokenID == "" {
		return Listing{}, false
	}

	l := Listing{TokenContract: contract, TokenID: tokenID, Found: true}
	if price, ok := firstInt(v, priceKeys); ok {
		l.Price = &price
	}
	return l, true
}

func firstString(v gjson.Result, keys []string) string {
	for _, k := range keys {
		if r := v.Get(k); r.Exists() && r.Type == gjson.String {
			return r.String()
		}
		if r := v.Get(k); r.Exists() && r.Type == gjson.Number {
			return r.String()
		}
	}
	return ""
}

func firstInt(v gjson.Result, keys []string) (int64, bool) {
	for _, k := range keys {
		if r := v.Get(k); r.Exists() {
			return r.Int(), true
		}
	}
	return 0, false
}
