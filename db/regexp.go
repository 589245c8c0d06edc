package db

import (
	"regexp"
	"sync"
)

// regexpCache holds compiled patterns for the REGEXP SQL function. Entries
// are small and pattern sets come from rule files, so no eviction.
var regexpCache sync.Map // pattern string -> *regexp.Regexp (nil for invalid)

// regexpMatch implements the SQL REGEXP operator: X REGEXP Y calls
// regexp(Y, X), so the pattern arrives first. Matching is case-insensitive.
// An invalid pattern never matches and never raises through the query
// engine; compiled queries and in-memory evaluation must agree on that.
func regexpMatch(pattern, value string) (bool, error) {
	if cached, ok := regexpCache.Load(pattern); ok {
		re, _ := cached.(*regexp.Regexp)
		if re == nil {
			return false, nil
		}
		return re.MatchString(value), nil
	}

	re, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		regexpCache.Store(pattern, (*regexp.Regexp)(nil))
		return false, nil
	}
	regexpCache.Store(pattern, re)
	return re.MatchString(value), nil
}
