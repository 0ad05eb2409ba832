package cache

import (
	"fmt"
	"time"
)

/* Cache key namespaces used by the request-handling layer
 * Colon-delimited prefixes, final segment is the variable part
 */
const (
	// KeyDashboardStats is the prefix for dashboard stat caches: dashboard:stats:{userId}
	KeyDashboardStats = "dashboard:stats"
	// KeyDashboardRevenue is the prefix for revenue chart caches: dashboard:revenue:{userId}:{months}
	KeyDashboardRevenue = "dashboard:revenue"
	// KeyInvoiceList is the prefix for invoice list caches: invoices:list:{userId}:{filterKey}
	KeyInvoiceList = "invoices:list"
	// KeyCustomerList is the prefix for customer list caches: customers:list:{userId}:{filterKey}
	KeyCustomerList = "customers:list"
	// KeyQuotationList is the prefix for quotation list caches: quotations:list:{userId}:{filterKey}
	KeyQuotationList = "quotations:list"
	// KeyAPIKeyHash is the prefix for API-key validation caches: apikey:hash:{keyHash}
	KeyAPIKeyHash = "apikey:hash"
)

const (
	// TTLDashboardStats is the TTL for dashboard stats (60 seconds)
	TTLDashboardStats = 60 * time.Second
	// TTLDashboardRevenue is the TTL for revenue charts (5 minutes)
	TTLDashboardRevenue = 300 * time.Second
	// TTLListData is the TTL for invoice/customer/quotation lists (30 seconds)
	TTLListData = 30 * time.Second
	// TTLAPIKey is the TTL for API-key validation results. Intentionally
	// short: it bounds how long a revoked key stays valid from cache.
	TTLAPIKey = 120 * time.Second
)

// Key builds a cache key from a namespace prefix and its variable parts.
// Example: Key(KeyInvoiceList, "user-1", "page2") -> "invoices:list:user-1:page2"
func Key(prefix string, parts ...string) string {
	key := prefix
	for _, part := range parts {
		key += ":" + part
	}
	return key
}

// UserPattern builds the glob that invalidates every key a user owns under
// a namespace. Example: UserPattern(KeyInvoiceList, "user-1") -> "invoices:list:user-1:*"
func UserPattern(prefix, userID string) string {
	return fmt.Sprintf("%s:%s:*", prefix, userID)
}
