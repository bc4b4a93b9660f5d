package redis

import "fmt"

const ns = "tiketin:v1"

func KeyEventSummary(eventID int64) string {
	return fmt.Sprintf("%s:event:%d:summary", ns, eventID)
}

func KeyEventAvailability(eventID int64) string {
	return fmt.Sprintf("%s:event:%d:availability", ns, eventID)
}

func KeyIdemCheckout(eventID int64, idemKey string) string {
	return fmt.Sprintf("%s:idem:checkout:%d:%s", ns, eventID, idemKey)
}

// RateLimitPrefix is the key prefix handed to SlidingWindowLimiter,
// which appends the per-client suffix itself.
func RateLimitPrefix(scope string) string {
	return fmt.Sprintf("%s:rl:%s", ns, scope)
}

func ChannelEventsChanged() string {
	return ns + ":events:changed"
}
