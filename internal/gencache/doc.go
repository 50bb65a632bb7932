// Package gencache caches generation results by content address so repeated
// identical requests never pay for a second provider call. Entries expire
// after a configurable TTL and the oldest entries are evicted when the cache
// exceeds its size cap.
package gencache
