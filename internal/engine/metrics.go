package engine

import "github.com/openmem/openmem/internal/security"

func observeCacheHit() {
	if security.CacheHitsTotal != nil {
		security.CacheHitsTotal.Inc()
	}
}

func observeCacheMiss() {
	if security.CacheMissesTotal != nil {
		security.CacheMissesTotal.Inc()
	}
}

func observeIngestEvent(event string) {
	if security.IngestEventsTotal != nil {
		security.IngestEventsTotal.WithLabelValues(event).Inc()
	}
}
