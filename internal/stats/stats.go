package stats

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/quantfeed/market-gateway/api/types"
	"github.com/quantfeed/market-gateway/internal/versioning"
)

// These are the types of statistics that we can add. The value is the JSON key that will be used for serialization.
type StatType string

const (
	QuoteFetches       StatType = "quote_fetches"
	KlineFetches       StatType = "kline_fetches"
	SearchQueries      StatType = "search_queries"
	NewsFetches        StatType = "news_fetches"
	PageFetches        StatType = "page_fetches"
	ProviderErrors     StatType = "provider_errors"
	ValidationFailures StatType = "validation_failures"
	BreakerSkips       StatType = "breaker_skips"
	KeyExhausted       StatType = "key_exhausted"
	CacheHits          StatType = "cache_hits"
)

// AddStat is the struct used in the rest of the gateway for sending statistics
type AddStat struct {
	Type     StatType
	Provider string
	Num      uint
}

// Stats is the structure we use to store the statistics
type Stats struct {
	BootTimeUnix         int64                        `json:"boot_time"`
	LastOperationUnix    int64                        `json:"last_operation_time"`
	CurrentTimeUnix      int64                        `json:"current_time"`
	Stats                map[string]map[StatType]uint `json:"stats"`
	ReportedCapabilities []types.CapabilityInfo       `json:"reported_capabilities"`
	GatewayVersion       string                       `json:"gateway_version"`
	ApplicationVersion   string                       `json:"application_version"`
	sync.Mutex
}

// StatsCollector is the object used to collect statistics
type StatsCollector struct {
	Stats *Stats
	Chan  chan AddStat
}

// StartCollector starts a goroutine that listens to a channel for AddStat messages and updates the stats accordingly.
func StartCollector(bufSize uint) *StatsCollector {
	logrus.Info("Starting stats collector")

	s := Stats{
		BootTimeUnix:       time.Now().Unix(),
		Stats:              make(map[string]map[StatType]uint),
		GatewayVersion:     versioning.Version,
		ApplicationVersion: versioning.ApplicationVersion,
	}

	ch := make(chan AddStat, bufSize)

	go func(s *Stats, ch chan AddStat) {
		for {
			stat := <-ch
			s.Lock()
			s.LastOperationUnix = time.Now().Unix()
			if _, ok := s.Stats[stat.Provider]; !ok {
				s.Stats[stat.Provider] = make(map[StatType]uint)
			}
			if _, ok := s.Stats[stat.Provider][stat.Type]; ok {
				s.Stats[stat.Provider][stat.Type] += stat.Num
			} else {
				s.Stats[stat.Provider][stat.Type] = stat.Num
			}
			s.Unlock()
			logrus.Debugf("Added %d to stat %s for %s", stat.Num, stat.Type, stat.Provider)
		}
	}(&s, ch)

	return &StatsCollector{Stats: &s, Chan: ch}
}

// Json returns the current statistics as a JSON byte array
func (s *StatsCollector) Json() ([]byte, error) {
	s.Stats.Lock()
	defer s.Stats.Unlock()
	s.Stats.CurrentTimeUnix = time.Now().Unix()
	return json.Marshal(s.Stats)
}

// Add is a convenience method to add a number to a statistic
func (s *StatsCollector) Add(provider string, typ StatType, num uint) {
	if s == nil {
		return
	}
	s.Chan <- AddStat{Provider: provider, Type: typ, Num: num}
}

// SetCapabilities records the capability surface reported by /capabilities.
func (s *StatsCollector) SetCapabilities(caps []types.CapabilityInfo) {
	s.Stats.Lock()
	defer s.Stats.Unlock()
	s.Stats.ReportedCapabilities = caps
}
