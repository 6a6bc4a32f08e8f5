// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package intel

import (
	"fmt"
	"strings"

	"github.com/robfig/cron/v3"

	"zdns.dev/zdns/internal/logging"
	"zdns.dev/zdns/internal/store"
)

// Default priority for synchronized threat-intel rules: above list imports,
// below hand-written admin rules.
const syncRulePriority = 50

// Service runs all threat-intel ingestion against one store.
type Service struct {
	store      *store.Store
	otxBaseURL string
}

// NewService builds an ingestion service.
func NewService(s *store.Store) *Service {
	return &Service{store: s, otxBaseURL: "https://otx.alienvault.com"}
}

// IngestObjects stores raw STIX objects in the default collection.
func (s *Service) IngestObjects(objects []map[string]any) (int, error) {
	collectionID, err := s.store.EnsureDefaultCollection()
	if err != nil {
		return 0, err
	}
	return s.store.AddObjects(collectionID, objects)
}

// SyncIndicators materializes every stored domain-name indicator into an
// EXACT BLOCK rule. Upserting by (pattern, match_type) makes repeated runs
// idempotent. Returns the number of rules written.
func (s *Service) SyncIndicators() (int, error) {
	collectionID, err := s.store.EnsureDefaultCollection()
	if err != nil {
		return 0, err
	}
	indicators, err := s.store.IndicatorObjects(collectionID)
	if err != nil {
		return 0, err
	}

	synced := 0
	for _, ind := range indicators {
		var obj struct {
			Pattern    string `json:"pattern"`
			ValidUntil string `json:"valid_until"`
			Expiration string `json:"expiration"`
		}
		if err := json.Unmarshal(ind.Raw, &obj); err != nil {
			continue
		}
		if !containsDomainPattern(obj.Pattern) {
			continue
		}
		d := ParseIndicatorDomain(obj.Pattern)
		if d == "" {
			continue
		}
		expiresAt := obj.ValidUntil
		if expiresAt == "" {
			expiresAt = obj.Expiration
		}
		rule := &store.Rule{
			Name:      fmt.Sprintf("threat-intel %s", d),
			Pattern:   d,
			MatchType: store.MatchExact,
			Action:    store.ActionBlock,
			Enabled:   true,
			Priority:  syncRulePriority,
			Notes:     "stix:" + ind.ID,
			Source:    store.SourceThreatIntel,
			ExpiresAt: expiresAt,
		}
		if err := s.store.UpsertRuleByPattern(rule); err != nil {
			return synced, err
		}
		synced++
	}
	return synced, nil
}

func containsDomainPattern(pattern string) bool {
	return strings.Contains(pattern, "domain-name:value")
}

// StartSyncTimer schedules a periodic SyncIndicators run every intervalMin
// minutes. Returns nil when the interval disables the timer.
func (s *Service) StartSyncTimer(intervalMin int) *cron.Cron {
	if intervalMin <= 0 {
		return nil
	}
	c := cron.New()
	spec := fmt.Sprintf("@every %dm", intervalMin)
	_, err := c.AddFunc(spec, func() {
		n, err := s.SyncIndicators()
		if err != nil {
			logging.Error("intel: scheduled rule sync failed: %v", err)
			return
		}
		logging.Info("intel: scheduled rule sync wrote %d rules", n)
	})
	if err != nil {
		logging.Error("intel: scheduling rule sync failed: %v", err)
		return nil
	}
	c.Start()
	logging.Info("intel: rule sync scheduled every %d minutes", intervalMin)
	return c
}
