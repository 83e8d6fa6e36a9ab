package domain

import (
	"sort"
	"strings"
)

// Tier is the subscription level of a user.
type Tier string

const (
	TierFree      Tier = "free"
	TierEssential Tier = "essential"
	TierPremium   Tier = "premium"
	TierVIP       Tier = "vip"
)

// tierRanks orders tiers so that a higher tier always includes everything
// below it. Access checks compare ranks, never membership lists.
var tierRanks = map[Tier]int{
	TierFree:      0,
	TierEssential: 1,
	TierPremium:   2,
	TierVIP:       3,
}

// Rank returns the ordinal of the tier. Unknown tiers rank as free.
func (t Tier) Rank() int {
	if rank, ok := tierRanks[Tier(strings.ToLower(string(t)))]; ok {
		return rank
	}
	return tierRanks[TierFree]
}

// TierForName normalizes user input to a known tier, falling back to free.
func TierForName(name string) Tier {
	tier := Tier(strings.ToLower(strings.TrimSpace(name)))
	if _, ok := tierRanks[tier]; ok {
		return tier
	}
	return TierFree
}

// Tiers returns all tiers ordered from lowest to highest rank.
func Tiers() []Tier {
	tiers := make([]Tier, 0, len(tierRanks))
	for tier := range tierRanks {
		tiers = append(tiers, tier)
	}
	sort.Slice(tiers, func(i, j int) bool { return tiers[i].Rank() < tiers[j].Rank() })
	return tiers
}

// TierInfo describes the price point of a tier.
type TierInfo struct {
	Tier  Tier
	Name  string
	Price int
}

var tierInfos = map[Tier]TierInfo{
	TierFree:      {Tier: TierFree, Name: "Free", Price: 0},
	TierEssential: {Tier: TierEssential, Name: "Essential", Price: 24},
	TierPremium:   {Tier: TierPremium, Name: "Premium", Price: 97},
	TierVIP:       {Tier: TierVIP, Name: "VIP", Price: 197},
}

// InfoForTier returns the tier description, falling back to free.
func InfoForTier(tier Tier) TierInfo {
	if info, ok := tierInfos[TierForName(string(tier))]; ok {
		return info
	}
	return tierInfos[TierFree]
}

// Feature names a gated capability of the bot.
type Feature string

const (
	FeaturePreview           Feature = "preview"
	FeatureBasicHelp         Feature = "basic_help"
	FeatureDailyLessons      Feature = "daily_lessons"
	FeatureProgressTracking  Feature = "progress_tracking"
	FeatureBasicSupport      Feature = "basic_support"
	FeaturePrioritySupport   Feature = "priority_support"
	FeatureAdvancedAnalytics Feature = "advanced_analytics"
	FeatureAdminContact      Feature = "admin_contact"
	FeatureBookingSystem     Feature = "booking_system"
	FeatureCapitalClarity    Feature = "capital_clarity"
	FeatureVIPReports        Feature = "vip_reports"
)

// featureMinTier maps each feature to the lowest tier that unlocks it.
// A new tier above vip inherits everything without touching this table.
var featureMinTier = map[Feature]Tier{
	FeaturePreview:           TierFree,
	FeatureBasicHelp:         TierFree,
	FeatureDailyLessons:      TierEssential,
	FeatureProgressTracking:  TierEssential,
	FeatureBasicSupport:      TierEssential,
	FeaturePrioritySupport:   TierPremium,
	FeatureAdvancedAnalytics: TierPremium,
	FeatureAdminContact:      TierPremium,
	FeatureBookingSystem:     TierVIP,
	FeatureCapitalClarity:    TierVIP,
	FeatureVIPReports:        TierVIP,
}

// MinTierFor returns the minimum tier required for the feature.
func MinTierFor(feature Feature) (Tier, bool) {
	tier, ok := featureMinTier[feature]
	return tier, ok
}

// Features returns every declared feature sorted by name.
func Features() []Feature {
	features := make([]Feature, 0, len(featureMinTier))
	for feature := range featureMinTier {
		features = append(features, feature)
	}
	sort.Slice(features, func(i, j int) bool { return features[i] < features[j] })
	return features
}

// HasFeature reports whether the tier's rank meets the feature's minimum.
// Unknown features are never granted.
func (t Tier) HasFeature(feature Feature) bool {
	min, ok := featureMinTier[feature]
	if !ok {
		return false
	}
	return t.Rank() >= min.Rank()
}

// Plan returns the tier description of the user's current level.
func (u User) Plan() TierInfo {
	if !u.IsPaid {
		return tierInfos[TierFree]
	}
	return InfoForTier(u.Tier)
}
