// Package view derives the dashboard's display rows from raw call legs and
// peers. Everything here is a pure recomputation over a full snapshot.
package view

import (
	"sort"
	"strings"

	"github.com/sweeney/asterisk-dashboard/internal/state"
)

// MergedCall is one physical call assembled from the legs sharing a linkedId.
type MergedCall struct {
	LinkedID               string `json:"linkedId"`
	ChannelName            string `json:"channelName"`
	CallerID               string `json:"callerId"`
	State                  string `json:"state"`
	StartedAtEpochMs       int64  `json:"startedAtEpochMs,omitempty"`
	Destination            string `json:"destination"`
	DestinationChannelName string `json:"destinationChannelName,omitempty"`
	IsOutgoing             bool   `json:"isOutgoing"`
	Legs                   int    `json:"legs"`
}

// outboundMarker in a channel name flags a trunk-bound call.
const outboundMarker = "OUT"

// MergeCalls groups legs by linkedId (or id when unlinked) and builds one
// MergedCall per group. The primary leg is the one whose id equals the
// linkedId, else the first leg in input order. Output is ordered by start
// time, then linkedId.
func MergeCalls(legs []state.CallRecord) []MergedCall {
	groups := make(map[string][]state.CallRecord)
	var keys []string
	for _, leg := range legs {
		key := leg.LinkedID
		if key == "" {
			key = leg.ID
		}
		if _, ok := groups[key]; !ok {
			keys = append(keys, key)
		}
		groups[key] = append(groups[key], leg)
	}

	merged := make([]MergedCall, 0, len(keys))
	for _, key := range keys {
		merged = append(merged, mergeGroup(key, groups[key]))
	}

	sort.SliceStable(merged, func(i, j int) bool {
		if merged[i].StartedAtEpochMs != merged[j].StartedAtEpochMs {
			return merged[i].StartedAtEpochMs < merged[j].StartedAtEpochMs
		}
		return merged[i].LinkedID < merged[j].LinkedID
	})
	return merged
}

func mergeGroup(key string, legs []state.CallRecord) MergedCall {
	primary := legs[0]
	for _, leg := range legs {
		if leg.ID == key {
			primary = leg
			break
		}
	}
	var secondary state.CallRecord
	for _, leg := range legs {
		if leg.ID != primary.ID {
			secondary = leg
			break
		}
	}

	startedAt := primary.StartedAtEpochMs
	if startedAt == 0 {
		startedAt = secondary.StartedAtEpochMs
	}

	return MergedCall{
		LinkedID:         key,
		ChannelName:      primary.ChannelName,
		CallerID:         first(primary.CallerID, secondary.CallerID, "Unknown"),
		State:            first(primary.State, secondary.State, "Active"),
		StartedAtEpochMs: startedAt,
		Destination: first(
			primary.Destination,
			secondary.Destination,
			secondary.CallerID,
			primary.Extension,
			primary.ConnectedLineNumber,
			"-",
		),
		DestinationChannelName: first(primary.DestinationChannelName, secondary.ChannelName),
		IsOutgoing: strings.Contains(primary.ChannelName, outboundMarker) ||
			primary.Destination != "" || secondary.Destination != "",
		Legs: len(legs),
	}
}

func first(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
