package router

import "strings"

// Mode is the execution pipeline selected for one request.
type Mode string

const (
	ModeLiveWeb    Mode = "live_web"
	ModeScheduling Mode = "scheduling"
	ModeRetrieval  Mode = "retrieval"
)

// Intent markers are matched against the raw, unmodified prompt text.
// Case-sensitive by contract: "@Internet" does not trigger live-web mode.
const (
	MarkerLiveWeb    = "@internet"
	MarkerScheduling = "schedule"
)

// Route classifies a raw prompt into exactly one mode. Checks run in fixed
// priority order, first match wins; retrieval is the universal default, so
// routing never fails.
func Route(prompt string) Mode {
	if strings.Contains(prompt, MarkerLiveWeb) {
		return ModeLiveWeb
	}
	if strings.Contains(prompt, MarkerScheduling) {
		return ModeScheduling
	}
	return ModeRetrieval
}
