package search

import "errors"

// State is a step of the search state machine.
type State string

// Search states.
const (
	StateInit                 State = "INIT"
	StateConsentHandling      State = "CONSENT_HANDLING"
	StateQueryEntry           State = "QUERY_ENTRY"
	StateCandidateSearch      State = "CANDIDATE_SEARCH"
	StateCandidateSearchRetry State = "CANDIDATE_SEARCH_RETRY"
	StateDetailNavigation     State = "DETAIL_NAVIGATION"
	StateChallengeWait        State = "CHALLENGE_WAIT"
	StateExtractionReady      State = "EXTRACTION_READY"
	StateFound                State = "FOUND"
	StateNotFound             State = "NOT_FOUND"
)

var (
	// ErrSearchInputMissing means the site's search box never appeared.
	ErrSearchInputMissing = errors.New("search input not found")
	// ErrChallengeTimeout means the interstitial outlasted the configured cap.
	ErrChallengeTimeout = errors.New("challenge page did not clear")
	// ErrSearchAPI means the site's search endpoint answered with an error status.
	ErrSearchAPI = errors.New("search endpoint error")
)
