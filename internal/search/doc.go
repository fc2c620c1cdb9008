// Package search drives a browser session from a site's search box to the detail page
// of a vessel.
//
// Every site runs the same state machine:
//
//	INIT -> CONSENT_HANDLING -> QUERY_ENTRY -> CANDIDATE_SEARCH [-> CANDIDATE_SEARCH_RETRY]
//	     -> DETAIL_NAVIGATION -> CHALLENGE_WAIT -> EXTRACTION_READY -> FOUND
//
// with NOT_FOUND reachable from candidate search. INIT and CONSENT_HANDLING only run on a
// freshly launched session. Sites differ in their selectors and timings (Site) and in how
// candidates are listed and opened (Resolver): vesselfinder clicks through its autosuggest
// list, marinetraffic queries its search endpoint and deep-links to the detail page.
//
// CHALLENGE_WAIT polls the page title for as long as the anti-bot interstitial is shown.
// There is no upper bound unless Options.ChallengeMaxWait is set; the CAPTCHA extension
// (or the optional Solver) is expected to clear it. A stuck interstitial therefore holds
// its worker until the request context ends.
package search
