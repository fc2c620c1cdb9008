package search

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/voyage-scraper/internal/captcha"
	"github.com/JakeFAU/voyage-scraper/internal/voyage"
)

const (
	vfList  = "div.E5ZNs.xaBpY._-0TrM > div > div"
	vfInput = `input[name="tsf"]`
	vfLink  = "https://www.vesselfinder.com/"
	mtLink  = "https://www.marinetraffic.com/en/ais/home"

	consentSelector = ".qc-cmp2-footer button"
)

var testNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func fastSite(site Site) Site {
	site.Timings = Timings{}
	return site
}

func newTestAutomator(t *testing.T, site Site, opts Options, logger *zap.Logger) *Automator {
	t.Helper()
	if opts.Clock == nil {
		opts.Clock = fixedClock{t: testNow}
	}
	if opts.ChallengePoll == 0 {
		opts.ChallengePoll = time.Millisecond
	}
	a, err := New(fastSite(site), opts, logger)
	require.NoError(t, err)
	return a
}

func vesselFinderPage(cands ...*fakeElement) *fakeDriver {
	d := newFakeDriver()
	d.dom[consentSelector] = []voyage.Element{
		&fakeElement{text: "MORE OPTIONS"},
		&fakeElement{text: "DISAGREE"},
		&fakeElement{text: "AGREE"},
	}
	d.dom[vfInput] = []voyage.Element{&fakeElement{}}
	d.dom["div.s0"] = []voyage.Element{&fakeElement{}}
	list := make([]voyage.Element, 0, len(cands))
	for _, c := range cands {
		list = append(list, c)
	}
	d.onType = func(fd *fakeDriver) {
		fd.mu.Lock()
		defer fd.mu.Unlock()
		fd.dom[vfList] = list
	}
	return d
}

func TestSearch_VesselFinderFound(t *testing.T) {
	t.Parallel()

	want := candidateElement("EVER EAGLE", "Container Ship")
	d := vesselFinderPage(candidateElement("EVER EAGLET", "Container Ship"), want)
	a := newTestAutomator(t, VesselFinderSite(), Options{}, nil)

	snap, err := a.Search(context.Background(), d, voyage.SearchTask{SearchTerm: "EVER EAGLE", SourceLink: vfLink})
	require.NoError(t, err)

	require.Equal(t, voyage.SourceVesselFinder, snap.Source)
	require.Equal(t, d.html, snap.HTML)
	require.Equal(t, d.url, snap.URL)
	require.Equal(t, []string{vfLink}, d.navigations)
	require.Equal(t, []string{"https://www.google.com/"}, d.referers)
	require.Equal(t, []string{"EV", "ER", " E", "AG", "LE"}, d.typed)
	require.Len(t, d.clicks, 2)
	require.Equal(t, d.dom[consentSelector][2], d.clicks[0])
	require.Same(t, want, d.clicks[1])
	require.Empty(t, d.screenshots)
}

func TestSearch_ConsentHandling(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		buttons []string
		want    string
	}{
		{name: "agree beside disagree", buttons: []string{"MORE OPTIONS", "DISAGREE", "AGREE"}, want: "AGREE"},
		{name: "padded mixed case label", buttons: []string{"Disagree", " Agree\n"}, want: " Agree\n"},
		{name: "no dialog", buttons: nil},
		{name: "dialog without agree", buttons: []string{"MORE OPTIONS", "DISAGREE"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			cand := candidateElement("EVER EAGLE", "Container Ship")
			d := vesselFinderPage(cand)
			delete(d.dom, consentSelector)
			for _, label := range tc.buttons {
				d.dom[consentSelector] = append(d.dom[consentSelector], &fakeElement{text: label})
			}
			a := newTestAutomator(t, VesselFinderSite(), Options{}, nil)

			_, err := a.Search(context.Background(), d, voyage.SearchTask{SearchTerm: "EVER EAGLE", SourceLink: vfLink})
			require.NoError(t, err)

			if tc.want == "" {
				require.Len(t, d.clicks, 1)
				require.Same(t, cand, d.clicks[0])
				return
			}
			require.Len(t, d.clicks, 2)
			clicked, ok := d.clicks[0].(*fakeElement)
			require.True(t, ok)
			require.Equal(t, tc.want, clicked.text)
			require.Same(t, cand, d.clicks[1])
		})
	}
}

func TestSearch_CategoryMustMatch(t *testing.T) {
	t.Parallel()

	want := candidateElement("ever eagle", "Container Ship")
	d := vesselFinderPage(candidateElement("EVER EAGLE", "Bulk Carrier"), want)
	a := newTestAutomator(t, VesselFinderSite(), Options{}, nil)

	snap, err := a.Search(context.Background(), d, voyage.SearchTask{SearchTerm: "EVER  EAGLE", SourceLink: vfLink})
	require.NoError(t, err)
	require.False(t, snap.Empty())
	require.Same(t, want, d.clicks[len(d.clicks)-1])
}

func TestSearch_NotFoundLeavesDiagnostics(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.DebugLevel)
	d := vesselFinderPage(
		candidateElement("EVER EAGLET", "Container Ship"),
		candidateElement("EVER EAGLE", "Tug"),
	)
	a := newTestAutomator(t, VesselFinderSite(), Options{}, zap.New(core))

	snap, err := a.Search(context.Background(), d, voyage.SearchTask{SearchTerm: "EVER EAGLE", SourceLink: vfLink})
	require.NoError(t, err)
	require.True(t, snap.Empty())

	require.Equal(t, []string{"EVER_EAGLE_20240601T120000Z.png"}, d.screenshots)
	require.Equal(t, 1, d.reloads)

	require.Equal(t, 1, logs.FilterMessage("vessel not found").Len())
	alt := logs.FilterMessage("alternative candidates").All()
	require.Len(t, alt, 1)
	require.Equal(t,
		[]interface{}{"EVER EAGLET (Container Ship)", "EVER EAGLE (Tug)"},
		alt[0].ContextMap()["alternatives"],
	)
}

func TestSearch_RetriesEmptyCandidateListOnce(t *testing.T) {
	t.Parallel()

	d := vesselFinderPage(candidateElement("EVER EAGLE", "Container Ship"))
	d.appearAfter["all:"+vfList] = 1
	a := newTestAutomator(t, VesselFinderSite(), Options{}, nil)

	snap, err := a.Search(context.Background(), d, voyage.SearchTask{SearchTerm: "EVER EAGLE", SourceLink: vfLink})
	require.NoError(t, err)
	require.False(t, snap.Empty())
	require.Equal(t, 2, d.askedFor("all:"+vfList))
}

func TestSearch_EmptyCandidateListTwiceIsNotFound(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.DebugLevel)
	d := vesselFinderPage()
	a := newTestAutomator(t, VesselFinderSite(), Options{}, zap.New(core))

	snap, err := a.Search(context.Background(), d, voyage.SearchTask{SearchTerm: "GHOST", SourceLink: vfLink})
	require.NoError(t, err)
	require.True(t, snap.Empty())
	require.Equal(t, 2, d.askedFor("all:"+vfList))
	require.Len(t, d.screenshots, 1)
	require.Zero(t, logs.FilterMessage("alternative candidates").Len())
}

func TestSearch_MissingInputFails(t *testing.T) {
	t.Parallel()

	d := vesselFinderPage()
	delete(d.dom, vfInput)
	a := newTestAutomator(t, VesselFinderSite(), Options{}, nil)

	_, err := a.Search(context.Background(), d, voyage.SearchTask{SearchTerm: "EVER EAGLE", SourceLink: vfLink})
	require.ErrorIs(t, err, ErrSearchInputMissing)
	require.Len(t, d.screenshots, 1)
	require.Empty(t, d.typed)
}

func TestSearch_ReusedSessionSkipsStartup(t *testing.T) {
	t.Parallel()

	want := candidateElement("EVER EAGLE", "Container Ship")
	d := vesselFinderPage(want)
	d.isNew = false
	a := newTestAutomator(t, VesselFinderSite(), Options{}, nil)

	snap, err := a.Search(context.Background(), d, voyage.SearchTask{SearchTerm: "EVER EAGLE", SourceLink: vfLink})
	require.NoError(t, err)
	require.False(t, snap.Empty())
	require.Empty(t, d.navigations)
	require.Equal(t, []voyage.Element{want}, d.clicks)
}

func TestSearch_WaitsOutChallenge(t *testing.T) {
	t.Parallel()

	d := vesselFinderPage(candidateElement("EVER EAGLE", "Container Ship"))
	d.titles = []string{captcha.ChallengeTitle, captcha.ChallengeTitle, "EVER EAGLE - Container Ship"}
	a := newTestAutomator(t, VesselFinderSite(), Options{}, nil)

	snap, err := a.Search(context.Background(), d, voyage.SearchTask{SearchTerm: "EVER EAGLE", SourceLink: vfLink})
	require.NoError(t, err)
	require.False(t, snap.Empty())
	require.Equal(t, 3, d.titleCalls)
}

func TestSearch_ChallengeCap(t *testing.T) {
	t.Parallel()

	d := vesselFinderPage(candidateElement("EVER EAGLE", "Container Ship"))
	d.titles = []string{captcha.ChallengeTitle}
	a := newTestAutomator(t, VesselFinderSite(), Options{ChallengeMaxWait: 5 * time.Millisecond}, nil)

	_, err := a.Search(context.Background(), d, voyage.SearchTask{SearchTerm: "EVER EAGLE", SourceLink: vfLink})
	require.ErrorIs(t, err, ErrChallengeTimeout)
}

func TestSearch_ChallengeEndsWithContext(t *testing.T) {
	t.Parallel()

	d := vesselFinderPage(candidateElement("EVER EAGLE", "Container Ship"))
	d.titles = []string{captcha.ChallengeTitle}
	a := newTestAutomator(t, VesselFinderSite(), Options{}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err := a.Search(ctx, d, voyage.SearchTask{SearchTerm: "EVER EAGLE", SourceLink: vfLink})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSearch_ChallengeSolverInjectsToken(t *testing.T) {
	t.Parallel()

	d := vesselFinderPage(candidateElement("EVER EAGLE", "Container Ship"))
	d.titles = []string{captcha.ChallengeTitle, captcha.ChallengeTitle, "EVER EAGLE"}
	d.html = `<div class="cf-turnstile" data-sitekey="0x4AAAAAAA"></div>`
	solver := &fakeSolver{token: "tok-123"}
	var injected []any
	d.scriptFn = func(code string, args []any) (json.RawMessage, error) {
		if code == captcha.InjectTokenScript {
			injected = args
		}
		return json.RawMessage("1"), nil
	}
	a := newTestAutomator(t, VesselFinderSite(), Options{Solver: solver}, nil)

	_, err := a.Search(context.Background(), d, voyage.SearchTask{SearchTerm: "EVER EAGLE", SourceLink: vfLink})
	require.NoError(t, err)
	require.Equal(t, 1, solver.calls)
	require.Equal(t, "0x4AAAAAAA", solver.siteKey)
	require.Equal(t, d.url, solver.pageURL)
	require.Equal(t, []any{"tok-123"}, injected)
}

func TestSearch_ChallengeSolverReadsWidgetAttribute(t *testing.T) {
	t.Parallel()

	d := vesselFinderPage(candidateElement("EVER EAGLE", "Container Ship"))
	d.titles = []string{captcha.ChallengeTitle, "EVER EAGLE"}
	d.html = `<script>turnstile.render('#cf', {sitekey: '0xFROMSCRIPT'})</script>`
	d.dom[captcha.TurnstileSelector] = []voyage.Element{
		&fakeElement{attrs: map[string]string{captcha.SiteKeyAttr: " 0xWIDGET "}},
	}
	solver := &fakeSolver{token: "tok"}
	a := newTestAutomator(t, VesselFinderSite(), Options{Solver: solver}, nil)

	_, err := a.Search(context.Background(), d, voyage.SearchTask{SearchTerm: "EVER EAGLE", SourceLink: vfLink})
	require.NoError(t, err)
	require.Equal(t, 1, solver.calls)
	require.Equal(t, "0xWIDGET", solver.siteKey)
}

func TestSearch_ChallengeSolverFailureKeepsWaiting(t *testing.T) {
	t.Parallel()

	d := vesselFinderPage(candidateElement("EVER EAGLE", "Container Ship"))
	d.titles = []string{captcha.ChallengeTitle, "EVER EAGLE"}
	d.html = `<div class="cf-turnstile" data-sitekey="0x4AAAAAAA"></div>`
	solver := &fakeSolver{err: errors.New("ERROR_CAPTCHA_UNSOLVABLE")}
	a := newTestAutomator(t, VesselFinderSite(), Options{Solver: solver}, nil)

	snap, err := a.Search(context.Background(), d, voyage.SearchTask{SearchTerm: "EVER EAGLE", SourceLink: vfLink})
	require.NoError(t, err)
	require.False(t, snap.Empty())
	require.Empty(t, d.scripts)
}

func marineTrafficPage(status int, body string) (*fakeDriver, *[]any) {
	d := newFakeDriver()
	for _, sel := range []string{"#searchMarineTraffic", "#searchMT", "#mainSection", "#vesselDetails_voyageSection > div"} {
		d.dom[sel] = []voyage.Element{&fakeElement{}}
	}
	var searchArgs []any
	d.scriptFn = func(code string, args []any) (json.RawMessage, error) {
		if code == searchScript {
			searchArgs = args
			return searchResponse(status, body), nil
		}
		return json.RawMessage("null"), nil
	}
	return d, &searchArgs
}

func TestSearch_MarineTrafficUsesSearchEndpoint(t *testing.T) {
	t.Parallel()

	d, args := marineTrafficPage(200, `[
		{"value":"EVER EAGLE","desc":"Tug","url":"/en/ais/details/ships/shipid:9"},
		{"value":"EVER EAGLE","desc":"Container Ship - 2005","url":"/en/ais/details/ships/shipid:1"}
	]`)
	a := newTestAutomator(t, MarineTrafficSite(), Options{}, nil)

	snap, err := a.Search(context.Background(), d, voyage.SearchTask{SearchTerm: "EVER EAGLE", SourceLink: mtLink})
	require.NoError(t, err)
	require.Equal(t, voyage.SourceMarineTraffic, snap.Source)

	require.Equal(t, []any{"https://www.marinetraffic.com/en/search/searchAsset?what=vessel&term=EVER+EAGLE"}, *args)
	require.Equal(t, []string{"https://www.marinetraffic.com/en/ais/details/ships/shipid:1"}, d.direct)
	require.Equal(t, mtLink, d.referers[len(d.referers)-1])
	// only the search trigger is clicked
	require.Len(t, d.clicks, 1)
}

func TestSearch_MarineTrafficEndpointError(t *testing.T) {
	t.Parallel()

	d, _ := marineTrafficPage(503, "")
	a := newTestAutomator(t, MarineTrafficSite(), Options{}, nil)

	_, err := a.Search(context.Background(), d, voyage.SearchTask{SearchTerm: "EVER EAGLE", SourceLink: mtLink})
	require.ErrorIs(t, err, ErrSearchAPI)
	require.Empty(t, d.direct)
}

func TestSearch_MarineTrafficEmptyBodyIsNotFound(t *testing.T) {
	t.Parallel()

	d, _ := marineTrafficPage(200, "")
	a := newTestAutomator(t, MarineTrafficSite(), Options{}, nil)

	snap, err := a.Search(context.Background(), d, voyage.SearchTask{SearchTerm: "EVER EAGLE", SourceLink: mtLink})
	require.NoError(t, err)
	require.True(t, snap.Empty())
	require.Equal(t, 1, d.reloads)
}

func TestNew_RequiresResolver(t *testing.T) {
	t.Parallel()

	site := VesselFinderSite()
	site.Resolver = nil
	_, err := New(site, Options{}, nil)
	require.Error(t, err)
}
