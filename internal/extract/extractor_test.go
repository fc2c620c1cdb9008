package extract

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/voyage-scraper/internal/timeconv"
	"github.com/JakeFAU/voyage-scraper/internal/voyage"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

func newTestExtractor(t *testing.T, source voyage.Source) *Extractor {
	t.Helper()
	conv := timeconv.New(fixedClock{t: time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)}, zap.NewNop())
	ex, err := ForSource(source, conv, zap.NewNop())
	require.NoError(t, err)
	return ex
}

func fixture(t *testing.T, name string) string {
	t.Helper()
	raw, err := os.ReadFile(filepath.Join("testdata", name))
	require.NoError(t, err)
	return string(raw)
}

func str(s string) *string { return &s }

func status(s voyage.Status) *voyage.Status { return &s }

func TestExtract_VesselFinder(t *testing.T) {
	t.Parallel()

	ex := newTestExtractor(t, voyage.SourceVesselFinder)
	rec, err := ex.Extract(voyage.Snapshot{
		Source: voyage.SourceVesselFinder,
		URL:    "https://www.vesselfinder.com/vessels/details/9604160",
		HTML:   fixture(t, "vesselfinder.html"),
	})
	require.NoError(t, err)
	require.Equal(t, &voyage.Record{
		LastPortName:       str("Singapore"),
		LastPortETD:        str("2024-05-20 08:30"),
		NextPortName:       str("Rotterdam, Netherlands"),
		NextPortDate:       str("2024-06-05 14:00"),
		NextPortDateStatus: status(voyage.StatusEstimated),
		URL:                str("https://www.vesselfinder.com/vessels/details/9604160"),
	}, rec)
}

func TestExtract_VesselFinderArrived(t *testing.T) {
	t.Parallel()

	html := strings.Replace(fixture(t, "vesselfinder.html"), "ETA: Jun 5, 14:00", "ARRIVED Jun 1, 03:15", 1)
	rec, err := newTestExtractor(t, voyage.SourceVesselFinder).Extract(voyage.Snapshot{HTML: html})
	require.NoError(t, err)
	require.Equal(t, status(voyage.StatusArrived), rec.NextPortDateStatus)
	require.Equal(t, str("2024-06-01 03:15"), rec.NextPortDate)
	require.Nil(t, rec.URL)
}

func TestExtract_MarineTraffic(t *testing.T) {
	t.Parallel()

	ex := newTestExtractor(t, voyage.SourceMarineTraffic)
	rec, err := ex.Extract(voyage.Snapshot{
		Source: voyage.SourceMarineTraffic,
		URL:    "https://www.marinetraffic.com/en/ais/details/ships/shipid:1",
		HTML:   fixture(t, "marinetraffic.html"),
	})
	require.NoError(t, err)
	require.Equal(t, &voyage.Record{
		LastPortName:       str("Singapore"),
		LastPortCode:       str("SGSIN"),
		LastPortETD:        str("2024-05-20 08:30"),
		NextPortName:       str("Rotterdam"),
		NextPortCode:       str("NLRTM"),
		NextPortDate:       str("2024-06-05 14:00"),
		NextPortDateStatus: status(voyage.StatusEstimated),
		URL:                str("https://www.marinetraffic.com/en/ais/details/ships/shipid:1"),
	}, rec)
}

func TestExtract_MarineTrafficStatus(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		label string
		want  *voyage.Status
	}{
		{name: "actual", label: "Actual Time of Arrival:", want: status(voyage.StatusActual)},
		{name: "unlabelled", label: "Time of Arrival:", want: nil},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			html := strings.Replace(fixture(t, "marinetraffic.html"), "Estimated Time of Arrival:", tc.label, 1)
			rec, err := newTestExtractor(t, voyage.SourceMarineTraffic).Extract(voyage.Snapshot{HTML: html})
			require.NoError(t, err)
			require.Equal(t, tc.want, rec.NextPortDateStatus)
		})
	}
}

func TestExtract_MissingRootFails(t *testing.T) {
	t.Parallel()

	for _, source := range voyage.Sources() {
		_, err := newTestExtractor(t, source).Extract(voyage.Snapshot{HTML: "<html><body><p>Access denied</p></body></html>"})
		require.ErrorIs(t, err, ErrRootMissing, source)
	}
}

func TestExtract_PartialPageLeavesNulls(t *testing.T) {
	t.Parallel()

	html := `<div id="vesselDetails_voyageSection"><div><div class="css-qxl29p"><div>
		<div class="css-j5005a"><div class="css-v8enum">
			<div><span>Arrival at Rotterdam</span></div>
		</div></div>
	</div></div></div></div>`
	rec, err := newTestExtractor(t, voyage.SourceMarineTraffic).Extract(voyage.Snapshot{HTML: html})
	require.NoError(t, err)
	require.Equal(t, str("Rotterdam"), rec.NextPortName)
	require.Nil(t, rec.NextPortCode)
	require.Nil(t, rec.LastPortName)
	require.Nil(t, rec.NextPortDate)
	require.Nil(t, rec.NextPortDateStatus)

	raw, err := json.Marshal(voyage.Entry{SearchText: "EVER EAGLE", Record: rec})
	require.NoError(t, err)
	require.JSONEq(t, `{
		"last_port_name": null, "last_port_code": null, "last_port_etd": null,
		"next_port_name": "Rotterdam", "next_port_code": null, "next_port_date": null,
		"next_port_date_status": null, "search_text": "EVER EAGLE"
	}`, string(raw))
}

func TestExtract_UnparseableTimeStaysEmpty(t *testing.T) {
	t.Parallel()

	html := `<div id="vesselDetails_voyageSection"><div><div class="css-qxl29p"><div>
		<div class="css-j5005a"><div class="css-bhljxn">
			<div><p>Estimated Time of Arrival:</p><span class="css-ypywbf">not-a-date</span></div>
		</div></div>
	</div></div></div></div>`
	rec, err := newTestExtractor(t, voyage.SourceMarineTraffic).Extract(voyage.Snapshot{HTML: html})
	require.NoError(t, err)
	require.Equal(t, str(""), rec.NextPortDate)
	require.Nil(t, rec.LastPortETD)

	raw, err := json.Marshal(rec)
	require.NoError(t, err)
	require.Contains(t, string(raw), `"next_port_date":""`)
	require.Contains(t, string(raw), `"last_port_etd":null`)
}

func TestExtract_IsIdempotent(t *testing.T) {
	t.Parallel()

	ex := newTestExtractor(t, voyage.SourceMarineTraffic)
	snap := voyage.Snapshot{URL: "https://example.test", HTML: fixture(t, "marinetraffic.html")}

	first, err := ex.Extract(snap)
	require.NoError(t, err)
	second, err := ex.Extract(snap)
	require.NoError(t, err)

	a, err := json.Marshal(first)
	require.NoError(t, err)
	b, err := json.Marshal(second)
	require.NoError(t, err)
	require.Equal(t, a, b)
}

func TestClassifyStatus(t *testing.T) {
	t.Parallel()

	tests := map[string]voyage.Status{
		"ESTIMATED TIME OF ARRIVAL": voyage.StatusEstimated,
		"Actual time of arrival":    voyage.StatusActual,
		"ARRIVED":                   voyage.StatusArrived,
	}
	for text, want := range tests {
		got, ok := ClassifyStatus(text)
		require.True(t, ok, text)
		require.Equal(t, want, got, text)
	}
	_, ok := ClassifyStatus("ETA: Jun 5, 14:00")
	require.False(t, ok)
}

func TestRulesFor_UnknownSource(t *testing.T) {
	t.Parallel()

	_, err := RulesFor("shipspotting")
	require.ErrorIs(t, err, voyage.ErrUnknownSource)
}
