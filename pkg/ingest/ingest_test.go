package ingest

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mchmarny/metarank/pkg/matrix"
	"github.com/mchmarny/metarank/pkg/meta"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testMatchups = `Deck A,Deck B,W,L,T,N
aggro,control,12,8,1,20
control,aggro,8,12,,20
aggro,combo,5,5,0,11
,combo,1,1,0,2
`

func TestReadMatchups(t *testing.T) {
	rows, err := ReadMatchups(strings.NewReader(testMatchups))
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, matrix.Record{DeckA: "aggro", DeckB: "control", W: 12, L: 8, T: 1}, rows[0])
	assert.Equal(t, 0.0, rows[1].T)

	assert.Equal(t, []string{"aggro", "control", "combo"}, AxisFromMatchups(rows))
}

func TestReadMatchups_HeaderVariants(t *testing.T) {
	tests := []struct {
		name string
		in   string
	}{
		{"snake case", "deck_a,deck_b,wins,losses,ties\na,b,3,1,0\n"},
		{"compact", "DeckA,DeckB,W,L\na,b,3,1\n"},
		{"bom and spaces", "\ufeff Deck A , Deck B ,W,L\na,b,3,1\n"},
		{"percent and comma", "Deck A,Deck B,W,L\na,b,\"3,0\",1\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rows, err := ReadMatchups(strings.NewReader(tt.in))
			require.NoError(t, err)
			require.Len(t, rows, 1)
			assert.Equal(t, "a", rows[0].DeckA)
			assert.Equal(t, "b", rows[0].DeckB)
			assert.Equal(t, 3.0, rows[0].W)
			assert.Equal(t, 1.0, rows[0].L)
		})
	}
}

func TestReadMatchups_Errors(t *testing.T) {
	_, err := ReadMatchups(strings.NewReader(""))
	assert.Error(t, err)

	_, err = ReadMatchups(strings.NewReader("Deck A,Deck B,W\na,b,1\n"))
	assert.ErrorIs(t, err, ErrMissingColumn)

	_, err = ReadMatchups(strings.NewReader("Deck A,Deck B,W,L\na,b,x,1\n"))
	var re *RowError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, 2, re.Line)
	assert.Equal(t, "W", re.Column)
}

func TestReadMetaShares(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []meta.Share
	}{
		{
			name: "named percent column",
			in:   "Archetype,Games,Share_%\naggro,120,22.5\ncontrol,80,18%\n",
			want: []meta.Share{{Deck: "aggro", Share: 22.5}, {Deck: "control", Share: 18}},
		},
		{
			name: "preferred over later names",
			in:   "Deck,Usage,Share_frac\naggro,30,0.3\n",
			want: []meta.Share{{Deck: "aggro", Share: 0.3}},
		},
		{
			name: "first numeric column",
			in:   "Deck,Tier,Pct\naggro,S,0.4\ncontrol,A,0.2\n",
			want: []meta.Share{{Deck: "aggro", Share: 0.4}, {Deck: "control", Share: 0.2}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ReadMetaShares(strings.NewReader(tt.in))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := ReadMetaShares(strings.NewReader("Deck,Tier\naggro,S\n"))
	assert.ErrorIs(t, err, ErrMissingColumn)
	_, err = ReadMetaShares(strings.NewReader("Share\n0.1\n"))
	assert.ErrorIs(t, err, ErrMissingColumn)
}

func TestDecodeMetaShares(t *testing.T) {
	got, err := DecodeMetaShares(strings.NewReader(`[{"deck":" aggro ","share":0.3},{"deck":"","share":0.1}]`))
	require.NoError(t, err)
	assert.Equal(t, []meta.Share{{Deck: "aggro", Share: 0.3}}, got)

	_, err = DecodeMetaShares(strings.NewReader(`[{"deck":"a","share":-1}]`))
	assert.Error(t, err)
}

func TestReadRoster(t *testing.T) {
	axis, err := ReadRoster(strings.NewReader("# roster\naggro\n\ncontrol\n aggro \ncombo\n"))
	require.NoError(t, err)
	assert.Equal(t, []string{"aggro", "control", "combo"}, axis)

	_, err = ReadRoster(strings.NewReader("# nothing\n\n"))
	assert.Error(t, err)
}

func TestReadMatrix(t *testing.T) {
	in := ",a,b,c\na,,60,55\nb,40,,\nc,45,50,\n"
	m, err := ReadMatrix(strings.NewReader(in))
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, m.Axis())
	assert.Equal(t, matrix.Cell{Value: 60, Valid: true}, m.At(0, 1))
	assert.False(t, m.At(1, 2).Valid)
	assert.False(t, m.At(0, 0).Valid)

	_, err = ReadMatrix(strings.NewReader(",a,b\nb,1,\na,,1\n"))
	var ae *matrix.AlignmentError
	assert.ErrorAs(t, err, &ae)

	_, err = ReadMatrix(strings.NewReader(",a,b\na,,1\n"))
	assert.ErrorAs(t, err, &ae)
}

func TestLoad_LocalAndRemote(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /matchups.csv", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(testMatchups))
	})
	mux.HandleFunc("GET /shares.json", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"deck":"aggro","share":0.6},{"deck":"control","share":0.4}]`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	ctx := t.Context()

	rows, err := LoadMatchups(ctx, srv.URL+"/matchups.csv")
	require.NoError(t, err)
	assert.Len(t, rows, 3)

	shares, err := LoadMetaShares(ctx, srv.URL+"/shares.json")
	require.NoError(t, err)
	assert.Len(t, shares, 2)

	dir := t.TempDir()
	roster := filepath.Join(dir, "roster.txt")
	require.NoError(t, os.WriteFile(roster, []byte("aggro\ncontrol\n"), 0o600))
	axis, err := LoadRoster(ctx, roster)
	require.NoError(t, err)
	assert.Equal(t, []string{"aggro", "control"}, axis)

	local := filepath.Join(dir, "shares.json")
	require.NoError(t, os.WriteFile(local, []byte(`[{"deck":"aggro","share":1}]`), 0o600))
	shares, err = LoadMetaShares(ctx, local)
	require.NoError(t, err)
	assert.Equal(t, []meta.Share{{Deck: "aggro", Share: 1}}, shares)

	wide := filepath.Join(dir, "wr.csv")
	require.NoError(t, os.WriteFile(wide, []byte(",a,b\na,,60\nb,40,\n"), 0o600))
	m, err := LoadMatrix(ctx, wide)
	require.NoError(t, err)
	assert.Equal(t, 2, m.Size())

	_, err = LoadMatchups(ctx, filepath.Join(dir, "missing.csv"))
	assert.Error(t, err)
	_, err = LoadMatchups(ctx, srv.URL+"/missing.csv")
	assert.Error(t, err)
}

func TestArchive(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /week/matchups.csv", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(testMatchups))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	ctx := t.Context()
	dir := filepath.Join(t.TempDir(), "archive")

	local, err := Archive(ctx, srv.URL+"/week/matchups.csv?v=2", dir)
	require.NoError(t, err)
	assert.Equal(t, dir, filepath.Dir(local))
	assert.True(t, strings.HasSuffix(local, "-matchups.csv"))

	rows, err := LoadMatchups(ctx, local)
	require.NoError(t, err)
	assert.Len(t, rows, 3)

	same, err := Archive(ctx, "testdata/x.csv", dir)
	require.NoError(t, err)
	assert.Equal(t, "testdata/x.csv", same)

	_, err = Archive(ctx, srv.URL+"/missing.csv", dir)
	assert.Error(t, err)
}
