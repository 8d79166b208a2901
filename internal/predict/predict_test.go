package predict

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/kalambet/insurepredict/internal/config"
	"github.com/kalambet/insurepredict/internal/schema"
)

func testRows(ids ...string) []schema.Row {
	rows := make([]schema.Row, len(ids))
	for i, id := range ids {
		rows[i] = schema.Row{
			ID:       schema.ParseNumber(id),
			IDText:   id,
			Gender:   "Male",
			Age:      schema.Number(30 + i),
			Response: schema.NoResponse,
		}
	}
	return rows
}

func testUpload() Upload {
	return Upload{Name: "policies.csv", Content: []byte("id,response\n1,0\n2,0\n")}
}

func responses(rows []schema.Row) []schema.Number {
	out := make([]schema.Number, len(rows))
	for i, r := range rows {
		out[i] = r.Response
	}
	return out
}

func TestRemote_SendsMultipartFile(t *testing.T) {
	var gotName, gotBody, gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		f, hdr, err := r.FormFile("file")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		defer f.Close()
		b, _ := io.ReadAll(f)
		gotName, gotBody = hdr.Filename, string(b)

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"predictions":[{"id":1,"Response":1},{"id":2,"Response":0}],"rows":2}`)
	}))
	defer srv.Close()

	c := NewRemote(srv.URL+"/", time.Second)
	rows := testRows("1", "2")
	got, err := c.Predict(context.Background(), Request{Rows: rows, File: testUpload()})
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}

	if gotPath != "/predict-csv" {
		t.Errorf("path = %q, want /predict-csv", gotPath)
	}
	if gotName != "policies.csv" {
		t.Errorf("filename = %q", gotName)
	}
	if gotBody != string(testUpload().Content) {
		t.Errorf("file body = %q", gotBody)
	}
	if diff := cmp.Diff([]schema.Number{1, 0}, responses(got)); diff != "" {
		t.Errorf("responses mismatch (-want +got):\n%s", diff)
	}
	if rows[0].Response != schema.NoResponse {
		t.Error("input rows were modified")
	}
}

func TestRemote_BareArray(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[{"id":"b","response":"0.75"},{"id":"a","response":0.25}]`)
	}))
	defer srv.Close()

	got, err := NewRemote(srv.URL, 0).Predict(context.Background(), Request{Rows: testRows("a", "b"), File: testUpload()})
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}
	if diff := cmp.Diff([]schema.Number{0.25, 0.75}, responses(got)); diff != "" {
		t.Errorf("responses mismatch (-want +got):\n%s", diff)
	}
}

// A failing service leaves the caller's rows as they were.
func TestRemote_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model crashed", http.StatusInternalServerError)
	}))
	defer srv.Close()

	rows := testRows("1", "2")
	before := append([]schema.Row(nil), rows...)

	got, err := NewRemote(srv.URL, time.Second).Predict(context.Background(), Request{Rows: rows, File: testUpload()})
	if got != nil {
		t.Errorf("rows = %v, want nil on failure", got)
	}

	var reqErr *RequestError
	if !errors.As(err, &reqErr) {
		t.Fatalf("err = %v (%T), want *RequestError", err, err)
	}
	if reqErr.StatusCode != http.StatusInternalServerError {
		t.Errorf("StatusCode = %d, want 500", reqErr.StatusCode)
	}
	if !strings.Contains(err.Error(), "prediction failed") || !strings.Contains(err.Error(), "model crashed") {
		t.Errorf("message = %q", err.Error())
	}
	if diff := cmp.Diff(before, rows); diff != "" {
		t.Errorf("rows changed (-before +after):\n%s", diff)
	}
}

func TestRemote_NoRetry(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := NewRemote(srv.URL, time.Second).Predict(context.Background(), Request{Rows: testRows("1"), File: testUpload()})
	if err == nil {
		t.Fatal("expected error")
	}
	if n := calls.Load(); n != 1 {
		t.Errorf("calls = %d, want exactly 1", n)
	}
}

func TestRemote_Failures(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"not json", "<html>oops</html>"},
		{"no predictions", `{"rows":0}`},
		{"empty body", ""},
		{"bad response value", `[{"id":1,"Response":{}}]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprint(w, tt.body)
			}))
			defer srv.Close()

			_, err := NewRemote(srv.URL, time.Second).Predict(context.Background(), Request{Rows: testRows("1"), File: testUpload()})
			var reqErr *RequestError
			if !errors.As(err, &reqErr) {
				t.Fatalf("err = %v, want *RequestError", err)
			}
		})
	}
}

func TestRemote_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := NewRemote(url, time.Second).Predict(context.Background(), Request{Rows: testRows("1"), File: testUpload()})
	var reqErr *RequestError
	if !errors.As(err, &reqErr) {
		t.Fatalf("err = %v, want *RequestError", err)
	}
	if reqErr.StatusCode != 0 {
		t.Errorf("StatusCode = %d, want 0 for transport errors", reqErr.StatusCode)
	}
}

func TestRemote_RequiresFile(t *testing.T) {
	_, err := NewRemote("http://127.0.0.1:1", time.Second).Predict(context.Background(), Request{Rows: testRows("1")})
	if !errors.Is(err, errNoFile) {
		t.Errorf("err = %v, want errNoFile", err)
	}
}

func TestReconcile(t *testing.T) {
	tests := []struct {
		name    string
		rows    []schema.Row
		results []Result
		want    []schema.Number
	}{
		{
			name:    "by id out of order",
			rows:    testRows("10", "11", "12"),
			results: []Result{{ID: "12", Response: 1}, {ID: "10", Response: 0}, {ID: "11", Response: 1}},
			want:    []schema.Number{0, 1, 1},
		},
		{
			name:    "numeric ids normalize",
			rows:    testRows("0042"),
			results: []Result{{ID: "42.0", Response: 1}},
			want:    []schema.Number{1},
		},
		{
			name:    "unmatched row keeps response",
			rows:    testRows("1", "2"),
			results: []Result{{ID: "2", Response: 1}},
			want:    []schema.Number{schema.NoResponse, 1},
		},
		{
			name:    "missing ids fall back to position",
			rows:    testRows("1", "2"),
			results: []Result{{Response: 1}, {Response: 0}},
			want:    []schema.Number{1, 0},
		},
		{
			name:    "duplicate ids fall back to position",
			rows:    testRows("1", "2"),
			results: []Result{{ID: "7", Response: 0}, {ID: "7", Response: 1}},
			want:    []schema.Number{0, 1},
		},
		{
			name:    "fewer results than rows",
			rows:    testRows("", "", ""),
			results: []Result{{Response: 1}},
			want:    []schema.Number{1, schema.NoResponse, schema.NoResponse},
		},
		{
			name:    "more results than rows",
			rows:    testRows("1"),
			results: []Result{{Response: 1}, {Response: 0}},
			want:    []schema.Number{1},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Reconcile(tt.rows, tt.results)
			if len(got) != len(tt.rows) {
				t.Fatalf("len = %d, want %d", len(got), len(tt.rows))
			}
			if diff := cmp.Diff(tt.want, responses(got)); diff != "" {
				t.Errorf("responses mismatch (-want +got):\n%s", diff)
			}
			for i := range got {
				if got[i].IDText != tt.rows[i].IDText || got[i].Age != tt.rows[i].Age {
					t.Errorf("row %d identity changed", i)
				}
			}
		})
	}
}

func TestStub_Binary(t *testing.T) {
	s := NewStub(StubBinary, rand.NewPCG(1, 2))
	rows := testRows("1", "2", "3", "4", "5", "6", "7", "8")

	got, err := s.Predict(context.Background(), Request{Rows: rows})
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}
	if len(got) != len(rows) {
		t.Fatalf("len = %d, want %d", len(got), len(rows))
	}
	for i, r := range got {
		if r.Response != 0 && r.Response != 1 {
			t.Errorf("row %d response = %v, want 0 or 1", i, r.Response)
		}
		if r.IDText != rows[i].IDText {
			t.Errorf("row %d order changed", i)
		}
		if rows[i].Response != schema.NoResponse {
			t.Errorf("input row %d modified", i)
		}
	}
}

func TestStub_Continuous(t *testing.T) {
	s := NewStub(StubContinuous, rand.NewPCG(3, 4))
	got, err := s.Predict(context.Background(), Request{Rows: testRows("1", "2", "3")})
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}
	for i, r := range got {
		if r.Response < 0 || r.Response >= 1 {
			t.Errorf("row %d response = %v, want [0,1)", i, r.Response)
		}
	}
}

func TestStub_SameSeedSameDraws(t *testing.T) {
	rows := testRows("1", "2", "3", "4")
	a, _ := NewStub(StubContinuous, rand.NewPCG(9, 9)).Predict(context.Background(), Request{Rows: rows})
	b, _ := NewStub(StubContinuous, rand.NewPCG(9, 9)).Predict(context.Background(), Request{Rows: rows})
	if diff := cmp.Diff(a, b); diff != "" {
		t.Errorf("seeded stubs diverged:\n%s", diff)
	}
}

func TestStub_Empty(t *testing.T) {
	got, err := NewStub(StubBinary, nil).Predict(context.Background(), Request{})
	if err != nil || len(got) != 0 {
		t.Errorf("got %v, %v; want empty, nil", got, err)
	}
}

func TestStub_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewStub(StubBinary, nil).Predict(ctx, Request{Rows: testRows("1")}); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestNew(t *testing.T) {
	cfg := config.Default().Predict

	p, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, ok := p.(*Stub); !ok || p.Mode() != config.ModeStub {
		t.Errorf("default predictor = %T", p)
	}

	cfg.Mode = config.ModeRemote
	if p, _ = New(cfg); p.Mode() != config.ModeRemote {
		t.Errorf("remote mode gave %T", p)
	}

	cfg.Mode = "oracle"
	if _, err := New(cfg); err == nil {
		t.Error("expected error for unknown mode")
	}
}
