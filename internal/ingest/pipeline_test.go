package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/goleak"

	"github.com/kalambet/insurepredict/internal/schema"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var insuranceHeader = []string{
	"id", "Gender", "Age", "Driving_License", "Region_Code", "Previously_Insured",
	"Vehicle_Age", "Vehicle_Damage", "Annual_Premium", "Policy_Sales_Channel", "Vintage",
}

// insuranceCSV builds a file with n data rows. drop removes a header (and
// its column); withResponse appends a Response column.
func insuranceCSV(n int, withResponse bool, drop string) string {
	var cols []string
	for _, h := range insuranceHeader {
		if h != drop {
			cols = append(cols, h)
		}
	}
	if withResponse {
		cols = append(cols, "Response")
	}

	var b strings.Builder
	b.WriteString(strings.Join(cols, ","))
	b.WriteString("\n")
	for i := 1; i <= n; i++ {
		vals := make([]string, 0, len(cols))
		for _, c := range cols {
			switch c {
			case "id":
				vals = append(vals, fmt.Sprint(i))
			case "Gender":
				vals = append(vals, "Male")
			case "Vehicle_Age":
				vals = append(vals, "1-2 Year")
			case "Vehicle_Damage":
				vals = append(vals, "Yes")
			case "Response":
				vals = append(vals, fmt.Sprint(i%2))
			default:
				vals = append(vals, "10")
			}
		}
		b.WriteString(strings.Join(vals, ","))
		b.WriteString("\n")
	}
	return b.String()
}

func TestRun_ValidFile(t *testing.T) {
	p := NewPipeline(schema.Insurance, 0)
	res, err := p.Run(context.Background(), strings.NewReader(insuranceCSV(25, false, "")), nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.Rows) != 25 {
		t.Fatalf("rows = %d, want 25", len(res.Rows))
	}
	for i, r := range res.Rows {
		if r.ID != schema.Number(i+1) {
			t.Fatalf("row %d id = %v, want %d (order not preserved)", i, r.ID, i+1)
		}
		if r.Response != schema.NoResponse {
			t.Errorf("row %d Response = %v, want -1", i, r.Response)
		}
	}
	if res.State != StateCompleted {
		t.Errorf("state = %v, want completed", res.State)
	}
	if res.Warning != nil {
		t.Errorf("unexpected warning: %v", res.Warning)
	}
}

func TestRun_ResponseColumnCoerced(t *testing.T) {
	p := NewPipeline(schema.Insurance, 0)
	res, err := p.Run(context.Background(), strings.NewReader(insuranceCSV(4, true, "")), nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !res.HasResponse {
		t.Error("HasResponse = false, want true")
	}
	for i, r := range res.Rows {
		want := schema.Number((i + 1) % 2)
		if r.Response != want {
			t.Errorf("row %d Response = %v, want %v", i, r.Response, want)
		}
	}
}

// Scenario A.
func TestRun_MinimalSchema(t *testing.T) {
	p := NewPipeline(schema.Minimal, 0)
	res, err := p.Run(context.Background(), strings.NewReader("id,response\n11504798,0\n11504799,0"), nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.Rows) != 2 {
		t.Fatalf("rows = %d, want 2", len(res.Rows))
	}
	for i, wantID := range []string{"11504798", "11504799"} {
		if got := res.Rows[i].Key(); got != wantID {
			t.Errorf("row %d id = %q, want %q", i, got, wantID)
		}
		if res.Rows[i].Response != 0 {
			t.Errorf("row %d response = %v, want 0", i, res.Rows[i].Response)
		}
	}
}

// Scenario B.
func TestRun_TruncatesAtCap(t *testing.T) {
	p := NewPipeline(schema.Insurance, 10000)

	var observed int
	res, err := p.Run(context.Background(), strings.NewReader(insuranceCSV(10001, false, "")), func(int, schema.Row) {
		observed++
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.Rows) != 10000 {
		t.Fatalf("rows = %d, want 10000", len(res.Rows))
	}
	if res.Seen != 10001 {
		t.Errorf("seen = %d, want 10001", res.Seen)
	}
	if observed != 10000 {
		t.Errorf("onRow calls = %d, want 10000", observed)
	}
	for _, r := range res.Rows {
		if r.Response != schema.NoResponse {
			t.Fatalf("Response = %v, want -1", r.Response)
		}
	}
	if res.Warning == nil {
		t.Fatal("expected truncation warning")
	}
	if !strings.Contains(res.Warning.Error(), "10000") {
		t.Errorf("warning = %q, want it to mention the limit", res.Warning.Error())
	}
	if res.State != StateTruncatedCompleted {
		t.Errorf("state = %v, want truncated_completed", res.State)
	}
}

func TestRun_RowCountIsMinOfRowsAndCap(t *testing.T) {
	tests := []struct {
		rows, limit, want int
	}{
		{0, 5, 0},
		{3, 5, 3},
		{5, 5, 5},
		{9, 5, 5},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d_rows_cap_%d", tt.rows, tt.limit), func(t *testing.T) {
			res, err := NewPipeline(schema.Insurance, tt.limit).Run(context.Background(), strings.NewReader(insuranceCSV(tt.rows, false, "")), nil)
			if err != nil {
				t.Fatalf("Run: %v", err)
			}
			if len(res.Rows) != tt.want {
				t.Errorf("rows = %d, want %d", len(res.Rows), tt.want)
			}
		})
	}
}

// Scenario C.
func TestRun_MissingColumn(t *testing.T) {
	var calls int
	res, err := NewPipeline(schema.Insurance, 0).Run(context.Background(), strings.NewReader(insuranceCSV(3, false, "Region_Code")), func(int, schema.Row) {
		calls++
	})

	var mce *MissingColumnError
	if !errors.As(err, &mce) {
		t.Fatalf("err = %v, want MissingColumnError", err)
	}
	if mce.Column != "Region_Code" {
		t.Errorf("column = %q, want Region_Code", mce.Column)
	}
	if !strings.Contains(err.Error(), "Region_Code") {
		t.Errorf("message = %q, want it to name the column", err.Error())
	}
	if len(res.Rows) != 0 || calls != 0 {
		t.Errorf("rows = %d, callbacks = %d, want none", len(res.Rows), calls)
	}
	if res.State != StateHeaderInvalid {
		t.Errorf("state = %v, want header_invalid", res.State)
	}
}

func TestRun_MissingColumnReportsFirstInSchemaOrder(t *testing.T) {
	csv := "Vintage,id,Gender\n1,2,Male\n"
	_, err := NewPipeline(schema.Insurance, 0).Run(context.Background(), strings.NewReader(csv), nil)
	var mce *MissingColumnError
	if !errors.As(err, &mce) || mce.Column != "Age" {
		t.Fatalf("err = %v, want missing Age", err)
	}
}

func TestRun_ShortFirstRowFailsValidation(t *testing.T) {
	csv := "id,response\n42\n43,1\n"
	_, err := NewPipeline(schema.Minimal, 0).Run(context.Background(), strings.NewReader(csv), nil)
	if err != nil {
		t.Fatalf("Run: %v (response is optional)", err)
	}

	csv = strings.Join(insuranceHeader, ",") + "\n1,Male\n"
	_, err = NewPipeline(schema.Insurance, 0).Run(context.Background(), strings.NewReader(csv), nil)
	var mce *MissingColumnError
	if !errors.As(err, &mce) || mce.Column != "Age" {
		t.Fatalf("err = %v, want missing Age from short first row", err)
	}
}

func TestRun_HeaderOnlyCompletesEmpty(t *testing.T) {
	res, err := NewPipeline(schema.Insurance, 0).Run(context.Background(), strings.NewReader("id,Gender\n"), nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.Rows) != 0 || res.State != StateCompleted {
		t.Errorf("rows = %d state = %v", len(res.Rows), res.State)
	}
}

func TestRun_StripsBOMAndSkipsEmptyLines(t *testing.T) {
	csv := "\ufeffid,response\n\n1,0.5\n\n2,0.25\n"
	res, err := NewPipeline(schema.Minimal, 0).Run(context.Background(), strings.NewReader(csv), nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.Rows) != 2 {
		t.Fatalf("rows = %d, want 2", len(res.Rows))
	}
	if res.Rows[1].Response != 0.25 {
		t.Errorf("response = %v, want 0.25", res.Rows[1].Response)
	}
}

func TestRun_MalformedCSV(t *testing.T) {
	csv := "id,response\n1,0\n2,0\n3,ba\"d\n4,0\n"
	res, err := NewPipeline(schema.Minimal, 0).Run(context.Background(), strings.NewReader(csv), nil)

	var cre *CsvReadError
	if !errors.As(err, &cre) {
		t.Fatalf("err = %v, want CsvReadError", err)
	}
	if cre.Line != 4 {
		t.Errorf("line = %d, want 4", cre.Line)
	}
	if len(res.Rows) != 2 {
		t.Errorf("rows = %d, want the 2 rows parsed before the error", len(res.Rows))
	}
	if res.State != StateFailed {
		t.Errorf("state = %v, want failed", res.State)
	}
}

func TestRun_InvalidUTF8(t *testing.T) {
	csv := "id,response\n1,0\n\xff\xfe,1\n"
	res, err := NewPipeline(schema.Minimal, 0).Run(context.Background(), strings.NewReader(csv), nil)

	var cre *CsvReadError
	if !errors.As(err, &cre) {
		t.Fatalf("err = %v, want CsvReadError", err)
	}
	if !errors.Is(err, errInvalidUTF8) {
		t.Errorf("err = %v, want invalid UTF-8 cause", err)
	}
	if len(res.Rows) != 1 {
		t.Errorf("rows = %d, want 1", len(res.Rows))
	}
}

func TestRun_ReadFailure(t *testing.T) {
	diskErr := errors.New("disk gone")
	r := io.MultiReader(strings.NewReader("id,response\n1,0\n2,1\n"), iotest.ErrReader(diskErr))

	res, err := NewPipeline(schema.Minimal, 0).Run(context.Background(), r, nil)
	if !errors.Is(err, diskErr) {
		t.Fatalf("err = %v, want wrapped disk error", err)
	}
	var cre *CsvReadError
	if !errors.As(err, &cre) {
		t.Fatalf("err = %T, want *CsvReadError", err)
	}
	if len(res.Rows) != 2 {
		t.Errorf("rows = %d, want 2", len(res.Rows))
	}
}

func TestRun_Idempotent(t *testing.T) {
	content := insuranceCSV(200, true, "")
	p := NewPipeline(schema.Insurance, 0)

	first, err := p.Run(context.Background(), strings.NewReader(content), nil)
	if err != nil {
		t.Fatalf("first Run: %v", err)
	}
	second, err := p.Run(context.Background(), strings.NewReader(content), nil)
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if diff := cmp.Diff(first.Rows, second.Rows); diff != "" {
		t.Errorf("re-ingest differs (-first +second):\n%s", diff)
	}
}

func TestRun_OnRowOrder(t *testing.T) {
	var indexes []int
	_, err := NewPipeline(schema.Insurance, 0).Run(context.Background(), strings.NewReader(insuranceCSV(50, false, "")), func(i int, r schema.Row) {
		if r.ID != schema.Number(i+1) {
			t.Errorf("index %d carries id %v", i, r.ID)
		}
		indexes = append(indexes, i)
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	for i, idx := range indexes {
		if idx != i {
			t.Fatalf("callback %d had index %d", i, idx)
		}
	}
}

func TestRun_CancelStopsReading(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls int
	res, err := NewPipeline(schema.Insurance, 0).Run(ctx, strings.NewReader(insuranceCSV(5000, false, "")), func(int, schema.Row) {
		calls++
		if calls == 10 {
			cancel()
		}
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if len(res.Rows) >= 5000 {
		t.Errorf("rows = %d, parse did not stop", len(res.Rows))
	}
}
