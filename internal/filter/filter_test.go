package filter

import "testing"

func TestEmptyExpressionKeepsEverything(t *testing.T) {
	f, err := New("")
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if !f.Keep("anything", []byte("not json"), 0) {
		t.Fatalf("disabled filter must keep")
	}
}

func TestFilterByType(t *testing.T) {
	f, err := New(`event_type != "debug_ping"`)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if f.Keep("debug_ping", []byte(`{}`), 0) {
		t.Fatalf("debug_ping not dropped")
	}
	if !f.Keep("screen_view", []byte(`{}`), 0) {
		t.Fatalf("screen_view dropped")
	}
}

func TestFilterByPayloadField(t *testing.T) {
	f, err := New(`json.env == "prod"`)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if !f.Keep("tap", []byte(`{"env":"prod"}`), 0) {
		t.Fatalf("prod payload dropped")
	}
	if f.Keep("tap", []byte(`{"env":"dev"}`), 0) {
		t.Fatalf("dev payload kept")
	}
	// non-JSON payload cannot satisfy a json.* filter
	if f.Keep("tap", []byte(`garbage`), 0) {
		t.Fatalf("unparseable payload kept by json filter")
	}
}

func TestFilterBySize(t *testing.T) {
	f, err := New(`size < 10`)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if !f.Keep("tap", []byte(`tiny`), 0) {
		t.Fatalf("small payload dropped")
	}
	if f.Keep("tap", []byte(`this payload is definitely too large`), 0) {
		t.Fatalf("large payload kept")
	}
}

func TestDocumentedVariablesCompile(t *testing.T) {
	// every declared variable must be usable; CEL reserves some obvious
	// names (like `type`), which must not leak into the declarations
	for _, expr := range []string{
		`event_type == "tap"`,
		`text != ""`,
		`json == null`,
		`size > 0`,
		`now_ms >= 0`,
	} {
		if _, err := New(expr); err != nil {
			t.Fatalf("compile %q: %v", expr, err)
		}
	}
}

func TestInvalidExpressionIsAnError(t *testing.T) {
	if _, err := New(`event_type ==`); err == nil {
		t.Fatalf("want compile error")
	}
	if _, err := New(`no_such_var == 1`); err == nil {
		t.Fatalf("want check error for unknown variable")
	}
}
