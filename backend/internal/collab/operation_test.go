package collab

import (
	"errors"
	"testing"
	"time"
)

func textDoc(s string) *Node {
	n := ObjNode()
	n.Obj["body"] = StrNode(s)
	return n
}

func TestOperation_Validate(t *testing.T) {
	base := Operation{Kind: OpInsert, Path: ParsePath("body"), Value: StrNode("x"), ClientID: "c1"}
	if err := base.Validate(); err != nil {
		t.Fatalf("valid insert rejected: %v", err)
	}

	cases := []struct {
		name string
		op   Operation
	}{
		{"insert without value", Operation{Kind: OpInsert, ClientID: "c1"}},
		{"negative position", Operation{Kind: OpInsert, Value: StrNode("x"), Position: -1, ClientID: "c1"}},
		{"update without path", Operation{Kind: OpUpdate, Value: StrNode("x"), ClientID: "c1"}},
		{"delete without path", Operation{Kind: OpDelete, ClientID: "c1"}},
		{"unknown kind", Operation{Kind: "merge", ClientID: "c1"}},
		{"missing clientId", Operation{Kind: OpInsert, Value: StrNode("x")}},
	}
	for _, tc := range cases {
		if err := tc.op.Validate(); !errors.Is(err, ErrInvalidOperation) {
			t.Errorf("%s: Validate() = %v, want ErrInvalidOperation", tc.name, err)
		}
	}
}

func TestOperation_ApplyInsertString(t *testing.T) {
	doc := textDoc("Hello world")
	op := Operation{Kind: OpInsert, Path: ParsePath("body"), Value: StrNode(" big"), Position: 5, ClientID: "c1"}
	if err := op.Apply(doc); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if got := doc.Obj["body"].Str; got != "Hello big world" {
		t.Fatalf("body = %q, want %q", got, "Hello big world")
	}
}

func TestOperation_ApplyInsertArray(t *testing.T) {
	doc := FromAny(map[string]any{"tags": []any{"a", "c"}})
	op := Operation{Kind: OpInsert, Path: ParsePath("tags"), Value: StrNode("b"), Position: 1, ClientID: "c1"}
	if err := op.Apply(doc); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	tags := doc.Obj["tags"].Arr
	want := []string{"a", "b", "c"}
	for i, w := range want {
		if tags[i].Str != w {
			t.Fatalf("tags[%d] = %q, want %q", i, tags[i].Str, w)
		}
	}
}

func TestOperation_ApplyInsertNewKey(t *testing.T) {
	doc := ObjNode()
	op := Operation{Kind: OpInsert, Path: ParsePath("title"), Value: StrNode("draft"), ClientID: "c1"}
	if err := op.Apply(doc); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if got := doc.Obj["title"].Str; got != "draft" {
		t.Fatalf("title = %q", got)
	}
}

func TestOperation_ApplyUpdateRequiresPath(t *testing.T) {
	doc := textDoc("hi")
	op := Operation{Kind: OpUpdate, Path: ParsePath("missing"), Value: StrNode("x"), ClientID: "c1"}
	if err := op.Apply(doc); !errors.Is(err, ErrInvalidPath) {
		t.Fatalf("Apply() = %v, want ErrInvalidPath", err)
	}

	op = Operation{Kind: OpUpdate, Path: ParsePath("body"), Value: NumNode(42), ClientID: "c1"}
	if err := op.Apply(doc); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if got := doc.Obj["body"]; got.Kind != KindNumber || got.Num != 42 {
		t.Fatalf("body = %+v, want number 42", got)
	}
}

func TestOperation_ApplyDeleteTextSegment(t *testing.T) {
	doc := textDoc("Hello big world")
	op := Operation{Kind: OpDelete, Path: ParsePath("body"), Position: 5, Length: 4, ClientID: "c1"}
	if err := op.Apply(doc); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if got := doc.Obj["body"].Str; got != "Hello world" {
		t.Fatalf("body = %q, want %q", got, "Hello world")
	}
}

func TestOperation_ApplyDeleteNode(t *testing.T) {
	doc := FromAny(map[string]any{"title": "x", "tags": []any{"a", "b"}})

	op := Operation{Kind: OpDelete, Path: ParsePath("title"), ClientID: "c1"}
	if err := op.Apply(doc); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if _, ok := doc.Obj["title"]; ok {
		t.Fatal("title still present after delete")
	}

	op = Operation{Kind: OpDelete, Path: ParsePath("tags.0"), ClientID: "c1"}
	if err := op.Apply(doc); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if got := len(doc.Obj["tags"].Arr); got != 1 {
		t.Fatalf("len(tags) = %d, want 1", got)
	}
	if got := doc.Obj["tags"].Arr[0].Str; got != "b" {
		t.Fatalf("tags[0] = %q, want %q", got, "b")
	}
}

func TestOperation_InsertSizeRunes(t *testing.T) {
	op := Operation{Kind: OpInsert, Value: StrNode("héllo"), ClientID: "c1", Timestamp: time.Now()}
	if got := op.insertSize(); got != 5 {
		t.Fatalf("insertSize() = %d, want 5 (runes, not bytes)", got)
	}
}
