package work_test

import (
	"testing"

	"github.com/xraph/flowwork/work"
)

func TestContextEnv(t *testing.T) {
	seed := map[string]string{"region": "eu-west-1"}
	wctx, _ := newContext(t, work.WithEnv(seed))

	if v, ok := wctx.Get("region"); !ok || v != "eu-west-1" {
		t.Errorf("region = %q, %v", v, ok)
	}
	wctx.Put("cluster", "blue")
	wctx.Delete("region")

	if _, ok := wctx.Get("region"); ok {
		t.Error("region not deleted")
	}
	if seed["cluster"] != "" || seed["region"] == "" {
		t.Error("context mutated the seed map")
	}

	env := wctx.Env()
	env["cluster"] = "green"
	if v, _ := wctx.Get("cluster"); v != "blue" {
		t.Error("Env must return a copy")
	}
}

func TestContextSharedAcrossSteps(t *testing.T) {
	wctx, _ := newContext(t)
	writer := newFake("writer", nil, "ok")
	writer.onExec = func(c *work.Context) { c.Put("artifact", "v2") }
	var seen string
	reader := newFake("reader", nil, "ok")
	reader.onExec = func(c *work.Context) { seen, _ = c.Get("artifact") }

	seq := work.NewSequence([]*work.Step{work.NewStep(writer), work.NewStep(reader)})
	if _, err := seq.Execute(wctx); err != nil {
		t.Fatal(err)
	}
	if seen != "v2" {
		t.Errorf("reader saw %q", seen)
	}
}

func TestContextDefaultListenerIsNoop(t *testing.T) {
	wctx, _ := newContext(t)
	wctx.ChildCommandAdded("x")
	wctx.EntityTouched(work.EntityRef{Kind: "k", ID: "1"})
	if wctx.ChildCommandRemoved("x") {
		t.Error("no-op listener reported a removal")
	}
}
