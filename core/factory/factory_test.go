package factory

import (
	"testing"
	"time"
)

type sample struct{ Path string }

type sampleConf struct {
	Path    string        `json:"path"`
	Timeout time.Duration `json:"timeout"`
	Port    int           `json:"port"`
}

func TestRegistry_Create(t *testing.T) {
	reg := NewRegistry[*sample]()
	if err := reg.Register("file", func(conf map[string]any) (*sample, error) {
		var c sampleConf
		if err := Decode(conf, &c); err != nil {
			return nil, err
		}
		return &sample{Path: c.Path}, nil
	}); err != nil {
		t.Fatalf("register: %v", err)
	}
	inst, err := reg.Create(ModuleConfig{Type: "file", Conf: map[string]any{"path": "state.db"}})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if inst.Path != "state.db" {
		t.Fatalf("expected state.db got %s", inst.Path)
	}
}

func TestRegistry_Errors(t *testing.T) {
	reg := NewRegistry[int]()
	if err := reg.Register("x", func(map[string]any) (int, error) { return 1, nil }); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := reg.Register("x", func(map[string]any) (int, error) { return 2, nil }); err == nil {
		t.Fatal("expected duplicate error")
	}
	if err := reg.Register("y", nil); err == nil {
		t.Fatal("expected nil factory error")
	}
	if _, err := reg.Create(ModuleConfig{Type: "z"}); err == nil {
		t.Fatal("expected unknown type error")
	}
	if got := reg.Types(); len(got) != 1 || got[0] != "x" {
		t.Fatalf("unexpected types %v", got)
	}
}

func TestDecodeDurationsAndWeakTypes(t *testing.T) {
	var c sampleConf
	err := Decode(map[string]any{"path": "p", "timeout": "750ms", "port": "6379"}, &c)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if c.Timeout != 750*time.Millisecond || c.Port != 6379 {
		t.Fatalf("unexpected %+v", c)
	}
}
