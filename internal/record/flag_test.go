package record

import (
	"encoding/json"
	"testing"
)

func TestFlag_MarshalJSON(t *testing.T) {
	tests := []struct {
		name string
		flag Flag
		want string
	}{
		{name: "present", flag: Present(), want: `true`},
		{name: "scalar string", flag: Scalar("stale"), want: `"stale"`},
		{name: "scalar number", flag: Scalar(3), want: `3`},
		{name: "metadata", flag: WithMetadata(map[string]any{"a": 1}), want: `{"a":1}`},
		{name: "empty metadata", flag: Flag{kind: FlagMetadata}, want: `{}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := json.Marshal(tt.flag)
			if err != nil {
				t.Fatalf("Marshal() error = %v", err)
			}
			if string(got) != tt.want {
				t.Errorf("Marshal() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestFlags_DecodeKinds(t *testing.T) {
	var fs Flags
	if err := json.Unmarshal([]byte(`{"a":true,"b":{"rows":2},"c":"x"}`), &fs); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}

	if fs["a"].Kind() != FlagPresent {
		t.Errorf("a kind = %v, want FlagPresent", fs["a"].Kind())
	}
	if fs["b"].Kind() != FlagMetadata {
		t.Errorf("b kind = %v, want FlagMetadata", fs["b"].Kind())
	}
	if got := fs["b"].Metadata()["rows"]; got != float64(2) {
		t.Errorf("b.rows = %v, want 2", got)
	}
	if fs["c"].Kind() != FlagScalar || fs["c"].Value() != "x" {
		t.Errorf("c = %v/%v, want scalar x", fs["c"].Kind(), fs["c"].Value())
	}
}

func TestFlags_CloneIsIndependent(t *testing.T) {
	orig := Flags{"m": WithMetadata(map[string]any{"a": 1})}
	clone := orig.Clone()

	meta := clone["m"].meta
	meta["b"] = 2

	if _, ok := orig["m"].meta["b"]; ok {
		t.Error("Clone() shares metadata map with original")
	}
}

func TestFlag_MetadataReturnsCopy(t *testing.T) {
	f := WithMetadata(map[string]any{"a": 1})
	m := f.Metadata()
	m["a"] = 99

	if f.Metadata()["a"] != 1 {
		t.Error("Metadata() exposed internal map")
	}
}
