package worker

import "testing"

func TestDecodePayload(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want Payload
	}{
		{
			"structured full",
			`{"model":"llama3","prompt":"hi there"}`,
			Payload{Structured: true, Model: "llama3", Prompt: "hi there"},
		},
		{
			"structured missing model",
			`{"prompt":"hi"}`,
			Payload{Structured: true, Prompt: "hi"},
		},
		{
			"structured empty object",
			`{}`,
			Payload{Structured: true},
		},
		{
			"structured wrong field types",
			`{"model":7,"prompt":["x"]}`,
			Payload{Structured: true},
		},
		{
			"raw text",
			"just a prompt",
			Payload{Prompt: "just a prompt"},
		},
		{
			"raw json array",
			`["not","an","object"]`,
			Payload{Prompt: `["not","an","object"]`},
		},
		{
			"raw empty",
			"",
			Payload{Prompt: ""},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := DecodePayload(tc.raw); got != tc.want {
				t.Fatalf("DecodePayload(%q) = %+v, want %+v", tc.raw, got, tc.want)
			}
		})
	}
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	r.Register("b-model", NewMockLLM("b-model"))
	r.Register("a-model", NewMockLLM("a-model"))

	if _, ok := r.Get("a-model"); !ok {
		t.Fatal("registered model not found")
	}
	if _, ok := r.Get("missing"); ok {
		t.Fatal("unregistered model found")
	}
	names := r.Names()
	if len(names) != 2 || names[0] != "a-model" || names[1] != "b-model" {
		t.Fatalf("names = %v", names)
	}
}
