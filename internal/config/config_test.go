package config

import (
	"strings"
	"testing"
)

func TestDefaultConfigValidates(t *testing.T) {
	cfg, err := FromYAML([]byte(GenerateDefault()))
	if err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if len(cfg.Catalog) != 5 {
		t.Fatalf("expected 5 catalog services, got %d", len(cfg.Catalog))
	}
	if _, ok := cfg.Templates["standard"]; !ok {
		t.Fatal("missing standard template")
	}
	svc, ok := cfg.ServiceDef("album.design")
	if !ok {
		t.Fatal("album.design not in catalog")
	}
	if !svc.AutoAssign.Enabled || svc.AutoAssign.UserID != "designer-1" {
		t.Fatalf("unexpected auto_assign: %+v", svc.AutoAssign)
	}
}

func TestValidateRejections(t *testing.T) {
	cases := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "empty catalog",
			yaml: "templates:\n  basic: [a]\n",
			want: "catalog is required",
		},
		{
			name: "bad service type",
			yaml: `catalog:
  - id: a
    name: A
    type: magic
templates:
  basic: [a]
`,
			want: "invalid type",
		},
		{
			name: "asking service without team",
			yaml: `catalog:
  - id: a
    name: A
    type: asking
templates:
  basic: [a]
`,
			want: "requires a team",
		},
		{
			name: "auto assign without user",
			yaml: `catalog:
  - id: a
    name: A
    type: direct
    auto_assign:
      enabled: true
templates:
  basic: [a]
`,
			want: "without a target user",
		},
		{
			name: "template references unknown service",
			yaml: `catalog:
  - id: a
    name: A
    type: direct
templates:
  basic: [a, ghost]
`,
			want: "unknown service",
		},
		{
			name: "duplicate service in template",
			yaml: `catalog:
  - id: a
    name: A
    type: direct
templates:
  basic: [a, a]
`,
			want: "twice",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := FromYAML([]byte(tc.yaml))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("error %q does not mention %q", err, tc.want)
			}
		})
	}
}
