package i18n

import "testing"

func TestGetCatalogFallback(t *testing.T) {
	base := GetCatalog("en-US")
	if base == nil {
		t.Fatal("expected base catalog")
	}
	if fallback := GetCatalog("missing-locale"); fallback != base {
		t.Fatal("expected fallback to en-US catalog")
	}
}

func TestMatchLocale(t *testing.T) {
	tests := []struct {
		header string
		want   string
	}{
		{header: "", want: "en-US"},
		{header: "pt-BR,pt;q=0.9,en;q=0.8", want: "pt-BR"},
		{header: "en-US", want: "en-US"},
		{header: ";;;", want: "en-US"},
	}
	for _, tt := range tests {
		if got := MatchLocale(tt.header); got != tt.want {
			t.Fatalf("MatchLocale(%q) = %q, want %q", tt.header, got, tt.want)
		}
	}
}

func TestFormatRendersMetadata(t *testing.T) {
	got := GetCatalog("pt-BR").Format(CodeConnectionNotFound, map[string]string{"ConnectionID": "c9"})
	want := "A conexão c9 não está em nenhuma sala."
	if got != want {
		t.Fatalf("Format = %q, want %q", got, want)
	}
}

func TestFormatFallbacks(t *testing.T) {
	cat := NewCatalog("test", map[Code]string{
		"code": "hello {{.Name}}",
	})

	if cat.Format("unknown", nil) != "unknown" {
		t.Fatal("expected code fallback when template missing")
	}
	if cat.Format("code", nil) != "hello <no value>" {
		t.Fatal("expected template to render missing metadata")
	}
}

func TestFormatTemplateErrorFallback(t *testing.T) {
	cat := NewCatalog("test", map[Code]string{
		"code": "{{ if .Name }}",
	})
	if cat.Format("code", map[string]string{"Name": "X"}) != "{{ if .Name }}" {
		t.Fatal("expected template fallback on parse error")
	}
}

func TestSupportedLocalesHaveCatalogs(t *testing.T) {
	for _, tag := range supported {
		if got := GetCatalog(tag.String()).Locale(); got != tag.String() {
			t.Fatalf("GetCatalog(%q).Locale() = %q", tag.String(), got)
		}
	}
}
