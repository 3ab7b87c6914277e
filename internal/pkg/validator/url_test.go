package validator

import "testing"

func TestHTTPURL(t *testing.T) {
	tests := []struct {
		raw     string
		wantErr bool
	}{
		{"https://hooks.example.com/draftr", false},
		{"http://localhost:9000/in", false},
		{"", true},
		{"ftp://example.com", true},
		{"https://", true},
		{"not a url", true},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			err := HTTPURL(tt.raw)
			if (err != nil) != tt.wantErr {
				t.Errorf("HTTPURL(%q) error = %v, wantErr %v", tt.raw, err, tt.wantErr)
			}
		})
	}
}

func TestOutputConfig(t *testing.T) {
	tests := []struct {
		name      string
		doc       string
		wantField string
	}{
		{"empty", ``, ""},
		{"instructions only", `{"instructions":"keep it short"}`, ""},
		{"valid webhook", `{"webhook_url":"https://example.com/hook","webhook_secret":"s"}`, ""},
		{"bad webhook", `{"webhook_url":"mailto:a@b"}`, "config.webhook_url"},
		{"secret without url", `{"webhook_secret":"s"}`, "config.webhook_secret"},
		{"not an object", `[1,2]`, "config"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			field, err := OutputConfig([]byte(tt.doc))
			if field != tt.wantField {
				t.Errorf("field = %q (%v), want %q", field, err, tt.wantField)
			}
			if (field == "") != (err == nil) {
				t.Errorf("field %q and err %v disagree", field, err)
			}
		})
	}
}
