package evaluation

import (
	"encoding/json"
	"testing"

	"github.com/reideval/reid-eval/internal/pkg/errors"
)

func TestProtocolFlags(t *testing.T) {
	tests := []struct {
		protocol        Protocol
		separate, sgs   bool
		firstMatchBreak bool
	}{
		{ProtocolNew, false, false, false},
		{ProtocolCUHK03, true, true, false},
		{ProtocolMarket1501, false, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.protocol.String(), func(t *testing.T) {
			if got := tt.protocol.SeparateCameraSet(); got != tt.separate {
				t.Errorf("SeparateCameraSet() = %v, want %v", got, tt.separate)
			}
			if got := tt.protocol.SingleGalleryShot(); got != tt.sgs {
				t.Errorf("SingleGalleryShot() = %v, want %v", got, tt.sgs)
			}
			if got := tt.protocol.FirstMatchBreak(); got != tt.firstMatchBreak {
				t.Errorf("FirstMatchBreak() = %v, want %v", got, tt.firstMatchBreak)
			}
		})
	}
}

func TestParseProtocol(t *testing.T) {
	tests := []struct {
		input   string
		want    Protocol
		wantErr bool
	}{
		{"new", ProtocolNew, false},
		{"CUHK03", ProtocolCUHK03, false},
		{" market1501 ", ProtocolMarket1501, false},
		{"allshots", 0, true},
		{"", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseProtocol(tt.input)
			if tt.wantErr {
				if errors.Code(err) != errors.CodeValidation {
					t.Errorf("ParseProtocol() error = %v, want validation error", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseProtocol() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("ParseProtocol() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestParseProtocols(t *testing.T) {
	all, err := ParseProtocols(nil)
	if err != nil || len(all) != 3 || all[0] != ProtocolNew || all[2] != ProtocolMarket1501 {
		t.Errorf("ParseProtocols(nil) = %v, %v, want every protocol in column order", all, err)
	}

	got, err := ParseProtocols([]string{"market1501", "new", "Market1501"})
	if err != nil {
		t.Fatalf("ParseProtocols() error = %v", err)
	}
	if len(got) != 2 || got[0] != ProtocolMarket1501 || got[1] != ProtocolNew {
		t.Errorf("ParseProtocols() = %v, want [market1501 new]", got)
	}
}

func TestProtocol_JSON(t *testing.T) {
	data, err := json.Marshal(map[string]Protocol{"p": ProtocolCUHK03})
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if string(data) != `{"p":"cuhk03"}` {
		t.Errorf("Marshal() = %s, want {\"p\":\"cuhk03\"}", data)
	}

	var decoded map[string]Protocol
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if decoded["p"] != ProtocolCUHK03 {
		t.Errorf("Unmarshal() = %v, want cuhk03", decoded["p"])
	}

	if _, err := json.Marshal(Protocol(9)); err == nil {
		t.Error("Marshal(invalid protocol) should fail")
	}
}

func TestCurve_At(t *testing.T) {
	c := Curve{0.5, 0.75, 1}

	tests := []struct {
		rank   int
		want   float64
		wantOK bool
	}{
		{1, 0.5, true},
		{3, 1, true},
		{0, 0, false},
		{4, 0, false},
	}

	for _, tt := range tests {
		got, ok := c.At(tt.rank)
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("At(%d) = %v, %v, want %v, %v", tt.rank, got, ok, tt.want, tt.wantOK)
		}
	}

	if got := c.TopK(2); len(got) != 2 {
		t.Errorf("TopK(2) length = %d, want 2", len(got))
	}
	if got := c.TopK(10); len(got) != 3 {
		t.Errorf("TopK(10) length = %d, want 3", len(got))
	}
}

func TestSample_Validate(t *testing.T) {
	if err := (Sample{Name: "a", PID: 0, Cam: 0}).Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
	if err := (Sample{Name: "a", PID: 1, Cam: -2}).Validate(); !errors.IsContract(err) {
		t.Errorf("Validate() error = %v, want INPUT_CONTRACT", err)
	}
}
