package extract

import "testing"

func TestSanitizeName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"blood glucose levels", "Blood glucose level"},
		{"Blood-glucose LEVELS", "Blood glucose level"},
		{"  age  ", "Age"},
		{"Patients' ages (years)", "Patient age year"},
		{"credit histories", "Credit history"},
		{"IP addresses", "Ip address"},
		{"children", "Child"},
		{"HbA1c", "Hba1c"},
		{"ＧＰＳ coordinates", "Gps coordinate"},
		{"!!!", ""},
	}

	for _, tt := range tests {
		if got := SanitizeName(tt.in); got != tt.want {
			t.Errorf("SanitizeName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestNormalizeKey_MergesVariants(t *testing.T) {
	variants := []string{"Blood Glucose Level", "blood glucose levels", "blood_glucose_level", " BLOOD-GLUCOSE level"}
	want := "blood glucose level"
	for _, v := range variants {
		if got := NormalizeKey(v); got != want {
			t.Errorf("NormalizeKey(%q) = %q, want %q", v, got, want)
		}
	}
}

func TestSingular(t *testing.T) {
	tests := map[string]string{
		"levels":    "level",
		"addresses": "address",
		"boxes":     "box",
		"class":     "class",
		"status":    "status",
		"diagnoses": "diagnosis",
		"data":      "data",
		"bus":       "bus",
		"category":  "category",
		"analytics": "analytic",
	}
	for in, want := range tests {
		if got := Singular(in); got != want {
			t.Errorf("Singular(%q) = %q, want %q", in, got, want)
		}
	}
}
