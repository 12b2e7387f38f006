package util

import (
	"testing"
	"time"
)

func TestParseBoolEnv(t *testing.T) {
	t.Setenv("IG_TEST_BOOL", "yes")
	if !ParseBoolEnv("IG_TEST_BOOL", false) {
		t.Error("expected true for yes")
	}
	t.Setenv("IG_TEST_BOOL", "off")
	if ParseBoolEnv("IG_TEST_BOOL", true) {
		t.Error("expected false for off")
	}
	t.Setenv("IG_TEST_BOOL", "maybe")
	if !ParseBoolEnv("IG_TEST_BOOL", true) {
		t.Error("invalid value should return default")
	}
}

func TestParseNumericEnv(t *testing.T) {
	t.Setenv("IG_TEST_INT", "7")
	if n, ok := ParseIntEnv("IG_TEST_INT"); !ok || n != 7 {
		t.Errorf("ParseIntEnv = %d, %v", n, ok)
	}
	t.Setenv("IG_TEST_INT", "seven")
	if _, ok := ParseIntEnv("IG_TEST_INT"); ok {
		t.Error("invalid int should not parse")
	}
	t.Setenv("IG_TEST_FLOAT", "0.4")
	if f, ok := ParseFloatEnv("IG_TEST_FLOAT"); !ok || f != 0.4 {
		t.Errorf("ParseFloatEnv = %v, %v", f, ok)
	}
	t.Setenv("IG_TEST_DUR", "90s")
	if d, ok := ParseDurationEnv("IG_TEST_DUR"); !ok || d != 90*time.Second {
		t.Errorf("ParseDurationEnv = %v, %v", d, ok)
	}
	if _, ok := ParseDurationEnv("IG_TEST_UNSET_DUR"); ok {
		t.Error("unset duration should not parse")
	}
}
