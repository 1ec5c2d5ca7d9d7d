package version

import "testing"

func TestGetRopforgeVersionNeverEmpty(t *testing.T) {
	if v := GetRopforgeVersion(); v == "" {
		t.Fatal("GetRopforgeVersion returned an empty string")
	}
}
