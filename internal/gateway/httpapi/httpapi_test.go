package httpapi

import (
	"encoding/json"
	"testing"
)

func TestParseLimit(t *testing.T) {
	tests := []struct {
		raw  string
		want int
	}{
		{"", 50},
		{"10", 10},
		{"0", 50},
		{"-5", 50},
		{"junk", 50},
		{"9999", 500},
	}
	for _, tc := range tests {
		if got := parseLimit(tc.raw); got != tc.want {
			t.Errorf("parseLimit(%q) = %d, want %d", tc.raw, got, tc.want)
		}
	}
}

func TestExecuteRequest_AbsentNumbersStayNil(t *testing.T) {
	var req ExecuteRequest
	if err := json.Unmarshal([]byte(`{"code":"1+1"}`), &req); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if req.TimeoutMS != nil || req.MemoryMB != nil {
		t.Errorf("absent numerics decoded as set: %+v", req)
	}

	if err := json.Unmarshal([]byte(`{"code":"1+1","timeout_ms":0}`), &req); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if req.TimeoutMS == nil || *req.TimeoutMS != 0 {
		t.Errorf("explicit zero lost: %+v", req.TimeoutMS)
	}
}
